package media

import (
	"testing"
	"time"
)

func TestSurfaceTransformStack(t *testing.T) {
	s := NewSurface(100, 50, 2)

	if b := s.Bounds(); b.Dx() != 200 || b.Dy() != 100 {
		t.Fatalf("Bounds() = %v, want 200x100", b)
	}

	s.Save()
	s.Translate(100, 0)
	s.Scale(-1, 1)
	x, y := apply(s.Transform(), 10, 5)
	if x != 180 || y != 10 {
		t.Errorf("mirrored (10,5) = (%v,%v), want (180,10)", x, y)
	}
	s.Restore()

	x, y = apply(s.Transform(), 10, 5)
	if x != 20 || y != 10 {
		t.Errorf("restored (10,5) = (%v,%v), want (20,10)", x, y)
	}

	// Unbalanced restore keeps the base transform.
	s.Restore()
	if x, _ := apply(s.Transform(), 1, 0); x != 2 {
		t.Errorf("after unbalanced Restore x = %v, want 2", x)
	}
}

func TestSurfaceClearAndCopy(t *testing.T) {
	s := NewSurface(10, 10, 1)
	s.DrawImage(solidImage(4, 4, red), 0, 0, 10, 10)

	snap := s.Snapshot()
	assertPixel(t, snap, 5, 5, red)

	s.Clear()
	if got := s.Snapshot().RGBAAt(5, 5); got.A != 0 {
		t.Errorf("pixel after Clear = %v, want transparent", got)
	}
	// Snapshots are copies.
	assertPixel(t, snap, 5, 5, red)

	dst := solidImage(10, 10, blue)
	if !s.CopyTo(dst) {
		t.Fatal("CopyTo() = false for matching size")
	}
	if dst.RGBAAt(0, 0).A != 0 {
		t.Error("CopyTo did not overwrite destination")
	}
	if s.CopyTo(solidImage(3, 3, blue)) {
		t.Error("CopyTo() = true for mismatched size")
	}
}

func TestManualSchedulerOrdering(t *testing.T) {
	s := NewManualScheduler(time.Unix(100, 0))

	var ran []string
	s.RequestFrame(func(time.Time) { ran = append(ran, "a") })
	h := s.RequestFrame(func(time.Time) { ran = append(ran, "b") })
	s.RequestFrame(func(time.Time) {
		ran = append(ran, "c")
		s.RequestFrame(func(time.Time) { ran = append(ran, "d") })
	})
	s.CancelFrame(h)

	if n := s.Tick(); n != 2 {
		t.Errorf("first Tick() ran %d, want 2", n)
	}
	if len(ran) != 2 || ran[0] != "a" || ran[1] != "c" {
		t.Errorf("ran = %v, want [a c]", ran)
	}
	if p := s.Pending(); p != 1 {
		t.Errorf("Pending() = %d, want the frame requested during the tick", p)
	}

	var at time.Time
	s.RequestFrame(func(now time.Time) { at = now })
	if n := s.Tick(); n != 2 {
		t.Errorf("second Tick() ran %d, want 2", n)
	}
	if want := time.Unix(100, 0).Add(2 * DefaultFrameInterval); !at.Equal(want) {
		t.Errorf("callback time = %v, want %v", at, want)
	}
	if s.Tick() != 0 {
		t.Error("empty Tick() ran callbacks")
	}
}

func TestTickerSchedulerCloseDropsPending(t *testing.T) {
	s := NewTickerScheduler(time.Millisecond)

	fired := make(chan struct{}, 1)
	s.RequestFrame(func(time.Time) { fired <- struct{}{} })
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("frame callback never fired")
	}

	s.Close()
	s.Close()
	s.RequestFrame(func(time.Time) { fired <- struct{}{} })
	select {
	case <-fired:
		t.Error("callback fired after Close")
	case <-time.After(20 * time.Millisecond):
	}
}
