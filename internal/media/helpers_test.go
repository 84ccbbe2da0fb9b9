package media

import (
	"image"
	"image/color"
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// splitImage is red on the left half and green on the right half.
func splitImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				img.SetRGBA(x, y, red)
			} else {
				img.SetRGBA(x, y, green)
			}
		}
	}
	return img
}

var (
	red   = color.RGBA{255, 0, 0, 255}
	green = color.RGBA{0, 255, 0, 255}
	blue  = color.RGBA{0, 0, 255, 255}
	black = color.RGBA{0, 0, 0, 255}
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

type compositorFixture struct {
	comp  *Compositor
	sched *ManualScheduler
	track *Track
}

// newCompositorFixture starts a compositor fed with src on a manual scheduler.
// No frame has been drawn yet when it returns.
func newCompositorFixture(t *testing.T, w, h, dpr float64, src *image.RGBA, wms []Watermark, mirror bool) *compositorFixture {
	t.Helper()

	sched := NewManualScheduler(time.Unix(0, 0))
	comp := NewCompositor(CompositorOptions{
		Width:            w,
		Height:           h,
		DevicePixelRatio: dpr,
		Mirror:           mirror,
		Watermarks:       wms,
		Scheduler:        sched,
		Logger:           discardLogger(),
	})
	track := NewTrack(KindVideo, "test", TrackSettings{Width: src.Rect.Dx(), Height: src.Rect.Dy()}, nil)
	comp.Attach(track)
	track.Write(Sample{Image: src})

	waitFor(t, "compositor to start", func() bool { return comp.State() == CompositorRunning })
	t.Cleanup(func() {
		comp.Stop()
		track.Stop()
	})
	return &compositorFixture{comp: comp, sched: sched, track: track}
}

func (f *compositorFixture) frame(t *testing.T) *image.RGBA {
	t.Helper()
	if n := f.sched.Tick(); n != 1 {
		t.Fatalf("Tick() ran %d callbacks, want 1", n)
	}
	img, _, err := f.comp.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	return img
}

func assertPixel(t *testing.T, img *image.RGBA, x, y int, want color.RGBA) {
	t.Helper()
	got := img.RGBAAt(x, y)
	if !closeColor(got, want) {
		t.Errorf("pixel (%d,%d) = %v, want %v", x, y, got, want)
	}
}

func closeColor(a, b color.RGBA) bool {
	d := func(x, y uint8) int {
		if x > y {
			return int(x - y)
		}
		return int(y - x)
	}
	return d(a.R, b.R) <= 8 && d(a.G, b.G) <= 8 && d(a.B, b.B) <= 8 && d(a.A, b.A) <= 8
}

func imageMark(x, y float64, w, h int, c color.RGBA) Watermark {
	return Watermark{X: x, Y: y, Mark: &ImageMark{URL: "test", Bitmap: solidImage(w, h, c)}}
}
