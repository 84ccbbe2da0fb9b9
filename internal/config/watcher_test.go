package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/markcam/internal/media"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadTestCamera(path string) (media.Config, error) {
	return LoadCamera(path, media.DefaultConfig())
}

func startWatcher(t *testing.T, path string, opts ...WatcherOption[media.Config]) *Watcher[media.Config] {
	t.Helper()
	opts = append([]WatcherOption[media.Config]{WithDebounce[media.Config](50 * time.Millisecond)}, opts...)
	w := NewWatcher(path, loadTestCamera, newTestLogger(), opts...)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := w.Stop(); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	})
	// Let the watch loop settle before writing.
	time.Sleep(50 * time.Millisecond)
	return w
}

func receive(t *testing.T, ch <-chan media.Config) media.Config {
	t.Helper()
	select {
	case cfg := <-ch:
		return cfg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
		return media.Config{}
	}
}

func TestWatcher_ReloadsWatermarks(t *testing.T) {
	path := writeFile(t, "camera.toml", "watermark = \"first\"\n")

	received := make(chan media.Config, 4)
	w := startWatcher(t, path)
	w.OnReload(func(cfg media.Config) { received <- cfg })

	content := `
isMirror = true

[[watermark]]
position = "top-left"
text = { text = "second", fontSize = "2rem" }

[[watermark]]
x = 4
y = 8
img = { url = "logo.png", width = 32 }
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := receive(t, received)
	if !cfg.Mirror {
		t.Error("Mirror = false, want true")
	}
	if len(cfg.Watermarks) != 2 {
		t.Fatalf("Watermarks = %d, want 2", len(cfg.Watermarks))
	}
	if tm, ok := cfg.Watermarks[0].Mark.(*media.TextMark); !ok || tm.Text != "second" {
		t.Errorf("first mark = %#v", cfg.Watermarks[0].Mark)
	}
	if wm := cfg.Watermarks[1]; wm.X != 4 || wm.Y != 8 || wm.Mark.Kind() != media.MarkImage {
		t.Errorf("second watermark = %+v", wm)
	}
}

func TestWatcher_AtomicReplace(t *testing.T) {
	path := writeFile(t, "camera.toml", "frameRate = 30\n")

	received := make(chan media.Config, 4)
	w := startWatcher(t, path)
	w.OnReload(func(cfg media.Config) { received <- cfg })

	writeCameraFile(t, path, CameraFile{"frameRate": 12})
	if cfg := receive(t, received); cfg.FrameRate != 12 {
		t.Errorf("FrameRate = %v, want 12", cfg.FrameRate)
	}
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	path := writeFile(t, "camera.toml", "frameRate = 30\n")

	var count atomic.Int32
	w := startWatcher(t, path)
	w.OnReload(func(media.Config) { count.Add(1) })

	sibling := filepath.Join(filepath.Dir(path), "other.toml")
	if err := os.WriteFile(sibling, []byte("x = 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if got := count.Load(); got != 0 {
		t.Errorf("handler ran %d times for a sibling file", got)
	}
}

func TestWatcher_ErrorHandler(t *testing.T) {
	path := writeFile(t, "camera.toml", "frameRate = 30\n")

	errs := make(chan error, 1)
	received := make(chan media.Config, 1)
	w := startWatcher(t, path, WithErrorHandler[media.Config](func(err error) { errs <- err }))
	w.OnReload(func(cfg media.Config) { received <- cfg })

	if err := os.WriteFile(path, []byte("facingMode = \"sideways\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-errs:
	case <-received:
		t.Fatal("handler should not run for an invalid config")
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for error handler")
	}
}

func TestWatcher_Debounce(t *testing.T) {
	path := writeFile(t, "camera.toml", "frameRate = 1\n")

	var count atomic.Int32
	var last atomic.Int64
	w := startWatcher(t, path, WithDebounce[media.Config](200*time.Millisecond))
	w.OnReload(func(cfg media.Config) {
		count.Add(1)
		last.Store(int64(cfg.FrameRate))
	})

	for i := 2; i <= 6; i++ {
		if err := os.WriteFile(path, fmt.Appendf(nil, "frameRate = %d\n", i), 0o600); err != nil {
			t.Fatal(err)
		}
		time.Sleep(30 * time.Millisecond)
	}
	time.Sleep(600 * time.Millisecond)

	if got := count.Load(); got != 1 {
		t.Errorf("handler ran %d times, want 1 debounced reload", got)
	}
	if got := last.Load(); got != 6 {
		t.Errorf("last frame rate = %d, want 6", got)
	}
}

func TestWatcher_Unsubscribe(t *testing.T) {
	path := writeFile(t, "camera.toml", "frameRate = 1\n")

	var kept, dropped atomic.Int32
	received := make(chan media.Config, 4)
	w := startWatcher(t, path)
	w.OnReload(func(cfg media.Config) {
		kept.Add(1)
		received <- cfg
	})
	unsubscribe := w.OnReload(func(media.Config) { dropped.Add(1) })
	unsubscribe()
	unsubscribe()

	if err := os.WriteFile(path, []byte("frameRate = 2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	receive(t, received)

	if kept.Load() != 1 || dropped.Load() != 0 {
		t.Errorf("kept = %d, dropped = %d, want 1 and 0", kept.Load(), dropped.Load())
	}
}

func TestWatcher_ConcurrentSubscribers(t *testing.T) {
	path := writeFile(t, "camera.toml", "frameRate = 1\n")
	w := startWatcher(t, path, WithDebounce[media.Config](5*time.Millisecond))

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsubscribe := w.OnReload(func(media.Config) {})
			time.Sleep(time.Millisecond)
			unsubscribe()
		}()
	}
	for i := range 5 {
		if err := os.WriteFile(path, fmt.Appendf(nil, "frameRate = %d\n", i+1), 0o600); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()
}

func TestWatcher_Stop(t *testing.T) {
	path := writeFile(t, "camera.toml", "frameRate = 1\n")

	var count atomic.Int32
	w := NewWatcher(path, loadTestCamera, newTestLogger(), WithDebounce[media.Config](20*time.Millisecond))
	w.OnReload(func(media.Config) { count.Add(1) })
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("frameRate = 99\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)
	if got := count.Load(); got != 0 {
		t.Errorf("handler ran %d times after Stop", got)
	}
}
