package collectors

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/smazurov/markcam/internal/metrics"
)

// startCollector starts a collector on a fresh socket and connects to it
// the way ffmpeg does.
func startCollector(t *testing.T, pipelineID string) (*FFmpegCollector, net.Conn) {
	t.Helper()
	if runtime.GOOS == "darwin" {
		t.Skip("unix socket paths under t.TempDir are too long on macOS")
	}
	metrics.DeletePipelineMetrics(pipelineID)

	c := NewFFmpegCollector(filepath.Join(t.TempDir(), "progress.sock"), pipelineID)
	if err := c.Start(t.Context()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Stop() })

	conn, err := net.Dial("unix", c.SocketPath())
	if err != nil {
		t.Fatalf("socket not listening after Start: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return c, conn
}

// waitMetrics polls until the pipeline gauges satisfy ok.
func waitMetrics(t *testing.T, pipelineID string, ok func(*metrics.PipelineMetrics) bool) *metrics.PipelineMetrics {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		m := metrics.GetPipelineMetrics(pipelineID)
		if m != nil && ok(m) {
			return m
		}
		if time.Now().After(deadline) {
			t.Fatalf("pipeline %s metrics = %+v", pipelineID, m)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func send(t *testing.T, w io.Writer, block string) {
	t.Helper()
	if _, err := io.WriteString(w, block); err != nil {
		t.Fatalf("write progress: %v", err)
	}
}

func TestFFmpegCollectorPublishesProgressBlocks(t *testing.T) {
	_, conn := startCollector(t, "recording-webm")

	send(t, conn, "frame=120\nfps=29.97\ndrop_frames=3\ndup_frames=1\nspeed=1.25x\nprogress=continue\n")
	m := waitMetrics(t, "recording-webm", func(m *metrics.PipelineMetrics) bool { return m.Speed != 0 })
	if m.FPS != 29.97 || m.DroppedFrames != 3 || m.DuplicateFrames != 1 || m.Speed != 1.25 {
		t.Errorf("metrics = %+v", m)
	}

	// A later block only changes the keys it parses.
	send(t, conn, "fps=60\nspeed=N/A\nprogress=end\n")
	m = waitMetrics(t, "recording-webm", func(m *metrics.PipelineMetrics) bool { return m.FPS == 60 })
	if m.Speed != 1.25 {
		t.Errorf("Speed = %v, want 1.25 kept after N/A", m.Speed)
	}
}

func TestFFmpegCollectorIgnoresMalformedLines(t *testing.T) {
	_, conn := startCollector(t, "capture-front")

	send(t, conn, "\nno_equals_sign\nfps=invalid\n  fps = 25.0  \nprogress=continue\n")
	m := waitMetrics(t, "capture-front", func(m *metrics.PipelineMetrics) bool { return m.FPS != 0 })
	if m.FPS != 25 {
		t.Errorf("FPS = %v, want 25", m.FPS)
	}
}

func TestFFmpegCollectorNothingBeforeProgressLine(t *testing.T) {
	_, conn := startCollector(t, "preview-h264")

	send(t, conn, "fps=30\n")
	time.Sleep(30 * time.Millisecond)
	if m := metrics.GetPipelineMetrics("preview-h264"); m != nil {
		t.Errorf("metrics published before progress line: %+v", m)
	}
}

func TestFFmpegCollectorStopCleansUp(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("unix socket paths under t.TempDir are too long on macOS")
	}
	socketPath := filepath.Join(t.TempDir(), "stop.sock")
	c := NewFFmpegCollector(socketPath, "recording-stop")
	if err := c.Start(t.Context()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	metrics.SetPipelineFPS("recording-stop", 30)

	if err := c.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if m := metrics.GetPipelineMetrics("recording-stop"); m != nil {
		t.Error("pipeline metrics should be deleted on Stop")
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Error("socket file should be removed on Stop")
	}
	if err := c.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestFFmpegCollectorReplacesStaleSocket(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("unix socket paths under t.TempDir are too long on macOS")
	}
	socketPath := filepath.Join(t.TempDir(), "stale.sock")
	if err := os.WriteFile(socketPath, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	c := NewFFmpegCollector(socketPath, "recording-stale")
	if err := c.Start(t.Context()); err != nil {
		t.Fatalf("Start() over stale file error = %v", err)
	}
	defer c.Stop()

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial after replacing stale socket: %v", err)
	}
	conn.Close()
}

func TestFFmpegCollectorProgressURL(t *testing.T) {
	c := NewFFmpegCollector("/tmp/markcam-recording.sock", "recording")
	if got := c.ProgressURL(); got != "unix:///tmp/markcam-recording.sock" {
		t.Errorf("ProgressURL() = %q", got)
	}
}

func TestFFmpegCollectorStartFailure(t *testing.T) {
	c := NewFFmpegCollector(filepath.Join(t.TempDir(), "missing", "dir", "x.sock"), "recording-fail")
	if err := c.Start(t.Context()); err == nil {
		c.Stop()
		t.Fatal("Start() error = nil for unusable socket path")
	}
	if err := c.Stop(); err != nil {
		t.Errorf("Stop() after failed Start error = %v", err)
	}
}
