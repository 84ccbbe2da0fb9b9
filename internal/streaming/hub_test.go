package streaming

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smazurov/markcam/internal/ffmpeg"
	"github.com/smazurov/markcam/internal/media"
)

type staticSource struct {
	stream *media.Stream
}

func (s staticSource) Stream() *media.Stream { return s.stream }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newVideoSource(w, h int) (staticSource, *media.Track) {
	track := media.NewTrack(media.KindVideo, "composited", media.TrackSettings{Width: w, Height: h, FrameRate: 25}, nil)
	return staticSource{stream: media.NewStream(track)}, track
}

// newShellHub returns a hub whose preview encoder is replaced by command.
func newShellHub(t *testing.T, id string, source StreamSource, command string) *Hub {
	t.Helper()
	hub, err := NewHub(id, source, PreviewConfig{}, testLogger())
	if err != nil {
		t.Fatalf("NewHub() error = %v", err)
	}
	hub.build = func(p *ffmpeg.Params) (string, error) {
		if p.Width == 0 || p.Height == 0 || p.FPS != 25 {
			t.Errorf("encoder params = %dx%d@%v", p.Width, p.Height, p.FPS)
		}
		return command, nil
	}
	t.Cleanup(hub.Stop)
	return hub
}

func TestHubWithoutStream(t *testing.T) {
	hub := newShellHub(t, "hub-empty", staticSource{}, "true")
	if err := hub.AddConsumer("peer"); !errors.Is(err, ErrStreamNotFound) {
		t.Errorf("AddConsumer() error = %v, want ErrStreamNotFound", err)
	}
	if hub.Consumers() != 0 || hub.EncoderRunning() {
		t.Error("failed consumer should not be registered")
	}

	source, track := newVideoSource(16, 16)
	track.Stop()
	hub = newShellHub(t, "hub-ended", source, "true")
	if err := hub.AddConsumer("peer"); !errors.Is(err, ErrStreamNotFound) {
		t.Errorf("AddConsumer() on ended track error = %v", err)
	}
}

func TestHubEncoderLifecycle(t *testing.T) {
	source, _ := newVideoSource(16, 16)
	hub := newShellHub(t, "hub-lifecycle", source, "sleep 10")

	replaced := make(chan struct{}, 1)
	hub.SetOnProducerReplaced(func(string) { replaced <- struct{}{} })

	if err := hub.AddConsumer("a"); err != nil {
		t.Fatalf("AddConsumer(a) error = %v", err)
	}
	if err := hub.AddConsumer("b"); err != nil {
		t.Fatalf("AddConsumer(b) error = %v", err)
	}
	if !hub.EncoderRunning() || hub.Consumers() != 2 {
		t.Fatalf("running = %v consumers = %d", hub.EncoderRunning(), hub.Consumers())
	}

	hub.RemoveConsumer("a")
	if !hub.EncoderRunning() {
		t.Error("encoder stopped while a consumer remains")
	}
	hub.RemoveConsumer("unknown")
	hub.RemoveConsumer("b")
	if hub.EncoderRunning() {
		t.Error("encoder still running without consumers")
	}

	select {
	case <-replaced:
		t.Error("stopping the last consumer must not report a replaced producer")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubPacketizesEncoderOutput(t *testing.T) {
	const id = "hub-packets"
	path := filepath.Join(t.TempDir(), "preview.h264")
	stream := annexB([][]byte{testSPS, testPPS, testIDR, testP1, testP1b, testP2, testIDRNo})
	if err := os.WriteFile(path, stream, 0o600); err != nil {
		t.Fatal(err)
	}

	source, _ := newVideoSource(16, 16)
	hub := newShellHub(t, id, source, "cat "+path)
	replaced := make(chan string, 1)
	hub.SetOnProducerReplaced(func(streamID string) { replaced <- streamID })

	if err := hub.AddConsumer("peer"); err != nil {
		t.Fatalf("AddConsumer() error = %v", err)
	}

	// The fake encoder exits after its output, which ends the preview stream.
	select {
	case got := <-replaced:
		if got != id {
			t.Errorf("replaced stream = %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("encoder exit was not reported")
	}

	if hub.EncoderRunning() || hub.Consumers() != 0 {
		t.Errorf("after exit running = %v consumers = %d", hub.EncoderRunning(), hub.Consumers())
	}
	if got := testutil.ToFloat64(webrtcKeyframes.WithLabelValues(id)); got != 2 {
		t.Errorf("keyframes = %v, want 2", got)
	}
	// One packet per access unit at least; parameter sets share the keyframe's STAP-A.
	if got := testutil.ToFloat64(webrtcStreamPackets.WithLabelValues(id)); got < 4 {
		t.Errorf("packets = %v, want at least 4", got)
	}
}
