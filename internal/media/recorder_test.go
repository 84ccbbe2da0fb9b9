package media

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeRecorder struct {
	mime    string
	chunks  [][]byte
	stopErr error

	mu     sync.Mutex
	ondata func([]byte)
}

func (r *fakeRecorder) MimeType() string { return r.mime }

func (r *fakeRecorder) Start(ondata func([]byte)) error {
	r.mu.Lock()
	r.ondata = ondata
	r.mu.Unlock()
	for _, c := range r.chunks {
		ondata(c)
	}
	return nil
}

func (r *fakeRecorder) Stop(context.Context) error { return r.stopErr }

// emit delivers a chunk as if the encoder produced it late.
func (r *fakeRecorder) emit(b []byte) {
	r.mu.Lock()
	fn := r.ondata
	r.mu.Unlock()
	fn(b)
}

func fakeFactory(rec *fakeRecorder) RecorderFactory {
	return func(*Stream) (ChunkRecorder, error) { return rec, nil }
}

func newTestRecording(t *testing.T, opts RecordingOptions) *RecordingSession {
	t.Helper()
	opts.Logger = discardLogger()
	r := NewRecordingSession(opts)
	t.Cleanup(func() { r.Discard(context.Background()) })
	return r
}

func TestRecordingRoundTrip(t *testing.T) {
	rec := &fakeRecorder{
		mime:   "video/webm;codecs=vp8",
		chunks: [][]byte{[]byte("abc"), nil, []byte("de")},
	}
	r := newTestRecording(t, RecordingOptions{Factory: fakeFactory(rec)})

	if err := r.Start(NewStream()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	active, _, size, mime := r.Status()
	if !active || size != 5 || mime != rec.mime {
		t.Errorf("Status() = %v, %d, %q", active, size, mime)
	}

	a, err := r.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if string(a.Data) != "abcde" {
		t.Errorf("Data = %q, want abcde", a.Data)
	}
	if a.ContentType != rec.mime {
		t.Errorf("ContentType = %q, want %q", a.ContentType, rec.mime)
	}
	if !strings.HasPrefix(a.Name, "markcam-") || !strings.HasSuffix(a.Name, ".webm") {
		t.Errorf("Name = %q, want markcam-<ms>.webm", a.Name)
	}
	if r.Active() {
		t.Error("Active() = true after Stop")
	}
}

func TestRecordingMisuse(t *testing.T) {
	rec := &fakeRecorder{mime: MimeMJPEG}
	r := newTestRecording(t, RecordingOptions{Factory: fakeFactory(rec)})

	if _, err := r.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Stop() before Start error = %v, want ErrNotRecording", err)
	}
	if err := r.Start(NewStream()); err != nil {
		t.Fatal(err)
	}
	if err := r.Start(NewStream()); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRecording", err)
	}
	if _, err := r.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("second Stop() error = %v, want ErrNotRecording", err)
	}
	if err := r.Start(NewStream()); err != nil {
		t.Errorf("Start() after Stop error = %v", err)
	}
}

func TestRecordingFactoryFailure(t *testing.T) {
	calls := 0
	r := newTestRecording(t, RecordingOptions{Factory: func(*Stream) (ChunkRecorder, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("no encoder")
		}
		return &fakeRecorder{mime: MimeMJPEG}, nil
	}})

	if err := r.Start(NewStream()); err == nil {
		t.Fatal("Start() error = nil, want factory failure")
	}
	if r.Active() {
		t.Error("Active() = true after failed Start")
	}
	if err := r.Start(NewStream()); err != nil {
		t.Errorf("Start() after failure error = %v", err)
	}
}

func TestRecordingStopFailure(t *testing.T) {
	rec := &fakeRecorder{mime: MimeMJPEG, stopErr: errors.New("flush failed")}
	r := newTestRecording(t, RecordingOptions{Factory: fakeFactory(rec)})

	if err := r.Start(NewStream()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Stop(context.Background()); err == nil {
		t.Fatal("Stop() error = nil, want flush failure")
	}
	if r.Active() {
		t.Error("recording still active after failed Stop")
	}
}

func TestRecordingDiscardDropsLateChunks(t *testing.T) {
	rec := &fakeRecorder{mime: MimeMJPEG, chunks: [][]byte{[]byte("old")}}
	r := newTestRecording(t, RecordingOptions{Factory: fakeFactory(rec)})

	if err := r.Start(NewStream()); err != nil {
		t.Fatal(err)
	}
	r.Discard(context.Background())
	if r.Active() {
		t.Fatal("Active() = true after Discard")
	}

	next := &fakeRecorder{mime: MimeMJPEG, chunks: [][]byte{[]byte("new")}}
	r.opts.Factory = fakeFactory(next)
	if err := r.Start(NewStream()); err != nil {
		t.Fatal(err)
	}
	rec.emit([]byte("late"))

	a, err := r.Stop(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if string(a.Data) != "new" {
		t.Errorf("Data = %q, want only the current recording", a.Data)
	}
}

func TestRecordingTicksAndAutoStop(t *testing.T) {
	ticks := make(chan time.Duration, 16)
	stopped := make(chan *Artifact, 1)

	rec := &fakeRecorder{mime: MimeMJPEG, chunks: [][]byte{[]byte("x")}}
	r := newTestRecording(t, RecordingOptions{
		Factory: fakeFactory(rec),
		Tick:    5 * time.Millisecond,
		Limit:   60 * time.Millisecond,
		OnTick: func(d time.Duration) {
			select {
			case ticks <- d:
			default:
			}
		},
		OnAutoStop: func(a *Artifact, err error) {
			if err != nil {
				t.Errorf("auto stop error = %v", err)
			}
			stopped <- a
		},
	})

	if err := r.Start(NewStream()); err != nil {
		t.Fatal(err)
	}

	select {
	case d := <-ticks:
		if d <= 0 {
			t.Errorf("tick elapsed = %v, want positive", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no tick received")
	}

	select {
	case a := <-stopped:
		if string(a.Data) != "x" {
			t.Errorf("auto-stopped Data = %q, want x", a.Data)
		}
		if !a.AutoStopped {
			t.Error("AutoStopped = false for a limit-ended recording")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("recording was not auto-stopped")
	}

	if r.Active() {
		t.Error("Active() = true after auto stop")
	}
	if _, err := r.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Stop() after auto stop error = %v, want ErrNotRecording", err)
	}
}

func TestMJPEGRecorder(t *testing.T) {
	track := NewTrack(KindVideo, "composited", TrackSettings{Width: 16, Height: 16}, nil)
	defer track.Stop()

	rec, err := NewMJPEGRecorderFactory(80)(NewStream(track))
	if err != nil {
		t.Fatal(err)
	}
	if rec.MimeType() != MimeMJPEG {
		t.Errorf("MimeType() = %q", rec.MimeType())
	}

	chunks := make(chan []byte, 4)
	if err := rec.Start(func(b []byte) { chunks <- b }); err != nil {
		t.Fatal(err)
	}
	if err := rec.Start(func([]byte) {}); err == nil {
		t.Error("second Start() error = nil")
	}

	track.Write(Sample{Image: solidImage(16, 16, red)})
	select {
	case b := <-chunks:
		if !bytes.HasPrefix(b, []byte{0xFF, 0xD8}) {
			t.Errorf("chunk does not start with a JPEG SOI marker: % x", b[:4])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no chunk encoded")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rec.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestMJPEGRecorderNeedsVideo(t *testing.T) {
	if _, err := NewMJPEGRecorderFactory(0)(NewStream()); err == nil {
		t.Error("factory error = nil for a stream without video")
	}
}

func TestExtensionFor(t *testing.T) {
	tests := map[string]string{
		MimeMJPEG:                "mjpeg",
		"video/webm;codecs=vp9":  "webm",
		"VIDEO/MP4":              "mp4",
		MimePNG:                  "png",
		"video/x-matroska":       "x-matroska",
		"garbage":                "bin",
		"audio/ogg; codecs=opus": "ogg",
	}
	for in, want := range tests {
		if got := ExtensionFor(in); got != want {
			t.Errorf("ExtensionFor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCaptureStill(t *testing.T) {
	f := newCompositorFixture(t, 40, 30, 2, solidImage(40, 30, green), nil, false)

	if _, err := Capture(f.comp); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Capture() before first frame error = %v, want ErrNotInitialized", err)
	}

	f.frame(t)
	a, err := Capture(f.comp)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if a.ContentType != MimePNG || !strings.HasSuffix(a.Name, ".png") {
		t.Errorf("artifact = %q %q", a.Name, a.ContentType)
	}
	img, err := decodePNG(a.Data)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 80 || b.Dy() != 60 {
		t.Errorf("still size = %v, want 80x60 physical pixels", b)
	}
}
