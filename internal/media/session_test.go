package media

import (
	"context"
	"errors"
	"testing"
	"time"
)

type sessionFixture struct {
	s     *Session
	sched *ManualScheduler
}

func newSessionFixture(t *testing.T, cfg Config, acq Acquirer, rec RecorderFactory) *sessionFixture {
	t.Helper()
	sched := NewManualScheduler(time.Unix(0, 0))
	s := NewSession(SessionOptions{
		Config:    cfg,
		Host:      Host{Width: 64, Height: 48, DevicePixelRatio: 2},
		Acquirer:  acq,
		Scheduler: sched,
		Recorder:  rec,
		Loader:    newTestLoader(),
		Logger:    discardLogger(),
	})
	t.Cleanup(func() { _ = s.Destroy() })
	return &sessionFixture{s: s, sched: sched}
}

func smallPattern() *TestPatternAcquirer {
	return &TestPatternAcquirer{Width: 32, Height: 24, FrameRate: 60, SampleRate: 8000, Channels: 1}
}

// start initializes the session and waits until the camera feed armed the frame loop.
func (f *sessionFixture) start(t *testing.T) {
	t.Helper()
	if err := f.s.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	waitFor(t, "first frame request", func() bool { return f.sched.Pending() > 0 })
}

func TestSessionLifecycle(t *testing.T) {
	f := newSessionFixture(t, DefaultConfig(), smallPattern(), nil)

	if st := f.s.State(); st != SessionIdle {
		t.Fatalf("State() = %q, want idle", st)
	}
	f.start(t)
	if st := f.s.State(); st != SessionReady {
		t.Fatalf("State() = %q, want ready", st)
	}

	if err := f.s.Init(context.Background()); !errors.Is(err, &Error{Code: ErrCodeInvalidState}) {
		t.Errorf("second Init() error = %v, want invalid state", err)
	}

	if _, err := f.s.Capture(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Capture() before first frame error = %v, want ErrNotInitialized", err)
	}

	f.sched.Tick()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.s.WaitFirstFrame(ctx); err != nil {
		t.Fatalf("WaitFirstFrame() error = %v", err)
	}

	info := f.s.Info()
	if info.Width != 128 || info.Height != 96 || info.Frames != 1 {
		t.Errorf("Info() = %+v, want 128x96 surface with one frame", info)
	}

	if err := f.s.Destroy(); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if err := f.s.Destroy(); err != nil {
		t.Errorf("second Destroy() error = %v", err)
	}
	if st := f.s.State(); st != SessionDestroyed {
		t.Errorf("State() = %q, want destroyed", st)
	}
	if p := f.sched.Pending(); p != 0 {
		t.Errorf("Pending() = %d after Destroy, want 0", p)
	}
	for range 3 {
		f.sched.Tick()
	}
	if f.s.Stream() != nil {
		t.Error("Stream() should be nil after Destroy")
	}
	if _, err := f.s.Capture(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Capture() after Destroy error = %v, want ErrNotInitialized", err)
	}
}

func TestSessionCaptureCallback(t *testing.T) {
	f := newSessionFixture(t, DefaultConfig(), smallPattern(), nil)
	f.start(t)
	f.sched.Tick()

	got := make(chan *Artifact, 1)
	unsubscribe := f.s.On(EventCapture, func(a *Artifact) { got <- a })
	defer unsubscribe()
	f.s.On(EventRecord, func(*Artifact) { t.Error("record callback fired for a capture") })

	a, err := f.s.Capture()
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	select {
	case cb := <-got:
		if cb != a {
			t.Error("callback received a different artifact")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("capture callback not invoked")
	}

	img, err := decodePNG(a.Data)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 128 || b.Dy() != 96 {
		t.Errorf("still = %v, want 128x96", b)
	}
}

func TestSessionRecording(t *testing.T) {
	rec := &fakeRecorder{mime: MimeWebM, chunks: [][]byte{[]byte("12"), []byte("345")}}
	f := newSessionFixture(t, DefaultConfig(), smallPattern(), fakeFactory(rec))

	if err := f.s.StartRecording(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("StartRecording() before Init error = %v, want ErrNotInitialized", err)
	}
	if _, err := f.s.StopRecording(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("StopRecording() before Init error = %v, want ErrNotRecording", err)
	}

	f.start(t)

	got := make(chan *Artifact, 1)
	f.s.On(EventRecord, func(a *Artifact) { got <- a })

	if err := f.s.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if err := f.s.StartRecording(); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("second StartRecording() error = %v, want ErrAlreadyRecording", err)
	}
	if st := f.s.Recording(); !st.Active || st.Bytes != 5 || st.MimeType != MimeWebM {
		t.Errorf("Recording() = %+v", st)
	}

	a, err := f.s.StopRecording(context.Background())
	if err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	if len(a.Data) != 5 || a.ContentType != MimeWebM {
		t.Errorf("artifact = %d bytes %q, want 5 bytes %q", len(a.Data), a.ContentType, MimeWebM)
	}
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("record callback not invoked")
	}
	if _, err := f.s.StopRecording(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("second StopRecording() error = %v, want ErrNotRecording", err)
	}
}

func TestSessionDestroyDiscardsRecording(t *testing.T) {
	rec := &fakeRecorder{mime: MimeWebM, chunks: [][]byte{[]byte("x")}}
	f := newSessionFixture(t, DefaultConfig(), smallPattern(), fakeFactory(rec))
	f.start(t)

	f.s.On(EventRecord, func(*Artifact) { t.Error("record callback fired for a discarded recording") })
	if err := f.s.StartRecording(); err != nil {
		t.Fatal(err)
	}
	if err := f.s.Destroy(); err != nil {
		t.Fatal(err)
	}
	if st := f.s.Recording(); st.Active {
		t.Error("recording still active after Destroy")
	}
	time.Sleep(20 * time.Millisecond)
}

func TestSessionAudioTracks(t *testing.T) {
	tests := []struct {
		name  string
		audio bool
		want  int
	}{
		{"audio off", false, 0},
		{"audio on", true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Audio = tt.audio
			f := newSessionFixture(t, cfg, smallPattern(), nil)
			f.start(t)

			stream := f.s.Stream()
			if n := len(stream.AudioTracks()); n != tt.want {
				t.Errorf("published audio tracks = %d, want %d", n, tt.want)
			}
			if n := len(stream.VideoTracks()); n != 1 {
				t.Errorf("published video tracks = %d, want 1", n)
			}
		})
	}
}

func TestSessionInitFailures(t *testing.T) {
	denied := NewMediaAccessError(ReasonPermissionDenied, "camera blocked", nil)
	noVideo := AcquirerFunc(func(context.Context, Constraints) (*Stream, error) {
		return NewStream(NewTrack(KindAudio, "mic", TrackSettings{}, nil)), nil
	})

	tests := []struct {
		name       string
		acq        Acquirer
		cfg        func(*Config)
		wantReason string
		wantErr    error
	}{
		{"permission denied", &TestPatternAcquirer{Err: denied}, nil, ReasonPermissionDenied, ErrMediaAccess},
		{"no acquirer", nil, nil, ReasonNotFound, ErrMediaAccess},
		{"no video track", noVideo, nil, ReasonOverconstrained, ErrMediaAccess},
		{"bad font size", smallPattern(), func(c *Config) {
			c.Watermarks = []Watermark{{Mark: &TextMark{Text: "x", FontSize: "??"}}}
		}, "", ErrConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			f := newSessionFixture(t, cfg, tt.acq, nil)

			states := make(chan SessionState, 4)
			f.s.OnStateChange(func(st SessionState, _ error) { states <- st })

			err := f.s.Init(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Init() error = %v, want %v", err, tt.wantErr)
			}
			var me *Error
			if tt.wantReason != "" && (!errors.As(err, &me) || me.Reason != tt.wantReason) {
				t.Errorf("reason = %v, want %q", err, tt.wantReason)
			}
			if st := f.s.State(); st != SessionError {
				t.Errorf("State() = %q, want error", st)
			}
			if f.s.Err() == nil {
				t.Error("Err() = nil in error state")
			}

			waitFor(t, "error state event", func() bool {
				for {
					select {
					case st := <-states:
						if st == SessionError {
							return true
						}
					default:
						return false
					}
				}
			})
		})
	}
}

func TestSessionWatermarkControls(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Watermarks = []Watermark{imageMark(0, 0, 4, 4, blue)}
	f := newSessionFixture(t, cfg, smallPattern(), nil)

	if err := f.s.SetMirror(true); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("SetMirror() before Init error = %v, want ErrNotInitialized", err)
	}
	f.start(t)

	on, err := f.s.ToggleWatermark()
	if err != nil || on {
		t.Errorf("ToggleWatermark() = %v, %v, want hidden", on, err)
	}
	if err := f.s.SetWatermarkVisible(true); err != nil {
		t.Fatal(err)
	}
	if err := f.s.SetMirror(true); err != nil {
		t.Fatal(err)
	}

	assetErrs := make(chan error, 1)
	f.s.OnAssetError(func(err error) { assetErrs <- err })

	next := []Watermark{
		{Mark: &TextMark{Text: "new", FontSize: "12px"}},
		{Mark: &ImageMark{URL: "/does/not/exist.png"}},
	}
	if err := f.s.UpdateWatermarks(context.Background(), next); err != nil {
		t.Fatalf("UpdateWatermarks() error = %v", err)
	}
	select {
	case err := <-assetErrs:
		if !errors.Is(err, ErrWatermarkAsset) {
			t.Errorf("asset error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("asset error callback not invoked")
	}

	info := f.s.Info()
	if !info.Mirror || !info.WatermarkVisible || info.Watermarks != 2 {
		t.Errorf("Info() = %+v, want mirrored with two visible watermarks", info)
	}
}

func TestSessionRecordTicks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecordTick = 5 * time.Millisecond
	rec := &fakeRecorder{mime: MimeWebM}
	f := newSessionFixture(t, cfg, smallPattern(), fakeFactory(rec))
	f.start(t)

	ticks := make(chan time.Duration, 8)
	f.s.OnTick(func(d time.Duration) {
		select {
		case ticks <- d:
		default:
		}
	})
	if err := f.s.StartRecording(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ticks:
	case <-time.After(2 * time.Second):
		t.Fatal("no recording tick")
	}
}
