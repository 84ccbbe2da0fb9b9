package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kelindar/event"

	"github.com/smazurov/markcam/internal/metrics"
)

// SessionState is the lifecycle state of a Session.
type SessionState string

// Session states.
const (
	SessionIdle         SessionState = "idle"
	SessionInitializing SessionState = "initializing"
	SessionReady        SessionState = "ready"
	SessionError        SessionState = "error"
	SessionDestroyed    SessionState = "destroyed"
)

// EventName names an artifact callback.
type EventName string

// Artifact callbacks.
const (
	EventCapture EventName = "capture"
	EventRecord  EventName = "record"
)

const discardTimeout = 5 * time.Second

// Host describes the output surface: logical size plus device pixel ratio.
type Host struct {
	Width            float64
	Height           float64
	DevicePixelRatio float64
}

// SessionOptions configures a Session.
type SessionOptions struct {
	ID        string
	Config    Config
	Host      Host
	Acquirer  Acquirer
	Scheduler Scheduler       // defaults to a 60 Hz ticker
	Recorder  RecorderFactory // defaults to MJPEG
	Loader    *AssetLoader
	Logger    *slog.Logger
}

// RecordingStatus describes the recording in progress, if any.
type RecordingStatus struct {
	Active   bool
	Elapsed  time.Duration
	Bytes    int
	MimeType string
}

// SessionInfo is a point-in-time view of a session.
type SessionInfo struct {
	ID               string
	State            SessionState
	Error            string
	FacingMode       FacingMode
	Audio            bool
	Mirror           bool
	WatermarkVisible bool
	Watermarks       int
	Frames           uint64
	Width            int
	Height           int
	DevicePixelRatio float64
	Recording        RecordingStatus
}

// Session owns one camera pipeline: acquisition, compositing, publishing,
// still capture and recording.
type Session struct {
	id         string
	opts       SessionOptions
	logger     *slog.Logger
	loader     *AssetLoader
	dispatcher *event.Dispatcher

	mu     sync.Mutex
	state  SessionState
	err    error
	cfg    Config
	raw    *Stream
	comp   *Compositor
	pub    *Publisher
	rec    *RecordingSession
	sched  Scheduler
	ticker *TickerScheduler
}

// NewSession creates an idle session. Call Init to start the pipeline.
func NewSession(opts SessionOptions) *Session {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", id)

	if opts.Host.DevicePixelRatio <= 0 {
		opts.Host.DevicePixelRatio = 1
	}
	loader := opts.Loader
	if loader == nil {
		loader = NewAssetLoader(logger)
	}

	return &Session{
		id:         id,
		opts:       opts,
		logger:     logger,
		loader:     loader,
		dispatcher: event.NewDispatcher(),
		state:      SessionIdle,
		cfg:        opts.Config,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Init loads watermark assets, acquires the camera, starts the compositor and
// publishes the output stream. On failure the session enters the error state.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.state != SessionIdle {
		state := s.state
		s.mu.Unlock()
		return &Error{Code: ErrCodeInvalidState, Message: fmt.Sprintf("cannot init session in state %s", state)}
	}
	s.state = SessionInitializing
	cfg := s.cfg
	s.mu.Unlock()
	s.emitState(SessionInitializing, nil)

	if s.opts.Acquirer == nil {
		return s.fail(NewMediaAccessError(ReasonNotFound, "no capture source configured", nil))
	}
	if s.opts.Host.Width <= 0 || s.opts.Host.Height <= 0 {
		return s.fail(configError("host size must be positive"))
	}

	assetErrs, err := s.loader.Load(ctx, cfg.Watermarks)
	if err != nil {
		return s.fail(err)
	}
	for _, e := range assetErrs {
		event.Publish(s.dispatcher, assetErrorEvent{err: e})
	}

	raw, err := s.opts.Acquirer.Acquire(ctx, cfg.Constraints())
	if err != nil {
		return s.fail(err)
	}
	video := raw.VideoTracks()
	if len(video) == 0 {
		raw.Stop()
		return s.fail(NewMediaAccessError(ReasonOverconstrained, "capture source has no video track", nil))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionInitializing {
		// Destroyed while acquiring.
		raw.Stop()
		return &Error{Code: ErrCodeInvalidState, Message: "session destroyed during init"}
	}

	s.sched = s.opts.Scheduler
	if s.sched == nil {
		s.ticker = NewTickerScheduler(DefaultFrameInterval)
		s.sched = s.ticker
	}

	s.raw = raw
	s.comp = NewCompositor(CompositorOptions{
		ID:               s.id,
		Width:            s.opts.Host.Width,
		Height:           s.opts.Host.Height,
		DevicePixelRatio: s.opts.Host.DevicePixelRatio,
		Mirror:           cfg.Mirror,
		Watermarks:       cfg.Watermarks,
		Scheduler:        s.sched,
		Logger:           s.logger.With("component", "compositor"),
	})
	s.comp.Attach(video[0])

	s.pub = Publish(s.comp, raw, PublishOptions{
		FrameRate: cfg.FrameRate,
		Audio:     cfg.Audio,
		SessionID: s.id,
	})

	s.rec = NewRecordingSession(RecordingOptions{
		Factory: s.opts.Recorder,
		Tick:    cfg.RecordTick,
		Limit:   cfg.RecordLimit,
		OnTick: func(elapsed time.Duration) {
			event.Publish(s.dispatcher, tickEvent{elapsed: elapsed})
		},
		OnAutoStop: func(a *Artifact, err error) {
			if err != nil {
				s.logger.Error("Auto-stopped recording failed", "error", err)
				return
			}
			event.Publish(s.dispatcher, artifactEvent{name: EventRecord, artifact: a})
		},
		Logger: s.logger.With("component", "recorder"),
	})

	s.state = SessionReady
	s.logger.Info("Session ready",
		"facing_mode", cfg.FacingMode,
		"audio", cfg.Audio,
		"watermarks", len(cfg.Watermarks),
		"width", s.opts.Host.Width,
		"height", s.opts.Host.Height,
		"dpr", s.opts.Host.DevicePixelRatio)
	event.Publish(s.dispatcher, stateEvent{state: SessionReady})
	return nil
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	if s.state != SessionInitializing {
		s.mu.Unlock()
		return err
	}
	s.state = SessionError
	s.err = err
	s.mu.Unlock()

	s.logger.Error("Session init failed", "error", err)
	s.emitState(SessionError, err)
	return err
}

func (s *Session) emitState(state SessionState, err error) {
	event.Publish(s.dispatcher, stateEvent{state: state, err: err})
}

// State returns the session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the init failure when in the error state.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stream returns the published stream, nil before Init completes.
func (s *Session) Stream() *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pub == nil {
		return nil
	}
	return s.pub.Stream()
}

// WaitFirstFrame blocks until a frame was composited.
func (s *Session) WaitFirstFrame(ctx context.Context) error {
	s.mu.Lock()
	comp := s.comp
	s.mu.Unlock()
	if comp == nil {
		return ErrNotInitialized
	}
	select {
	case <-comp.FirstFrame():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Capture takes a PNG still of the composited surface.
func (s *Session) Capture() (*Artifact, error) {
	s.mu.Lock()
	comp := s.comp
	s.mu.Unlock()
	if comp == nil {
		return nil, ErrNotInitialized
	}

	a, err := Capture(comp)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Still captured", "name", a.Name, "bytes", len(a.Data))
	event.Publish(s.dispatcher, artifactEvent{name: EventCapture, artifact: a})
	return a, nil
}

// StartRecording starts recording the published stream.
func (s *Session) StartRecording() error {
	s.mu.Lock()
	rec, pub := s.rec, s.pub
	s.mu.Unlock()
	if rec == nil || pub == nil {
		return ErrNotInitialized
	}
	return rec.Start(pub.Stream())
}

// StopRecording finalizes the recording and returns the artifact.
func (s *Session) StopRecording(ctx context.Context) (*Artifact, error) {
	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()
	if rec == nil {
		return nil, ErrNotRecording
	}

	a, err := rec.Stop(ctx)
	if err != nil {
		return nil, err
	}
	event.Publish(s.dispatcher, artifactEvent{name: EventRecord, artifact: a})
	return a, nil
}

// Recording returns the status of the recording in progress.
func (s *Session) Recording() RecordingStatus {
	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()
	if rec == nil {
		return RecordingStatus{}
	}
	active, elapsed, size, mimeType := rec.Status()
	return RecordingStatus{Active: active, Elapsed: elapsed, Bytes: size, MimeType: mimeType}
}

// SetWatermarkVisible shows or hides the watermarks.
func (s *Session) SetWatermarkVisible(on bool) error {
	comp, err := s.compositor()
	if err != nil {
		return err
	}
	comp.SetWatermarkVisible(on)
	return nil
}

// ToggleWatermark flips watermark visibility and returns the new value.
func (s *Session) ToggleWatermark() (bool, error) {
	comp, err := s.compositor()
	if err != nil {
		return false, err
	}
	on := !comp.WatermarkVisible()
	comp.SetWatermarkVisible(on)
	return on, nil
}

// SetMirror toggles horizontal mirroring of the camera image.
func (s *Session) SetMirror(on bool) error {
	comp, err := s.compositor()
	if err != nil {
		return err
	}
	comp.SetMirror(on)
	s.mu.Lock()
	s.cfg.Mirror = on
	s.mu.Unlock()
	return nil
}

// UpdateWatermarks loads the assets of wms and swaps them in. Asset failures
// are reported through OnAssetError and leave the affected image marks unpainted.
func (s *Session) UpdateWatermarks(ctx context.Context, wms []Watermark) error {
	comp, err := s.compositor()
	if err != nil {
		return err
	}

	assetErrs, err := s.loader.Load(ctx, wms)
	if err != nil {
		return err
	}
	for _, e := range assetErrs {
		event.Publish(s.dispatcher, assetErrorEvent{err: e})
	}

	comp.SetWatermarks(wms)
	s.mu.Lock()
	s.cfg.Watermarks = wms
	s.mu.Unlock()
	s.logger.Info("Watermarks updated", "count", len(wms))
	return nil
}

func (s *Session) compositor() (*Compositor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.comp == nil {
		return nil, ErrNotInitialized
	}
	return s.comp, nil
}

// Info returns a snapshot of the session for status reporting.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	info := SessionInfo{
		ID:               s.id,
		State:            s.state,
		FacingMode:       s.cfg.FacingMode,
		Audio:            s.cfg.Audio,
		Mirror:           s.cfg.Mirror,
		Watermarks:       len(s.cfg.Watermarks),
		DevicePixelRatio: s.opts.Host.DevicePixelRatio,
	}
	if s.err != nil {
		info.Error = s.err.Error()
	}
	comp := s.comp
	s.mu.Unlock()

	if comp != nil {
		info.Mirror = comp.Mirror()
		info.WatermarkVisible = comp.WatermarkVisible()
		info.Frames = comp.Frames()
		b := comp.SurfaceBounds()
		info.Width, info.Height = b.Dx(), b.Dy()
	}
	info.Recording = s.Recording()
	return info
}

// Destroy tears the pipeline down: the frame loop stops, the pending frame is
// cancelled, the tracks of both streams are stopped and the surface released.
// A recording in progress is discarded. Calling Destroy again is a no-op.
func (s *Session) Destroy() error {
	s.mu.Lock()
	if s.state == SessionDestroyed {
		s.mu.Unlock()
		return nil
	}
	s.state = SessionDestroyed
	raw, comp, pub, rec, ticker := s.raw, s.comp, s.pub, s.rec, s.ticker
	s.raw, s.comp, s.pub, s.rec, s.ticker = nil, nil, nil, nil, nil
	s.mu.Unlock()

	if rec != nil {
		ctx, cancel := context.WithTimeout(context.Background(), discardTimeout)
		rec.Discard(ctx)
		cancel()
	}
	if comp != nil {
		comp.Stop()
	}
	if ticker != nil {
		ticker.Close()
	}
	if pub != nil {
		pub.Stop()
		pub.Stream().Stop()
	}
	if raw != nil {
		raw.Stop()
	}
	if comp != nil {
		comp.Release()
	}

	metrics.DeleteSessionMetrics(s.id)
	s.logger.Info("Session destroyed")
	s.emitState(SessionDestroyed, nil)
	return nil
}

// On registers fn for capture or record artifacts and returns the unsubscribe function.
func (s *Session) On(name EventName, fn func(*Artifact)) func() {
	return event.Subscribe(s.dispatcher, func(e artifactEvent) {
		if e.name == name {
			fn(e.artifact)
		}
	})
}

// OnTick registers fn for elapsed recording time updates.
func (s *Session) OnTick(fn func(elapsed time.Duration)) func() {
	return event.Subscribe(s.dispatcher, func(e tickEvent) {
		fn(e.elapsed)
	})
}

// OnAssetError registers fn for watermark asset failures.
func (s *Session) OnAssetError(fn func(err error)) func() {
	return event.Subscribe(s.dispatcher, func(e assetErrorEvent) {
		fn(e.err)
	})
}

// OnStateChange registers fn for session state transitions.
func (s *Session) OnStateChange(fn func(state SessionState, err error)) func() {
	return event.Subscribe(s.dispatcher, func(e stateEvent) {
		fn(e.state, e.err)
	})
}

const (
	typeArtifact uint32 = iota + 1
	typeTick
	typeAssetError
	typeState
)

type artifactEvent struct {
	name     EventName
	artifact *Artifact
}

func (artifactEvent) Type() uint32 { return typeArtifact }

type tickEvent struct{ elapsed time.Duration }

func (tickEvent) Type() uint32 { return typeTick }

type assetErrorEvent struct{ err error }

func (assetErrorEvent) Type() uint32 { return typeAssetError }

type stateEvent struct {
	state SessionState
	err   error
}

func (stateEvent) Type() uint32 { return typeState }
