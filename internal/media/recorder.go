package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/markcam/internal/metrics"
)

// ChunkRecorder encodes a stream into a container, delivering encoded bytes in chunks.
type ChunkRecorder interface {
	MimeType() string
	// Start begins encoding. ondata may be called from any goroutine until Stop returns.
	Start(ondata func([]byte)) error
	// Stop flushes pending output and returns once the last chunk was delivered.
	Stop(ctx context.Context) error
}

// RecorderFactory binds a new recorder to a stream.
type RecorderFactory func(s *Stream) (ChunkRecorder, error)

// MIME types produced by the recorders.
const (
	MimeMJPEG = "video/x-motion-jpeg"
	MimeWebM  = "video/webm"
	MimeMP4   = "video/mp4"
	MimePNG   = "image/png"
)

var extensions = map[string]string{
	MimeMJPEG: "mjpeg",
	MimeWebM:  "webm",
	MimeMP4:   "mp4",
	MimePNG:   "png",
}

// ExtensionFor maps a MIME type, with or without codec parameters, to a file extension.
func ExtensionFor(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	if ext, ok := extensions[strings.TrimSpace(strings.ToLower(base))]; ok {
		return ext
	}
	if _, sub, ok := strings.Cut(base, "/"); ok && sub != "" {
		return sub
	}
	return "bin"
}

// MJPEGRecorder writes every video sample as a JPEG image, one chunk per frame.
type MJPEGRecorder struct {
	track   *Track
	quality int

	mu     sync.Mutex
	cancel func()
	done   chan struct{}
}

// NewMJPEGRecorderFactory returns a factory for MJPEG recorders.
func NewMJPEGRecorderFactory(quality int) RecorderFactory {
	return func(s *Stream) (ChunkRecorder, error) {
		video := s.VideoTracks()
		if len(video) == 0 {
			return nil, errors.New("stream has no video track")
		}
		if quality <= 0 || quality > 100 {
			quality = jpeg.DefaultQuality
		}
		return &MJPEGRecorder{track: video[0], quality: quality}, nil
	}
}

// MimeType implements ChunkRecorder.
func (r *MJPEGRecorder) MimeType() string { return MimeMJPEG }

// Start implements ChunkRecorder.
func (r *MJPEGRecorder) Start(ondata func([]byte)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return errors.New("recorder already started")
	}

	ch, cancel := r.track.Subscribe(4)
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		for sample := range ch {
			if sample.Image == nil {
				continue
			}
			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, sample.Image, &jpeg.Options{Quality: r.quality}); err != nil {
				continue
			}
			ondata(buf.Bytes())
		}
	}()
	return nil
}

// Stop implements ChunkRecorder.
func (r *MJPEGRecorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if done == nil {
		return errors.New("recorder not started")
	}

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type recordingState int

const (
	recordingStopped recordingState = iota
	recordingStarting
	recordingActive
	recordingFinalizing
)

// RecordingOptions configures a RecordingSession.
type RecordingOptions struct {
	Factory RecorderFactory
	// Tick is the OnTick interval.
	Tick time.Duration
	// Limit auto-stops the recording when positive.
	Limit      time.Duration
	OnTick     func(elapsed time.Duration)
	OnAutoStop func(a *Artifact, err error)
	Logger     *slog.Logger
}

// RecordingSession collects recorder chunks between Start and Stop.
type RecordingSession struct {
	opts   RecordingOptions
	logger *slog.Logger

	mu       sync.Mutex
	state    recordingState
	gen      uint64
	rec      ChunkRecorder
	chunks   [][]byte
	size     int
	started  time.Time
	stopTick chan struct{}
}

// NewRecordingSession creates an idle recording session.
func NewRecordingSession(opts RecordingOptions) *RecordingSession {
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.Factory == nil {
		opts.Factory = NewMJPEGRecorderFactory(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordingSession{opts: opts, logger: logger}
}

// Start binds a fresh recorder to stream. Fails with ErrAlreadyRecording unless
// the previous recording was fully finalized.
func (r *RecordingSession) Start(stream *Stream) error {
	r.mu.Lock()
	if r.state != recordingStopped {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	r.state = recordingStarting
	r.gen++
	gen := r.gen
	r.chunks = nil
	r.size = 0
	r.mu.Unlock()

	rec, err := r.opts.Factory(stream)
	if err == nil {
		err = rec.Start(func(b []byte) { r.append(gen, b) })
	}
	if err != nil {
		r.mu.Lock()
		r.state = recordingStopped
		r.mu.Unlock()
		return fmt.Errorf("start recorder: %w", err)
	}

	r.mu.Lock()
	r.rec = rec
	r.state = recordingActive
	r.started = time.Now()
	r.stopTick = make(chan struct{})
	go r.tick(r.started, r.stopTick)
	r.mu.Unlock()

	r.logger.Info("Recording started", "mime_type", rec.MimeType())
	return nil
}

// append stores a non-empty chunk of recording gen. Late chunks of older recordings are dropped.
func (r *RecordingSession) append(gen uint64, b []byte) {
	if len(b) == 0 {
		return
	}
	chunk := append([]byte(nil), b...)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return
	}
	r.chunks = append(r.chunks, chunk)
	r.size += len(chunk)
	metrics.AddRecordingBytes(len(chunk))
}

func (r *RecordingSession) tick(started time.Time, stop <-chan struct{}) {
	ticker := time.NewTicker(r.opts.Tick)
	defer ticker.Stop()

	var limit <-chan time.Time
	if r.opts.Limit > 0 {
		timer := time.NewTimer(r.opts.Limit)
		defer timer.Stop()
		limit = timer.C
	}

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if r.opts.OnTick != nil {
				r.opts.OnTick(now.Sub(started))
			}
		case <-limit:
			r.logger.Info("Recording limit reached", "limit", r.opts.Limit)
			a, err := r.finalize(context.Background(), "auto_stopped")
			if errors.Is(err, ErrNotRecording) {
				return
			}
			if a != nil {
				a.AutoStopped = true
			}
			if r.opts.OnAutoStop != nil {
				r.opts.OnAutoStop(a, err)
			}
			return
		}
	}
}

// Stop finalizes the recording into a single artifact.
func (r *RecordingSession) Stop(ctx context.Context) (*Artifact, error) {
	return r.finalize(ctx, "saved")
}

func (r *RecordingSession) finalize(ctx context.Context, outcome string) (*Artifact, error) {
	r.mu.Lock()
	if r.state != recordingActive {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	r.state = recordingFinalizing
	rec, started := r.rec, r.started
	close(r.stopTick)
	r.mu.Unlock()

	stopErr := rec.Stop(ctx)

	r.mu.Lock()
	chunks, size := r.chunks, r.size
	r.chunks, r.size, r.rec = nil, 0, nil
	r.gen++
	r.state = recordingStopped
	r.mu.Unlock()

	if stopErr != nil {
		metrics.IncRecordingsFinalized("failed")
		return nil, fmt.Errorf("finalize recording: %w", stopErr)
	}

	data := make([]byte, 0, size)
	for _, c := range chunks {
		data = append(data, c...)
	}

	now := time.Now()
	mimeType := rec.MimeType()
	metrics.IncRecordingsFinalized(outcome)
	r.logger.Info("Recording finalized", "bytes", len(data), "chunks", len(chunks), "duration", now.Sub(started))

	return &Artifact{
		Name:        ArtifactName(now, ExtensionFor(mimeType)),
		ContentType: mimeType,
		Data:        data,
		CreatedAt:   now,
		Duration:    now.Sub(started),
	}, nil
}

// Discard stops an active recording and drops its output.
func (r *RecordingSession) Discard(ctx context.Context) {
	r.mu.Lock()
	if r.state != recordingActive {
		r.mu.Unlock()
		return
	}
	r.state = recordingFinalizing
	rec := r.rec
	close(r.stopTick)
	r.mu.Unlock()

	if err := rec.Stop(ctx); err != nil {
		r.logger.Warn("Recorder stop failed during discard", "error", err)
	}

	r.mu.Lock()
	r.chunks, r.size, r.rec = nil, 0, nil
	r.gen++
	r.state = recordingStopped
	r.mu.Unlock()
	metrics.IncRecordingsFinalized("discarded")
}

// Active reports whether a recording is in progress.
func (r *RecordingSession) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == recordingActive
}

// Status returns whether a recording is active, its elapsed time and collected bytes.
func (r *RecordingSession) Status() (active bool, elapsed time.Duration, size int, mimeType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != recordingActive {
		return false, 0, 0, ""
	}
	return true, time.Since(r.started), r.size, r.rec.MimeType()
}
