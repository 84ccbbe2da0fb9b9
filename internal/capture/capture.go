// Package capture opens cameras and microphones and encodes recordings with
// ffmpeg subprocesses connected through pipes.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/smazurov/markcam/internal/ffmpeg"
	"github.com/smazurov/markcam/internal/logging"
	"github.com/smazurov/markcam/internal/media"
	"github.com/smazurov/markcam/internal/metrics/collectors"
	"github.com/smazurov/markcam/internal/process"
)

// Config selects devices and formats for the ffmpeg acquirer.
type Config struct {
	FrontDevice string // camera used for facingMode "user"
	BackDevice  string // camera used for facingMode "environment"
	AudioDevice string // ALSA device, e.g. "default" or "hw:1,0"
	InputFormat string // v4l2 input format, e.g. "mjpeg"
	Width       int
	Height      int
	FPS         float64
	SampleRate  int
	Channels    int
	Options     []ffmpeg.OptionType
	// TestSource replaces the devices with lavfi test patterns.
	TestSource bool
	// ProgressDir holds the -progress sockets. Empty disables progress metrics.
	ProgressDir string
}

// Acquirer implements media.Acquirer with ffmpeg capture processes.
type Acquirer struct {
	cfg          Config
	logger       *slog.Logger
	ffmpegLogger *slog.Logger
	echoOnce     sync.Once
}

// NewAcquirer creates an ffmpeg backed acquirer.
func NewAcquirer(cfg Config, logger *slog.Logger) *Acquirer {
	if logger == nil {
		logger = logging.GetLogger("capture")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 1280, 720
	}
	return &Acquirer{
		cfg:          cfg,
		logger:       logger,
		ffmpegLogger: logging.GetLogger("ffmpeg"),
	}
}

// Acquire implements media.Acquirer. It returns once the camera delivered its
// first frame (and the microphone its first chunk, when audio is requested).
func (a *Acquirer) Acquire(ctx context.Context, c media.Constraints) (*media.Stream, error) {
	video, err := a.openVideo(ctx, c.FacingMode)
	if err != nil {
		return nil, err
	}
	stream := media.NewStream(video)

	if c.Audio != nil {
		audio, err := a.openAudio(ctx, *c.Audio)
		if err != nil {
			video.Stop()
			return nil, err
		}
		stream.AddTrack(audio)
	}
	return stream, nil
}

func (a *Acquirer) device(f media.FacingMode) string {
	if f == media.FacingEnvironment {
		return a.cfg.BackDevice
	}
	return a.cfg.FrontDevice
}

func (a *Acquirer) openVideo(ctx context.Context, facing media.FacingMode) (*media.Track, error) {
	device := a.device(facing)
	if !a.cfg.TestSource {
		if device == "" {
			return nil, media.NewMediaAccessError(media.ReasonNotFound,
				fmt.Sprintf("no camera configured for facing mode %q", facing), nil)
		}
		if err := checkDevice(device); err != nil {
			return nil, err
		}
	}

	params := &ffmpeg.Params{
		DevicePath:   device,
		InputFormat:  a.cfg.InputFormat,
		Width:        a.cfg.Width,
		Height:       a.cfg.Height,
		FPS:          a.cfg.FPS,
		IsTestSource: a.cfg.TestSource,
		Options:      a.cfg.Options,
	}
	settings := media.TrackSettings{Width: params.Width, Height: params.Height, FrameRate: a.cfg.FPS}
	if settings.FrameRate <= 0 {
		settings.FrameRate = ffmpeg.DefaultFPS
	}

	label := device
	if a.cfg.TestSource {
		label = "ffmpeg test pattern (" + string(facing) + ")"
	}

	frameSize := params.Width * params.Height * 4
	rect := image.Rect(0, 0, params.Width, params.Height)
	return a.open(ctx, sourceSpec{
		pipeline: "capture-video",
		kind:     media.KindVideo,
		label:    label,
		settings: settings,
		chunk:    frameSize,
		build: func(progress string) (string, error) {
			params.ProgressSocket = progress
			return ffmpeg.BuildSourceCommand(params)
		},
		sample: func(buf []byte) media.Sample {
			return media.Sample{Image: &image.RGBA{Pix: buf, Stride: 4 * rect.Dx(), Rect: rect}}
		},
	})
}

func (a *Acquirer) openAudio(ctx context.Context, ac media.AudioConstraints) (*media.Track, error) {
	if !a.cfg.TestSource && a.cfg.AudioDevice == "" {
		return nil, media.NewMediaAccessError(media.ReasonNotFound, "no microphone configured", nil)
	}
	if ac.EchoCancellation {
		a.echoOnce.Do(func() {
			a.logger.Info("Echo cancellation requested but ffmpeg has no equivalent filter, ignoring")
		})
	}

	params := &ffmpeg.Params{
		AudioDevice:      a.cfg.AudioDevice,
		SampleRate:       a.cfg.SampleRate,
		Channels:         a.cfg.Channels,
		NoiseSuppression: ac.NoiseSuppression,
		AutoGainControl:  ac.AutoGainControl,
		IsTestSource:     a.cfg.TestSource,
	}
	rate, channels := a.cfg.SampleRate, a.cfg.Channels
	if rate <= 0 {
		rate = ffmpeg.DefaultSampleRate
	}
	if channels <= 0 {
		channels = ffmpeg.DefaultChannels
	}

	label := a.cfg.AudioDevice
	if a.cfg.TestSource {
		label = "ffmpeg test tone"
	}

	// 20ms chunks of interleaved s16le.
	chunk := rate / 50 * channels * 2
	return a.open(ctx, sourceSpec{
		pipeline: "capture-audio",
		kind:     media.KindAudio,
		label:    label,
		settings: media.TrackSettings{SampleRate: rate, Channels: channels},
		chunk:    chunk,
		build: func(progress string) (string, error) {
			params.ProgressSocket = progress
			return ffmpeg.BuildAudioCommand(params)
		},
		sample: func(buf []byte) media.Sample {
			return media.Sample{Data: buf}
		},
	})
}

// sourceSpec describes one capture pipeline producing fixed size chunks on stdout.
type sourceSpec struct {
	pipeline string
	kind     media.TrackKind
	label    string
	settings media.TrackSettings
	chunk    int
	build    func(progressSocket string) (string, error)
	sample   func(buf []byte) media.Sample
}

// open starts the pipeline and waits for its first chunk. The returned track
// owns the process: stopping the track stops ffmpeg.
func (a *Acquirer) open(ctx context.Context, spec sourceSpec) (*media.Track, error) {
	collector := startCollector(a.cfg.ProgressDir, spec.pipeline, a.logger)
	progress := ""
	if collector != nil {
		progress = collector.SocketPath()
	}

	command, err := spec.build(progress)
	if err != nil {
		stopCollector(collector)
		return nil, media.NewMediaAccessError(media.ReasonOverconstrained, "invalid capture parameters", err)
	}

	failures := &failureRecorder{}
	proc := process.New(spec.pipeline, command, a.logger,
		process.WithStdout(),
		process.WithLogParser(a.ffmpegLogger.With("pipeline", spec.pipeline), ffmpeg.ParseLogLevel),
		process.WithOutputHandler(failures),
	)
	if err := proc.Start(context.Background()); err != nil {
		stopCollector(collector)
		return nil, media.NewMediaAccessError(media.ReasonAborted, "failed to start ffmpeg", err)
	}

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			proc.Stop()
			stopCollector(collector)
		})
	}

	track := media.NewTrack(spec.kind, spec.label, spec.settings, stop)
	ready := make(chan struct{})
	readerDone := make(chan struct{})

	go func() {
		defer close(readerDone)
		defer track.Stop()
		stdout := proc.Stdout()
		defer stdout.Close()

		first := true
		for {
			buf := make([]byte, spec.chunk)
			if _, err := io.ReadFull(stdout, buf); err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, os.ErrClosed) {
					a.logger.Warn("Capture read failed", "pipeline", spec.pipeline, "error", err)
				}
				return
			}
			if first {
				first = false
				close(ready)
			}
			if !track.Write(spec.sample(buf)) {
				return
			}
		}
	}()

	select {
	case <-ready:
		a.logger.Info("Capture started", "pipeline", spec.pipeline, "label", spec.label)
		return track, nil
	case <-readerDone:
		select {
		case <-ready:
			// Produced data, then ended: report as acquired, the track is already stopped.
			return track, nil
		default:
		}
		stop()
		<-proc.Done()
		return nil, failures.err(spec.label, proc.ExitCode())
	case <-ctx.Done():
		track.Stop()
		return nil, media.NewMediaAccessError(media.ReasonAborted, "acquisition cancelled", ctx.Err())
	}
}

// failureRecorder remembers the first device failure ffmpeg reported on stderr.
type failureRecorder struct {
	mu      sync.Mutex
	failure ffmpeg.Failure
	line    string
}

// HandleLine implements process.OutputHandler.
func (f *failureRecorder) HandleLine(source, line string) {
	if source != "stderr" {
		return
	}
	failure := ffmpeg.ClassifyFailure(line)
	if failure == ffmpeg.FailureNone {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failure == ffmpeg.FailureNone {
		f.failure, f.line = failure, line
	}
}

func (f *failureRecorder) err(label string, exitCode int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	reason := media.ReasonAborted
	switch f.failure {
	case ffmpeg.FailurePermissionDenied:
		reason = media.ReasonPermissionDenied
	case ffmpeg.FailureNotFound:
		reason = media.ReasonNotFound
	case ffmpeg.FailureUnsupported:
		reason = media.ReasonOverconstrained
	}

	var cause error
	if f.line != "" {
		_, msg := ffmpeg.ParseLogLevel(f.line)
		cause = errors.New(strings.TrimSpace(msg))
	}
	return media.NewMediaAccessError(reason,
		fmt.Sprintf("%s stopped before delivering media (exit code %d)", label, exitCode), cause)
}

// checkDevice maps a missing or unreadable device node to a media access error.
func checkDevice(path string) error {
	_, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return media.NewMediaAccessError(media.ReasonNotFound, "camera not found: "+path, err)
	case errors.Is(err, fs.ErrPermission):
		return media.NewMediaAccessError(media.ReasonPermissionDenied, "camera not accessible: "+path, err)
	case err != nil:
		return media.NewMediaAccessError(media.ReasonAborted, "camera not accessible: "+path, err)
	}
	// R_OK
	if err := syscall.Access(path, 4); err != nil {
		return media.NewMediaAccessError(media.ReasonPermissionDenied, "camera not readable: "+path, err)
	}
	return nil
}

// startCollector starts a progress collector in dir. Progress is optional:
// failures are logged and nil is returned.
func startCollector(dir, pipeline string, logger *slog.Logger) *collectors.FFmpegCollector {
	if dir == "" {
		return nil
	}
	socket := filepath.Join(dir, fmt.Sprintf("markcam-%s-%s.sock", pipeline, uuid.NewString()[:8]))
	c := collectors.NewFFmpegCollector(socket, pipeline)
	if err := c.Start(context.Background()); err != nil {
		logger.Warn("Progress metrics disabled", "pipeline", pipeline, "error", err)
		return nil
	}
	return c
}

func stopCollector(c *collectors.FFmpegCollector) {
	if c != nil {
		_ = c.Stop()
	}
}

// Available checks that an ffmpeg binary can be executed.
func Available(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	logger := logging.GetLogger("ffmpeg")
	proc := process.New("ffmpeg-version", ffmpeg.Base()+" -version", logger,
		process.WithLogParser(logger, func(line string) (string, string) { return "debug", line }),
	)
	if code := proc.Run(ctx); code != 0 {
		if info := proc.Info(); info.LastError != nil {
			return fmt.Errorf("ffmpeg not available: %w", info.LastError)
		}
		return fmt.Errorf("ffmpeg not available: exit code %d", code)
	}
	return nil
}
