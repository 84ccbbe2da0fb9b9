package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/smazurov/markcam/cmd"
	"github.com/smazurov/markcam/internal/api"
	"github.com/smazurov/markcam/internal/artifacts"
	"github.com/smazurov/markcam/internal/config"
	"github.com/smazurov/markcam/internal/events"
	"github.com/smazurov/markcam/internal/led"
	"github.com/smazurov/markcam/internal/logging"
	"github.com/smazurov/markcam/internal/media"
	"github.com/smazurov/markcam/internal/metrics/exporters"
	"github.com/smazurov/markcam/internal/streaming"
	"github.com/smazurov/markcam/internal/systemd"
)

// services is everything the server command runs.
type services struct {
	logger   *slog.Logger
	session  *media.Session
	server   *api.Server
	webrtc   *streaming.WebRTCManager
	watcher  *config.Watcher[media.Config]
	exporter *exporters.SSEExporter
	tally    *led.Tally
	notifier *systemd.Notifier
	unbridge func()
	ctx      context.Context
	cancel   context.CancelFunc
}

func newServices(opts *Options, eventBus *events.Bus, logger *slog.Logger) (*services, error) {
	finalizeTimeout, err := time.ParseDuration(opts.RecordFinalizeTimeout)
	if err != nil {
		finalizeTimeout = 10 * time.Second
	}
	progressDir := opts.CaptureProgressDir
	if !opts.ObsPrometheusEnabled {
		progressDir = ""
	}

	acquirer, err := cmd.NewAcquirer(context.Background(), cmd.SourceOptions{
		Source:       opts.CaptureSource,
		FrontDevice:  opts.CaptureFrontDevice,
		BackDevice:   opts.CaptureBackDevice,
		AudioDevice:  opts.CaptureAudioDevice,
		InputFormat:  opts.CaptureInputFormat,
		Width:        opts.CaptureWidth,
		Height:       opts.CaptureHeight,
		FPS:          float64(opts.CaptureFPS),
		SampleRate:   opts.CaptureSampleRate,
		Channels:     opts.CaptureChannels,
		InputOptions: splitList(opts.CaptureInputOptions),
		ProgressDir:  progressDir,
	}, logging.GetLogger("capture"))
	if err != nil {
		return nil, fmt.Errorf("invalid capture source: %w", err)
	}
	recorder, err := cmd.NewRecorderFactory(cmd.RecordOptions{
		Container:    opts.RecordContainer,
		Encoder:      opts.RecordEncoder,
		Bitrate:      opts.RecordBitrate,
		MJPEGQuality: opts.RecordMJPEGQuality,
		Finalize:     finalizeTimeout,
	}, progressDir, logging.GetLogger("recorder"))
	if err != nil {
		return nil, fmt.Errorf("invalid recorder settings: %w", err)
	}

	cameraCfg, err := config.LoadCamera(opts.CameraConfig, media.DefaultConfig())
	if err != nil {
		return nil, err
	}

	host := media.Host{Width: float64(opts.SurfaceWidth), Height: float64(opts.SurfaceHeight), DevicePixelRatio: 1}
	if host.Width <= 0 || host.Height <= 0 {
		host.Width, host.Height = float64(opts.CaptureWidth), float64(opts.CaptureHeight)
	}
	if dpr, parseErr := strconv.ParseFloat(opts.SurfaceDPR, 64); parseErr == nil && dpr > 0 {
		host.DevicePixelRatio = dpr
	}

	store, err := artifacts.NewStore(opts.OutputDir, logging.GetLogger("artifacts"))
	if err != nil {
		return nil, err
	}

	s := &services{logger: logger, notifier: systemd.NewNotifier(logger)}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.session = media.NewSession(media.SessionOptions{
		Config:   cameraCfg,
		Host:     host,
		Acquirer: acquirer,
		Recorder: recorder,
		Logger:   logging.GetLogger("session"),
	})
	s.unbridge = api.BridgeSessionEvents(s.session, store, eventBus, logging.GetLogger("api"))

	// Preview consumers of the published stream
	streamingLogger := logging.GetLogger("streaming")
	mjpeg := streaming.NewMJPEGHandler(s.session, opts.PreviewMJPEGQuality, streamingLogger)
	hub, err := streaming.NewHub(s.session.ID(), s.session, streaming.PreviewConfig{
		Encoder: opts.PreviewEncoder,
		Bitrate: opts.PreviewBitrate,
	}, streamingLogger)
	if err != nil {
		logger.Warn("WebRTC preview disabled", "error", err)
	} else {
		webrtcCfg := streaming.WebRTCConfig{}
		if urls := splitList(opts.PreviewSTUNServers); len(urls) > 0 {
			webrtcCfg.ICEServers = []pion.ICEServer{{URLs: urls}}
		}
		s.webrtc = streaming.NewWebRTCManager(hub, webrtcCfg, logging.GetLogger("webrtc"))

		// Close WebRTC consumers when the preview encoder ends (enables client reconnection)
		webrtc := s.webrtc
		hub.SetOnProducerReplaced(func(streamID string) {
			streamingLogger.Info("Preview encoder ended, closing WebRTC consumers", "stream_id", streamID)
			webrtc.CloseAll()
		})
	}

	// Hot-reload watermarks and mirroring from the camera file
	if opts.CameraWatch {
		s.watcher = config.NewWatcher(opts.CameraConfig,
			func(path string) (media.Config, error) { return config.LoadCamera(path, media.DefaultConfig()) },
			logging.GetLogger("config"),
			config.WithDebounce[media.Config](500*time.Millisecond),
		)
		s.watcher.OnReload(s.applyCamera)
	}

	apiOpts := &api.Options{
		AuthUsername: opts.AuthUsername,
		AuthPassword: opts.AuthPassword,
		Session:      s.session,
		Store:        store,
		EventBus:     eventBus,
		WebRTC:       s.webrtc,
		MJPEG:        mjpeg,
		StopTimeout:  finalizeTimeout + 5*time.Second,
	}
	if opts.ObsPrometheusEnabled {
		apiOpts.PrometheusHandler = exporters.HTTPHandler()
	}
	s.server = api.NewServer(apiOpts)

	if opts.ObsSSEEnabled {
		s.exporter = exporters.NewSSEExporter(eventBus)
	}

	// Initialize tally LED if enabled
	if opts.FeaturesTallyLED != "" {
		logger.Info("Tally LED enabled, initializing")
		s.tally = led.NewTally(led.New(opts.FeaturesTallyLED, logger), eventBus, logger)
	}
	return s, nil
}

// applyCamera pushes reloaded camera options into the running session.
func (s *services) applyCamera(cfg media.Config) {
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()
	if err := s.session.UpdateWatermarks(ctx, cfg.Watermarks); err != nil {
		s.logger.Warn("Failed to apply watermarks", "error", err)
		return
	}
	if err := s.session.SetMirror(cfg.Mirror); err != nil {
		s.logger.Warn("Failed to apply mirroring", "error", err)
	}
	s.logger.Info("Camera config reloaded", "watermarks", len(cfg.Watermarks), "mirror", cfg.Mirror)
}

// start runs everything but the HTTP server. The camera starts in the
// background so the API can report its state meanwhile.
func (s *services) start() {
	if s.exporter != nil {
		s.exporter.Start(s.ctx)
	}
	if s.tally != nil {
		s.tally.Start()
	}
	if s.watcher != nil {
		if err := s.watcher.Start(); err != nil {
			s.logger.Warn("Failed to start camera config watcher, hot-reload disabled", "error", err)
		}
	}

	go func() {
		s.notifier.Status("starting camera")
		if err := s.session.Init(s.ctx); err != nil {
			s.notifier.Status("camera unavailable: " + err.Error())
			return
		}
		s.notifier.Status("camera ready")
	}()
	go s.notifier.RunWatchdog(s.ctx)
	s.notifier.Ready()
}

func (s *services) stop() {
	s.notifier.Stopping()
	if err := s.server.Stop(); err != nil {
		s.logger.Error("Error stopping HTTP server", "error", err)
	}
	s.cancel()

	if s.watcher != nil {
		_ = s.watcher.Stop()
	}
	if s.exporter != nil {
		s.exporter.Stop()
	}

	// Stop WebRTC peers and the preview encoder before the stream they read
	if s.webrtc != nil {
		s.webrtc.Stop()
	}

	s.unbridge()
	if s.tally != nil {
		s.tally.Stop()
	}
	if err := s.session.Destroy(); err != nil {
		s.logger.Error("Error destroying session", "error", err)
	}
}
