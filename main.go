package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/markcam/cmd"
	"github.com/smazurov/markcam/internal/api"
	"github.com/smazurov/markcam/internal/config"
	"github.com/smazurov/markcam/internal/events"
	"github.com/smazurov/markcam/internal/logging"
	"github.com/smazurov/markcam/internal/version"
	"github.com/spf13/cobra"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config  string `help:"Path to configuration file" short:"c" default:"config.toml"`
	EnvFile string `help:"Path to an optional .env file" default:".env"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Camera settings
	CameraConfig string `help:"Camera options file (watermarks, facing mode, audio)" default:"camera.toml" toml:"camera.config_file" env:"CAMERA_CONFIG_FILE"`
	CameraWatch  bool   `help:"Hot-reload watermarks when the camera file changes" default:"true" toml:"camera.watch" env:"CAMERA_WATCH"`
	OutputDir    string `help:"Directory stills and recordings are written to" default:"artifacts" toml:"output.dir" env:"OUTPUT_DIR"`

	// Capture settings
	CaptureSource       string `help:"Camera source: v4l2, lavfi or pattern" default:"v4l2" toml:"capture.source" env:"CAPTURE_SOURCE"`
	CaptureFrontDevice  string `help:"Device used for facingMode user" default:"/dev/video0" toml:"capture.front_device" env:"CAPTURE_FRONT_DEVICE"`
	CaptureBackDevice   string `help:"Device used for facingMode environment" default:"/dev/video0" toml:"capture.back_device" env:"CAPTURE_BACK_DEVICE"`
	CaptureAudioDevice  string `help:"ALSA capture device" default:"default" toml:"capture.audio_device" env:"CAPTURE_AUDIO_DEVICE"`
	CaptureInputFormat  string `help:"v4l2 input format, e.g. mjpeg" default:"" toml:"capture.input_format" env:"CAPTURE_INPUT_FORMAT"`
	CaptureWidth        int    `help:"Capture width" default:"1280" toml:"capture.width" env:"CAPTURE_WIDTH"`
	CaptureHeight       int    `help:"Capture height" default:"720" toml:"capture.height" env:"CAPTURE_HEIGHT"`
	CaptureFPS          int    `help:"Capture frame rate" default:"30" toml:"capture.fps" env:"CAPTURE_FPS"`
	CaptureSampleRate   int    `help:"Audio sample rate" default:"48000" toml:"capture.sample_rate" env:"CAPTURE_SAMPLE_RATE"`
	CaptureChannels     int    `help:"Audio channels" default:"2" toml:"capture.channels" env:"CAPTURE_CHANNELS"`
	CaptureInputOptions string `help:"Comma separated ffmpeg input option keys" default:"" toml:"capture.input_options" env:"CAPTURE_INPUT_OPTIONS"`
	CaptureProgressDir  string `help:"Directory for ffmpeg progress sockets, empty disables pipeline metrics" default:"/tmp/markcam" toml:"capture.progress_dir" env:"CAPTURE_PROGRESS_DIR"`

	// Output surface settings
	SurfaceWidth  int    `help:"Surface width in logical pixels, 0 uses the capture width" default:"0" toml:"surface.width" env:"SURFACE_WIDTH"`
	SurfaceHeight int    `help:"Surface height in logical pixels, 0 uses the capture height" default:"0" toml:"surface.height" env:"SURFACE_HEIGHT"`
	SurfaceDPR    string `help:"Device pixel ratio of the surface" default:"1" toml:"surface.device_pixel_ratio" env:"SURFACE_DPR"`

	// Recording settings
	RecordContainer       string `help:"Recording container: webm, mp4 or mjpeg" default:"webm" toml:"record.container" env:"RECORD_CONTAINER"`
	RecordEncoder         string `help:"ffmpeg video encoder, empty picks the container default" default:"" toml:"record.encoder" env:"RECORD_ENCODER"`
	RecordBitrate         string `help:"Recording video bitrate" default:"2M" toml:"record.bitrate" env:"RECORD_BITRATE"`
	RecordMJPEGQuality    int    `help:"JPEG quality of mjpeg recordings" default:"80" toml:"record.mjpeg_quality" env:"RECORD_MJPEG_QUALITY"`
	RecordFinalizeTimeout string `help:"Time allowed for the encoder to flush" default:"10s" toml:"record.finalize_timeout" env:"RECORD_FINALIZE_TIMEOUT"`

	// Preview settings
	PreviewEncoder      string `help:"H.264 encoder for WebRTC preview" default:"libx264" toml:"preview.encoder" env:"PREVIEW_ENCODER"`
	PreviewBitrate      string `help:"WebRTC preview bitrate" default:"1M" toml:"preview.bitrate" env:"PREVIEW_BITRATE"`
	PreviewMJPEGQuality int    `help:"JPEG quality of the MJPEG preview" default:"70" toml:"preview.mjpeg_quality" env:"PREVIEW_MJPEG_QUALITY"`
	PreviewSTUNServers  string `help:"Comma separated STUN/TURN URLs, empty for LAN-only" default:"" toml:"preview.stun_servers" env:"PREVIEW_STUN_SERVERS"`

	// Observability settings
	ObsPrometheusEnabled bool `help:"Enable Prometheus" default:"true" toml:"obs.prometheus_enabled" env:"OBS_PROMETHEUS_ENABLED"`
	ObsSSEEnabled        bool `help:"Enable SSE" default:"true" toml:"obs.sse_enabled" env:"OBS_SSE_ENABLED"`

	// Features settings
	FeaturesTallyLED string `help:"sysfs LED lit while recording: a name under /sys/class/leds, auto, or empty to disable" default:"" toml:"features.tally_led" env:"FEATURES_TALLY_LED"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel      string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat     string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingSession    string `help:"Session logging level" default:"info" toml:"logging.session" env:"LOGGING_SESSION"`
	LoggingCompositor string `help:"Compositor logging level" default:"info" toml:"logging.compositor" env:"LOGGING_COMPOSITOR"`
	LoggingCapture    string `help:"Capture logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingRecorder   string `help:"Recorder logging level" default:"info" toml:"logging.recorder" env:"LOGGING_RECORDER"`
	LoggingFFmpeg     string `help:"ffmpeg output logging level" default:"warn" toml:"logging.ffmpeg" env:"LOGGING_FFMPEG"`
	LoggingStreaming  string `help:"Preview streaming logging level" default:"info" toml:"logging.streaming" env:"LOGGING_STREAMING"`
	LoggingWebRTC     string `help:"WebRTC logging level" default:"info" toml:"logging.webrtc" env:"LOGGING_WEBRTC"`
	LoggingAPI        string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingConfig     string `help:"Config watcher logging level" default:"info" toml:"logging.config" env:"LOGGING_CONFIG"`
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if envErr := config.LoadDotEnv(opts.EnvFile); envErr != nil {
			slog.Warn("Failed to load env file", "error", envErr)
		}
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Initialize logging system
		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"session":    opts.LoggingSession,
				"compositor": opts.LoggingCompositor,
				"capture":    opts.LoggingCapture,
				"recorder":   opts.LoggingRecorder,
				"ffmpeg":     opts.LoggingFFmpeg,
				"streaming":  opts.LoggingStreaming,
				"webrtc":     opts.LoggingWebRTC,
				"api":        opts.LoggingAPI,
				"config":     opts.LoggingConfig,
			},
		})

		logger := logging.GetLogger("main")

		// Create event bus for in-process event handling
		eventBus := events.New()
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(api.LogEntryEvent(entry))
		})

		// Services are built on start so subcommands do not open the camera.
		var running atomic.Pointer[services]
		hooks.OnStart(func() {
			logger.Info("Starting markcam", "version", version.String())
			app, buildErr := newServices(opts, eventBus, logger)
			if buildErr != nil {
				logger.Error("Failed to initialize", "error", buildErr)
				os.Exit(1)
			}
			running.Store(app)
			app.start()

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := app.server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			if app := running.Load(); app != nil {
				app.stop()
			}
		})
	})

	setupRoot(cli.Root())

	// Run the CLI
	cli.Run()
}

// setupRoot names the root command and adds the one-shot subcommands.
func setupRoot(root *cobra.Command) {
	root.Use = "markcam"
	root.Version = version.String()
	root.AddCommand(cmd.CreateSnapshotCmd())
	root.AddCommand(cmd.CreateRecordCmd())
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
