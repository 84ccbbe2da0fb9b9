package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/smazurov/markcam/internal/artifacts"
	"github.com/smazurov/markcam/internal/config"
	"github.com/smazurov/markcam/internal/logging"
	"github.com/smazurov/markcam/internal/media"
	"github.com/spf13/pflag"
)

// runOptions are shared by the one-shot subcommands.
type runOptions struct {
	configFile string
	cameraFile string
	outputDir  string
	logLevel   string
	logJSON    bool
	source     SourceOptions
}

func (o *runOptions) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configFile, "config", "c", "config.toml", "Server config file, only its [logging] table is read")
	fs.StringVar(&o.cameraFile, "camera", "camera.toml", "Camera options file (watermarks, facing mode, audio)")
	fs.StringVarP(&o.outputDir, "output-dir", "o", "artifacts", "Directory artifacts are written to")
	fs.StringVar(&o.logLevel, "log-level", "info", "Logging level (debug, info, warn, error)")
	fs.BoolVar(&o.logJSON, "log-json", false, "Use JSON log format")
	BindSourceFlags(fs, &o.source)
}

// initLogging applies the [logging] table of the config file. Flags given
// on the command line override its global level and format.
func (o *runOptions) initLogging(fs *pflag.FlagSet) {
	cfg := config.LoadLoggingConfig(o.configFile)
	if fs.Changed("log-level") {
		cfg.Level = o.logLevel
	}
	if o.logJSON {
		cfg.Format = "json"
	}
	logging.Initialize(cfg)
}

// startSession builds a session from the camera file and source flags, then
// waits until its first frame is composited. The caller destroys it.
func (o *runOptions) startSession(ctx context.Context, recorder media.RecorderFactory, logger *slog.Logger) (*media.Session, error) {
	cfg, err := config.LoadCamera(o.cameraFile, media.DefaultConfig())
	if err != nil {
		return nil, err
	}
	acquirer, err := NewAcquirer(ctx, o.source, logging.GetLogger("capture"))
	if err != nil {
		return nil, err
	}

	session := media.NewSession(media.SessionOptions{
		Config:   cfg,
		Host:     media.Host{Width: float64(o.source.Width), Height: float64(o.source.Height), DevicePixelRatio: 1},
		Acquirer: acquirer,
		Recorder: recorder,
		Logger:   logging.GetLogger("session"),
	})
	session.OnAssetError(func(err error) {
		logger.Warn("Watermark asset failed", "error", err)
	})

	if err := session.Init(ctx); err != nil {
		_ = session.Destroy()
		return nil, fmt.Errorf("failed to start camera: %w", err)
	}
	if err := session.WaitFirstFrame(ctx); err != nil {
		_ = session.Destroy()
		return nil, fmt.Errorf("no frame from camera: %w", err)
	}
	return session, nil
}

// save writes a to the output directory and returns its path.
func (o *runOptions) save(a *media.Artifact, logger *slog.Logger) (string, error) {
	store, err := artifacts.NewStore(o.outputDir, logger)
	if err != nil {
		return "", err
	}
	info, err := store.Save(a)
	if err != nil {
		return "", err
	}
	return filepath.Join(store.Dir(), info.Name), nil
}
