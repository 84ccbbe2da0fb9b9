package streaming

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/smazurov/markcam/internal/capture"
	"github.com/smazurov/markcam/internal/ffmpeg"
	"github.com/smazurov/markcam/internal/logging"
	"github.com/smazurov/markcam/internal/media"
	"github.com/smazurov/markcam/internal/process"
)

// PreviewConfig configures the H.264 encoder feeding WebRTC peers.
type PreviewConfig struct {
	Encoder string // empty selects libx264
	Bitrate string
	GOP     int // keyframe interval in frames, defaults to one second
	Options []ffmpeg.OptionType
}

// previewEncoder pipes the published video track through an ffmpeg H.264
// encoder and hands every access unit to onAccessUnit.
type previewEncoder struct {
	proc   *process.Process
	cancel func()
	done   chan struct{}
	logger *slog.Logger
}

type commandBuilder func(*ffmpeg.Params) (string, error)

func startPreviewEncoder(track *media.Track, cfg PreviewConfig, build commandBuilder, logger *slog.Logger, onAccessUnit func([][]byte)) (*previewEncoder, error) {
	settings := track.Settings()
	options := cfg.Options
	if options == nil {
		options = []ffmpeg.OptionType{ffmpeg.OptionLowLatency}
	}
	params := &ffmpeg.Params{
		Width:   settings.Width,
		Height:  settings.Height,
		FPS:     settings.FrameRate,
		Encoder: cfg.Encoder,
		Bitrate: cfg.Bitrate,
		GOP:     cfg.GOP,
		Options: options,
	}
	command, err := build(params)
	if err != nil {
		return nil, err
	}

	proc := process.New("preview", command, logger,
		process.WithStdin(),
		process.WithStdout(),
		process.WithLogParser(logging.GetLogger("ffmpeg").With("pipeline", "preview"), ffmpeg.ParseLogLevel),
		process.WithGracefulTimeout(2*time.Second),
	)
	if err := proc.Start(context.Background()); err != nil {
		return nil, err
	}

	frames, cancel := track.Subscribe(2)
	e := &previewEncoder{proc: proc, cancel: cancel, done: make(chan struct{}), logger: logger}

	go e.writeFrames(frames, proc.Stdin(), settings.Width, settings.Height)
	go e.readAccessUnits(proc.Stdout(), onAccessUnit)

	logger.Info("Preview encoder started", "width", settings.Width, "height", settings.Height)
	return e, nil
}

func (e *previewEncoder) writeFrames(frames <-chan media.Sample, stdin io.WriteCloser, width, height int) {
	defer stdin.Close()
	for sample := range frames {
		if sample.Image == nil {
			continue
		}
		if err := capture.WriteFrame(stdin, sample.Image, width, height); err != nil {
			e.logger.Debug("Preview encoder stopped accepting frames", "error", err)
			return
		}
	}
}

func (e *previewEncoder) readAccessUnits(stdout io.ReadCloser, onAccessUnit func([][]byte)) {
	defer close(e.done)
	defer stdout.Close()

	reader, err := newAccessUnitReader(stdout)
	if err != nil {
		e.logger.Warn("Preview encoder output unusable", "error", err)
		return
	}
	for {
		au, err := reader.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				e.logger.Debug("Preview encoder output ended", "error", err)
			}
			return
		}
		onAccessUnit(au)
	}
}

// Done is closed when the encoder output ended.
func (e *previewEncoder) Done() <-chan struct{} {
	return e.done
}

// Stop closes the encoder input and waits for the process to exit.
func (e *previewEncoder) Stop() {
	e.cancel()
	e.proc.Stop()
	<-e.done
}
