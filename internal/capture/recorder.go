package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/markcam/internal/ffmpeg"
	"github.com/smazurov/markcam/internal/logging"
	"github.com/smazurov/markcam/internal/media"
	"github.com/smazurov/markcam/internal/metrics/collectors"
	"github.com/smazurov/markcam/internal/process"
)

// RecorderConfig configures the ffmpeg recording encoder.
type RecorderConfig struct {
	Container   string // webm or mp4
	Encoder     string // empty picks the container default
	Bitrate     string
	ProgressDir string
	// FinalizeTimeout bounds how long ffmpeg may take to flush after its inputs closed.
	FinalizeTimeout time.Duration
}

// MimeTypeFor returns the MIME type produced for a container.
func MimeTypeFor(container string) string {
	if container == ffmpeg.ContainerMP4 {
		return media.MimeMP4
	}
	return media.MimeWebM
}

// NewRecorderFactory returns a media.RecorderFactory producing ffmpeg encoders.
// The composited video track is piped in as raw rgba; an audio track, when
// present, is muxed in from fd 3.
func NewRecorderFactory(cfg RecorderConfig, logger *slog.Logger) media.RecorderFactory {
	if logger == nil {
		logger = logging.GetLogger("recorder")
	}
	if cfg.Container == "" {
		cfg.Container = ffmpeg.ContainerWebM
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = 10 * time.Second
	}

	return func(s *media.Stream) (media.ChunkRecorder, error) {
		video := s.VideoTracks()
		if len(video) == 0 {
			return nil, errors.New("stream has no video track")
		}
		vs := video[0].Settings()

		r := &Recorder{
			cfg:    cfg,
			logger: logger,
			video:  video[0],
			build:  ffmpeg.BuildRecordCommand,
			params: ffmpeg.Params{
				Width:     vs.Width,
				Height:    vs.Height,
				FPS:       vs.FrameRate,
				Container: cfg.Container,
				Encoder:   cfg.Encoder,
				Bitrate:   cfg.Bitrate,
				// Frames arrive at the compositor's pace, not a fixed rate.
				Options: []ffmpeg.OptionType{ffmpeg.OptionWallclockTimestamp},
			},
		}
		if audio := s.AudioTracks(); len(audio) > 0 {
			as := audio[0].Settings()
			r.audio = audio[0]
			r.params.HasAudio = true
			r.params.SampleRate = as.SampleRate
			r.params.Channels = as.Channels
		}

		// Fail at bind time on invalid settings rather than on start.
		if _, err := ffmpeg.BuildRecordCommand(&r.params); err != nil {
			return nil, err
		}
		return r, nil
	}
}

// Recorder encodes a stream with an ffmpeg subprocess and delivers the
// container bytes as they are produced.
type Recorder struct {
	cfg    RecorderConfig
	logger *slog.Logger
	video  *media.Track
	audio  *media.Track
	params ffmpeg.Params
	build  func(*ffmpeg.Params) (string, error)

	mu        sync.Mutex
	proc      *process.Process
	collector *collectors.FFmpegCollector
	cancels   []func()
	readDone  chan struct{}
}

// MimeType implements media.ChunkRecorder.
func (r *Recorder) MimeType() string {
	return MimeTypeFor(r.params.Container)
}

// Start implements media.ChunkRecorder.
func (r *Recorder) Start(ondata func([]byte)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proc != nil {
		return errors.New("recorder already started")
	}

	r.collector = startCollector(r.cfg.ProgressDir, "recording", r.logger)
	params := r.params
	if r.collector != nil {
		params.ProgressSocket = r.collector.SocketPath()
	}
	command, err := r.build(&params)
	if err != nil {
		stopCollector(r.collector)
		return err
	}

	opts := []process.Option{
		process.WithStdin(),
		process.WithStdout(),
		process.WithLogParser(logging.GetLogger("ffmpeg").With("pipeline", "recording"), ffmpeg.ParseLogLevel),
		process.WithGracefulTimeout(r.cfg.FinalizeTimeout),
	}
	if r.audio != nil {
		opts = append(opts, process.WithExtraInputs(1))
	}
	proc := process.New("recording", command, r.logger, opts...)
	if err := proc.Start(context.Background()); err != nil {
		stopCollector(r.collector)
		return fmt.Errorf("failed to start encoder: %w", err)
	}
	r.proc = proc

	frames, cancelVideo := r.video.Subscribe(8)
	r.cancels = append(r.cancels, cancelVideo)
	go r.writeVideo(frames, proc.Stdin())

	if r.audio != nil {
		chunks, cancelAudio := r.audio.Subscribe(32)
		r.cancels = append(r.cancels, cancelAudio)
		go r.writeAudio(chunks, proc.ExtraInput(0))
	}

	r.readDone = make(chan struct{})
	go r.readOutput(proc.Stdout(), ondata)

	r.logger.Info("Recording encoder started", "container", r.params.Container, "audio", r.audio != nil)
	return nil
}

// Stop implements media.ChunkRecorder. Closing the inputs lets ffmpeg write
// the trailer; Stop returns after the last chunk was delivered.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	proc, cancels, readDone := r.proc, r.cancels, r.readDone
	r.cancels = nil
	r.mu.Unlock()
	if proc == nil {
		return errors.New("recorder not started")
	}
	defer stopCollector(r.collector)

	for _, cancel := range cancels {
		cancel()
	}

	select {
	case <-readDone:
	case <-ctx.Done():
		proc.Stop()
		return ctx.Err()
	}

	if err := proc.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			proc.Stop()
		}
		return fmt.Errorf("encoder failed: %w", err)
	}
	return nil
}

func (r *Recorder) writeVideo(frames <-chan media.Sample, stdin io.WriteCloser) {
	defer stdin.Close()
	w, h := r.params.Width, r.params.Height
	for sample := range frames {
		if sample.Image == nil {
			continue
		}
		if err := WriteFrame(stdin, sample.Image, w, h); err != nil {
			r.logger.Warn("Encoder stopped accepting frames", "error", err)
			return
		}
	}
}

func (r *Recorder) writeAudio(chunks <-chan media.Sample, pipe io.WriteCloser) {
	defer pipe.Close()
	for sample := range chunks {
		if len(sample.Data) == 0 {
			continue
		}
		if _, err := pipe.Write(sample.Data); err != nil {
			r.logger.Warn("Encoder stopped accepting audio", "error", err)
			return
		}
	}
}

func (r *Recorder) readOutput(stdout io.ReadCloser, ondata func([]byte)) {
	defer close(r.readDone)
	defer stdout.Close()

	buf := make([]byte, 64*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			ondata(chunk)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.logger.Warn("Encoder output read failed", "error", err)
			}
			return
		}
	}
}

// WriteFrame writes img as packed rgba. Frames of the wrong size are skipped.
func WriteFrame(w io.Writer, img *image.RGBA, width, height int) error {
	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		return nil
	}
	rowLen := width * 4
	if img.Stride == rowLen {
		_, err := w.Write(img.Pix[img.PixOffset(b.Min.X, b.Min.Y):][:rowLen*height])
		return err
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		if _, err := w.Write(img.Pix[off : off+rowLen]); err != nil {
			return err
		}
	}
	return nil
}
