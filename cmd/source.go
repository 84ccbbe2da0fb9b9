package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/smazurov/markcam/internal/capture"
	"github.com/smazurov/markcam/internal/ffmpeg"
	"github.com/smazurov/markcam/internal/media"
	"github.com/spf13/pflag"
)

// Camera sources.
const (
	SourceV4L2    = "v4l2"
	SourceLavfi   = "lavfi"
	SourcePattern = "pattern"
)

// ContainerMJPEG records concatenated JPEG frames without ffmpeg.
const ContainerMJPEG = "mjpeg"

// SourceOptions selects the camera and microphone feeding a session.
type SourceOptions struct {
	Source       string
	FrontDevice  string
	BackDevice   string
	AudioDevice  string
	InputFormat  string
	Width        int
	Height       int
	FPS          float64
	SampleRate   int
	Channels     int
	InputOptions []string
	ProgressDir  string
}

// BindSourceFlags registers the source flags on fs.
func BindSourceFlags(fs *pflag.FlagSet, o *SourceOptions) {
	fs.StringVar(&o.Source, "source", SourceV4L2, "Camera source: v4l2, lavfi or pattern")
	fs.StringVar(&o.FrontDevice, "front-device", "/dev/video0", "Device used for facingMode user")
	fs.StringVar(&o.BackDevice, "back-device", "/dev/video0", "Device used for facingMode environment")
	fs.StringVar(&o.AudioDevice, "audio-device", "default", "ALSA capture device")
	fs.StringVar(&o.InputFormat, "input-format", "", "v4l2 input format, e.g. mjpeg")
	fs.IntVar(&o.Width, "width", 1280, "Capture width")
	fs.IntVar(&o.Height, "height", 720, "Capture height")
	fs.Float64Var(&o.FPS, "fps", 30, "Capture frame rate")
	fs.IntVar(&o.SampleRate, "sample-rate", 48000, "Audio sample rate")
	fs.IntVar(&o.Channels, "channels", 2, "Audio channels")
	fs.StringSliceVar(&o.InputOptions, "input-option", nil, "ffmpeg input option keys (genpts, low_latency, ...)")
}

// NewAcquirer builds the acquirer for o. ffmpeg sources check that the binary
// can be executed first.
func NewAcquirer(ctx context.Context, o SourceOptions, logger *slog.Logger) (media.Acquirer, error) {
	switch o.Source {
	case SourcePattern:
		a := media.NewTestPatternAcquirer()
		if o.Width > 0 && o.Height > 0 {
			a.Width, a.Height = o.Width, o.Height
		}
		if o.FPS > 0 {
			a.FrameRate = o.FPS
		}
		if o.SampleRate > 0 {
			a.SampleRate = o.SampleRate
		}
		if o.Channels > 0 {
			a.Channels = o.Channels
		}
		return a, nil
	case SourceV4L2, SourceLavfi, "":
	default:
		return nil, fmt.Errorf("unknown source %q", o.Source)
	}

	inputOpts, err := ffmpeg.ParseOptions(o.InputOptions)
	if err != nil {
		return nil, err
	}
	if err := capture.Available(ctx); err != nil {
		return nil, err
	}
	return capture.NewAcquirer(capture.Config{
		FrontDevice: o.FrontDevice,
		BackDevice:  o.BackDevice,
		AudioDevice: o.AudioDevice,
		InputFormat: o.InputFormat,
		Width:       o.Width,
		Height:      o.Height,
		FPS:         o.FPS,
		SampleRate:  o.SampleRate,
		Channels:    o.Channels,
		Options:     inputOpts,
		TestSource:  o.Source == SourceLavfi,
		ProgressDir: o.ProgressDir,
	}, logger), nil
}

// RecordOptions selects the recording encoder.
type RecordOptions struct {
	Container    string
	Encoder      string
	Bitrate      string
	MJPEGQuality int
	Finalize     time.Duration
}

// BindRecordFlags registers the recorder flags on fs.
func BindRecordFlags(fs *pflag.FlagSet, o *RecordOptions) {
	fs.StringVar(&o.Container, "container", ffmpeg.ContainerWebM, "Recording container: webm, mp4 or mjpeg")
	fs.StringVar(&o.Encoder, "encoder", "", "ffmpeg video encoder, empty picks the container default")
	fs.StringVar(&o.Bitrate, "bitrate", "2M", "Recording video bitrate")
	fs.IntVar(&o.MJPEGQuality, "mjpeg-quality", 80, "JPEG quality of mjpeg recordings")
	fs.DurationVar(&o.Finalize, "finalize-timeout", 10*time.Second, "Time allowed for the encoder to flush")
}

// NewRecorderFactory builds the recorder factory for o.
func NewRecorderFactory(o RecordOptions, progressDir string, logger *slog.Logger) (media.RecorderFactory, error) {
	switch o.Container {
	case ContainerMJPEG:
		return media.NewMJPEGRecorderFactory(o.MJPEGQuality), nil
	case ffmpeg.ContainerWebM, ffmpeg.ContainerMP4, "":
		return capture.NewRecorderFactory(capture.RecorderConfig{
			Container:       o.Container,
			Encoder:         o.Encoder,
			Bitrate:         o.Bitrate,
			ProgressDir:     progressDir,
			FinalizeTimeout: o.Finalize,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown container %q", o.Container)
	}
}
