package ffmpeg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Defaults applied when Params leaves a field empty.
const (
	DefaultFPS        = 30
	DefaultSampleRate = 48000
	DefaultChannels   = 2
	DefaultBitrate    = "2M"
	defaultLogLevel   = "warning"
)

var errNoGeometry = errors.New("width and height are required")

// BuildSourceCommand builds a camera capture command that writes rgba frames
// of exactly Width x Height to stdout.
func BuildSourceCommand(p *Params) (string, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return "", errNoGeometry
	}
	if !p.IsTestSource && p.DevicePath == "" {
		return "", errors.New("device path is required")
	}

	var cmd strings.Builder
	writeHead(&cmd, p, true)

	size := fmt.Sprintf("%dx%d", p.Width, p.Height)
	if p.IsTestSource {
		// -re reads at native frame rate, otherwise lavfi runs as fast as the pipe drains
		cmd.WriteString(" -re -f lavfi")
		cmd.WriteString(" -i testsrc2=size=" + size + ":rate=" + formatFPS(p.FPS))
	} else {
		cmd.WriteString(" -f v4l2")
		applyInputOptions(p.Options, &cmd)
		if p.InputFormat != "" {
			cmd.WriteString(" -input_format " + p.InputFormat)
		}
		cmd.WriteString(" -video_size " + size)
		cmd.WriteString(" -framerate " + formatFPS(p.FPS))
		cmd.WriteString(" -i " + quoteArg(p.DevicePath))
	}

	// The device may round the requested size; scale so every frame has the advertised geometry.
	cmd.WriteString(fmt.Sprintf(" -an -vf scale=%d:%d", p.Width, p.Height))
	cmd.WriteString(" -pix_fmt rgba -f rawvideo pipe:1")
	return cmd.String(), nil
}

// BuildAudioCommand builds a microphone capture command that writes
// interleaved s16le PCM to stdout.
func BuildAudioCommand(p *Params) (string, error) {
	if !p.IsTestSource && p.AudioDevice == "" {
		return "", errors.New("audio device is required")
	}
	rate, channels := sampleRate(p), channelCount(p)

	var cmd strings.Builder
	writeHead(&cmd, p, true)

	if p.IsTestSource {
		cmd.WriteString(" -re -f lavfi")
		cmd.WriteString(fmt.Sprintf(" -i sine=frequency=440:sample_rate=%d", rate))
	} else {
		cmd.WriteString(" -f alsa")
		applyInputOptions(p.Options, &cmd)
		cmd.WriteString(fmt.Sprintf(" -ar %d -ac %d", rate, channels))
		cmd.WriteString(" -i " + quoteArg(p.AudioDevice))
	}

	if filters := audioFilters(p); filters != "" {
		cmd.WriteString(" -af " + filters)
	}
	cmd.WriteString(fmt.Sprintf(" -vn -f s16le -acodec pcm_s16le -ar %d -ac %d pipe:1", rate, channels))
	return cmd.String(), nil
}

// BuildRecordCommand builds an encoder that reads rgba frames from stdin and,
// with HasAudio, s16le PCM from fd 3, writing a streamable container to stdout.
func BuildRecordCommand(p *Params) (string, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return "", errNoGeometry
	}
	container := p.Container
	if container == "" {
		container = ContainerWebM
	}
	if container != ContainerWebM && container != ContainerMP4 {
		return "", fmt.Errorf("unsupported container %q", container)
	}

	var cmd strings.Builder
	writeHead(&cmd, p, false)
	applyInputOptions(p.Options, &cmd)
	writeRawVideoInput(&cmd, p)
	if p.HasAudio {
		applyInputOptions(p.Options, &cmd)
		cmd.WriteString(fmt.Sprintf(" -f s16le -ar %d -ac %d -i pipe:3", sampleRate(p), channelCount(p)))
		cmd.WriteString(" -map 0:v -map 1:a")
	}

	encoder := p.Encoder
	bitrate := p.Bitrate
	if bitrate == "" {
		bitrate = DefaultBitrate
	}

	switch container {
	case ContainerWebM:
		if encoder == "" {
			encoder = "libvpx"
		}
		cmd.WriteString(" -c:v " + encoder)
		if !isHardwareEncoder(encoder) {
			cmd.WriteString(" -deadline realtime -cpu-used 8")
		}
		cmd.WriteString(" -b:v " + bitrate + " -pix_fmt yuv420p")
		if p.HasAudio {
			cmd.WriteString(" -c:a " + orDefault(p.AudioEncoder, "libopus") + " -b:a 96k")
		}
		cmd.WriteString(" -f webm pipe:1")
	case ContainerMP4:
		if encoder == "" {
			encoder = "libx264"
		}
		writeEvenPad(&cmd, p)
		cmd.WriteString(" -c:v " + encoder)
		if !isHardwareEncoder(encoder) {
			cmd.WriteString(" -preset " + orDefault(p.Preset, "veryfast") + " -tune zerolatency")
		}
		cmd.WriteString(" -b:v " + bitrate + " -pix_fmt yuv420p")
		if p.HasAudio {
			cmd.WriteString(" -c:a " + orDefault(p.AudioEncoder, "aac") + " -b:a 128k")
		}
		// A pipe is not seekable, so the moov atom has to come first.
		cmd.WriteString(" -movflags frag_keyframe+empty_moov+default_base_moof -f mp4 pipe:1")
	}
	return cmd.String(), nil
}

// BuildPreviewCommand builds a low latency H.264 encoder that reads rgba frames
// from stdin and writes an Annex-B elementary stream to stdout.
func BuildPreviewCommand(p *Params) (string, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return "", errNoGeometry
	}

	var cmd strings.Builder
	writeHead(&cmd, p, false)
	applyInputOptions(p.Options, &cmd)
	writeRawVideoInput(&cmd, p)

	encoder := orDefault(p.Encoder, "libx264")
	writeEvenPad(&cmd, p)
	cmd.WriteString(" -an -c:v " + encoder)
	if !isHardwareEncoder(encoder) {
		cmd.WriteString(" -preset " + orDefault(p.Preset, "ultrafast") + " -tune zerolatency -profile:v baseline")
	}
	if p.Bitrate != "" {
		cmd.WriteString(" -b:v " + p.Bitrate)
	}

	gop := p.GOP
	if gop <= 0 {
		gop = int(fps(p.FPS))
	}
	cmd.WriteString(fmt.Sprintf(" -g %d -keyint_min %d -bf 0 -sc_threshold 0", gop, gop))
	// Repeat SPS/PPS before every keyframe so late joiners can decode.
	cmd.WriteString(" -pix_fmt yuv420p -bsf:v dump_extra -f h264 pipe:1")
	return cmd.String(), nil
}

func writeHead(cmd *strings.Builder, p *Params, noStdin bool) {
	cmd.WriteString(Base())
	cmd.WriteString(" -loglevel level+" + orDefault(p.LogLevel, defaultLogLevel))
	if noStdin {
		cmd.WriteString(" -nostdin")
	}
	if p.ProgressSocket != "" {
		cmd.WriteString(" -progress unix://" + p.ProgressSocket)
	}
}

// evenPadFilter rounds odd frame sizes up, as H.264 with yuv420p needs even
// width and height.
const evenPadFilter = "pad=ceil(iw/2)*2:ceil(ih/2)*2"

func writeEvenPad(cmd *strings.Builder, p *Params) {
	if p.Width%2 != 0 || p.Height%2 != 0 {
		cmd.WriteString(" -vf " + evenPadFilter)
	}
}

func writeRawVideoInput(cmd *strings.Builder, p *Params) {
	cmd.WriteString(fmt.Sprintf(" -f rawvideo -pix_fmt rgba -video_size %dx%d", p.Width, p.Height))
	cmd.WriteString(" -framerate " + formatFPS(p.FPS) + " -i pipe:0")
}

func audioFilters(p *Params) string {
	var filters []string
	if p.NoiseSuppression {
		filters = append(filters, "afftdn")
	}
	if p.AutoGainControl {
		filters = append(filters, "dynaudnorm")
	}
	return strings.Join(filters, ",")
}

func fps(f float64) float64 {
	if f <= 0 {
		return DefaultFPS
	}
	return f
}

func formatFPS(f float64) string {
	return strconv.FormatFloat(fps(f), 'f', -1, 64)
}

func sampleRate(p *Params) int {
	if p.SampleRate <= 0 {
		return DefaultSampleRate
	}
	return p.SampleRate
}

func channelCount(p *Params) int {
	if p.Channels <= 0 {
		return DefaultChannels
	}
	return p.Channels
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// quoteArg quotes a value for the process command parser when it contains
// spaces, quotes or backslashes.
func quoteArg(s string) string {
	if !strings.ContainsAny(s, " '\"\\") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
