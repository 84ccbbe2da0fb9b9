package ffmpeg

// Container formats produced by BuildRecordCommand.
const (
	ContainerWebM = "webm"
	ContainerMP4  = "mp4"
)

// Params represents all parameters needed to generate an FFmpeg command.
// Each builder reads the fields relevant to its pipeline.
type Params struct {
	// Video input / raw frame geometry
	DevicePath   string  // /dev/video0
	InputFormat  string  // yuyv422, mjpeg, etc.
	Width        int     // frame width in pixels
	Height       int     // frame height in pixels
	FPS          float64 // frames per second
	IsTestSource bool    // Use a lavfi test pattern instead of the device

	// Audio input / raw sample format
	AudioDevice      string // hw:1,0, default
	SampleRate       int    // 48000
	Channels         int    // 2
	NoiseSuppression bool   // afftdn
	AutoGainControl  bool   // dynaudnorm

	// Encoder Configuration
	Container    string // webm, mp4 (record only)
	Encoder      string // libvpx, libx264, h264_vaapi, etc.
	AudioEncoder string // libopus, aac
	Bitrate      string // 2M, 800k
	Preset       string // ultrafast, veryfast
	GOP          int    // Keyframe interval (0 = not set)
	HasAudio     bool   // Record: s16le audio arrives on fd 3

	// Output
	ProgressSocket string // /tmp/markcam-recording.sock
	LogLevel       string // ffmpeg -loglevel, default warning

	// Behavior Options
	Options []OptionType // input flags
}
