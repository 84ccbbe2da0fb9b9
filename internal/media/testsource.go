package media

import (
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"math"
	"time"
)

var testBars = []color.RGBA{
	{192, 192, 192, 255},
	{192, 192, 0, 255},
	{0, 192, 192, 255},
	{0, 192, 0, 255},
	{192, 0, 192, 255},
	{192, 0, 0, 255},
	{0, 0, 192, 255},
}

// TestPatternAcquirer produces a synthetic stream of scrolling color bars and,
// when audio is requested, a 440 Hz tone.
type TestPatternAcquirer struct {
	Width      int
	Height     int
	FrameRate  float64
	SampleRate int
	Channels   int
	// Err, when set, is returned from Acquire instead of a stream.
	Err error
}

// NewTestPatternAcquirer returns an acquirer with 640x480@30 video and 48 kHz stereo audio.
func NewTestPatternAcquirer() *TestPatternAcquirer {
	return &TestPatternAcquirer{Width: 640, Height: 480, FrameRate: 30, SampleRate: 48000, Channels: 2}
}

// Acquire implements Acquirer.
func (a *TestPatternAcquirer) Acquire(ctx context.Context, c Constraints) (*Stream, error) {
	if a.Err != nil {
		return nil, a.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, NewMediaAccessError(ReasonAborted, "acquisition cancelled", err)
	}

	fps := a.FrameRate
	if fps <= 0 {
		fps = 30
	}

	videoCtx, stopVideo := context.WithCancel(context.Background())
	video := NewTrack(KindVideo, "test pattern ("+string(c.FacingMode)+")", TrackSettings{
		Width: a.Width, Height: a.Height, FrameRate: fps,
	}, stopVideo)
	stream := NewStream(video)
	go a.runVideo(videoCtx, video, fps)

	if c.Audio != nil {
		audioCtx, stopAudio := context.WithCancel(context.Background())
		audio := NewTrack(KindAudio, "test tone", TrackSettings{
			SampleRate: a.SampleRate, Channels: a.Channels,
		}, stopAudio)
		stream.AddTrack(audio)
		go a.runAudio(audioCtx, audio)
	}

	return stream, nil
}

func (a *TestPatternAcquirer) runVideo(ctx context.Context, track *Track, fps float64) {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / fps))
	defer ticker.Stop()

	offset := 0
	for {
		img := image.NewRGBA(image.Rect(0, 0, a.Width, a.Height))
		paintTestPattern(img, offset)
		if !track.Write(Sample{Image: img}) {
			return
		}
		offset += 4

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func paintTestPattern(img *image.RGBA, offset int) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w == 0 {
		return
	}
	barW := max(w/len(testBars), 1)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			c := testBars[((x+offset)/barW)%len(testBars)]
			i := x * 4
			row[i], row[i+1], row[i+2], row[i+3] = c.R, c.G, c.B, c.A
		}
	}
}

// runAudio writes 20ms s16le chunks.
func (a *TestPatternAcquirer) runAudio(ctx context.Context, track *Track) {
	const chunk = 20 * time.Millisecond
	rate := a.SampleRate
	if rate <= 0 {
		rate = 48000
	}
	channels := max(a.Channels, 1)
	samples := rate * int(chunk/time.Millisecond) / 1000

	ticker := time.NewTicker(chunk)
	defer ticker.Stop()

	var n int
	for {
		buf := make([]byte, samples*channels*2)
		for i := 0; i < samples; i++ {
			v := int16(math.Sin(2*math.Pi*440*float64(n)/float64(rate)) * 0.2 * math.MaxInt16)
			for ch := 0; ch < channels; ch++ {
				binary.LittleEndian.PutUint16(buf[(i*channels+ch)*2:], uint16(v))
			}
			n++
		}
		if !track.Write(Sample{Data: buf}) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
