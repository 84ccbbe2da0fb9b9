package media

import (
	"sync"
	"time"

	"github.com/smazurov/markcam/internal/metrics"
)

// PublishOptions configures the published stream.
type PublishOptions struct {
	FrameRate float64
	Audio     bool
	SessionID string
}

// Publisher samples the compositor surface at a fixed cadence into a video track.
type Publisher struct {
	comp   *Compositor
	stream *Stream
	video  *Track
	stop   chan struct{}
	once   sync.Once
	done   chan struct{}
}

// Publish derives the output stream: a synthetic video track fed from the surface
// plus, when audio is enabled, the first audio track of raw.
func Publish(c *Compositor, raw *Stream, opts PublishOptions) *Publisher {
	fps := opts.FrameRate
	if fps <= 0 {
		fps = 30
	}

	p := &Publisher{
		comp: c,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	b := c.SurfaceBounds()
	p.video = NewTrack(KindVideo, "composited", TrackSettings{
		Width:     b.Dx(),
		Height:    b.Dy(),
		FrameRate: fps,
	}, p.halt)
	p.stream = NewStream(p.video)

	if opts.Audio && raw != nil {
		if audio := raw.AudioTracks(); len(audio) > 0 {
			p.stream.AddTrack(audio[0])
		}
	}

	go p.run(time.Duration(float64(time.Second)/fps), opts.SessionID)
	return p
}

// Stream returns the published stream.
func (p *Publisher) Stream() *Stream { return p.stream }

// Video returns the composited video track.
func (p *Publisher) Video() *Track { return p.video }

func (p *Publisher) halt() {
	p.once.Do(func() { close(p.stop) })
}

// Stop stops the composited track and waits for the sampling goroutine.
// Attached raw tracks are left to their owner.
func (p *Publisher) Stop() {
	p.video.Stop()
	<-p.done
}

func (p *Publisher) run(interval time.Duration, sessionID string) {
	defer close(p.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last uint64
	var emitted int
	window := time.Now()

	for {
		select {
		case <-p.stop:
			return
		case now := <-ticker.C:
			img, n, err := p.comp.SnapshotSince(last)
			if err == nil && img != nil {
				last = n
				if p.video.Write(Sample{Timestamp: now, Image: img}) {
					emitted++
				}
			}

			if sessionID != "" {
				if elapsed := now.Sub(window); elapsed >= time.Second {
					metrics.SetPublishedFPS(sessionID, float64(emitted)/elapsed.Seconds())
					metrics.SetDroppedSamples(sessionID, p.video.Dropped())
					window = now
					emitted = 0
				}
			}
		}
	}
}
