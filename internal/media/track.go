package media

import (
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// TrackKind is the media kind carried by a track.
type TrackKind string

// Track kinds.
const (
	KindVideo TrackKind = "video"
	KindAudio TrackKind = "audio"
)

// Sample is one unit of media flowing through a track.
// Video samples carry Image, audio samples carry interleaved s16le PCM in Data.
type Sample struct {
	Seq       uint64
	Timestamp time.Time
	Image     *image.RGBA
	Data      []byte
}

// TrackSettings describes the negotiated format of a track.
type TrackSettings struct {
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	FrameRate  float64 `json:"frame_rate,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Channels   int     `json:"channels,omitempty"`
}

// Track is a single media track. Producers Write samples, consumers Subscribe.
// Slow consumers lose samples instead of blocking the producer.
type Track struct {
	id       string
	kind     TrackKind
	label    string
	settings TrackSettings

	mu      sync.RWMutex
	subs    map[uint64]chan Sample
	nextSub uint64
	ended   bool
	onStop  func()

	seq     atomic.Uint64
	dropped atomic.Uint64
}

// NewTrack creates a live track. onStop is called once when the track is stopped
// and should release the producer.
func NewTrack(kind TrackKind, label string, settings TrackSettings, onStop func()) *Track {
	return &Track{
		id:       uuid.NewString(),
		kind:     kind,
		label:    label,
		settings: settings,
		subs:     make(map[uint64]chan Sample),
		onStop:   onStop,
	}
}

// ID returns the track identifier.
func (t *Track) ID() string { return t.id }

// Kind returns the track kind.
func (t *Track) Kind() TrackKind { return t.kind }

// Label returns the human readable track label.
func (t *Track) Label() string { return t.label }

// Settings returns the track settings.
func (t *Track) Settings() TrackSettings { return t.settings }

// Dropped returns the number of samples dropped for full subscribers.
func (t *Track) Dropped() uint64 { return t.dropped.Load() }

// Write delivers a sample to every subscriber. Returns false once the track ended.
func (t *Track) Write(s Sample) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.ended {
		return false
	}

	s.Seq = t.seq.Add(1)
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}

	for _, ch := range t.subs {
		select {
		case ch <- s:
		default:
			t.dropped.Add(1)
		}
	}
	return true
}

// Subscribe registers a consumer. The channel is closed when the track stops
// or the returned cancel function is called.
func (t *Track) Subscribe(buffer int) (<-chan Sample, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Sample, buffer)

	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	t.mu.Unlock()

	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if sub, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(sub)
		}
	}
}

// Stop ends the track. Safe to call more than once.
func (t *Track) Stop() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
	onStop := t.onStop
	t.mu.Unlock()

	if onStop != nil {
		onStop()
	}
}

// Ended reports whether the track was stopped.
func (t *Track) Ended() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ended
}

// Stream is an ordered set of tracks.
type Stream struct {
	id     string
	mu     sync.RWMutex
	tracks []*Track
}

// NewStream creates a stream holding the given tracks.
func NewStream(tracks ...*Track) *Stream {
	return &Stream{id: uuid.NewString(), tracks: tracks}
}

// ID returns the stream identifier.
func (s *Stream) ID() string { return s.id }

// AddTrack appends a track. A track may belong to several streams.
func (s *Stream) AddTrack(t *Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, t)
}

// Tracks returns all tracks in insertion order.
func (s *Stream) Tracks() []*Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// VideoTracks returns the video tracks in insertion order.
func (s *Stream) VideoTracks() []*Track {
	return s.tracksOfKind(KindVideo)
}

// AudioTracks returns the audio tracks in insertion order.
func (s *Stream) AudioTracks() []*Track {
	return s.tracksOfKind(KindAudio)
}

func (s *Stream) tracksOfKind(kind TrackKind) []*Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Track
	for _, t := range s.tracks {
		if t.kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// Stop stops every track of the stream.
func (s *Stream) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
