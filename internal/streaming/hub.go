package streaming

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	pion "github.com/pion/webrtc/v4"
	"github.com/smazurov/markcam/internal/ffmpeg"
	"github.com/smazurov/markcam/internal/media"
)

// ErrStreamNotFound is returned when the session has no published stream yet.
var ErrStreamNotFound = errors.New("preview stream not available")

const (
	rtpMTU       = 1200
	h264Clock    = 90000
	previewLabel = "markcam"
)

// StreamSource provides the published stream of the running session.
type StreamSource interface {
	Stream() *media.Stream
}

// Hub shares one preview encoder between all WebRTC consumers. The encoder
// runs while at least one consumer is attached.
type Hub struct {
	streamID string
	source   StreamSource
	cfg      PreviewConfig
	build    commandBuilder
	logger   *slog.Logger
	track    *pion.TrackLocalStaticRTP

	mu                 sync.Mutex
	consumers          map[string]struct{}
	encoder            *previewEncoder
	packetizer         rtp.Packetizer
	samples            uint32
	params             parameterSets
	onProducerReplaced func(streamID string)
}

// NewHub creates a hub for the stream published by source. streamID labels
// metrics and logs.
func NewHub(streamID string, source StreamSource, cfg PreviewConfig, logger *slog.Logger) (*Hub, error) {
	if logger == nil {
		logger = slog.Default()
	}
	track, err := pion.NewTrackLocalStaticRTP(pion.RTPCodecCapability{
		MimeType:    pion.MimeTypeH264,
		ClockRate:   h264Clock,
		SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
	}, "video", previewLabel)
	if err != nil {
		return nil, err
	}
	return &Hub{
		streamID:  streamID,
		source:    source,
		cfg:       cfg,
		build:     ffmpeg.BuildPreviewCommand,
		logger:    logger,
		track:     track,
		consumers: make(map[string]struct{}),
	}, nil
}

// SetOnProducerReplaced sets the callback invoked when the encoder stopped
// because its stream ended. Consumers are expected to reconnect.
func (h *Hub) SetOnProducerReplaced(callback func(streamID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onProducerReplaced = callback
}

// Track returns the local track shared by every peer.
func (h *Hub) Track() *pion.TrackLocalStaticRTP {
	return h.track
}

// StreamID returns the label the hub was created with.
func (h *Hub) StreamID() string {
	return h.streamID
}

// AddConsumer registers a consumer and starts the encoder for the first one.
func (h *Hub) AddConsumer(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.encoder == nil {
		if err := h.startEncoder(); err != nil {
			return err
		}
	}
	h.consumers[id] = struct{}{}
	h.logger.Debug("Preview consumer added", "stream_id", h.streamID, "consumer", id, "consumers", len(h.consumers))
	return nil
}

// RemoveConsumer unregisters a consumer and stops the encoder after the last one.
func (h *Hub) RemoveConsumer(id string) {
	h.mu.Lock()
	if _, ok := h.consumers[id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.consumers, id)
	var enc *previewEncoder
	if len(h.consumers) == 0 {
		enc, h.encoder = h.encoder, nil
	}
	h.mu.Unlock()

	if enc != nil {
		enc.Stop()
		h.logger.Info("Preview encoder stopped", "stream_id", h.streamID)
	}
}

// Consumers returns the number of attached consumers.
func (h *Hub) Consumers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.consumers)
}

// EncoderRunning reports whether the preview encoder is active.
func (h *Hub) EncoderRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.encoder != nil
}

// startEncoder must be called with h.mu held.
func (h *Hub) startEncoder() error {
	stream := h.source.Stream()
	if stream == nil {
		return ErrStreamNotFound
	}
	video := stream.VideoTracks()
	if len(video) == 0 || video[0].Ended() {
		return ErrStreamNotFound
	}

	fps := video[0].Settings().FrameRate
	if fps <= 0 {
		fps = ffmpeg.DefaultFPS
	}
	h.samples = uint32(h264Clock / fps)
	h.packetizer = rtp.NewPacketizer(rtpMTU, 0, 0, &codecs.H264Payloader{}, rtp.NewRandomSequencer(), h264Clock)
	h.params = parameterSets{}

	enc, err := startPreviewEncoder(video[0], h.cfg, h.build, h.logger, h.writeAccessUnit)
	if err != nil {
		return err
	}
	h.encoder = enc
	go h.watchEncoder(enc)
	return nil
}

// watchEncoder detaches all consumers when the encoder ended on its own.
func (h *Hub) watchEncoder(enc *previewEncoder) {
	<-enc.Done()

	h.mu.Lock()
	if h.encoder != enc {
		h.mu.Unlock()
		return
	}
	h.encoder = nil
	clear(h.consumers)
	callback := h.onProducerReplaced
	h.mu.Unlock()

	enc.Stop()
	h.logger.Info("Preview stream ended", "stream_id", h.streamID)
	if callback != nil {
		go callback(h.streamID)
	}
}

// writeAccessUnit packetizes one encoded frame onto the shared track.
func (h *Hub) writeAccessUnit(au [][]byte) {
	h.mu.Lock()
	au = h.params.apply(au)
	packets := h.packetizer.Packetize(annexB(au), h.samples)
	h.mu.Unlock()

	if isKeyframe(au) {
		IncrementKeyframes(h.streamID)
	}
	for _, packet := range packets {
		size := packet.MarshalSize()
		IncrementPacketsSent(h.streamID, size)
		if err := h.track.WriteRTP(packet); err != nil {
			h.logger.Debug("RTP write failed", "stream_id", h.streamID, "error", err)
			return
		}
	}
}

// Stop stops the encoder and forgets all consumers.
func (h *Hub) Stop() {
	h.mu.Lock()
	enc := h.encoder
	h.encoder = nil
	clear(h.consumers)
	h.mu.Unlock()

	if enc != nil {
		enc.Stop()
	}
	h.logger.Info("Hub stopped", "stream_id", h.streamID)
}
