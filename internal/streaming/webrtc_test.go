package streaming

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	pion "github.com/pion/webrtc/v4"
)

// browserOffer creates a receive-only video offer the way a browser would.
func browserOffer(t *testing.T) string {
	t.Helper()
	pc, err := pion.NewPeerConnection(pion.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	if _, err := pc.AddTransceiverFromKind(pion.RTPCodecTypeVideo, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		t.Fatal(err)
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatal(err)
	}
	gathered := pion.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatal(err)
	}
	<-gathered
	return pc.LocalDescription().SDP
}

func TestWebRTCManagerCreateConsumer(t *testing.T) {
	source, _ := newVideoSource(16, 16)
	hub := newShellHub(t, "webrtc-consumer", source, "sleep 10")
	m := NewWebRTCManager(hub, WebRTCConfig{}, testLogger())
	defer m.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	answer, err := m.CreateConsumer(ctx, browserOffer(t))
	if err != nil {
		t.Fatalf("CreateConsumer() error = %v", err)
	}
	if !strings.Contains(answer, "H264") || !strings.Contains(answer, "a=candidate") {
		t.Errorf("answer lacks H264 or candidates:\n%s", answer)
	}
	if m.PeerCount() != 1 || hub.Consumers() != 1 || !hub.EncoderRunning() {
		t.Errorf("peers = %d consumers = %d running = %v", m.PeerCount(), hub.Consumers(), hub.EncoderRunning())
	}

	m.CloseAll()
	if m.PeerCount() != 0 || hub.Consumers() != 0 || hub.EncoderRunning() {
		t.Errorf("after CloseAll peers = %d consumers = %d running = %v", m.PeerCount(), hub.Consumers(), hub.EncoderRunning())
	}
}

func TestWebRTCManagerRejects(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	source, _ := newVideoSource(16, 16)
	m := NewWebRTCManager(newShellHub(t, "webrtc-invalid", source, "sleep 10"), WebRTCConfig{}, testLogger())
	if _, err := m.CreateConsumer(ctx, "not sdp"); err == nil {
		t.Error("CreateConsumer() accepted an invalid offer")
	}
	if m.PeerCount() != 0 {
		t.Errorf("peers = %d after invalid offer", m.PeerCount())
	}

	m = NewWebRTCManager(newShellHub(t, "webrtc-nostream", staticSource{}, "sleep 10"), WebRTCConfig{}, testLogger())
	if _, err := m.CreateConsumer(ctx, browserOffer(t)); !errors.Is(err, ErrStreamNotFound) {
		t.Errorf("CreateConsumer() without stream error = %v", err)
	}
}
