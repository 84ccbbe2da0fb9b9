package streaming

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AlexxIT/go2rtc/pkg/core"
	pion "github.com/pion/webrtc/v4"
)

// WebRTCConfig holds configuration for WebRTC connections.
type WebRTCConfig struct {
	// ICEServers for STUN/TURN (empty for LAN-only)
	ICEServers []pion.ICEServer
}

// WebRTCManager manages WebRTC peer connections.
type WebRTCManager struct {
	hub    *Hub
	config WebRTCConfig
	peers  map[string]*pion.PeerConnection
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewWebRTCManager creates a new WebRTC manager. Peers are closed when the
// hub's stream ends so browsers reconnect to the next one.
func NewWebRTCManager(hub *Hub, config WebRTCConfig, logger *slog.Logger) *WebRTCManager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &WebRTCManager{
		hub:    hub,
		config: config,
		peers:  make(map[string]*pion.PeerConnection),
		logger: logger,
	}
	hub.SetOnProducerReplaced(func(string) { m.CloseAll() })
	return m
}

// CreateConsumer takes an SDP offer from the browser and returns the SDP
// answer with all ICE candidates included.
func (m *WebRTCManager) CreateConsumer(ctx context.Context, offer string) (string, error) {
	streamID := m.hub.StreamID()
	api, err := NewWebRTCAPI(streamID)
	if err != nil {
		return "", err
	}

	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers: m.config.ICEServers,
	})
	if err != nil {
		return "", err
	}

	sender, err := pc.AddTrack(m.hub.Track())
	if err != nil {
		_ = pc.Close()
		return "", err
	}
	// Reading RTCP drives the interceptors that answer NACKs and count PLIs.
	go func() {
		for {
			if _, _, err := sender.ReadRTCP(); err != nil {
				return
			}
		}
	}()

	if err := pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: offer}); err != nil {
		_ = pc.Close()
		return "", fmt.Errorf("invalid offer: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return "", err
	}
	gathered := pion.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return "", err
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		_ = pc.Close()
		return "", ctx.Err()
	}

	peerID := core.RandString(8, 10)
	if err := m.hub.AddConsumer(peerID); err != nil {
		_ = pc.Close()
		return "", err
	}

	m.mu.Lock()
	m.peers[peerID] = pc
	peerCount := len(m.peers)
	m.mu.Unlock()

	SetActivePeers(peerCount)
	m.logger.Debug("WebRTC consumer created", "stream_id", streamID, "peer_id", peerID, "total_peers", peerCount)

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		switch state {
		case pion.PeerConnectionStateDisconnected,
			pion.PeerConnectionStateFailed,
			pion.PeerConnectionStateClosed:
			m.removePeer(peerID, state)
		}
	})

	return pc.LocalDescription().SDP, nil
}

func (m *WebRTCManager) removePeer(peerID string, state pion.PeerConnectionState) {
	m.mu.Lock()
	pc, ok := m.peers[peerID]
	delete(m.peers, peerID)
	remainingPeers := len(m.peers)
	m.mu.Unlock()
	if !ok {
		return
	}

	_ = pc.Close()
	m.hub.RemoveConsumer(peerID)
	SetActivePeers(remainingPeers)
	m.logger.Debug("WebRTC consumer disconnected", "peer_id", peerID, "state", state.String(), "remaining_peers", remainingPeers)
}

// CloseAll closes every peer connection.
func (m *WebRTCManager) CloseAll() {
	m.mu.Lock()
	toClose := m.peers
	m.peers = make(map[string]*pion.PeerConnection)
	m.mu.Unlock()

	if len(toClose) > 0 {
		m.logger.Info("Closing WebRTC consumers", "stream_id", m.hub.StreamID(), "peer_count", len(toClose))
	}
	for id, pc := range toClose {
		_ = pc.Close()
		m.hub.RemoveConsumer(id)
	}
	SetActivePeers(0)
}

// Stop closes all peer connections and the preview encoder.
func (m *WebRTCManager) Stop() {
	m.CloseAll()
	m.hub.Stop()
}

// PeerCount returns the number of active WebRTC peers.
func (m *WebRTCManager) PeerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}
