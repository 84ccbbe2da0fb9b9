package streaming

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const streamLabel = "stream_id"

func previewCounter(subsystem, name, help string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "markcam",
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, []string{streamLabel})
}

// Preview delivery counters, labelled by stream. The stream of a session is
// its session ID, so each restart of the camera starts a new series.
var (
	webrtcStreamPackets = previewCounter("webrtc", "stream_packets_total", "RTP packets sent to preview peers")
	webrtcStreamBytes   = previewCounter("webrtc", "stream_bytes_total", "RTP payload bytes sent to preview peers")
	webrtcKeyframes     = previewCounter("webrtc", "keyframes_total", "Keyframes sent to preview peers")
	webrtcRTCPPackets   = previewCounter("webrtc", "rtcp_packets_total", "RTCP packets received from preview peers")
	webrtcStreamNACKs   = previewCounter("webrtc", "stream_nacks_total", "Packets requested again by preview peers")
	webrtcStreamPLIs    = previewCounter("webrtc", "stream_plis_total", "Picture loss indications from preview peers")
	webrtcStreamFIRs    = previewCounter("webrtc", "stream_firs_total", "Full intra requests from preview peers")

	webrtcActivePeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "markcam",
		Subsystem: "webrtc",
		Name:      "active_peers",
		Help:      "Connected WebRTC preview peers",
	})
	mjpegActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "markcam",
		Subsystem: "mjpeg",
		Name:      "active_clients",
		Help:      "Connected MJPEG preview clients",
	})
	mjpegFramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "markcam",
		Subsystem: "mjpeg",
		Name:      "frames_sent_total",
		Help:      "JPEG frames written to MJPEG preview clients",
	})
)

// IncrementPacketsSent records one RTP packet of size bytes.
func IncrementPacketsSent(streamID string, size int) {
	webrtcStreamPackets.WithLabelValues(streamID).Inc()
	webrtcStreamBytes.WithLabelValues(streamID).Add(float64(size))
}

// IncrementKeyframes records a keyframe sent on streamID.
func IncrementKeyframes(streamID string) {
	webrtcKeyframes.WithLabelValues(streamID).Inc()
}

// SetActivePeers sets the number of connected WebRTC peers.
func SetActivePeers(count int) {
	webrtcActivePeers.Set(float64(count))
}

// AddMJPEGClient adjusts the number of connected MJPEG clients by delta.
func AddMJPEGClient(delta int) {
	mjpegActiveClients.Add(float64(delta))
}

// IncrementMJPEGFrames records a frame written to an MJPEG client.
func IncrementMJPEGFrames() {
	mjpegFramesSent.Inc()
}
