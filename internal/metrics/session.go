package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	compositorFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "markcam",
		Subsystem: "compositor",
		Name:      "frames_total",
		Help:      "Frames composited onto the output surface",
	}, []string{"session_id"})

	compositorFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "markcam",
		Subsystem: "compositor",
		Name:      "fps",
		Help:      "Compositing loop rate over the last second",
	}, []string{"session_id"})

	publishedFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "markcam",
		Subsystem: "publisher",
		Name:      "fps",
		Help:      "Frames emitted on the published stream over the last second",
	}, []string{"session_id"})

	droppedSamples = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "markcam",
		Subsystem: "publisher",
		Name:      "dropped_samples_total",
		Help:      "Samples dropped for slow consumers of the published stream",
	}, []string{"session_id"})

	recordingBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "markcam",
		Subsystem: "recording",
		Name:      "bytes_total",
		Help:      "Recorded chunk bytes across all recordings",
	})

	recordingsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "markcam",
		Subsystem: "recording",
		Name:      "finalized_total",
		Help:      "Finalized recordings by outcome",
	}, []string{"outcome"})

	capturesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "markcam",
		Subsystem: "capture",
		Name:      "stills_total",
		Help:      "Still images captured",
	})

	sessionCache   = make(map[string]*SessionMetrics)
	sessionCacheMu sync.RWMutex
)

// SessionMetrics holds current metric values for a media session.
type SessionMetrics struct {
	CompositorFPS  float64
	Frames         uint64
	PublishedFPS   float64
	DroppedSamples uint64
}

// AddCompositedFrame counts one composited frame.
func AddCompositedFrame(sessionID string) {
	compositorFrames.WithLabelValues(sessionID).Inc()
	updateSession(sessionID, func(m *SessionMetrics) { m.Frames++ })
}

// SetCompositorFPS sets the compositing loop rate.
func SetCompositorFPS(sessionID string, fps float64) {
	compositorFPS.WithLabelValues(sessionID).Set(fps)
	updateSession(sessionID, func(m *SessionMetrics) { m.CompositorFPS = fps })
}

// SetPublishedFPS sets the published stream rate.
func SetPublishedFPS(sessionID string, fps float64) {
	publishedFPS.WithLabelValues(sessionID).Set(fps)
	updateSession(sessionID, func(m *SessionMetrics) { m.PublishedFPS = fps })
}

// SetDroppedSamples sets the dropped sample count of the published stream.
func SetDroppedSamples(sessionID string, count uint64) {
	droppedSamples.WithLabelValues(sessionID).Set(float64(count))
	updateSession(sessionID, func(m *SessionMetrics) { m.DroppedSamples = count })
}

// AddRecordingBytes counts recorded chunk bytes.
func AddRecordingBytes(n int) {
	recordingBytes.Add(float64(n))
}

// IncRecordingsFinalized counts a finished recording. outcome is "saved", "auto_stopped" or "discarded".
func IncRecordingsFinalized(outcome string) {
	recordingsFinalized.WithLabelValues(outcome).Inc()
}

// IncCaptures counts one still capture.
func IncCaptures() {
	capturesTotal.Inc()
}

// DeleteSessionMetrics removes all metrics for a session.
func DeleteSessionMetrics(sessionID string) {
	compositorFrames.DeleteLabelValues(sessionID)
	compositorFPS.DeleteLabelValues(sessionID)
	publishedFPS.DeleteLabelValues(sessionID)
	droppedSamples.DeleteLabelValues(sessionID)

	sessionCacheMu.Lock()
	delete(sessionCache, sessionID)
	sessionCacheMu.Unlock()
}

// GetSessionMetrics returns current metric values for a session.
func GetSessionMetrics(sessionID string) *SessionMetrics {
	sessionCacheMu.RLock()
	defer sessionCacheMu.RUnlock()
	if m, ok := sessionCache[sessionID]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// GetAllSessionMetrics returns metrics for all live sessions.
func GetAllSessionMetrics() map[string]*SessionMetrics {
	sessionCacheMu.RLock()
	defer sessionCacheMu.RUnlock()
	result := make(map[string]*SessionMetrics, len(sessionCache))
	for id, m := range sessionCache {
		dup := *m
		result[id] = &dup
	}
	return result
}

func updateSession(sessionID string, update func(*SessionMetrics)) {
	sessionCacheMu.Lock()
	defer sessionCacheMu.Unlock()
	m, ok := sessionCache[sessionID]
	if !ok {
		m = &SessionMetrics{}
		sessionCache[sessionID] = m
	}
	update(m)
}
