// Package metrics provides Prometheus metrics for the compositing session and
// the ffmpeg pipelines feeding recordings and previews.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pipelineFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "markcam",
		Subsystem: "ffmpeg",
		Name:      "fps",
		Help:      "Current FFmpeg encoding FPS",
	}, []string{"pipeline"})

	pipelineDroppedFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "markcam",
		Subsystem: "ffmpeg",
		Name:      "dropped_frames_total",
		Help:      "Total dropped frames",
	}, []string{"pipeline"})

	pipelineDuplicateFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "markcam",
		Subsystem: "ffmpeg",
		Name:      "duplicate_frames_total",
		Help:      "Total duplicate frames",
	}, []string{"pipeline"})

	pipelineSpeed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "markcam",
		Subsystem: "ffmpeg",
		Name:      "processing_speed",
		Help:      "FFmpeg processing speed multiplier",
	}, []string{"pipeline"})

	// Local cache for SSE exporter access.
	pipelineCache   = make(map[string]*PipelineMetrics)
	pipelineCacheMu sync.RWMutex
)

// PipelineMetrics holds current progress values for one ffmpeg pipeline.
type PipelineMetrics struct {
	FPS             float64
	DroppedFrames   float64
	DuplicateFrames float64
	Speed           float64
}

// SetPipelineFPS sets the current FPS for a pipeline.
func SetPipelineFPS(pipelineID string, fps float64) {
	pipelineFPS.WithLabelValues(pipelineID).Set(fps)
	updatePipeline(pipelineID, func(m *PipelineMetrics) { m.FPS = fps })
}

// SetPipelineDroppedFrames sets the dropped frames count for a pipeline.
func SetPipelineDroppedFrames(pipelineID string, count float64) {
	pipelineDroppedFrames.WithLabelValues(pipelineID).Set(count)
	updatePipeline(pipelineID, func(m *PipelineMetrics) { m.DroppedFrames = count })
}

// SetPipelineDuplicateFrames sets the duplicate frames count for a pipeline.
func SetPipelineDuplicateFrames(pipelineID string, count float64) {
	pipelineDuplicateFrames.WithLabelValues(pipelineID).Set(count)
	updatePipeline(pipelineID, func(m *PipelineMetrics) { m.DuplicateFrames = count })
}

// SetPipelineSpeed sets the processing speed for a pipeline.
func SetPipelineSpeed(pipelineID string, speed float64) {
	pipelineSpeed.WithLabelValues(pipelineID).Set(speed)
	updatePipeline(pipelineID, func(m *PipelineMetrics) { m.Speed = speed })
}

// DeletePipelineMetrics removes all metrics for a pipeline.
func DeletePipelineMetrics(pipelineID string) {
	pipelineFPS.DeleteLabelValues(pipelineID)
	pipelineDroppedFrames.DeleteLabelValues(pipelineID)
	pipelineDuplicateFrames.DeleteLabelValues(pipelineID)
	pipelineSpeed.DeleteLabelValues(pipelineID)

	pipelineCacheMu.Lock()
	delete(pipelineCache, pipelineID)
	pipelineCacheMu.Unlock()
}

// GetPipelineMetrics returns current metric values for a pipeline.
func GetPipelineMetrics(pipelineID string) *PipelineMetrics {
	pipelineCacheMu.RLock()
	defer pipelineCacheMu.RUnlock()
	if m, ok := pipelineCache[pipelineID]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// GetAllPipelineMetrics returns metrics for all running pipelines.
func GetAllPipelineMetrics() map[string]*PipelineMetrics {
	pipelineCacheMu.RLock()
	defer pipelineCacheMu.RUnlock()
	result := make(map[string]*PipelineMetrics, len(pipelineCache))
	for id, m := range pipelineCache {
		dup := *m
		result[id] = &dup
	}
	return result
}

func updatePipeline(pipelineID string, update func(*PipelineMetrics)) {
	pipelineCacheMu.Lock()
	defer pipelineCacheMu.Unlock()
	m, ok := pipelineCache[pipelineID]
	if !ok {
		m = &PipelineMetrics{}
		pipelineCache[pipelineID] = m
	}
	update(m)
}
