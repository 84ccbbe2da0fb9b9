package exporters

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/smazurov/markcam/internal/events"
	"github.com/smazurov/markcam/internal/metrics"
)

// EventPublisher interface for publishing events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEExporter exports session and pipeline metrics via Server-Sent Events.
type SSEExporter struct {
	eventBus EventPublisher
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewSSEExporter creates a new SSE exporter.
func NewSSEExporter(eventBus EventPublisher) *SSEExporter {
	return &SSEExporter{
		eventBus: eventBus,
		interval: 1 * time.Second,
	}
}

// Start begins the SSE export loop.
func (s *SSEExporter) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run()
}

// Stop stops the SSE exporter and waits for the goroutine to finish.
func (s *SSEExporter) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *SSEExporter) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.publishMetrics()
		}
	}
}

func (s *SSEExporter) publishMetrics() {
	for sessionID, m := range metrics.GetAllSessionMetrics() {
		s.eventBus.Publish(events.SessionMetricsEvent{
			EventType:      "session_metrics",
			SessionID:      sessionID,
			CompositorFPS:  strconv.FormatFloat(m.CompositorFPS, 'f', 2, 64),
			Frames:         strconv.FormatUint(m.Frames, 10),
			PublishedFPS:   strconv.FormatFloat(m.PublishedFPS, 'f', 2, 64),
			DroppedSamples: strconv.FormatUint(m.DroppedSamples, 10),
		})
	}
	for pipelineID, m := range metrics.GetAllPipelineMetrics() {
		s.eventBus.Publish(events.PipelineMetricsEvent{
			EventType:       "pipeline_metrics",
			PipelineID:      pipelineID,
			FPS:             strconv.FormatFloat(m.FPS, 'f', 2, 64),
			DroppedFrames:   strconv.FormatFloat(m.DroppedFrames, 'f', 0, 64),
			DuplicateFrames: strconv.FormatFloat(m.DuplicateFrames, 'f', 0, 64),
		})
	}
}

// GetEventTypes returns event types for SSE endpoint registration.
func GetEventTypes() map[string]any {
	return map[string]any{
		"session-metrics":  events.SessionMetricsEvent{},
		"pipeline-metrics": events.PipelineMetricsEvent{},
	}
}
