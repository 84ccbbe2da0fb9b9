package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/markcam/internal/events"
	"github.com/smazurov/markcam/internal/metrics/exporters"
)

// registerMetricsRoutes registers the metrics SSE endpoint
func (s *Server) registerMetricsRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "metrics-stream",
		Method:      http.MethodGet,
		Path:        "/api/metrics",
		Summary:     "Metrics Server-Sent Events Stream",
		Description: "Compositor, publisher and ffmpeg pipeline metrics, published once per second",
		Tags:        []string{"metrics"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, exporters.GetEventTypes(), func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 16)
		unsubscribers := []func(){
			events.SubscribeToChannel[events.SessionMetricsEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.PipelineMetricsEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
