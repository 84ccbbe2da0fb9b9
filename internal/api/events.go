package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/markcam/internal/events"
)

// registerSSERoutes registers the native Huma SSE endpoint.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time session events: captures, finalized recordings, recording ticks, watermark failures and state changes",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"capture":         events.CaptureEvent{},
		"record":          events.RecordEvent{},
		"record-tick":     events.RecordTickEvent{},
		"recording-state": events.RecordingStateEvent{},
		"watermark-error": events.WatermarkErrorEvent{},
		"session-state":   events.SessionStateEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.CaptureEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.RecordEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.RecordTickEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.RecordingStateEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.WatermarkErrorEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.SessionStateEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// Late subscribers start from the current state.
		if s.session != nil {
			info := s.session.Info()
			if err := send.Data(events.SessionStateEvent{
				SessionID: info.ID,
				State:     string(info.State),
				Error:     info.Error,
				Timestamp: time.Now().Format(time.RFC3339),
			}); err != nil {
				return
			}
		}

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
