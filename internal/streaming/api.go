package streaming

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// WebRTCOfferInput is the request body for WebRTC signaling.
type WebRTCOfferInput struct {
	RawBody []byte `contentType:"application/sdp" doc:"SDP offer from browser"`
}

// WebRTCAnswerOutput is the response body for WebRTC signaling.
type WebRTCAnswerOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// PreviewStatusOutput describes the preview consumers.
type PreviewStatusOutput struct {
	Body struct {
		StreamID       string `json:"stream_id" doc:"Session the preview belongs to"`
		Peers          int    `json:"peers" doc:"Connected WebRTC peers"`
		EncoderRunning bool   `json:"encoder_running" doc:"Whether the H.264 preview encoder is active"`
	}
}

// RegisterWebRTCAPI registers WebRTC signaling endpoints with the Huma API.
// security is applied to every operation; nil leaves them open.
func RegisterWebRTCAPI(api huma.API, webrtcManager *WebRTCManager, security []map[string][]string) {
	// POST /api/webrtc - WebRTC signaling
	huma.Register(api, huma.Operation{
		OperationID: "webrtc-offer",
		Method:      http.MethodPost,
		Path:        "/api/webrtc",
		Summary:     "WebRTC signaling",
		Description: "Exchange SDP offer/answer for the composited preview",
		Tags:        []string{"preview"},
		Security:    security,
		Errors:      []int{400, 401, 503},
	}, func(ctx context.Context, input *WebRTCOfferInput) (*WebRTCAnswerOutput, error) {
		if len(input.RawBody) == 0 {
			return nil, huma.Error400BadRequest("SDP offer required")
		}
		answer, err := webrtcManager.CreateConsumer(ctx, string(input.RawBody))
		if err != nil {
			if errors.Is(err, ErrStreamNotFound) {
				return nil, huma.Error503ServiceUnavailable("preview not available", err)
			}
			return nil, huma.Error400BadRequest("connection failed", err)
		}
		return &WebRTCAnswerOutput{
			ContentType: "application/sdp",
			Body:        []byte(answer),
		}, nil
	})

	// GET /api/preview - preview consumer status
	huma.Register(api, huma.Operation{
		OperationID: "get-preview-status",
		Method:      http.MethodGet,
		Path:        "/api/preview",
		Summary:     "Preview status",
		Description: "Returns the number of WebRTC peers and whether the preview encoder runs",
		Tags:        []string{"preview"},
		Security:    security,
	}, func(_ context.Context, _ *struct{}) (*PreviewStatusOutput, error) {
		out := &PreviewStatusOutput{}
		out.Body.StreamID = webrtcManager.hub.StreamID()
		out.Body.Peers = webrtcManager.PeerCount()
		out.Body.EncoderRunning = webrtcManager.hub.EncoderRunning()
		return out, nil
	})
}
