package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/markcam/internal/api/models"
	"github.com/smazurov/markcam/internal/media"
)

// registerSessionRoutes registers the session status and control routes.
func (s *Server) registerSessionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/api/session",
		Summary:     "Get Session",
		Description: "Current state of the media session including recording status",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(_ context.Context, _ *struct{}) (*models.SessionResponse, error) {
		if s.session == nil {
			return nil, s.mapMediaError(media.ErrNotInitialized)
		}
		return &models.SessionResponse{Body: sessionData(s.session.Info())}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "update-watermark",
		Method:      http.MethodPut,
		Path:        "/api/session/watermark",
		Summary:     "Update Watermarks",
		Description: "Show, hide or toggle the watermarks, or replace the watermark list. " +
			"Image assets are loaded before the list is swapped in; failures are reported as watermark-error events.",
		Tags:     []string{"session"},
		Security: withAuth(),
		Errors:   []int{400, 401, 503},
	}, func(ctx context.Context, input *models.WatermarkRequest) (*models.SessionResponse, error) {
		if s.session == nil {
			return nil, s.mapMediaError(media.ErrNotInitialized)
		}
		body := input.Body

		// Parse first so an invalid list leaves visibility untouched.
		var wms []media.Watermark
		if body.Watermarks != nil {
			parsed, err := media.ParseWatermarks(body.Watermarks)
			if err != nil {
				return nil, s.mapMediaError(err)
			}
			wms = parsed
		}

		switch {
		case body.Visible != nil:
			if err := s.session.SetWatermarkVisible(*body.Visible); err != nil {
				return nil, s.mapMediaError(err)
			}
		case body.Toggle:
			if _, err := s.session.ToggleWatermark(); err != nil {
				return nil, s.mapMediaError(err)
			}
		}
		if body.Watermarks != nil {
			if err := s.session.UpdateWatermarks(ctx, wms); err != nil {
				return nil, s.mapMediaError(err)
			}
		}
		return &models.SessionResponse{Body: sessionData(s.session.Info())}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "update-mirror",
		Method:      http.MethodPut,
		Path:        "/api/session/mirror",
		Summary:     "Set Mirror",
		Description: "Mirror the camera image horizontally. Watermarks are never mirrored.",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(_ context.Context, input *models.MirrorRequest) (*models.SessionResponse, error) {
		if s.session == nil {
			return nil, s.mapMediaError(media.ErrNotInitialized)
		}
		if err := s.session.SetMirror(input.Body.Mirror); err != nil {
			return nil, s.mapMediaError(err)
		}
		return &models.SessionResponse{Body: sessionData(s.session.Info())}, nil
	})
}

func sessionData(info media.SessionInfo) models.SessionData {
	return models.SessionData{
		ID:               info.ID,
		State:            string(info.State),
		Error:            info.Error,
		FacingMode:       string(info.FacingMode),
		Audio:            info.Audio,
		Mirror:           info.Mirror,
		WatermarkVisible: info.WatermarkVisible,
		Watermarks:       info.Watermarks,
		Frames:           info.Frames,
		Width:            info.Width,
		Height:           info.Height,
		DevicePixelRatio: info.DevicePixelRatio,
		Recording:        recordingData(info.Recording),
	}
}

func recordingData(r media.RecordingStatus) models.RecordingData {
	return models.RecordingData{
		Active:    r.Active,
		ElapsedMs: r.Elapsed.Milliseconds(),
		Elapsed:   formatElapsed(r.Elapsed),
		Bytes:     r.Bytes,
		MimeType:  r.MimeType,
	}
}

// formatElapsed renders d as mm:ss; minutes keep counting past 59.
func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
