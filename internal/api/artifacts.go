package api

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/markcam/internal/api/models"
	"github.com/smazurov/markcam/internal/events"
	"github.com/smazurov/markcam/internal/media"
)

var errNoStore = errors.New("artifact storage is not configured")

// registerArtifactRoutes registers capture, recording and download routes.
func (s *Server) registerArtifactRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "capture-still",
		Method:      http.MethodPost,
		Path:        "/api/capture",
		Summary:     "Capture Still",
		Description: "Encode the current composited frame, watermarks included, as PNG and store it",
		Tags:        []string{"capture"},
		Security:    withAuth(),
		Errors:      []int{401, 500, 503},
	}, func(_ context.Context, _ *struct{}) (*models.ArtifactResponse, error) {
		if s.session == nil {
			return nil, s.mapMediaError(media.ErrNotInitialized)
		}
		a, err := s.session.Capture()
		if err != nil {
			return nil, s.mapMediaError(err)
		}
		data, err := s.saveArtifact(a)
		if err != nil {
			return nil, s.mapMediaError(err)
		}
		return &models.ArtifactResponse{Body: data}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "start-recording",
		Method:      http.MethodPost,
		Path:        "/api/recording/start",
		Summary:     "Start Recording",
		Description: "Start recording the composited stream",
		Tags:        []string{"recording"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 503},
	}, func(_ context.Context, _ *struct{}) (*models.RecordingResponse, error) {
		if s.session == nil {
			return nil, s.mapMediaError(media.ErrNotInitialized)
		}
		if err := s.session.StartRecording(); err != nil {
			return nil, s.mapMediaError(err)
		}
		status := s.session.Recording()
		s.eventBus.Publish(events.RecordingStateEvent{
			Recording: true,
			MimeType:  status.MimeType,
			Timestamp: time.Now().Format(time.RFC3339),
		})
		return &models.RecordingResponse{Body: recordingData(status)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-recording",
		Method:      http.MethodPost,
		Path:        "/api/recording/stop",
		Summary:     "Stop Recording",
		Description: "Finalize the recording into one artifact and store it",
		Tags:        []string{"recording"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 500, 503},
	}, func(ctx context.Context, _ *struct{}) (*models.ArtifactResponse, error) {
		if s.session == nil {
			return nil, s.mapMediaError(media.ErrNotInitialized)
		}
		ctx, cancel := context.WithTimeout(ctx, s.options.StopTimeout)
		defer cancel()

		a, err := s.session.StopRecording(ctx)
		if err != nil {
			if !errors.Is(err, media.ErrNotRecording) {
				// The recorder is stopped even when finalizing failed.
				s.eventBus.Publish(events.RecordingStateEvent{
					Recording: false,
					Timestamp: time.Now().Format(time.RFC3339),
				})
			}
			return nil, s.mapMediaError(err)
		}
		data, err := s.saveArtifact(a)
		if err != nil {
			return nil, s.mapMediaError(err)
		}
		return &models.ArtifactResponse{Body: data}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-recording",
		Method:      http.MethodGet,
		Path:        "/api/recording",
		Summary:     "Recording Status",
		Description: "Elapsed time and collected bytes of the recording in progress",
		Tags:        []string{"recording"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(_ context.Context, _ *struct{}) (*models.RecordingResponse, error) {
		if s.session == nil {
			return nil, s.mapMediaError(media.ErrNotInitialized)
		}
		return &models.RecordingResponse{Body: recordingData(s.session.Recording())}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-artifacts",
		Method:      http.MethodGet,
		Path:        "/api/artifacts",
		Summary:     "List Artifacts",
		Description: "Stored stills and recordings, newest first",
		Tags:        []string{"artifacts"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(_ context.Context, _ *struct{}) (*models.ArtifactListResponse, error) {
		if s.store == nil {
			return nil, s.mapMediaError(errNoStore)
		}
		infos, err := s.store.List()
		if err != nil {
			return nil, s.mapMediaError(err)
		}
		list := make([]models.ArtifactData, 0, len(infos))
		for _, info := range infos {
			list = append(list, models.ArtifactFromInfo(info))
		}
		return &models.ArtifactListResponse{
			Body: models.ArtifactListData{Artifacts: list, Count: len(list)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "download-artifact",
		Method:      http.MethodGet,
		Path:        "/api/artifacts/{name}",
		Summary:     "Download Artifact",
		Description: "Stream a stored artifact",
		Tags:        []string{"artifacts"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 404},
	}, func(_ context.Context, input *models.ArtifactRequest) (*huma.StreamResponse, error) {
		if s.store == nil {
			return nil, s.mapMediaError(errNoStore)
		}
		f, info, err := s.store.Open(input.Name)
		if err != nil {
			return nil, s.mapMediaError(err)
		}
		return &huma.StreamResponse{
			Body: func(ctx huma.Context) {
				defer f.Close()
				ctx.SetHeader("Content-Type", info.ContentType)
				ctx.SetHeader("Content-Length", strconv.FormatInt(info.Size, 10))
				ctx.SetHeader("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": info.Name}))
				if _, err := io.Copy(ctx.BodyWriter(), f); err != nil {
					s.logger.Debug("Artifact download interrupted", "name", info.Name, "error", err)
				}
			},
		}, nil
	})
}

// saveArtifact stores a when a store is configured. Without one the response
// still describes the artifact but carries no download URL.
func (s *Server) saveArtifact(a *media.Artifact) (models.ArtifactData, error) {
	data := models.ArtifactData{
		Name:        a.Name,
		ContentType: a.ContentType,
		Size:        int64(len(a.Data)),
		DurationMs:  a.Duration.Milliseconds(),
		CreatedAt:   a.CreatedAt,
	}
	if s.store == nil {
		return data, nil
	}
	info, err := s.store.Save(a)
	if err != nil {
		return models.ArtifactData{}, err
	}
	data.URL = models.ArtifactURL(info.Name)
	return data, nil
}
