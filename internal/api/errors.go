package api

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/markcam/internal/artifacts"
	"github.com/smazurov/markcam/internal/media"
)

// mapMediaError maps domain errors to HTTP errors
func (s *Server) mapMediaError(err error) error {
	var mediaErr *media.Error
	if errors.As(err, &mediaErr) {
		switch mediaErr.Code {
		case media.ErrCodeAlreadyRecording, media.ErrCodeNotRecording, media.ErrCodeInvalidState:
			return huma.Error409Conflict(mediaErr.Message, err)
		case media.ErrCodeNotInitialized, media.ErrCodeMediaAccess:
			return huma.Error503ServiceUnavailable(mediaErr.Message, err)
		case media.ErrCodeConfig:
			return huma.Error400BadRequest(mediaErr.Message, err)
		case media.ErrCodeWatermarkAsset:
			return huma.Error422UnprocessableEntity(mediaErr.Message, err)
		}
	}

	switch {
	case errors.Is(err, artifacts.ErrInvalidName):
		return huma.Error400BadRequest("invalid artifact name", err)
	case errors.Is(err, artifacts.ErrNotFound):
		return huma.Error404NotFound("artifact not found", err)
	}

	s.logger.Error("Request failed", "error", err)
	return huma.Error500InternalServerError("internal server error", err)
}
