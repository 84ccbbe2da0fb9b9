package models

import (
	"time"

	"github.com/smazurov/markcam/internal/artifacts"
	"github.com/smazurov/markcam/internal/version"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

type VersionResponse struct {
	Body version.Info
}

// Session models
type RecordingData struct {
	Active    bool   `json:"active" example:"true" doc:"Whether a recording is in progress"`
	ElapsedMs int64  `json:"elapsed_ms" example:"3000" doc:"Elapsed recording time in milliseconds"`
	Elapsed   string `json:"elapsed" example:"00:03" doc:"Elapsed time formatted as mm:ss"`
	Bytes     int    `json:"bytes" example:"524288" doc:"Encoded bytes collected so far"`
	MimeType  string `json:"mime_type,omitempty" example:"video/webm" doc:"Recorder container type"`
}

type SessionData struct {
	ID               string        `json:"id" example:"4f6c2a" doc:"Session identifier"`
	State            string        `json:"state" example:"ready" doc:"State: idle, initializing, ready, error, destroyed"`
	Error            string        `json:"error,omitempty" doc:"Error message in error state"`
	FacingMode       string        `json:"facing_mode" example:"user" doc:"Camera facing mode: user or environment"`
	Audio            bool          `json:"audio" example:"false" doc:"Whether audio is captured"`
	Mirror           bool          `json:"mirror" example:"true" doc:"Whether the camera image is mirrored"`
	WatermarkVisible bool          `json:"watermark_visible" example:"true" doc:"Whether watermarks are painted"`
	Watermarks       int           `json:"watermarks" example:"2" doc:"Number of configured watermarks"`
	Frames           uint64        `json:"frames" example:"1800" doc:"Frames composited since init"`
	Width            int           `json:"width" example:"1280" doc:"Surface width in device pixels"`
	Height           int           `json:"height" example:"720" doc:"Surface height in device pixels"`
	DevicePixelRatio float64       `json:"device_pixel_ratio" example:"2" doc:"Device pixel ratio of the surface"`
	Recording        RecordingData `json:"recording" doc:"Recording status"`
}

type SessionResponse struct {
	Body SessionData
}

type WatermarkRequestData struct {
	Visible    *bool `json:"visible,omitempty" doc:"Show or hide the watermarks"`
	Toggle     bool  `json:"toggle,omitempty" doc:"Flip watermark visibility; ignored when visible is set"`
	Watermarks any   `json:"watermarks,omitempty" doc:"Replacement watermark list, or a single legacy watermark object"`
}

type WatermarkRequest struct {
	Body WatermarkRequestData
}

type MirrorRequest struct {
	Body struct {
		Mirror bool `json:"mirror" example:"true" doc:"Mirror the camera image horizontally"`
	}
}

// Artifact models
type ArtifactData struct {
	Name        string    `json:"name" example:"markcam-1737973800000.png" doc:"Artifact file name"`
	ContentType string    `json:"content_type" example:"image/png" doc:"Artifact MIME type"`
	Size        int64     `json:"size" example:"183422" doc:"Size in bytes"`
	DurationMs  int64     `json:"duration_ms,omitempty" example:"5000" doc:"Recording duration in milliseconds"`
	URL         string    `json:"url" example:"/api/artifacts/markcam-1737973800000.png" doc:"Download path"`
	CreatedAt   time.Time `json:"created_at" doc:"Creation time"`
}

type ArtifactResponse struct {
	Body ArtifactData
}

type ArtifactListData struct {
	Artifacts []ArtifactData `json:"artifacts" doc:"Stored artifacts, newest first"`
	Count     int            `json:"count" example:"3" doc:"Number of artifacts"`
}

type ArtifactListResponse struct {
	Body ArtifactListData
}

type ArtifactRequest struct {
	Name string `path:"name" example:"markcam-1737973800000.png" doc:"Artifact file name"`
}

type RecordingResponse struct {
	Body RecordingData
}

// ArtifactFromInfo converts a stored artifact to its API form.
func ArtifactFromInfo(info artifacts.Info) ArtifactData {
	return ArtifactData{
		Name:        info.Name,
		ContentType: info.ContentType,
		Size:        info.Size,
		URL:         ArtifactURL(info.Name),
		CreatedAt:   info.CreatedAt,
	}
}

// ArtifactURL returns the download path of the named artifact.
func ArtifactURL(name string) string {
	return "/api/artifacts/" + name
}
