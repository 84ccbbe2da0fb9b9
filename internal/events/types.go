package events

// Event type constants for kelindar/event.
const (
	TypeCapture uint32 = iota + 1
	TypeRecord
	TypeRecordTick
	TypeWatermarkError
	TypeSessionState
	TypeSessionMetrics
	TypePipelineMetrics
	TypeLogEntry
	TypeRecordingState
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// CaptureEvent is published after a still capture produced an artifact.
type CaptureEvent struct {
	Name        string `json:"name" example:"markcam-1737973800000.png" doc:"Artifact file name"`
	ContentType string `json:"content_type" example:"image/png" doc:"Artifact MIME type"`
	Size        int    `json:"size" example:"183422" doc:"Artifact size in bytes"`
	URL         string `json:"url,omitempty" example:"/api/artifacts/markcam-1737973800000.png" doc:"Download path when saved"`
	Timestamp   string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Capture timestamp"`
}

// Type returns the event type identifier for CaptureEvent.
func (e CaptureEvent) Type() uint32 { return TypeCapture }

// RecordEvent is published when a recording was finalized.
type RecordEvent struct {
	Name        string `json:"name" example:"markcam-1737973800000.webm" doc:"Artifact file name"`
	ContentType string `json:"content_type" example:"video/webm" doc:"Artifact MIME type"`
	Size        int    `json:"size" example:"1048576" doc:"Artifact size in bytes"`
	DurationMs  int64  `json:"duration_ms" example:"5000" doc:"Recording duration in milliseconds"`
	URL         string `json:"url,omitempty" example:"/api/artifacts/markcam-1737973800000.webm" doc:"Download path when saved"`
	AutoStopped bool   `json:"auto_stopped" example:"false" doc:"True when the recording limit ended the recording"`
	Timestamp   string `json:"timestamp" example:"2025-01-27T10:30:05Z" doc:"Finalize timestamp"`
}

// Type returns the event type identifier for RecordEvent.
func (e RecordEvent) Type() uint32 { return TypeRecord }

// RecordTickEvent reports elapsed recording time.
type RecordTickEvent struct {
	ElapsedMs int64  `json:"elapsed_ms" example:"3000" doc:"Elapsed recording time in milliseconds"`
	Elapsed   string `json:"elapsed" example:"00:03" doc:"Elapsed time formatted as mm:ss"`
}

// Type returns the event type identifier for RecordTickEvent.
func (e RecordTickEvent) Type() uint32 { return TypeRecordTick }

// RecordingStateEvent is published when a recording starts or stops.
type RecordingStateEvent struct {
	Recording bool   `json:"recording" example:"true" doc:"Whether a recording is active"`
	MimeType  string `json:"mime_type,omitempty" example:"video/webm" doc:"Recorder container type"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for RecordingStateEvent.
func (e RecordingStateEvent) Type() uint32 { return TypeRecordingState }

// WatermarkErrorEvent is published when a watermark image could not be loaded.
type WatermarkErrorEvent struct {
	URL       string `json:"url" example:"https://example.com/logo.png" doc:"Asset URL"`
	Error     string `json:"error" example:"unexpected status 404" doc:"Failure description"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for WatermarkErrorEvent.
func (e WatermarkErrorEvent) Type() uint32 { return TypeWatermarkError }

// SessionStateEvent is published on media session state transitions.
type SessionStateEvent struct {
	SessionID string `json:"session_id" example:"4f6c2a" doc:"Session identifier"`
	State     string `json:"state" example:"ready" doc:"State: idle, initializing, ready, error, destroyed"`
	Error     string `json:"error,omitempty" example:"MEDIA_ACCESS: camera not found (not-found)" doc:"Error message in error state"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionStateEvent.
func (e SessionStateEvent) Type() uint32 { return TypeSessionState }

// SessionMetricsEvent carries compositor and publisher metrics.
type SessionMetricsEvent struct {
	EventType      string `json:"type"`
	SessionID      string `json:"session_id"`
	CompositorFPS  string `json:"compositor_fps"`
	Frames         string `json:"frames"`
	PublishedFPS   string `json:"published_fps"`
	DroppedSamples string `json:"dropped_samples"`
}

// Type returns the event type identifier for SessionMetricsEvent.
func (e SessionMetricsEvent) Type() uint32 { return TypeSessionMetrics }

// PipelineMetricsEvent represents FFmpeg progress for a recording or preview pipeline.
type PipelineMetricsEvent struct {
	EventType       string `json:"type"`
	PipelineID      string `json:"pipeline_id"`
	FPS             string `json:"fps"`
	DroppedFrames   string `json:"dropped_frames"`
	DuplicateFrames string `json:"duplicate_frames"`
}

// Type returns the event type identifier for PipelineMetricsEvent.
func (e PipelineMetricsEvent) Type() uint32 { return TypePipelineMetrics }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"api" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
