package api

import (
	"errors"
	"log/slog"
	"time"

	"github.com/smazurov/markcam/internal/api/models"
	"github.com/smazurov/markcam/internal/artifacts"
	"github.com/smazurov/markcam/internal/events"
	"github.com/smazurov/markcam/internal/media"
)

const maxAssetRefLen = 256

// SessionEvents is the callback surface of media.Session.
type SessionEvents interface {
	ID() string
	On(name media.EventName, fn func(*media.Artifact)) func()
	OnTick(fn func(elapsed time.Duration)) func()
	OnAssetError(fn func(err error)) func()
	OnStateChange(fn func(state media.SessionState, err error)) func()
}

// BridgeSessionEvents stores every artifact the session produces and forwards
// session callbacks to the event bus. store may be nil. The returned function
// removes all callbacks.
func BridgeSessionEvents(session SessionEvents, store *artifacts.Store, bus *events.Bus, logger *slog.Logger) func() {
	if logger == nil {
		logger = slog.Default()
	}
	save := func(a *media.Artifact) string {
		if store == nil {
			return ""
		}
		info, err := store.Save(a)
		if err != nil {
			logger.Error("Failed to save artifact", "name", a.Name, "error", err)
			return ""
		}
		return models.ArtifactURL(info.Name)
	}

	unsubs := []func(){
		session.On(media.EventCapture, func(a *media.Artifact) {
			bus.Publish(events.CaptureEvent{
				Name:        a.Name,
				ContentType: a.ContentType,
				Size:        len(a.Data),
				URL:         save(a),
				Timestamp:   a.CreatedAt.Format(time.RFC3339),
			})
		}),
		session.On(media.EventRecord, func(a *media.Artifact) {
			bus.Publish(events.RecordEvent{
				Name:        a.Name,
				ContentType: a.ContentType,
				Size:        len(a.Data),
				DurationMs:  a.Duration.Milliseconds(),
				URL:         save(a),
				AutoStopped: a.AutoStopped,
				Timestamp:   a.CreatedAt.Format(time.RFC3339),
			})
			bus.Publish(events.RecordingStateEvent{
				Recording: false,
				MimeType:  a.ContentType,
				Timestamp: time.Now().Format(time.RFC3339),
			})
		}),
		session.OnTick(func(elapsed time.Duration) {
			bus.Publish(events.RecordTickEvent{
				ElapsedMs: elapsed.Milliseconds(),
				Elapsed:   formatElapsed(elapsed),
			})
		}),
		session.OnAssetError(func(err error) {
			ev := events.WatermarkErrorEvent{
				Error:     err.Error(),
				Timestamp: time.Now().Format(time.RFC3339),
			}
			var mediaErr *media.Error
			if errors.As(err, &mediaErr) {
				ev.URL = truncateRef(mediaErr.Asset)
				if mediaErr.Cause != nil {
					ev.Error = mediaErr.Cause.Error()
				}
			}
			logger.Warn("Watermark asset failed", "url", ev.URL, "error", ev.Error)
			bus.Publish(ev)
		}),
		session.OnStateChange(func(state media.SessionState, err error) {
			ev := events.SessionStateEvent{
				SessionID: session.ID(),
				State:     string(state),
				Timestamp: time.Now().Format(time.RFC3339),
			}
			if err != nil {
				ev.Error = err.Error()
			}
			bus.Publish(ev)
		}),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// truncateRef shortens inline data URIs so events stay small.
func truncateRef(ref string) string {
	if len(ref) <= maxAssetRefLen {
		return ref
	}
	return ref[:maxAssetRefLen] + "..."
}
