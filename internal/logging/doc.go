// Package logging gives every markcam component a module-scoped slog logger.
//
// Call [Initialize] once after configuration is loaded, then ask for
// loggers by module name:
//
//	logging.Initialize(logging.Config{
//		Level:   "info",
//		Format:  "text",
//		Modules: map[string]string{"compositor": "debug"},
//	})
//	logger := logging.GetLogger("session").With("session_id", id)
//
// Module names used by the server are session, compositor, capture,
// recorder, ffmpeg, streaming, webrtc, api and config. A module without an
// override logs at the global level.
//
// Each logger writes to stdout (text or json), to journald when it is
// running, and to an in-memory history read through [GetBuffer]. The API
// replays that history and streams new entries registered with
// [SetLogCallback].
//
// Journal entries carry SYSLOG_IDENTIFIER=markcam and one upper-case field
// per attribute:
//
//	journalctl -t markcam MODULE=compositor
//	journalctl -t markcam -p warning --since "5m"
package logging
