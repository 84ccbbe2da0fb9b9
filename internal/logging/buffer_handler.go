package logging

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
)

// LogCallback receives each entry added to the history. The API package
// registers one to republish entries on the event bus.
type LogCallback func(entry LogEntry)

// BufferHandler turns records into LogEntry values for the history and the
// registered callback. Both are looked up per record, so handlers created
// before Initialize start delivering once it runs.
type BufferHandler struct {
	level slog.Leveler
	scope scope
}

// NewBufferHandler creates a history handler filtered by level.
func NewBufferHandler(level slog.Leveler) *BufferHandler {
	return &BufferHandler{level: level}
}

// Enabled implements slog.Handler.
func (h *BufferHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *BufferHandler) Handle(_ context.Context, r slog.Record) error {
	entry := LogEntry{
		Timestamp:  r.Time,
		Level:      levelName(r.Level),
		Module:     "app",
		Message:    r.Message,
		Attributes: make(map[string]any),
	}
	h.scope.each(r, func(groups []string, a slog.Attr) {
		if a.Key == "module" && len(groups) == 0 {
			entry.Module = a.Value.String()
			return
		}
		entryAttrs(entry.Attributes, groups, a)
	})
	entry.Seq = logSeq.Add(1)

	history, callback := reg.sinks()
	if history != nil {
		history.Write(entry)
	}
	if callback != nil {
		callback(entry)
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *BufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &BufferHandler{level: h.level, scope: h.scope.withAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (h *BufferHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &BufferHandler{level: h.level, scope: h.scope.withGroup(name)}
}

// entryAttrs flattens a into attrs using dotted keys for groups. Values
// that would not survive JSON encoding are stored as strings.
func entryAttrs(attrs map[string]any, groups []string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	key := strings.Join(append(slices.Clone(groups), a.Key), ".")

	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		nested := append(slices.Clone(groups), a.Key)
		for _, ga := range v.Group() {
			entryAttrs(attrs, nested, ga)
		}
	case slog.KindTime:
		attrs[key] = v.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		attrs[key] = v.Duration().String()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			attrs[key] = err.Error()
			return
		}
		attrs[key] = v.Any()
	default:
		attrs[key] = v.Any()
	}
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	}
	return "debug"
}

// FormatLogLine renders entry as a single line, attributes sorted by key.
func FormatLogLine(entry LogEntry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s] [%s] %s",
		entry.Timestamp.Format(time.RFC3339Nano), strings.ToUpper(entry.Level), entry.Module, entry.Message)
	keys := make([]string, 0, len(entry.Attributes))
	for k := range entry.Attributes {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, entry.Attributes[k])
	}
	return sb.String()
}
