package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

const journalIdentifier = "markcam"

// scope carries the attributes and groups a handler accumulated through
// WithAttrs and WithGroup. Each attribute keeps the groups that were open
// when it was added. Derived scopes never share backing arrays.
type scope struct {
	attrs  []groupedAttr
	groups []string
}

type groupedAttr struct {
	groups []string
	attr   slog.Attr
}

func (s scope) withAttrs(attrs []slog.Attr) scope {
	out := make([]groupedAttr, len(s.attrs), len(s.attrs)+len(attrs))
	copy(out, s.attrs)
	for _, a := range attrs {
		out = append(out, groupedAttr{groups: s.groups, attr: a})
	}
	return scope{attrs: out, groups: s.groups}
}

func (s scope) withGroup(name string) scope {
	return scope{
		attrs:  s.attrs,
		groups: append(append([]string(nil), s.groups...), name),
	}
}

// each visits the scope attributes followed by those of r, passing the
// groups each one belongs to.
func (s scope) each(r slog.Record, fn func(groups []string, a slog.Attr)) {
	for _, ga := range s.attrs {
		fn(ga.groups, ga.attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		fn(s.groups, a)
		return true
	})
}

// JournalHandler writes records to the systemd journal, turning attributes
// into upper-case journal fields such as MODULE and SESSION_ID.
type JournalHandler struct {
	level slog.Leveler
	scope scope
}

// NewJournalHandler creates a journal handler filtered by level.
func NewJournalHandler(level slog.Leveler) *JournalHandler {
	return &JournalHandler{level: level}
}

// Enabled implements slog.Handler.
func (h *JournalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	priority := journalPriority(r.Level)
	fields := map[string]string{
		"PRIORITY":          strconv.Itoa(int(priority)),
		"SYSLOG_IDENTIFIER": journalIdentifier,
	}
	h.scope.each(r, func(groups []string, a slog.Attr) {
		journalFields(fields, groups, a)
	})

	if err := journal.Send(r.Message, priority, fields); err != nil {
		fmt.Fprintf(os.Stderr, "journal: %v\n", err)
		return err
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &JournalHandler{level: h.level, scope: h.scope.withAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (h *JournalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &JournalHandler{level: h.level, scope: h.scope.withGroup(name)}
}

func journalPriority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	}
	return journal.PriDebug
}

// journalFields stores a as one or more fields. Group names become
// underscore separated prefixes.
func journalFields(fields map[string]string, groups []string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	name := strings.ToUpper(strings.Join(append(append([]string(nil), groups...), a.Key), "_"))

	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		nested := append(append([]string(nil), groups...), a.Key)
		for _, ga := range v.Group() {
			journalFields(fields, nested, ga)
		}
	case slog.KindFloat64:
		fields[name] = strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindTime:
		fields[name] = v.Time().Format(time.RFC3339Nano)
	default:
		fields[name] = v.String()
	}
}

// IsJournalAvailable reports whether journald is accepting messages.
func IsJournalAvailable() bool {
	return journal.Enabled()
}
