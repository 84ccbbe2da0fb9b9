package logging

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestRingBufferWrapsOldest(t *testing.T) {
	rb := NewRingBuffer(3)
	for i, msg := range []string{"a", "b", "c", "d", "e"} {
		rb.Write(LogEntry{Message: msg, Timestamp: time.Unix(int64(i), 0)})
	}

	if rb.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", rb.Count())
	}

	got := rb.ReadAll()
	want := []string{"c", "d", "e"}
	for i, entry := range got {
		if entry.Message != want[i] {
			t.Errorf("entry[%d] = %q, want %q", i, entry.Message, want[i])
		}
	}
}

func TestRingBufferEmpty(t *testing.T) {
	rb := NewRingBuffer(4)
	if entries := rb.ReadAll(); entries != nil {
		t.Errorf("ReadAll() = %v, want nil", entries)
	}
}

func TestBufferHandlerRecordsModuleAndAttrs(t *testing.T) {
	Initialize(Config{Level: "debug", Format: "text"})

	var got []LogEntry
	SetLogCallback(func(entry LogEntry) { got = append(got, entry) })
	defer SetLogCallback(nil)

	logger := slog.New(NewBufferHandler(slog.LevelDebug)).With("module", "recorder")
	logger.WithGroup("chunk").Info("chunk received", "bytes", 512, "error", errors.New("short write"))

	if len(got) != 1 {
		t.Fatalf("callback called %d times, want 1", len(got))
	}
	entry := got[0]
	if entry.Module != "recorder" {
		t.Errorf("Module = %q, want recorder", entry.Module)
	}
	if entry.Level != "info" {
		t.Errorf("Level = %q, want info", entry.Level)
	}
	if entry.Attributes["chunk.bytes"] != int64(512) {
		t.Errorf("chunk.bytes = %v (%T), want 512", entry.Attributes["chunk.bytes"], entry.Attributes["chunk.bytes"])
	}
	if entry.Attributes["chunk.error"] != "short write" {
		t.Errorf("chunk.error = %v, want short write", entry.Attributes["chunk.error"])
	}

	buffered := GetBuffer().ReadAll()
	if len(buffered) == 0 || buffered[len(buffered)-1].Message != "chunk received" {
		t.Error("entry not written to ring buffer")
	}
}

func TestBufferHandlerGroupsApplyToLaterAttrs(t *testing.T) {
	resetRegistry(t)
	Initialize(Config{Level: "debug", Format: "text"})

	var got []LogEntry
	SetLogCallback(func(entry LogEntry) { got = append(got, entry) })

	logger := slog.New(NewBufferHandler(slog.LevelDebug)).
		With("module", "recorder", "session_id", "s1").
		WithGroup("chunk").
		With("seq", 3)
	logger.Info("chunk received", "bytes", 1)

	if len(got) != 1 {
		t.Fatalf("callback called %d times, want 1", len(got))
	}
	entry := got[0]
	if entry.Module != "recorder" {
		t.Errorf("Module = %q, want recorder", entry.Module)
	}
	want := map[string]any{"session_id": "s1", "chunk.seq": int64(3), "chunk.bytes": int64(1)}
	if len(entry.Attributes) != len(want) {
		t.Errorf("Attributes = %v, want %v", entry.Attributes, want)
	}
	for k, v := range want {
		if entry.Attributes[k] != v {
			t.Errorf("%s = %v (%T), want %v", k, entry.Attributes[k], entry.Attributes[k], v)
		}
	}
}

func TestBufferHandlerLevelFilter(t *testing.T) {
	h := NewBufferHandler(slog.LevelWarn)
	if h.Enabled(t.Context(), slog.LevelInfo) {
		t.Error("info should be filtered at warn level")
	}
	if !h.Enabled(t.Context(), slog.LevelError) {
		t.Error("error should pass at warn level")
	}
}

func TestFormatLogLine(t *testing.T) {
	line := FormatLogLine(LogEntry{
		Timestamp:  time.Date(2025, 1, 27, 10, 30, 0, 0, time.UTC),
		Level:      "warn",
		Module:     "assets",
		Message:    "watermark image failed",
		Attributes: map[string]any{"url": "logo.png", "attempt": 1},
	})

	for _, part := range []string{"[WARN]", "[assets]", "watermark image failed", "attempt=1 url=logo.png"} {
		if !strings.Contains(line, part) {
			t.Errorf("FormatLogLine() = %q, missing %q", line, part)
		}
	}
}

func TestBufferHandlerSequence(t *testing.T) {
	Initialize(Config{Level: "debug", Format: "text"})

	logger := slog.New(NewBufferHandler(slog.LevelDebug))
	logger.Info("first")
	logger.Info("second")

	entries := GetBuffer().ReadAll()
	if len(entries) < 2 {
		t.Fatalf("buffer has %d entries", len(entries))
	}
	a, b := entries[len(entries)-2], entries[len(entries)-1]
	if a.Message != "first" || b.Message != "second" || b.Seq <= a.Seq {
		t.Errorf("entries = %+v, %+v; want increasing seq", a, b)
	}
}
