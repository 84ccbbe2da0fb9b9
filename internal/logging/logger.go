package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

const historySize = 1000

// Logger is the subset of *slog.Logger that components depend on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config selects the output format and the level of each module.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

// registry owns the per-module loggers. Each module keeps its LevelVar for
// the life of the process, so loggers handed out before Initialize still
// follow the configured level.
type registry struct {
	mu       sync.RWMutex
	cfg      Config
	ready    bool
	loggers  map[string]*slog.Logger
	levels   map[string]*slog.LevelVar
	root     slog.LevelVar
	history  *RingBuffer
	callback LogCallback
}

var reg = newRegistry()

func newRegistry() *registry {
	return &registry{
		loggers: make(map[string]*slog.Logger),
		levels:  make(map[string]*slog.LevelVar),
	}
}

// Initialize applies cfg to every module logger and to slog's default logger.
// It may be called again; the history buffer is reset each time.
func Initialize(cfg Config) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.cfg = cfg
	reg.ready = true
	reg.history = NewRingBuffer(historySize)
	reg.root.Set(reg.levelFor(""))

	// Loggers built before the first Initialize only wrote text to stdout.
	for module, lv := range reg.levels {
		lv.Set(reg.levelFor(module))
		reg.loggers[module] = slog.New(newOutputs(cfg.Format, lv)).With("module", module)
	}

	slog.SetDefault(slog.New(newOutputs(cfg.Format, &reg.root)))
}

// GetBuffer returns the recent log history, nil before Initialize.
func GetBuffer() *RingBuffer {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.history
}

// SetLogCallback registers fn to receive every entry written to the history.
func SetLogCallback(fn LogCallback) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.callback = fn
}

// GetLogger returns the logger of module, creating it on first use.
func GetLogger(module string) *slog.Logger {
	reg.mu.RLock()
	logger, ok := reg.loggers[module]
	reg.mu.RUnlock()
	if ok {
		return logger
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if logger, ok := reg.loggers[module]; ok {
		return logger
	}

	lv := &slog.LevelVar{}
	format := "text"
	if reg.ready {
		lv.Set(reg.levelFor(module))
		format = reg.cfg.Format
	}
	logger = slog.New(newOutputs(format, lv)).With("module", module)
	reg.loggers[module] = logger
	reg.levels[module] = lv
	return logger
}

// sinks returns where BufferHandler delivers entries.
func (r *registry) sinks() (*RingBuffer, LogCallback) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.history, r.callback
}

// levelFor resolves the configured level of module. An empty module or one
// without an override gets the global level. Callers hold r.mu.
func (r *registry) levelFor(module string) slog.Level {
	level, ok := parseLevel(r.cfg.Level)
	if !ok {
		level = slog.LevelInfo
	}
	if module != "" {
		if override, ok := parseLevel(r.cfg.Modules[module]); ok {
			level = override
		}
	}
	return level
}

// newOutputs builds the handler chain of one logger: stdout unless it is
// discarded, the journal when journald is running, and always the history.
func newOutputs(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	var console slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if format == "json" {
		console = slog.NewJSONHandler(os.Stdout, opts)
	}

	var outputs []slog.Handler
	if stdoutUsable() {
		outputs = append(outputs, console)
	}
	if IsJournalAvailable() {
		outputs = append(outputs, NewJournalHandler(level))
	}
	outputs = append(outputs, NewBufferHandler(level))

	if len(outputs) == 1 {
		return outputs[0]
	}
	return NewMultiHandler(outputs...)
}

// stdoutUsable is false when stdout is closed or redirected to a device
// such as /dev/null.
func stdoutUsable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode.IsRegular() || mode&(os.ModeCharDevice|os.ModeNamedPipe|os.ModeSocket) != 0
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}
