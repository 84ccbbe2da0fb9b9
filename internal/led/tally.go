package led

import (
	"log/slog"
	"sync"

	"github.com/smazurov/markcam/internal/events"
	"github.com/smazurov/markcam/internal/media"
)

// Tally lights the LED while recording and blinks it while the camera is in
// the error state.
type Tally struct {
	controller Controller
	eventBus   *events.Bus
	logger     *slog.Logger

	mu        sync.Mutex
	unsubs    []func()
	recording bool
	failed    bool
	current   Pattern
}

// NewTally creates a tally driven by recording and session events on bus.
func NewTally(controller Controller, eventBus *events.Bus, logger *slog.Logger) *Tally {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tally{controller: controller, eventBus: eventBus, logger: logger}
}

// Start switches the LED off and begins following events.
func (t *Tally) Start() {
	t.mu.Lock()
	t.apply(PatternOff)
	t.mu.Unlock()

	unsubs := []func(){
		t.eventBus.Subscribe(func(e events.RecordingStateEvent) {
			t.mu.Lock()
			defer t.mu.Unlock()
			t.recording = e.Recording
			t.update()
		}),
		t.eventBus.Subscribe(func(e events.SessionStateEvent) {
			t.mu.Lock()
			defer t.mu.Unlock()
			t.failed = e.State == string(media.SessionError)
			if e.State == string(media.SessionDestroyed) {
				t.recording = false
			}
			t.update()
		}),
	}
	t.mu.Lock()
	t.unsubs = append(t.unsubs, unsubs...)
	t.mu.Unlock()
	t.logger.Info("Tally LED started", "led", t.controller.Name())
}

// Stop unsubscribes and switches the LED off.
func (t *Tally) Stop() {
	t.mu.Lock()
	unsubs := t.unsubs
	t.unsubs = nil
	t.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.recording, t.failed = false, false
	t.apply(PatternOff)
}

// Pattern returns the pattern last applied.
func (t *Tally) Pattern() Pattern {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *Tally) update() {
	switch {
	case t.recording:
		t.apply(PatternSolid)
	case t.failed:
		t.apply(PatternBlink)
	default:
		t.apply(PatternOff)
	}
}

func (t *Tally) apply(p Pattern) {
	if p == t.current {
		return
	}
	if err := t.controller.Set(p); err != nil {
		t.logger.Warn("Failed to set tally LED", "pattern", p, "error", err)
		return
	}
	t.current = p
}
