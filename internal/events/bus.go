package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
// Usage: bus.Publish(CaptureEvent{...})
func (b *Bus) Publish(ev Event) {
	// kelindar/event is generic, so dispatch on the concrete type
	switch e := ev.(type) {
	case CaptureEvent:
		event.Publish(b.dispatcher, e)
	case RecordEvent:
		event.Publish(b.dispatcher, e)
	case RecordTickEvent:
		event.Publish(b.dispatcher, e)
	case RecordingStateEvent:
		event.Publish(b.dispatcher, e)
	case WatermarkErrorEvent:
		event.Publish(b.dispatcher, e)
	case SessionStateEvent:
		event.Publish(b.dispatcher, e)
	case SessionMetricsEvent:
		event.Publish(b.dispatcher, e)
	case PipelineMetricsEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function
// The handler type determines which events it receives
// Returns an unsubscribe function
// Usage: unsub := bus.Subscribe(func(e CaptureEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(CaptureEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(RecordEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(RecordTickEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(RecordingStateEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(WatermarkErrorEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SessionStateEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SessionMetricsEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PipelineMetricsEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Return a no-op function if handler type is not recognized
		return func() {}
	}
}
