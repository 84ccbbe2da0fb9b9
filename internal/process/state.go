package process

import "time"

// State represents the current state of a process.
type State string

// Process states.
const (
	StateIdle     State = "idle"     // Not started
	StateStarting State = "starting" // Being started
	StateRunning  State = "running"  // Active
	StateStopping State = "stopping" // Stop requested
	StateExited   State = "exited"   // Exited cleanly or after Stop
	StateError    State = "error"    // Failed to start or crashed
)

// Info contains information about a process.
type Info struct {
	ID        string
	State     State
	PID       int
	StartedAt time.Time
	LastError error
}
