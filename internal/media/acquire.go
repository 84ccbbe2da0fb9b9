package media

import (
	"context"
	"strings"
)

// FacingMode selects the camera.
type FacingMode string

// Facing modes.
const (
	FacingUser        FacingMode = "user"
	FacingEnvironment FacingMode = "environment"
)

// Opposite returns the other facing mode.
func (f FacingMode) Opposite() FacingMode {
	if f == FacingUser {
		return FacingEnvironment
	}
	return FacingUser
}

// ParseFacingMode validates a facing mode string.
func ParseFacingMode(s string) (FacingMode, error) {
	switch fm := FacingMode(strings.TrimSpace(strings.ToLower(s))); fm {
	case FacingUser, FacingEnvironment:
		return fm, nil
	default:
		return "", configError("invalid facingMode %q", s)
	}
}

// AudioConstraints is the audio processing request passed to the acquirer.
type AudioConstraints struct {
	EchoCancellation bool `json:"echo_cancellation"`
	NoiseSuppression bool `json:"noise_suppression"`
	AutoGainControl  bool `json:"auto_gain_control"`
}

// Constraints describe what to acquire. A nil Audio requests video only.
type Constraints struct {
	FacingMode FacingMode
	Audio      *AudioConstraints
}

// Acquirer opens a live capture stream. Failures are reported as *Error with
// code MEDIA_ACCESS. Acquire imposes no timeout of its own.
type Acquirer interface {
	Acquire(ctx context.Context, c Constraints) (*Stream, error)
}

// AcquirerFunc adapts a function to the Acquirer interface.
type AcquirerFunc func(ctx context.Context, c Constraints) (*Stream, error)

// Acquire implements Acquirer.
func (f AcquirerFunc) Acquire(ctx context.Context, c Constraints) (*Stream, error) {
	return f(ctx, c)
}
