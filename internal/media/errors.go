package media

import "fmt"

// Error represents a media pipeline error.
type Error struct {
	Code    string
	Message string
	Reason  string // platform reason for MEDIA_ACCESS errors
	Asset   string // image reference for WATERMARK_ASSET errors
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Reason)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Error codes
const (
	ErrCodeMediaAccess      = "MEDIA_ACCESS"
	ErrCodeNotInitialized   = "NOT_INITIALIZED"
	ErrCodeAlreadyRecording = "ALREADY_RECORDING"
	ErrCodeNotRecording     = "NOT_RECORDING"
	ErrCodeWatermarkAsset   = "WATERMARK_ASSET"
	ErrCodeConfig           = "CONFIG"
	ErrCodeInvalidState     = "INVALID_STATE"
)

// Media access reasons.
const (
	ReasonPermissionDenied = "permission-denied"
	ReasonNotFound         = "not-found"
	ReasonOverconstrained  = "overconstrained"
	ReasonAborted          = "aborted"
)

var (
	// ErrNotInitialized is returned when an operation runs before the compositor produced a frame.
	ErrNotInitialized = &Error{Code: ErrCodeNotInitialized, Message: "media session is not initialized"}
	// ErrAlreadyRecording is returned by a second start while a recording is active.
	ErrAlreadyRecording = &Error{Code: ErrCodeAlreadyRecording, Message: "recording already in progress"}
	// ErrNotRecording is returned by stop without a preceding start.
	ErrNotRecording = &Error{Code: ErrCodeNotRecording, Message: "no recording in progress"}
	// ErrMediaAccess matches any acquisition failure.
	ErrMediaAccess = &Error{Code: ErrCodeMediaAccess, Message: "media access failed"}
	// ErrWatermarkAsset matches any watermark asset failure.
	ErrWatermarkAsset = &Error{Code: ErrCodeWatermarkAsset, Message: "watermark asset failed"}
	// ErrConfig matches any configuration error.
	ErrConfig = &Error{Code: ErrCodeConfig, Message: "invalid configuration"}
)

// NewMediaAccessError creates a MEDIA_ACCESS error carrying the platform reason.
func NewMediaAccessError(reason, message string, cause error) *Error {
	return &Error{Code: ErrCodeMediaAccess, Message: message, Reason: reason, Cause: cause}
}

// NewWatermarkAssetError creates a WATERMARK_ASSET error for the given asset URL.
func NewWatermarkAssetError(url string, cause error) *Error {
	return &Error{Code: ErrCodeWatermarkAsset, Message: "failed to load watermark image " + url, Asset: url, Cause: cause}
}

func configError(format string, args ...any) *Error {
	return &Error{Code: ErrCodeConfig, Message: fmt.Sprintf(format, args...)}
}
