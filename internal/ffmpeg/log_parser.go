package ffmpeg

import "strings"

// ParseLogLevel extracts the log level from ffmpeg output.
// FFmpeg with -loglevel level+warning outputs lines like "[error] message"
// or "[component @ 0x...] [level] message" for component-specific logs.
// Returns the level and the message with level stripped but component preserved.
// ffmpeg's panic and verbose levels are folded into fatal and debug.
func ParseLogLevel(line string) (level, msg string) {
	if len(line) < 3 || line[0] != '[' {
		return "info", line
	}

	end := strings.Index(line, "] ")
	if end == -1 {
		return "info", line
	}

	bracket := line[1:end]
	if isLogLevel(bracket) {
		return normalizeLevel(bracket), line[end+2:]
	}

	// [component @ 0x...] [level] message: keep the component, strip the level
	component := line[:end+2]
	rest := line[end+2:]
	if len(rest) > 2 && rest[0] == '[' {
		if nextEnd := strings.Index(rest, "] "); nextEnd != -1 {
			if next := rest[1:nextEnd]; isLogLevel(next) {
				return normalizeLevel(next), component + rest[nextEnd+2:]
			}
		}
	}

	return "info", line
}

func isLogLevel(s string) bool {
	switch s {
	case "quiet", "panic", "fatal", "error", "warning", "info", "verbose", "debug", "trace":
		return true
	}
	return false
}

func normalizeLevel(s string) string {
	switch s {
	case "panic":
		return "fatal"
	case "verbose":
		return "debug"
	}
	return s
}

// Failure classifies why a capture process could not deliver media.
type Failure string

// Capture failure kinds.
const (
	FailureNone             Failure = ""
	FailurePermissionDenied Failure = "permission-denied"
	FailureNotFound         Failure = "not-found"
	FailureBusy             Failure = "busy"
	FailureUnsupported      Failure = "unsupported"
)

var failurePatterns = []struct {
	substr  string
	failure Failure
}{
	{"Permission denied", FailurePermissionDenied},
	{"No such file or directory", FailureNotFound},
	{"No such device", FailureNotFound},
	{"Device or resource busy", FailureBusy},
	{"Invalid argument", FailureUnsupported},
	{"not supported", FailureUnsupported},
	{"Cannot find a proper format", FailureUnsupported},
}

// ClassifyFailure inspects an ffmpeg stderr line for a device open failure.
func ClassifyFailure(line string) Failure {
	for _, p := range failurePatterns {
		if strings.Contains(line, p.substr) {
			return p.failure
		}
	}
	return FailureNone
}
