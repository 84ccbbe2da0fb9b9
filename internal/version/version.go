// Package version exposes build metadata injected through -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Set with -ldflags "-X github.com/smazurov/markcam/internal/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info contains version and build metadata.
type Info struct {
	Version   string `json:"version" example:"1.2.0" doc:"Release version"`
	GitCommit string `json:"git_commit" example:"3f2c1ab" doc:"Git commit the binary was built from"`
	BuildDate string `json:"build_date" example:"2025-01-27T10:30:00Z" doc:"Build timestamp"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go toolchain version"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"Target OS and architecture"`
}

// Get returns version and build information.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String returns the version with the short commit, e.g. "1.2.0 (3f2c1ab)".
func String() string {
	commit := GitCommit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return fmt.Sprintf("%s (%s)", Version, commit)
}

// UserAgent identifies markcam in outgoing HTTP requests.
func UserAgent() string {
	return "markcam/" + Version
}
