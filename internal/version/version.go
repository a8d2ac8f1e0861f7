// Package version exposes build metadata.
package version

import (
	"fmt"
	"runtime"
)

// Set at link time:
//
//	go build -ldflags "-X github.com/soyeahso/conductor/internal/version.Version=0.3.0
//	  -X github.com/soyeahso/conductor/internal/version.Commit=$(git rev-parse HEAD)"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Build is the machine-readable form of the build metadata.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the current build metadata.
func Get() Build {
	return Build{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Info returns a one-line description of the build.
func Info() string {
	b := Get()
	return fmt.Sprintf("conductor %s (%s, built %s, %s %s)",
		b.Version, abbrev(b.Commit), b.Date, b.GoVersion, b.Platform)
}

func abbrev(commit string) string {
	const n = 7
	if len(commit) <= n {
		return commit
	}
	return commit[:n]
}
