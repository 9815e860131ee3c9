// Package version holds build information set via -ldflags:
//
//	go build -ldflags "-X github.com/HerbHall/pilethost/internal/version.Version=v0.3.0 \
//	  -X github.com/HerbHall/pilethost/internal/version.GitCommit=$(git rev-parse --short HEAD) \
//	  -X github.com/HerbHall/pilethost/internal/version.BuildDate=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Short returns the version string.
func Short() string {
	return Version
}

// Info returns a one-line human readable description of the build.
func Info() string {
	return fmt.Sprintf("pilethost %s (commit %s, built %s, %s %s/%s)",
		Version, GitCommit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Map returns the build information as key/value pairs.
func Map() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}
