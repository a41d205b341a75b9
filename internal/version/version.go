// Package version holds build metadata, set at link time with
// -ldflags "-X github.com/banshee-data/scenecapture/internal/version.Version=...".
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String renders the build metadata on one line.
func String() string {
	return fmt.Sprintf("scenecapture %s (commit %s, built %s, %s)", Version, GitSHA, BuildTime, runtime.Version())
}
