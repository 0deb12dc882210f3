// Package version reports the build stamped into the binary with -ldflags.
package version

import "fmt"

// Set at build time:
//
//	go build -ldflags "-X .../internal/version.Version=v1.2.0 -X .../internal/version.Commit=abc123"
var (
	Version   = "dev"
	Commit    = ""
	BuildTime = "unknown"
)

// String is the line printed by `lightspeed --version`.
func String() string {
	if Commit == "" {
		return fmt.Sprintf("lightspeed version %s (built %s)", Version, BuildTime)
	}
	return fmt.Sprintf("lightspeed version %s (commit %s, built %s)", Version, Commit, BuildTime)
}
