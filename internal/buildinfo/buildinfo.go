// Package buildinfo holds version and build metadata stamped at compile time via ldflags.
package buildinfo

import (
	"fmt"
	"runtime"
)

// These variables are set at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

// String returns a one-line summary for startup logging.
func String() string {
	return fmt.Sprintf("mcp-server-home %s (%s@%s) built %s, %s", Version, GitCommit, GitBranch, BuildTime, runtime.Version())
}

// UserAgent returns an HTTP User-Agent string for outgoing requests,
// following the convention ProductName/Version (+URL).
func UserAgent() string {
	return fmt.Sprintf("mcp-server-home/%s (+https://github.com/rawpurplesmurf/mcp-server-home)", Version)
}
