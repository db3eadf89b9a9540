// Package version holds build-time version metadata, populated via
// -ldflags -X at build time and otherwise defaulting to placeholder
// values for local/dev builds.
package version

import "fmt"

// These are overridden at build time with:
//
//	go build -ldflags "-X github.com/bbockelm/lsfspool/version.Version=1.2.3 \
//	  -X github.com/bbockelm/lsfspool/version.Commit=abcdef0 \
//	  -X github.com/bbockelm/lsfspool/version.BuildDate=2026-01-01"
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String renders the version metadata the way -V prints it.
func String() string {
	return fmt.Sprintf("lsfspool %s (commit %s, built %s)", Version, Commit, BuildDate)
}
