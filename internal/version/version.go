// Package version holds build metadata injected with -ldflags, for example
//
//	go build -ldflags "-X github.com/banshee-data/splatcapture/internal/version.Version=1.2.0"
package version

import "fmt"

var (
	// Version is the release version.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the build metadata for the version subcommand and the
// manifest.
func String() string {
	return fmt.Sprintf("%s (%s, built %s)", Version, GitSHA, BuildTime)
}
