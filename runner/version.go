package runner

import "fmt"

// Build metadata, set with -ldflags "-X github.com/sadewadee/leadscope/runner.Version=..."
var (
	Version   = "dev"
	BuildDate = "unknown"
	Commit    = "none"
)

// VersionString formats the build metadata for banners and the version command
func VersionString() string {
	return fmt.Sprintf("v%s (%s) %s", Version, BuildDate, Commit)
}
