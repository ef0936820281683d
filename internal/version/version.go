// Package version holds build-time identification, overridden via
// -ldflags "-X github.com/collarhub/collarhub/internal/version.Version=...".
package version

var (
	Version = "dev"
	Commit  = "unknown"
)
