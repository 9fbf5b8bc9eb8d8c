// Package version holds build metadata, set at link time with
// -ldflags "-X github.com/kahiteam/circbuf/internal/version.Version=...".
package version

var (
	Version   = "dev"
	Commit    = "none"
	Date      = "unknown"
	GoVersion = ""
)
