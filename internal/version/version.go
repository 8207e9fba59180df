// Package version holds build metadata stamped in with -ldflags.
package version

import "fmt"

// Set at build time:
//
//	go build -ldflags "-X github.com/daviddyess/iptoasn/internal/version.Version=v1.2.0"
var (
	Version = "dev"
	Commit  = "none"
)

// UserAgent is sent on every request to the source table host.
func UserAgent() string {
	return "iptoasn/" + Version
}

// String returns a human readable version line for CLI output.
func String() string {
	return fmt.Sprintf("iptoasn %s (%s)", Version, Commit)
}
