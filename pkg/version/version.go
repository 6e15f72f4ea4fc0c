// Package version provides build version information for Recall.
package version

import "fmt"

// These variables are set at build time via -ldflags.
var (
	// Version is the semantic version (e.g., "0.4.1").
	Version = "0.4.1"

	// Commit is the git commit hash.
	Commit = "unknown"

	// Date is the build date.
	Date = "unknown"
)

// Full returns the full version string including commit and date.
func Full() string {
	return fmt.Sprintf("recall %s (commit %s, built %s)", Version, Commit, Date)
}
