// Package version carries build metadata injected via -ldflags.
package version

var (
	// Version is the current application version.
	// It should be populated by the build system (ldflags).
	Version = "v0.1.0-dev"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)

// String renders the version line printed by the CLI.
func String() string {
	return Version + " (commit: " + Commit + ", built: " + Date + ")"
}
