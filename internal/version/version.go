// Package version contains build version information set via ldflags.
package version

// Version is the current application version.
var Version = "0.1.0"

// GitCommit is the git commit hash.
var GitCommit = "unknown"

// BuildDate is the build date.
var BuildDate = "unknown"

// String returns a human-readable version line.
func String() string {
	return Version + " (" + GitCommit + ", built " + BuildDate + ")"
}
