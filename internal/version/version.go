// Package version contains build version information.
package version

// Set at build time via -ldflags "-X ...".
var (
	// Version is the release version of the binary.
	Version = "0.0.0"

	// GitCommit is the git commit hash the binary was built from.
	GitCommit = "unknown"

	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)

// String returns a single-line human-readable version string.
func String() string {
	return Version + " (" + GitCommit + ", " + BuildDate + ")"
}
