// Package version holds the build-time identity of the ZTP engine binary.
package version

var (
	// Name is the program name used in flag usage and log prefixes.
	Name = "sonic-ztp"

	// Version is the semantic version of this build.
	Version = "2.0.0"

	// VersionPrerelease is appended to Version for non-GA builds.
	VersionPrerelease = ""

	// GitCommit is set by the build process.
	GitCommit string
)

// HumanVersion formats the version information for display to an operator.
func HumanVersion() string {
	v := Name + " v" + Version
	if VersionPrerelease != "" {
		v += "-" + VersionPrerelease
	}
	if GitCommit != "" {
		v += " (" + GitCommit + ")"
	}
	return v
}
