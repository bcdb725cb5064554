package version

import (
	"fmt"

	"github.com/coreos/go-semver/semver"
)

// Name is the program name used in manifests and version output.
const Name = "avbguard"

var (
	// Version is the semantic version of the build. It can be overridden via ldflags.
	Version = "0.3.0"
	// Commit is the short git SHA embedded at build time (or "none").
	Commit = "none"
	// BuildTime is the UTC build timestamp embedded at build time.
	BuildTime = "unknown"
)

// Short returns only the semantic version string.
func Short() string {
	return Version
}

// Full returns a human-readable version string with commit and build time.
func Full() string {
	return fmt.Sprintf("%s version: %s, commit: %s, built at: %s", Name, Version, Commit, BuildTime)
}

// Tool returns "avbguard/<version>". A Version that is not valid semver,
// e.g. a bare git describe, is recorded as 0.0.0+<value>.
func Tool() string {
	v, err := semver.NewVersion(Version)
	if err != nil {
		v = &semver.Version{Metadata: Version}
	}

	return Name + "/" + v.String()
}
