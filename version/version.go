// Package version reports the build version of the stave binaries.
package version

import "runtime/debug"

// Version is the release version, injected at build time:
//
//	go build -ldflags "-X github.com/jkivinie/stave/version.Version=v1.2.3"
//
// Development builds leave it empty and fall back to the VCS revision.
var Version string

// String returns the version to print for -v flags.
func String() string {
	if Version != "" {
		return Version
	}
	if rev := vcsRevision(); rev != "" {
		return rev
	}
	return "unknown"
}

// vcsRevision reads the short commit hash from the build info, with a
// -dirty suffix when the working tree had local changes.
func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var rev string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		return ""
	}
	if len(rev) > 7 {
		rev = rev[:7]
	}
	if dirty {
		rev += "-dirty"
	}
	return rev
}
