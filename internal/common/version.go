package common

// Build metadata, stamped in at link time via -ldflags. Defaults identify a
// from-source build with no release pipeline behind it.
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

func GetVersion() string {
	return Version
}

func GetBuild() string {
	return Build
}

func GetGitCommit() string {
	return GitCommit
}

// GetFullVersion combines the version with the build timestamp when one was
// stamped in.
func GetFullVersion() string {
	if Build == "unknown" {
		return Version
	}
	return Version + "-" + Build
}
