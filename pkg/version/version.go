// Package version derives the application version string from build
// metadata: an -ldflags override wins, then VCS info from
// debug.ReadBuildInfo, then the "dev" fallback used by `go test` and
// non-git builds.
package version

import "runtime/debug"

// AppName is used in version strings, the startup log, and the Okta client
// user-agent.
const AppName = "oktant"

// commitOverride is injected via -ldflags for container builds where the
// .git directory is not available.
var commitOverride string

// Commit is the short (8 char) git revision, or "dev".
var Commit = resolveCommit()

// Full returns "oktant/<commit>".
func Full() string {
	return AppName + "/" + Commit
}

func resolveCommit() string {
	if commitOverride != "" {
		return shorten(commitOverride)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return shorten(s.Value)
		}
	}
	return "dev"
}

func shorten(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}
