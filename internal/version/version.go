// Package version exposes build metadata for the fantoche binary.
//
// Release builds set it at link time:
//
//	go build -ldflags "-X github.com/hupe1980/fantoche/internal/version.version=v0.3.0 \
//	  -X github.com/hupe1980/fantoche/internal/version.gitCommit=$(git rev-parse HEAD)"
//
// Binaries installed with `go install ...@version` carry no ldflags; their
// module version and VCS stamp are read from the embedded build info instead.
package version

import (
	"fmt"
	"regexp"
	"runtime"
	"runtime/debug"

	"github.com/Masterminds/semver/v3"
)

// Build-time values injected via -ldflags.
var (
	version   = "dev"
	gitCommit = "none"
	buildDate = "unknown"
)

const (
	devVersion     = "dev"
	shortCommitLen = 7
)

// pseudoSuffix matches the timestamp and revision that end the prerelease
// of a Go pseudo-version.
var pseudoSuffix = regexp.MustCompile(`(^|\.)\d{14}-[0-9a-f]{12}$`)

// Info holds the build metadata for the binary.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildDate string `json:"buildDate"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// GetInfo returns the current build information.
func GetInfo() Info {
	info := Info{
		Version:   version,
		GitCommit: gitCommit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		info = withBuildInfo(info, bi)
	}

	info.GitCommit = shortCommit(info.GitCommit)

	return info
}

// withBuildInfo fills the fields that ldflags left at their defaults.
func withBuildInfo(info Info, bi *debug.BuildInfo) Info {
	if info.Version == devVersion && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}

	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "none" {
				info.GitCommit = s.Value
			}
		case "vcs.time":
			if info.BuildDate == "unknown" {
				info.BuildDate = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}

	return info
}

// String returns a human-readable single-line version string.
func (i Info) String() string {
	commit := i.GitCommit
	if i.Modified {
		commit += ", modified"
	}

	return fmt.Sprintf("fantoche %s (%s) built %s with %s for %s",
		i.Version, commit, i.BuildDate, i.GoVersion, i.Platform)
}

// Short returns the bare version, with the commit appended for development
// builds so that two dev binaries can be told apart.
func (i Info) Short() string {
	if i.IsRelease() || i.GitCommit == "" || i.GitCommit == "none" {
		return i.Version
	}

	return i.Version + "+" + i.GitCommit
}

// IsRelease reports whether the binary was built from a tagged version.
// Pseudo-versions produced by `go install ...@<commit>` are not releases.
func (i Info) IsRelease() bool {
	v, err := semver.NewVersion(i.Version)
	if err != nil {
		return false
	}

	return !pseudoSuffix.MatchString(v.Prerelease())
}

func shortCommit(commit string) string {
	if len(commit) > shortCommitLen {
		return commit[:shortCommitLen]
	}

	return commit
}
