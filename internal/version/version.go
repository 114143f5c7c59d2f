// Package version identifies the running streamer build.
package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// Overridable with -ldflags "-X .../internal/version.Version=...".
var (
	Name      = "Stellar Connect"
	Version   = "0.1.0"
	BuildTime = ""
	GitCommit = ""
)

// Info describes the build, as served on /api/v1/version.
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GoVersion string `json:"goVersion,omitempty"`
	GitCommit string `json:"gitCommit,omitempty"`
	BuildTime string `json:"buildTime,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
}

// GetInfo returns the build info. Commit and time not given through ldflags
// are taken from the VCS stamp the go tool embeds.
func GetInfo() Info {
	info := Info{
		Name:      Name,
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		stamp(&info, bi)
	}
	return info
}

func stamp(info *Info, bi *debug.BuildInfo) {
	info.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "" {
				info.GitCommit = s.Value
			}
		case "vcs.time":
			if info.BuildTime == "" {
				info.BuildTime = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
}

func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s v%s", i.Name, i.Version)
	if i.GitCommit != "" {
		fmt.Fprintf(&b, " (%s", i.GitCommit[:min(7, len(i.GitCommit))])
		if i.Modified {
			b.WriteString("+dirty")
		}
		b.WriteString(")")
	}
	if i.BuildTime != "" {
		fmt.Fprintf(&b, " built %s", i.BuildTime)
	}
	if i.GoVersion != "" {
		fmt.Fprintf(&b, " %s", i.GoVersion)
	}
	return b.String()
}

// UserAgent is sent on outgoing catalog calls, e.g. "stellar-connect/0.1.0".
func UserAgent() string {
	return strings.ToLower(strings.ReplaceAll(Name, " ", "-")) + "/" + Version
}
