package obs

import (
	"errors"
	"runtime"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
)

const unknownCommit = "unknown"

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version   string
	Commit    string
	GoVersion string
}

var (
	readBuildInfo = debug.ReadBuildInfo

	buildInfoGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Always 1; labels identify the running todo-api binary.",
	}, []string{"version", "commit", "goversion"})
)

// ResolveBuildInfo fills a missing or placeholder commit from the VCS stamp the Go
// toolchain embeds, when there is one.
func ResolveBuildInfo(version, commit string) BuildInfo {
	info := BuildInfo{Version: version, Commit: commit, GoVersion: runtime.Version()}
	if info.Version == "" {
		info.Version = "dev"
	}
	if info.Commit != "" && info.Commit != "dev" {
		return info
	}
	info.Commit = unknownCommit
	bi, ok := readBuildInfo()
	if !ok {
		return info
	}
	dirty := false
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if s.Value != "" {
				info.Commit = s.Value
			}
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if dirty && info.Commit != unknownCommit {
		info.Commit += "-dirty"
	}
	return info
}

// InitBuildInfo exports build_info for the resolved version and commit and returns
// what it exported. Calling it again replaces the previous series.
func InitBuildInfo(version, commit string) BuildInfo {
	if err := prometheus.Register(buildInfoGauge); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			Logger().Warn().Err(err).Msg("register build_info")
		}
	}
	info := ResolveBuildInfo(version, commit)
	buildInfoGauge.Reset()
	buildInfoGauge.WithLabelValues(info.Version, info.Commit, info.GoVersion).Set(1)
	return info
}
