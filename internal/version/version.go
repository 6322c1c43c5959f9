package version

import (
	"runtime"

	"github.com/mitchellh/mapstructure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// set through ldflags at build time
var (
	GitCommit  = "unknown"
	GitBranch  = "unknown"
	GitSummary = "unknown"
	BuildDate  = "unknown"
	AppVersion = "dev"
)

type Version struct {
	GitCommit  string `mapstructure:"git_commit" json:"git_commit"`
	GitBranch  string `mapstructure:"git_branch" json:"git_branch"`
	GitSummary string `mapstructure:"git_summary" json:"git_summary"`
	BuildDate  string `mapstructure:"build_date" json:"build_date"`
	AppVersion string `mapstructure:"app_version" json:"app_version"`
	GoVersion  string `mapstructure:"go_version" json:"go_version"`
}

func Current() *Version {
	return &Version{
		GitBranch:  GitBranch,
		GitCommit:  GitCommit,
		GitSummary: GitSummary,
		BuildDate:  BuildDate,
		AppVersion: AppVersion,
		GoVersion:  runtime.Version(),
	}
}

// AsMap returns the version fields keyed by their mapstructure names.
func (v *Version) AsMap() (map[string]any, error) {
	m := map[string]any{}
	if err := mapstructure.Decode(v, &m); err != nil {
		return nil, err
	}

	return m, nil
}

func (v *Version) AsLogFields() []any {
	return []any{
		"version", v.AppVersion,
		"commit", v.GitCommit,
		"branch", v.GitBranch,
		"buildDate", v.BuildDate,
	}
}

// ExportBuildInfoMetric publishes the build information as a constant gauge.
func ExportBuildInfoMetric() {
	buildInfo := promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "romxfer_build_info",
			Help: "A metric with a constant '1' value, labeled by version, revision and branch",
			ConstLabels: prometheus.Labels{
				"version":   AppVersion,
				"revision":  GitCommit,
				"branch":    GitBranch,
				"goversion": runtime.Version(),
			},
		},
	)

	buildInfo.Set(1)
}
