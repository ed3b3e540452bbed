package orchestrator

import (
	"strings"

	"github.com/splax/scenariotel/internal/config"
	"github.com/splax/scenariotel/internal/httpreconstruct"
	"github.com/splax/scenariotel/internal/managedruntime"
	"github.com/splax/scenariotel/internal/model"
)

// coreAndHTTPApps converts the configured core (Core-kind managed runtime)
// apps into C3's and C4's own app-config shapes. An app's HTTP monitoring
// is independently toggled by its http_monitoring.enabled flag on top of
// the app's own enabled flag.
func coreAndHTTPApps(apps []config.AppConfig) ([]managedruntime.AppConfig, []httpreconstruct.AppConfig) {
	core := make([]managedruntime.AppConfig, 0, len(apps))
	http := make([]httpreconstruct.AppConfig, 0, len(apps))
	for _, a := range apps {
		core = append(core, managedruntime.AppConfig{
			Label:       a.Name,
			ProcessName: a.ProcessName,
			Enabled:     a.Enabled,
		})
		http = append(http, httpreconstruct.AppConfig{
			Label:                 a.Name,
			ProcessName:           a.ProcessName,
			Enabled:               a.Enabled && a.HTTPMonitoring.Enabled,
			Grouping:              parseGrouping(a.HTTPMonitoring.EndpointGrouping),
			BucketIntervalSeconds: a.HTTPMonitoring.BucketIntervalSeconds,
			OrphanSweepSeconds:    a.HTTPMonitoring.OrphanSweepSeconds,
		})
	}
	return core, http
}

// classicAppConfigs converts the configured Framework-kind apps into the
// classic poller's app-config shape.
func classicAppConfigs(apps []config.AppConfig) []managedruntime.AppConfig {
	out := make([]managedruntime.AppConfig, 0, len(apps))
	for _, a := range apps {
		out = append(out, managedruntime.AppConfig{
			Label:       a.Name,
			ProcessName: a.ProcessName,
			Enabled:     a.Enabled,
		})
	}
	return out
}

func parseGrouping(s string) model.EndpointGrouping {
	if strings.EqualFold(s, string(model.EndpointGroupingHostAndFirstPathSegment)) {
		return model.EndpointGroupingHostAndFirstPathSegment
	}
	return model.EndpointGroupingHostOnly
}
