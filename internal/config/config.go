// Package config loads and merges the capture core's configuration.
//
// Layering follows the teacher's own env-first pattern (pkg/config in the
// reference repo) but sourced through koanf so a YAML file can sit under
// environment overrides, matching the config stacks used elsewhere in the
// pack (uubulb-nezha, the collector-contrib receiver family).
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// AppConfig describes one managed application entry (spec §6.3).
type AppConfig struct {
	Name           string
	ProcessName    string
	Enabled        bool
	HTTPMonitoring HTTPMonitoringConfig
}

// HTTPMonitoringConfig configures C4 for a single core app.
type HTTPMonitoringConfig struct {
	Enabled               bool
	EndpointGrouping      string
	BucketIntervalSeconds float64
	OrphanSweepSeconds    float64
}

// DeepMonitoringConfig groups the managed-app and DMV sub-configs (spec §6.3).
type DeepMonitoringConfig struct {
	CoreApps    []AppConfig
	ClassicApps []AppConfig
	DMV         DMVConfig
}

// DMVConfig configures C5.
type DMVConfig struct {
	Enabled               bool
	SampleIntervalSeconds float64
	ConnectionString      string
}

// Config is the flat recognized-option surface from spec §6.3.
type Config struct {
	DatabasePath          string
	SampleIntervalSeconds float64
	ProcessNames          []string
	EnableDiskMetrics     bool
	EnableNetworkMetrics  bool
	SQLConnectionString   string
	EnableDBCounters      bool
	DBConnectionString    string
	DeepMonitoring        DeepMonitoringConfig
}

// Default returns the baseline configuration spec §6.3 names as defaults.
func Default() Config {
	return Config{
		DatabasePath:          "scenariotel.db",
		SampleIntervalSeconds: 1.0,
		EnableDiskMetrics:     true,
		EnableNetworkMetrics:  false,
		DeepMonitoring: DeepMonitoringConfig{
			DMV: DMVConfig{
				SampleIntervalSeconds: 5.0,
			},
		},
	}
}

// Load builds a Config by layering, in order: Default(), an optional YAML
// file at path (skipped if path is empty; a missing file is an error), then environment variables
// prefixed SCENARIOTEL_. The result is NOT yet merged with any CLI-supplied
// override; callers layer that separately via Merge, per spec §6.3, because
// koanf's own map-merge does not implement the spec's OR/replace-if-non-empty
// semantics.
func Load(yamlPath string) (Config, error) {
	k := koanf.New(".")

	cfg := Default()
	defaults := map[string]interface{}{
		"databasepath":          cfg.DatabasePath,
		"sampleintervalseconds": cfg.SampleIntervalSeconds,
		"enablediskmetrics":     cfg.EnableDiskMetrics,
		"enablenetworkmetrics":  cfg.EnableNetworkMetrics,
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return Config{}, err
	}

	if yamlPath != "" {
		if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
			return Config{}, err
		}
	}

	if err := k.Load(env.Provider("SCENARIOTEL_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "SCENARIOTEL_")
		return strings.ReplaceAll(strings.ToLower(s), "_", ".")
	}), nil); err != nil {
		return Config{}, err
	}

	out := Default()
	if err := k.UnmarshalWithConf("", &out, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, err
	}
	return out, nil
}

// Merge layers override on top of base following spec §6.3's merge rule:
// scalar override wins if present/non-default; list override replaces
// baseline only if non-empty; boolean toggles OR together; the DMV
// interval defaults to baseline if override is <= 0.
func Merge(base, override Config) Config {
	out := base

	if override.DatabasePath != "" {
		out.DatabasePath = override.DatabasePath
	}
	if override.SampleIntervalSeconds > 0 {
		out.SampleIntervalSeconds = override.SampleIntervalSeconds
	}
	if len(override.ProcessNames) > 0 {
		out.ProcessNames = override.ProcessNames
	}
	out.EnableDiskMetrics = base.EnableDiskMetrics || override.EnableDiskMetrics
	out.EnableNetworkMetrics = base.EnableNetworkMetrics || override.EnableNetworkMetrics
	if override.SQLConnectionString != "" {
		out.SQLConnectionString = override.SQLConnectionString
	}
	out.EnableDBCounters = base.EnableDBCounters || override.EnableDBCounters
	if override.DBConnectionString != "" {
		out.DBConnectionString = override.DBConnectionString
	}

	if len(override.DeepMonitoring.CoreApps) > 0 {
		out.DeepMonitoring.CoreApps = override.DeepMonitoring.CoreApps
	} else {
		out.DeepMonitoring.CoreApps = base.DeepMonitoring.CoreApps
	}
	if len(override.DeepMonitoring.ClassicApps) > 0 {
		out.DeepMonitoring.ClassicApps = override.DeepMonitoring.ClassicApps
	} else {
		out.DeepMonitoring.ClassicApps = base.DeepMonitoring.ClassicApps
	}

	out.DeepMonitoring.DMV.Enabled = base.DeepMonitoring.DMV.Enabled || override.DeepMonitoring.DMV.Enabled
	if override.DeepMonitoring.DMV.SampleIntervalSeconds > 0 {
		out.DeepMonitoring.DMV.SampleIntervalSeconds = override.DeepMonitoring.DMV.SampleIntervalSeconds
	} else {
		out.DeepMonitoring.DMV.SampleIntervalSeconds = base.DeepMonitoring.DMV.SampleIntervalSeconds
	}
	if override.DeepMonitoring.DMV.ConnectionString != "" {
		out.DeepMonitoring.DMV.ConnectionString = override.DeepMonitoring.DMV.ConnectionString
	} else {
		out.DeepMonitoring.DMV.ConnectionString = base.DeepMonitoring.DMV.ConnectionString
	}

	return out
}

// SampleInterval returns the master tick interval as a time.Duration.
func (c Config) SampleInterval() time.Duration {
	return durationFromSeconds(c.SampleIntervalSeconds)
}

// MonitoredNames returns the union of plain process names and every
// configured managed-app's process name, enabled or not (spec §9 open
// question: intentionally unfiltered by enabled, matching the source's
// observed behavior).
func (c Config) MonitoredNames() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(name string) {
		name = strings.ToLower(strings.TrimSuffix(name, ".exe"))
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, n := range c.ProcessNames {
		add(n)
	}
	for _, app := range c.DeepMonitoring.CoreApps {
		add(app.ProcessName)
	}
	for _, app := range c.DeepMonitoring.ClassicApps {
		add(app.ProcessName)
	}
	return out
}

func durationFromSeconds(s float64) time.Duration {
	if s <= 0 {
		return time.Second
	}
	return time.Duration(s * float64(time.Second))
}
