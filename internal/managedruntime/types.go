// Package managedruntime implements the Managed Runtime Session (C3):
// for each configured managed application it maintains at most one
// diagnostic session (or, for runtimes without a diagnostic channel, a
// polling reader) per pid, and emits periodic aggregated runtime samples.
package managedruntime

import (
	"strings"

	"github.com/splax/scenariotel/internal/model"
)

// AppConfig is the subset of a managed-app's configuration C3 needs.
type AppConfig struct {
	Label       string
	ProcessName string
	Enabled     bool
}

func normalizeProcessName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimSuffix(name, ".exe")
	name = strings.TrimSuffix(name, ".EXE")
	return strings.ToLower(name)
}

func filterEnabled(apps []AppConfig) map[string]AppConfig {
	out := make(map[string]AppConfig)
	for _, a := range apps {
		if !a.Enabled {
			continue
		}
		out[normalizeProcessName(a.ProcessName)] = a
	}
	return out
}

// scratch accumulates the most recently observed value per counter name
// for one session, per spec §4.3 step 2.
type scratch struct {
	values map[string]float64
}

func newScratch() *scratch { return &scratch{values: make(map[string]float64)} }

func (s *scratch) set(name string, v float64) { s.values[name] = v }
func (s *scratch) get(name string) (float64, bool) {
	v, ok := s.values[name]
	return v, ok
}

// toSample converts the scratch's latest values into a ManagedRuntimeSample,
// applying the byte-to-MB conversions spec §4.3 step 3 requires.
func (s *scratch) toSample(runID int64, appLabel, processName string, kind model.RuntimeKind) model.ManagedRuntimeSample {
	sample := model.ManagedRuntimeSample{
		RunID:       runID,
		AppLabel:    appLabel,
		ProcessName: processName,
		Kind:        kind,
	}
	if v, ok := s.get("gc-heap-size"); ok {
		sample.HeapSizeMB = v / (1024 * 1024)
	}
	if v, ok := s.get("alloc-rate"); ok {
		mb := v / (1024 * 1024)
		sample.AllocationRateMBPerSec = &mb
	}
	if v, ok := s.get("gen-0-gc-count"); ok {
		sample.Gen0CollectionsPerSec = v
	}
	if v, ok := s.get("gen-1-gc-count"); ok {
		sample.Gen1CollectionsPerSec = v
	}
	if v, ok := s.get("gen-2-gc-count"); ok {
		sample.Gen2CollectionsPerSec = v
	}
	if v, ok := s.get("time-in-gc"); ok {
		sample.GCTimePercent = v
	}
	if v, ok := s.get("exception-count"); ok {
		sample.ExceptionRatePerSec = v
	}
	if v, ok := s.get("threadpool-thread-count"); ok {
		sample.ThreadCount = int(v)
		sample.ThreadPoolThreadCount = int(v)
	}
	if v, ok := s.get("threadpool-queue-length"); ok {
		sample.ThreadPoolQueueLength = int(v)
	}
	return sample
}
