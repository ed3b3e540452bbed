// Package httpreconstruct implements the HTTP Request Reconstructor (C4):
// it turns a stream of raw request-scoped diagnostic events from one or
// more managed processes into time-bucketed per-endpoint aggregates.
package httpreconstruct

import (
	"time"

	"github.com/splax/scenariotel/internal/model"
)

// EventKind classifies a diagnostic event by its name suffix (spec §4.4).
type EventKind int

const (
	EventStart EventKind = iota
	EventStop
	EventFailed
)

// activeRequest is one in-flight request tracked per process.
type activeRequest struct {
	start  time.Time
	method string
	host   string
	path   string
}

// AppConfig is the subset of a managed-app's configuration the
// reconstructor needs: its display label, process name, and HTTP
// monitoring settings.
type AppConfig struct {
	Label                 string
	ProcessName           string
	Enabled               bool
	Grouping              model.EndpointGrouping
	BucketIntervalSeconds float64
	// OrphanSweepSeconds overrides the fixed 5-minute orphan threshold
	// from spec §4.4. Zero means "use the spec default" (supplemented
	// feature, see DESIGN.md).
	OrphanSweepSeconds float64
}

func (a AppConfig) bucketInterval() time.Duration {
	if a.BucketIntervalSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(a.BucketIntervalSeconds * float64(time.Second))
}

func (a AppConfig) orphanThreshold() time.Duration {
	if a.OrphanSweepSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(a.OrphanSweepSeconds * float64(time.Second))
}

const defaultHostLabel = "(unknown)"
