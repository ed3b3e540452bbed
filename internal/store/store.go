// Package store defines the capture core's downstream persistence surface
// (spec §6.2). It is intentionally narrow: the physical schema is out of
// scope for this spec, so Store exposes only the write operations a
// capture run needs, the same way the teacher's repository package exposes
// narrow per-aggregate interfaces (api/internal/repository/repository.go)
// rather than a generic CRUD surface.
package store

import (
	"context"
	"time"

	"github.com/splax/scenariotel/internal/model"
)

// Store is the thread-safe persistence boundary the Orchestrator and every
// component writes through. Every method must be safe for concurrent use by
// multiple goroutines, matching spec §5's "store: thread-safe; concurrent
// writers expected."
type Store interface {
	InsertRun(ctx context.Context, run *model.Run) (int64, error)
	UpdateRunEnd(ctx context.Context, runID int64, endedAt time.Time, duration time.Duration) error

	InsertSystemSample(ctx context.Context, sample *model.SystemSample) (int64, error)
	InsertProcessSamples(ctx context.Context, samples []model.ProcessSample) error

	InsertMarker(ctx context.Context, marker *model.Marker) error

	InsertManagedRuntimeSamples(ctx context.Context, samples []model.ManagedRuntimeSample) error
	InsertHTTPSamples(ctx context.Context, samples []model.HTTPSample) error
	InsertDMVSample(ctx context.Context, sample *model.DMVSample) error

	Close() error
}
