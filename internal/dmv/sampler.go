package dmv

import (
	"context"
	"log/slog"
	"time"

	"github.com/splax/scenariotel/internal/model"
	"github.com/splax/scenariotel/internal/store"
)

// Config is the subset of deep-monitoring configuration C5 needs.
type Config struct {
	Enabled          bool
	ConnectionString string
	IntervalSeconds  float64
}

func (c Config) interval() time.Duration {
	if c.IntervalSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.IntervalSeconds * float64(time.Second))
}

// Sampler polls the relational instance at a fixed interval and emits one
// DMVSample per tick, per spec §4.5.
type Sampler struct {
	runID  int64
	q      querier
	store  store.Store
	logger *slog.Logger
	now    func() time.Time

	cum cumulative

	startTimeCaptured bool
}

// NewSampler constructs the sampler around an already-open querier.
func NewSampler(runID int64, q querier, st store.Store, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		runID:  runID,
		q:      q,
		store:  st,
		logger: logger,
		now:    time.Now,
	}
}

// Run ticks at interval until ctx is cancelled, polling once per tick.
// The background task catches per-tick errors itself, per spec §4.5:
// "the sampler's background task catches exceptions to avoid terminating
// the run".
func (s *Sampler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.captureStartTime(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Sampler) captureStartTime(ctx context.Context) {
	if s.startTimeCaptured || s.store == nil {
		return
	}
	t, err := s.q.serverStartTime(ctx)
	if err != nil {
		s.logger.Warn("failed to read sqlserver start time", "error", err)
		return
	}
	s.startTimeCaptured = true
	marker := &model.Marker{
		RunID:     s.runID,
		Timestamp: s.now().UTC(),
		Type:      model.MarkerTypeAnnotation,
		Level:     model.MarkerLevelInfo,
		Label:     "sqlserver_start_time=" + t.UTC().Format(time.RFC3339),
	}
	if err := s.store.InsertMarker(ctx, marker); err != nil {
		s.logger.Warn("failed to persist sqlserver start time marker", "error", err)
	}
}

func (s *Sampler) pollOnce(ctx context.Context) {
	snap, err := s.q.scalarSnapshot(ctx)
	if err != nil {
		s.logger.Warn("dmv query failed, skipping tick", "error", err)
		return
	}

	now := s.now()
	readStallPerRead, writeStallPerWrite, readBytesPerSec, writeBytesPerSec := s.cum.deriveRates(snap, now)

	sample := &model.DMVSample{
		RunID:                s.runID,
		Timestamp:            now.UTC(),
		ActiveRequestCount:   snap.activeRequests,
		BlockedRequestCount:  snap.blockedRequests,
		UserConnectionCount:  snap.userConnections,
		RunningSessionCount:  snap.runningSessions,
		TopWaitType:          snap.topWaitType,
		TopWaitMS:            snap.topWaitMS,
		TotalWaitMSAllUsers:  snap.totalWaitMSAll,
		ReadStallMSPerRead:   readStallPerRead,
		WriteStallMSPerWrite: writeStallPerWrite,
		ReadBytesPerSec:      readBytesPerSec,
		WriteBytesPerSec:     writeBytesPerSec,
	}

	if s.store == nil {
		return
	}
	if err := s.store.InsertDMVSample(ctx, sample); err != nil {
		s.logger.Warn("failed to persist dmv sample", "error", err)
	}
}

// Close releases the underlying connection.
func (s *Sampler) Close() error {
	if s.q == nil {
		return nil
	}
	return s.q.Close()
}
