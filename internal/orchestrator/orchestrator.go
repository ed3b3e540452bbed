// Package orchestrator implements the Sampling Orchestrator (C6): it owns
// the run, the master tick, and the composition of the Counter Reader,
// Process Lifecycle Tracker, Managed Runtime Sessions (and its classic
// variant), HTTP Reconstructor, and Relational DMV Sampler under one
// clock and one cancellation scope.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/splax/scenariotel/internal/config"
	"github.com/splax/scenariotel/internal/counters"
	"github.com/splax/scenariotel/internal/diagnostics"
	"github.com/splax/scenariotel/internal/dmv"
	"github.com/splax/scenariotel/internal/httpreconstruct"
	"github.com/splax/scenariotel/internal/lifecycle"
	"github.com/splax/scenariotel/internal/managedruntime"
	"github.com/splax/scenariotel/internal/model"
	"github.com/splax/scenariotel/internal/store"
)

// HostFacts is the subset of Run's host metadata the Orchestrator
// populates at open (spec §4.6 step 1, reusing C1's host-info source per
// SPEC_FULL.md's supplemented features).
type HostFacts struct {
	MachineName       string
	OSIdentifier      string
	LogicalCores      int
	CPUModel          string
	TotalPhysicalMB   float64
	SystemDriveType   string
	SystemDriveFreeMB float64
	UptimeAtStart     time.Duration
}

// Orchestrator composes C1-C5 under one tick clock and one cancellation scope.
type Orchestrator struct {
	cfg    config.Config
	store  store.Store
	logger *slog.Logger

	run   *model.Run
	runID int64

	reader   *counters.Reader
	tracker  *lifecycle.Tracker
	sessions *managedruntime.Sessions
	classic  *managedruntime.ClassicSampler
	http     *httpreconstruct.Reconstructor
	dmv      *dmv.Sampler

	cpuDelta *lifecycle.CPUDelta

	channel diagnostics.Channel
	facts   HostFacts

	now func() time.Time
}

// New constructs the Orchestrator. channel is the shared diagnostic
// channel C3 and C4 attach through; callers typically pass
// eventpipe.NewClient(). hostFacts supplies the host metadata the run
// record is opened with.
func New(cfg config.Config, st store.Store, logger *slog.Logger, channel diagnostics.Channel, hostFacts HostFacts) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:      cfg,
		store:    st,
		logger:   logger,
		cpuDelta: lifecycle.NewCPUDelta(runtime.NumCPU()),
		now:      time.Now,
		channel:  channel,
		facts:    hostFacts,
	}
}

// Open opens the run record (spec §4.6 step 1) and returns the assigned id.
func (o *Orchestrator) Open(ctx context.Context, scenario, notes string, workload model.WorkloadDescriptor, configSnapshot, toolVersion string) (int64, error) {
	run := &model.Run{
		MachineName:       o.facts.MachineName,
		OSIdentifier:      o.facts.OSIdentifier,
		LogicalCores:      o.facts.LogicalCores,
		CPUModel:          o.facts.CPUModel,
		TotalPhysicalMB:   o.facts.TotalPhysicalMB,
		SystemDriveType:   o.facts.SystemDriveType,
		SystemDriveFreeMB: o.facts.SystemDriveFreeMB,
		UptimeAtStart:     o.facts.UptimeAtStart,
		Scenario:          scenario,
		Notes:             notes,
		Workload:          workload,
		ConfigSnapshot:    configSnapshot,
		ToolVersion:       toolVersion,
		StartedAt:         o.now().UTC(),
	}
	id, err := o.store.InsertRun(ctx, run)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	run.ID = id
	o.run = run
	o.runID = id
	return id, nil
}

// Start builds and starts every component, in the dependency order spec
// §4.6 step 3 names: C2, C3, C4, the classic variant of C3, then C5 (only
// if enabled and a connection string is present). It wires arrival events
// from C2 into C3/C4's attach entry points and invokes AttachExisting once
// subscription is in place (step 4).
func (o *Orchestrator) Start(ctx context.Context, eg *errgroup.Group) error {
	o.reader = counters.New(counters.Config{
		EnableDisk:    o.cfg.EnableDiskMetrics,
		EnableNetwork: o.cfg.EnableNetworkMetrics,
	}, o.logger.With("component", "counters"), counters.Platform())

	o.tracker = lifecycle.New(o.runID, o.cfg.MonitoredNames(), o.store, o.logger.With("component", "lifecycle"), lifecycle.Platform())

	coreApps, httpApps := coreAndHTTPApps(o.cfg.DeepMonitoring.CoreApps)
	classicApps := classicAppConfigs(o.cfg.DeepMonitoring.ClassicApps)

	o.sessions = managedruntime.NewSessions(o.runID, coreApps, o.cfg.SampleInterval(), o.channel, o.store, o.logger.With("component", "managedruntime"))
	o.http = httpreconstruct.New(o.runID, httpApps, o.channel, o.store, o.logger.With("component", "httpreconstruct"))
	o.classic = managedruntime.NewClassicSampler(o.runID, classicApps, o.cfg.SampleInterval(), managedruntime.NewClassicPlatform(), o.store, o.logger.With("component", "managedruntime-classic"))

	o.tracker.OnArrival(func(pid uint32, name string) {
		o.sessions.NotifyProcessStarted(ctx, pid, name)
		o.http.NotifyProcessStarted(ctx, pid, name)
	})

	if err := o.tracker.Start(ctx); err != nil {
		return fmt.Errorf("start lifecycle tracker: %w", err)
	}

	liveNamed := make(map[uint32]string)
	o.withActiveNames(func(pid uint32, name string) {
		liveNamed[pid] = name
	})
	o.sessions.AttachExisting(ctx, liveNamed)
	o.http.AttachExisting(ctx, liveNamed)

	eg.Go(func() error {
		o.http.Run(ctx)
		return nil
	})
	eg.Go(func() error {
		o.classic.Run(ctx, func() map[uint32]string {
			out := make(map[uint32]string)
			o.withActiveNames(func(pid uint32, name string) { out[pid] = name })
			return out
		})
		return nil
	})

	if o.cfg.DeepMonitoring.DMV.Enabled && o.cfg.DeepMonitoring.DMV.ConnectionString != "" {
		q, err := dmv.Open(ctx, o.cfg.DeepMonitoring.DMV.ConnectionString, 5*time.Second)
		if err != nil {
			o.logger.Warn("failed to open dmv connection, disabling relational sampling", "error", err)
		} else {
			o.dmv = dmv.NewSampler(o.runID, q, o.store, o.logger.With("component", "dmv"))
			interval := time.Duration(o.cfg.DeepMonitoring.DMV.SampleIntervalSeconds * float64(time.Second))
			eg.Go(func() error {
				o.dmv.Run(ctx, interval)
				return nil
			})
		}
	}

	return nil
}

// withActiveNames snapshots live processes and invokes fn(pid, name) for
// each, closing handles immediately afterward.
func (o *Orchestrator) withActiveNames(fn func(pid uint32, name string)) {
	handles := o.tracker.ActiveSnapshot()
	defer func() {
		for _, h := range handles {
			_ = h.Close()
		}
	}()
	for _, h := range handles {
		fn(h.PID(), h.Name())
	}
}

// Tick executes one iteration of spec §4.6 step 5.
func (o *Orchestrator) Tick(ctx context.Context, interval time.Duration) {
	snap := o.reader.Snapshot(interval)

	sysSample := &model.SystemSample{
		RunID:                  o.runID,
		Timestamp:              snap.Timestamp,
		CPUTotalPercent:        snap.CPUTotalPercent,
		MemoryUsedMB:           snap.MemoryUsedMB,
		MemoryAvailableMB:      snap.MemoryAvailableMB,
		DiskReadsPerSec:        snap.DiskReadsPerSec,
		DiskWritesPerSec:       snap.DiskWritesPerSec,
		DiskReadBytesPerSec:    snap.DiskReadBytesPerSec,
		DiskWriteBytesPerSec:   snap.DiskWriteBytesPerSec,
		NetBytesSentPerSec:     snap.NetBytesSentPerSec,
		NetBytesReceivedPerSec: snap.NetBytesReceivedPerSec,
	}
	systemSampleID, err := o.store.InsertSystemSample(ctx, sysSample)
	if err != nil {
		o.logger.Warn("failed to persist system sample", "error", err)
	}

	handles := o.tracker.ActiveSnapshot()
	live := make(map[uint32]struct{}, len(handles))
	for _, h := range handles {
		live[h.PID()] = struct{}{}
	}
	o.cpuDelta.Retain(live)
	o.classic.Retain(live)

	groups := make(map[string]*processAggregate)
	var order []string
	for _, h := range handles {
		agg, ok := groups[h.Name()]
		if !ok {
			agg = &processAggregate{}
			groups[h.Name()] = agg
			order = append(order, h.Name())
		}
		o.aggregateOne(h, interval, agg)
	}
	for _, h := range handles {
		_ = h.Close()
	}

	if len(groups) == 0 || err != nil {
		// Either no processes matched this tick, or the parent system
		// sample failed to persist; either way there is nothing a
		// process sample could correctly attach to.
		return
	}

	samples := buildProcessSamples(systemSampleID, order, groups)
	if err := o.store.InsertProcessSamples(ctx, samples); err != nil {
		o.logger.Warn("failed to persist process samples", "error", err)
	}
}

// buildProcessSamples stamps every aggregated group with its parent system
// sample's id (spec §8: every Process Sample has a parent System Sample)
// and returns them in a deterministic, name-sorted order.
func buildProcessSamples(systemSampleID int64, order []string, groups map[string]*processAggregate) []model.ProcessSample {
	sort.Strings(order)
	samples := make([]model.ProcessSample, 0, len(order))
	for _, name := range order {
		agg := groups[name]
		samples = append(samples, model.ProcessSample{
			SystemSampleID: systemSampleID,
			ProcessName:    name,
			CPUPercent:     agg.cpuPercent,
			WorkingSetMB:   agg.workingSetMB,
			PrivateBytesMB: agg.privateBytesMB,
			ThreadCount:    agg.threadCount,
			HandleCount:    agg.handleCount,
		})
	}
	return samples
}

type processAggregate struct {
	cpuPercent     float64
	workingSetMB   float64
	privateBytesMB float64
	threadCount    int
	handleCount    int
}

func (o *Orchestrator) aggregateOne(h lifecycle.ProcessHandle, interval time.Duration, agg *processAggregate) {
	cpuTime, err := h.CPUTime()
	if err != nil {
		o.logger.Debug("failed to read process cpu time", "pid", h.PID(), "error", err)
		return
	}
	ws, err := h.WorkingSetMB()
	if err != nil {
		o.logger.Debug("failed to read working set", "pid", h.PID(), "error", err)
		return
	}
	priv, err := h.PrivateBytesMB()
	if err != nil {
		o.logger.Debug("failed to read private bytes", "pid", h.PID(), "error", err)
		return
	}
	threads, err := h.ThreadCount()
	if err != nil {
		o.logger.Debug("failed to read thread count", "pid", h.PID(), "error", err)
		return
	}
	handles, err := h.HandleCount()
	if err != nil {
		o.logger.Debug("failed to read handle count", "pid", h.PID(), "error", err)
		return
	}

	agg.cpuPercent += o.cpuDelta.Percent(h.PID(), cpuTime, interval)
	agg.workingSetMB += ws
	agg.privateBytesMB += priv
	agg.threadCount += threads
	agg.handleCount += handles
}

// Run drives the periodic master tick until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	interval := o.cfg.SampleInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Tick(ctx, interval)
		}
	}
}

// Close disposes every component in the order spec §4.6 step 6 names: C5,
// C4 (final flush), C3, C2, C1, then stamps the run's end timestamp and
// duration. The classic C3 variant has no dispose step; its poll loop ends
// when the context passed to Start is cancelled.
func (o *Orchestrator) Close(ctx context.Context) {
	const disposeTimeout = time.Second

	runWithTimeout := func(fn func()) {
		done := make(chan struct{})
		go func() {
			fn()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(disposeTimeout):
		}
	}

	if o.dmv != nil {
		runWithTimeout(func() { _ = o.dmv.Close() })
	}
	if o.http != nil {
		runWithTimeout(func() { o.http.Close(ctx) })
	}
	if o.sessions != nil {
		runWithTimeout(o.sessions.Close)
	}
	if o.tracker != nil {
		runWithTimeout(o.tracker.Close)
	}
	if o.reader != nil {
		runWithTimeout(func() { _ = o.reader.Close() })
	}

	if o.run == nil {
		return
	}
	end := o.now().UTC()
	duration := end.Sub(o.run.StartedAt)
	if err := o.store.UpdateRunEnd(ctx, o.runID, end, duration); err != nil {
		o.logger.Warn("failed to update run end", "error", err)
	}
}
