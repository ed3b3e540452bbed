package managedruntime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/splax/scenariotel/internal/model"
	"github.com/splax/scenariotel/internal/store"
)

// classicCounterSource is a single open named counter against the OS
// counter catalog, mirroring internal/counters' counterSource shape.
type classicCounterSource interface {
	Read() (float64, error)
	Close() error
}

// classicPlatform is the seam the classic-runtime poller uses to resolve
// a stable per-pid instance name and open named counters against it
// (spec §4.3 variant: "resolves a stable per-pid instance handle via the
// OS counter catalog").
type classicPlatform interface {
	resolveInstance(processName string, pid uint32) (string, error)
	openCounter(category, counter, instance string) (classicCounterSource, error)
}

// classicCounterSet names the fixed counters read per process, per spec
// §4.3 variant: "heap bytes in all heaps, per-gen collections/sec,
// time-in-GC percent, exceptions/sec, logical thread count".
var classicCounterSet = []struct {
	category string
	counter  string
	field    string
}{
	{".NET CLR Memory", "# Bytes in all Heaps", "gc-heap-size"},
	{".NET CLR Memory", "# Gen 0 Collections", "gen-0-gc-count"},
	{".NET CLR Memory", "# Gen 1 Collections", "gen-1-gc-count"},
	{".NET CLR Memory", "# Gen 2 Collections", "gen-2-gc-count"},
	{".NET CLR Memory", "% Time in GC", "time-in-gc"},
	{".NET CLR Exceptions", "# of Exceps Thrown / sec", "exception-count"},
	{".NET CLR LocksAndThreads", "# of current logical Threads", "threadpool-thread-count"},
}

// ClassicSampler is the Framework-kind polling variant of C3: a single
// background loop ticks at the master rate, re-resolves each configured
// app's live processes, and reads the fixed classic counter set.
type ClassicSampler struct {
	runID  int64
	plat   classicPlatform
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
	tick   time.Duration

	apps map[string]AppConfig

	mu        sync.Mutex
	instances map[uint32]string // pid -> cached instance name
}

// NewClassicSampler constructs the Framework-kind poller.
func NewClassicSampler(runID int64, apps []AppConfig, tick time.Duration, plat classicPlatform, st store.Store, logger *slog.Logger) *ClassicSampler {
	if logger == nil {
		logger = slog.Default()
	}
	if tick <= 0 {
		tick = time.Second
	}
	return &ClassicSampler{
		runID:     runID,
		plat:      plat,
		store:     st,
		logger:    logger,
		now:       time.Now,
		tick:      tick,
		apps:      filterEnabled(apps),
		instances: make(map[uint32]string),
	}
}

// Run drives the poll loop until ctx is cancelled.
func (c *ClassicSampler) Run(ctx context.Context, live func() map[uint32]string) {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx, live())
		}
	}
}

func (c *ClassicSampler) pollOnce(ctx context.Context, liveProcesses map[uint32]string) {
	if len(c.apps) == 0 {
		return
	}
	var samples []model.ManagedRuntimeSample
	for pid, name := range liveProcesses {
		app, ok := c.apps[normalizeProcessName(name)]
		if !ok {
			continue
		}
		sample, ok := c.readOne(app, pid, name)
		if ok {
			samples = append(samples, sample)
		}
	}
	if len(samples) == 0 || c.store == nil {
		return
	}
	if err := c.store.InsertManagedRuntimeSamples(ctx, samples); err != nil {
		c.logger.Warn("failed to persist classic managed runtime samples", "count", len(samples), "error", err)
	}
}

func (c *ClassicSampler) readOne(app AppConfig, pid uint32, processName string) (model.ManagedRuntimeSample, bool) {
	instance, err := c.instanceFor(processName, pid)
	if err != nil {
		c.logger.Debug("failed to resolve classic runtime instance", "pid", pid, "process_name", processName, "error", err)
		return model.ManagedRuntimeSample{}, false
	}

	scr := newScratch()
	any := false
	for _, cc := range classicCounterSet {
		src, err := c.plat.openCounter(cc.category, cc.counter, instance)
		if err != nil {
			c.logger.Debug("failed to open classic runtime counter", "pid", pid, "category", cc.category, "counter", cc.counter, "error", err)
			continue
		}
		v, err := src.Read()
		_ = src.Close()
		if err != nil {
			c.logger.Debug("failed to read classic runtime counter", "pid", pid, "category", cc.category, "counter", cc.counter, "error", err)
			continue
		}
		scr.set(cc.field, v)
		any = true
	}
	if !any {
		return model.ManagedRuntimeSample{}, false
	}

	sample := scr.toSample(c.runID, app.Label, processName, model.RuntimeKindFramework)
	sample.Timestamp = c.now().UTC()
	return sample, true
}

func (c *ClassicSampler) instanceFor(processName string, pid uint32) (string, error) {
	c.mu.Lock()
	if inst, ok := c.instances[pid]; ok {
		c.mu.Unlock()
		return inst, nil
	}
	c.mu.Unlock()

	inst, err := c.plat.resolveInstance(processName, pid)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.instances[pid] = inst
	c.mu.Unlock()
	return inst, nil
}

// Retain drops cached instance names for pids no longer live, mirroring
// lifecycle.CPUDelta.Retain's garbage-collection pattern.
func (c *ClassicSampler) Retain(live map[uint32]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for pid := range c.instances {
		if _, ok := live[pid]; !ok {
			delete(c.instances, pid)
		}
	}
}
