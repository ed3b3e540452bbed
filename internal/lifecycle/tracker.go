package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/splax/scenariotel/internal/model"
	"github.com/splax/scenariotel/internal/store"
)

type activeEntry struct {
	name      string
	unsubExit func()
}

// Tracker is the Process Lifecycle Tracker (C2).
type Tracker struct {
	plat   platform
	store  store.Store
	runID  int64
	logger *slog.Logger
	now    func() time.Time

	monitored map[string]struct{}

	mu     sync.Mutex
	active map[uint32]*activeEntry

	arrivalSubs []func(pid uint32, name string)

	unsubStart func()
}

// New constructs a Tracker for the given monitored process names (spec
// §4.2: "compared case-insensitively, with file extensions stripped").
func New(runID int64, monitoredNames []string, st store.Store, logger *slog.Logger, plat platform) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	monitored := make(map[string]struct{}, len(monitoredNames))
	for _, n := range monitoredNames {
		monitored[normalizeName(n)] = struct{}{}
	}
	return &Tracker{
		plat:      plat,
		store:     st,
		runID:     runID,
		logger:    logger,
		now:       time.Now,
		monitored: monitored,
		active:    make(map[uint32]*activeEntry),
	}
}

func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimSuffix(name, ".exe")
	name = strings.TrimSuffix(name, ".EXE")
	return strings.ToLower(name)
}

// OnArrival registers a callback invoked for every arrival (seeded or
// subscribed) whose process name is monitored. Used by C3/C4 to attach.
func (t *Tracker) OnArrival(fn func(pid uint32, name string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.arrivalSubs = append(t.arrivalSubs, fn)
}

// Start seeds the active set from current processes and subscribes to the
// OS start-event stream. Per spec §4.2, a subscription failure degrades to
// seed-only operation rather than aborting.
func (t *Tracker) Start(ctx context.Context) error {
	procs, err := t.plat.enumerateProcesses()
	if err != nil {
		return fmt.Errorf("enumerate processes: %w", err)
	}
	for _, p := range procs {
		if t.isMonitored(p.Name) {
			t.arrival(ctx, p)
		}
	}

	unsub, err := t.plat.subscribeStart(func(p processInfo) {
		if t.isMonitored(p.Name) {
			t.arrival(ctx, p)
		}
	})
	if err != nil {
		t.logger.Warn("process start subscription unavailable, continuing seed-only", "error", err)
		return nil
	}
	t.unsubStart = unsub
	return nil
}

func (t *Tracker) isMonitored(name string) bool {
	_, ok := t.monitored[normalizeName(name)]
	return ok
}

// arrival implements spec §4.2's arrival handler, including the
// already-exited race closed inside the mutex.
func (t *Tracker) arrival(ctx context.Context, p processInfo) {
	t.mu.Lock()

	if _, already := t.active[p.PID]; already {
		t.mu.Unlock()
		return
	}

	handle, err := t.plat.openProcess(p.PID, p.Name)
	if err != nil {
		t.mu.Unlock()
		t.logger.Debug("failed to open arriving process", "pid", p.PID, "name", p.Name, "error", err)
		return
	}

	entry := &activeEntry{name: p.Name}
	t.active[p.PID] = entry

	unsubExit, err := t.plat.subscribeExit(p.PID, func() {
		t.exit(ctx, p.PID)
	})
	if err != nil {
		t.logger.Debug("failed to subscribe to process exit", "pid", p.PID, "error", err)
	} else {
		entry.unsubExit = unsubExit
	}

	t.emitMarker(ctx, model.MarkerTypeProcessStarted, model.MarkerLevelInfo,
		fmt.Sprintf("Process %s (PID %d) started.", p.Name, p.PID))

	exited, code, err := handle.ExitCode()
	alreadyExited := err == nil && exited
	if alreadyExited {
		delete(t.active, p.PID)
	}
	_ = handle.Close()
	t.mu.Unlock()

	if alreadyExited {
		if entry.unsubExit != nil {
			entry.unsubExit()
		}
		t.emitMarker(ctx, model.MarkerTypeProcessExited, model.MarkerLevelInfo, exitLabel(p.Name, p.PID, code))
		return
	}

	for _, fn := range t.snapshotArrivalSubs() {
		fn(p.PID, p.Name)
	}
}

func (t *Tracker) snapshotArrivalSubs() []func(uint32, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]func(uint32, string), len(t.arrivalSubs))
	copy(out, t.arrivalSubs)
	return out
}

// exit implements spec §4.2's exit handler.
func (t *Tracker) exit(ctx context.Context, pid uint32) {
	t.mu.Lock()
	entry, ok := t.active[pid]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.active, pid)
	name := entry.name
	t.mu.Unlock()

	var code *int
	if handle, err := t.plat.openProcess(pid, name); err == nil {
		if _, c, err := handle.ExitCode(); err == nil {
			code = c
		}
		_ = handle.Close()
	}

	t.emitMarker(ctx, model.MarkerTypeProcessExited, model.MarkerLevelInfo, exitLabel(name, pid, code))
}

func exitLabel(name string, pid uint32, code *int) string {
	if code == nil {
		return fmt.Sprintf("Process %s (PID %d) exited.", name, pid)
	}
	return fmt.Sprintf("Process %s (PID %d) exited with code %d.", name, pid, *code)
}

func (t *Tracker) emitMarker(ctx context.Context, typ model.MarkerType, level model.MarkerLevel, label string) {
	if t.store == nil {
		return
	}
	marker := &model.Marker{
		RunID:     t.runID,
		Timestamp: t.now().UTC(),
		Type:      typ,
		Level:     level,
		Label:     label,
	}
	if err := t.store.InsertMarker(ctx, marker); err != nil {
		t.logger.Warn("failed to persist marker", "label", label, "error", err)
	}
}

// ActiveSnapshot returns a point-in-time copy of live process handles. The
// caller owns each returned handle and must Close it after use (spec §5).
func (t *Tracker) ActiveSnapshot() []ProcessHandle {
	t.mu.Lock()
	ids := make(map[uint32]string, len(t.active))
	for pid, e := range t.active {
		ids[pid] = e.name
	}
	t.mu.Unlock()

	handles := make([]ProcessHandle, 0, len(ids))
	for pid, name := range ids {
		handle, err := t.plat.openProcess(pid, name)
		if err != nil {
			if isNoSuchProcess(err) {
				t.mu.Lock()
				delete(t.active, pid)
				t.mu.Unlock()
			}
			continue
		}
		handles = append(handles, handle)
	}
	return handles
}

// LivePIDs returns the set of currently active pids, used by the
// Orchestrator to trim stale per-pid CPU delta state (spec §4.2).
func (t *Tracker) LivePIDs() map[uint32]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[uint32]struct{}, len(t.active))
	for pid := range t.active {
		out[pid] = struct{}{}
	}
	return out
}

// Close tears down the start-event subscription and every per-pid exit
// subscription. Idempotent.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.unsubStart != nil {
		t.unsubStart()
		t.unsubStart = nil
	}
	for _, e := range t.active {
		if e.unsubExit != nil {
			e.unsubExit()
			e.unsubExit = nil
		}
	}
}

type noSuchProcessError interface {
	NoSuchProcess() bool
}

func isNoSuchProcess(err error) bool {
	nsp, ok := err.(noSuchProcessError)
	return ok && nsp.NoSuchProcess()
}
