package httpreconstruct

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/splax/scenariotel/internal/diagnostics"
	"github.com/splax/scenariotel/internal/model"
	"github.com/splax/scenariotel/internal/store"
)

// networkingProvider is the diagnostic provider name requested for the
// HTTP events stream (spec §6.1's "networking/HTTP-events provider").
const networkingProvider = "Microsoft-AspNetCore-Hosting"

// perProcessSession is one attached pid's event-processing task and its
// active-request map (spec §4.4, §5: "lock-free concurrent mapping; per-process").
type perProcessSession struct {
	pid     uint32
	app     AppConfig
	active  sync.Map // correlationID string -> *activeRequest
	session diagnostics.Session
	cancel  context.CancelFunc
}

// Reconstructor is the HTTP Request Reconstructor (C4).
type Reconstructor struct {
	runID   int64
	channel diagnostics.Channel
	store   store.Store
	logger  *slog.Logger
	now     func() time.Time

	apps map[string]AppConfig // normalized process name -> config

	aggregator *bucketAggregator

	mu       sync.Mutex
	attached map[uint32]*perProcessSession // at-most-once per pid

	flushInterval time.Duration
	orphanEvery   time.Duration

	wg sync.WaitGroup
}

// New constructs a Reconstructor for the given HTTP-monitoring-enabled
// apps. Apps with HTTP monitoring disabled are filtered out at
// construction, matching C3's "filter to enabled entries only" strategy.
func New(runID int64, apps []AppConfig, ch diagnostics.Channel, st store.Store, logger *slog.Logger) *Reconstructor {
	if logger == nil {
		logger = slog.Default()
	}
	filtered := make(map[string]AppConfig)
	minBucket := time.Duration(0)
	for _, a := range apps {
		if !a.Enabled {
			continue
		}
		filtered[normalizeProcessName(a.ProcessName)] = a
		bi := a.bucketInterval()
		if minBucket == 0 || bi < minBucket {
			minBucket = bi
		}
	}
	flushInterval := minBucket
	if flushInterval < time.Second {
		flushInterval = time.Second
	}
	return &Reconstructor{
		runID:         runID,
		channel:       ch,
		store:         st,
		logger:        logger,
		now:           time.Now,
		apps:          filtered,
		aggregator:    newBucketAggregator(),
		attached:      make(map[uint32]*perProcessSession),
		flushInterval: flushInterval,
		orphanEvery:   5 * time.Minute,
	}
}

func normalizeProcessName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimSuffix(name, ".exe")
	name = strings.TrimSuffix(name, ".EXE")
	return strings.ToLower(name)
}

// AttachExisting enumerates the given live processes and attaches to any
// matching a configured app (spec §4.3's attach strategy, shared by C4).
func (r *Reconstructor) AttachExisting(ctx context.Context, live map[uint32]string) {
	for pid, name := range live {
		if _, ok := r.apps[normalizeProcessName(name)]; ok {
			r.attach(ctx, pid, name)
		}
	}
}

// NotifyProcessStarted attaches to a newly arrived process if its name
// matches a configured app.
func (r *Reconstructor) NotifyProcessStarted(ctx context.Context, pid uint32, name string) {
	if _, ok := r.apps[normalizeProcessName(name)]; ok {
		r.attach(ctx, pid, name)
	}
}

func (r *Reconstructor) attach(ctx context.Context, pid uint32, name string) {
	r.mu.Lock()
	if _, already := r.attached[pid]; already {
		r.mu.Unlock()
		return
	}
	app := r.apps[normalizeProcessName(name)]
	placeholder := &perProcessSession{pid: pid, app: app}
	r.attached[pid] = placeholder
	r.mu.Unlock()

	sessCtx, cancel := context.WithCancel(ctx)
	sess, err := r.channel.Open(sessCtx, pid, []diagnostics.Provider{{Name: networkingProvider}})
	if err != nil {
		cancel()
		r.mu.Lock()
		delete(r.attached, pid)
		r.mu.Unlock()
		r.logger.Warn("failed to attach http reconstructor session", "pid", pid, "process_name", name, "error", err)
		r.emitAttachFailedMarker(ctx, name, pid, err)
		return
	}

	placeholder.session = sess
	placeholder.cancel = cancel

	r.wg.Add(1)
	go r.consume(sessCtx, app, name, placeholder)
}

func (r *Reconstructor) emitAttachFailedMarker(ctx context.Context, processName string, pid uint32, cause error) {
	if r.store == nil {
		return
	}
	m := &model.Marker{
		RunID:     r.runID,
		Timestamp: r.now().UTC(),
		Type:      model.MarkerTypeTool,
		Level:     model.MarkerLevelError,
		Label:     "HTTP reconstructor failed to attach to " + processName + ": " + cause.Error(),
	}
	if err := r.store.InsertMarker(ctx, m); err != nil {
		r.logger.Warn("failed to persist attach-failure marker", "error", err)
	}
}

func (r *Reconstructor) consume(ctx context.Context, app AppConfig, processName string, ps *perProcessSession) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.attached, ps.pid)
		r.mu.Unlock()
		_ = ps.session.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ps.session.Events():
			if !ok {
				return
			}
			r.handleEvent(app, processName, ps, ev)
		}
	}
}

func (r *Reconstructor) handleEvent(app AppConfig, processName string, ps *perProcessSession, ev diagnostics.Event) {
	kind, correlationID, ok := classify(ev)
	if !ok {
		r.logger.Debug("failed to classify http event", "name", ev.Name)
		return
	}

	switch kind {
	case EventStart:
		method, _ := ev.Get("method", 0)
		host, _ := ev.Get("host", 1)
		path, _ := ev.Get("path", 2)
		ps.active.Store(correlationID, &activeRequest{
			start:  r.now(),
			method: method,
			host:   host,
			path:   path,
		})
	case EventStop, EventFailed:
		v, ok := ps.active.LoadAndDelete(correlationID)
		if !ok {
			return
		}
		req := v.(*activeRequest)
		completedAt := r.now()
		durationMS := completedAt.Sub(req.start).Seconds() * 1000
		if raw, ok := ev.Get("duration", 3); ok {
			if ms, err := strconv.ParseFloat(raw, 64); err == nil {
				durationMS = ms
			}
		}
		var statusCode *int
		if raw, ok := ev.Get("statuscode", 4); ok {
			if code, err := strconv.Atoi(raw); err == nil {
				statusCode = &code
			}
		}
		r.aggregator.add(app.Label, processName, app.Grouping, app.bucketInterval(), *req, statusCode, durationMS, completedAt)
	}
}

// classify implements spec §4.4's "events classified by name suffix,
// matched case-insensitively".
func classify(ev diagnostics.Event) (EventKind, string, bool) {
	name := strings.ToLower(ev.Name)
	id, ok := ev.Get("id", 5)
	if !ok {
		return 0, "", false
	}
	switch {
	case strings.Contains(name, "start"):
		return EventStart, id, true
	case strings.Contains(name, "stop"):
		return EventStop, id, true
	case strings.Contains(name, "failed"):
		return EventFailed, id, true
	default:
		return 0, "", false
	}
}

// Run drives the background flush loop (spec §4.4: "ticks at
// max(1, min-bucket-interval-across-apps) seconds").
func (r *Reconstructor) Run(ctx context.Context) {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	orphanTicker := time.NewTicker(r.orphanEvery)
	defer orphanTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.flush(ctx)
		case <-orphanTicker.C:
			r.sweepOrphans()
		}
	}
}

func (r *Reconstructor) flush(ctx context.Context) {
	r.sweepOrphans()
	samples := r.aggregator.flush(r.runID)
	if len(samples) == 0 {
		return
	}
	if r.store == nil {
		return
	}
	if err := r.store.InsertHTTPSamples(ctx, samples); err != nil {
		r.logger.Warn("failed to persist http samples", "count", len(samples), "error", err)
	}
}

// sweepOrphans evicts active-request entries older than each session's
// app-configured (or default 5-minute) threshold, per spec §4.4.
func (r *Reconstructor) sweepOrphans() {
	now := r.now()

	r.mu.Lock()
	sessions := make([]*perProcessSession, 0, len(r.attached))
	for _, ps := range r.attached {
		sessions = append(sessions, ps)
	}
	r.mu.Unlock()

	for _, ps := range sessions {
		cutoff := now.Add(-ps.app.orphanThreshold())
		evicted := 0
		ps.active.Range(func(key, value any) bool {
			req := value.(*activeRequest)
			if req.start.Before(cutoff) {
				ps.active.Delete(key)
				evicted++
			}
			return true
		})
		if evicted > 0 {
			r.logger.Debug("evicted orphaned active requests", "pid", ps.pid, "count", evicted)
		}
	}
}

// Close cancels every attached session and performs a final flush,
// clearing active requests (spec §4.6 step 6).
func (r *Reconstructor) Close(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*perProcessSession, 0, len(r.attached))
	for _, ps := range r.attached {
		sessions = append(sessions, ps)
	}
	r.mu.Unlock()

	for _, ps := range sessions {
		if ps.cancel != nil {
			ps.cancel()
		}
	}
	r.wg.Wait()

	samples := r.aggregator.flush(r.runID)
	if len(samples) > 0 && r.store != nil {
		if err := r.store.InsertHTTPSamples(ctx, samples); err != nil {
			r.logger.Warn("failed to persist final http samples", "error", err)
		}
	}

	r.mu.Lock()
	for _, ps := range sessions {
		ps.active.Range(func(key, value any) bool {
			ps.active.Delete(key)
			return true
		})
	}
	r.mu.Unlock()
}
