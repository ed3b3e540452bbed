package managedruntime

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

// counterProvider is the diagnostic provider requested for runtime
// counters (spec §6.1's "runtime-counters provider").
const counterProvider = "Microsoft-DotNETCore-SampleProfiler"

// Sessions manages Core-kind managed runtime sessions (spec §4.3's main
// attach strategy): at most one session per pid, across both
// AttachExisting and NotifyProcessStarted, via a mutex-guarded
// reserve-or-skip map from pid to cancel func (a placeholder is reserved
// first and replaced with the real cancel once the channel opens).
type Sessions struct {
	runID   int64
	channel diagnostics.Channel
	store   store.Store
	logger  *slog.Logger
	now     func() time.Time
	tick    time.Duration

	apps map[string]AppConfig

	mu       sync.Mutex
	attached map[uint32]context.CancelFunc

	wg sync.WaitGroup
}

// NewSessions constructs the Core-kind session manager.
func NewSessions(runID int64, apps []AppConfig, tick time.Duration, ch diagnostics.Channel, st store.Store, logger *slog.Logger) *Sessions {
	if logger == nil {
		logger = slog.Default()
	}
	if tick <= 0 {
		tick = time.Second
	}
	return &Sessions{
		runID:    runID,
		channel:  ch,
		store:    st,
		logger:   logger,
		now:      time.Now,
		tick:     tick,
		apps:     filterEnabled(apps),
		attached: make(map[uint32]context.CancelFunc),
	}
}

// AttachExisting attaches to every live process matching a configured app.
func (s *Sessions) AttachExisting(ctx context.Context, live map[uint32]string) {
	for pid, name := range live {
		if app, ok := s.apps[normalizeProcessName(name)]; ok {
			s.attach(ctx, pid, app)
		}
	}
}

// NotifyProcessStarted attaches to a newly arrived process if it matches
// a configured app.
func (s *Sessions) NotifyProcessStarted(ctx context.Context, pid uint32, name string) {
	if app, ok := s.apps[normalizeProcessName(name)]; ok {
		s.attach(ctx, pid, app)
	}
}

// attach implements the at-most-once-per-pid reservation from spec §4.3:
// "a concurrent map from pid->task provides an atomic reserve or skip".
func (s *Sessions) attach(ctx context.Context, pid uint32, app AppConfig) {
	s.mu.Lock()
	if _, already := s.attached[pid]; already {
		s.mu.Unlock()
		return
	}
	s.attached[pid] = func() {} // reserved; replaced with the real cancel below
	s.mu.Unlock()

	sessCtx, cancel := context.WithCancel(ctx)
	sess, err := s.channel.Open(sessCtx, pid, []diagnostics.Provider{{Name: counterProvider}})
	if err != nil {
		cancel()
		s.mu.Lock()
		delete(s.attached, pid)
		s.mu.Unlock()
		s.logger.Warn("failed to attach managed runtime session", "pid", pid, "app", app.Label, "error", err)
		return
	}

	s.mu.Lock()
	s.attached[pid] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(sessCtx, pid, app, sess)
}

func (s *Sessions) run(ctx context.Context, pid uint32, app AppConfig, sess diagnostics.Session) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.attached, pid)
		s.mu.Unlock()
	}()
	defer sess.Close()

	scr := newScratch()
	emitEvery := s.tick - 200*time.Millisecond
	if emitEvery <= 0 {
		emitEvery = s.tick
	}
	lastEmit := s.now()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sess.Events():
			if !ok {
				return
			}
			s.applyCounterEvent(scr, ev)
			if s.now().Sub(lastEmit) >= emitEvery {
				s.emit(ctx, app, scr)
				lastEmit = s.now()
			}
		}
	}
}

func (s *Sessions) applyCounterEvent(scr *scratch, ev diagnostics.Event) {
	name, ok := ev.Get("name", 0)
	if !ok {
		return
	}
	raw, ok := ev.Get("mean", 1)
	if !ok {
		raw, ok = ev.Get("increment", 2)
	}
	if !ok {
		return
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return
	}
	scr.set(strings.ToLower(name), v)
}

func (s *Sessions) emit(ctx context.Context, app AppConfig, scr *scratch) {
	if s.store == nil {
		return
	}
	sample := scr.toSample(s.runID, app.Label, app.ProcessName, model.RuntimeKindCore)
	sample.Timestamp = s.now().UTC()
	if err := s.store.InsertManagedRuntimeSamples(ctx, []model.ManagedRuntimeSample{sample}); err != nil {
		s.logger.Warn("failed to persist managed runtime sample", "app", app.Label, "error", err)
	}
}

// Close cancels every attached session and waits for their tasks to
// finish, within the caller's timeout budget.
func (s *Sessions) Close() {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.attached))
	for _, cancel := range s.attached {
		cancels = append(cancels, cancel)
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.wg.Wait()
}
