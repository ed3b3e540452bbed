package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/splax/scenariotel/internal/model"
)

type fakeMarkerStore struct {
	mu      sync.Mutex
	markers []*model.Marker
}

func (s *fakeMarkerStore) InsertMarker(ctx context.Context, m *model.Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers = append(s.markers, m)
	return nil
}

func (s *fakeMarkerStore) snapshot() []*model.Marker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Marker, len(s.markers))
	copy(out, s.markers)
	return out
}

// The store.Store interface carries many more write methods than the
// tracker needs; fakeStore embeds fakeMarkerStore for InsertMarker and
// stubs every other method as a no-op to satisfy the interface.
type fakeStore struct {
	fakeMarkerStore
}

func (s *fakeStore) InsertRun(ctx context.Context, r *model.Run) (int64, error) { return 0, nil }
func (s *fakeStore) UpdateRunEnd(ctx context.Context, runID int64, endedAt time.Time, duration time.Duration) error {
	return nil
}
func (s *fakeStore) InsertSystemSample(ctx context.Context, s2 *model.SystemSample) (int64, error) {
	return 0, nil
}
func (s *fakeStore) InsertProcessSamples(ctx context.Context, samples []model.ProcessSample) error {
	return nil
}
func (s *fakeStore) InsertManagedRuntimeSamples(ctx context.Context, samples []model.ManagedRuntimeSample) error {
	return nil
}
func (s *fakeStore) InsertHTTPSamples(ctx context.Context, samples []model.HTTPSample) error {
	return nil
}
func (s *fakeStore) InsertDMVSample(ctx context.Context, d *model.DMVSample) error { return nil }
func (s *fakeStore) Close() error                                                  { return nil }

type fakeHandle struct {
	pid         uint32
	name        string
	exited      bool
	exitCode    *int
	closed      bool
	exitCodeErr error
}

func (h *fakeHandle) PID() uint32                      { return h.pid }
func (h *fakeHandle) Name() string                     { return h.name }
func (h *fakeHandle) CPUTime() (time.Duration, error)  { return 0, nil }
func (h *fakeHandle) WorkingSetMB() (float64, error)   { return 0, nil }
func (h *fakeHandle) PrivateBytesMB() (float64, error) { return 0, nil }
func (h *fakeHandle) ThreadCount() (int, error)        { return 0, nil }
func (h *fakeHandle) HandleCount() (int, error)        { return 0, nil }
func (h *fakeHandle) ExitCode() (bool, *int, error) {
	if h.exitCodeErr != nil {
		return false, nil, h.exitCodeErr
	}
	return h.exited, h.exitCode, nil
}
func (h *fakeHandle) Close() error { h.closed = true; return nil }

type fakeNoSuchProcessErr struct{}

func (fakeNoSuchProcessErr) Error() string       { return "no such process" }
func (fakeNoSuchProcessErr) NoSuchProcess() bool { return true }

type fakePlatform struct {
	mu sync.Mutex

	seed []processInfo

	openFails          map[uint32]bool
	openNoSuch         map[uint32]bool
	alreadyExited      map[uint32]*int
	subscribeExitFails bool
	subscribeStartErr  error

	exitCallbacks map[uint32]func()
	startCallback func(processInfo)
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		openFails:     map[uint32]bool{},
		openNoSuch:    map[uint32]bool{},
		alreadyExited: map[uint32]*int{},
		exitCallbacks: map[uint32]func(){},
	}
}

func (p *fakePlatform) enumerateProcesses() ([]processInfo, error) {
	return p.seed, nil
}

func (p *fakePlatform) openProcess(pid uint32, name string) (ProcessHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openNoSuch[pid] {
		return nil, fakeNoSuchProcessErr{}
	}
	if p.openFails[pid] {
		return nil, errors.New("open failed")
	}
	h := &fakeHandle{pid: pid, name: name}
	if code, ok := p.alreadyExited[pid]; ok {
		h.exited = true
		h.exitCode = code
	}
	return h, nil
}

func (p *fakePlatform) subscribeExit(pid uint32, onExit func()) (func(), error) {
	if p.subscribeExitFails {
		return nil, errors.New("subscribe exit failed")
	}
	p.mu.Lock()
	p.exitCallbacks[pid] = onExit
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.exitCallbacks, pid)
		p.mu.Unlock()
	}, nil
}

func (p *fakePlatform) subscribeStart(onStart func(processInfo)) (func(), error) {
	if p.subscribeStartErr != nil {
		return nil, p.subscribeStartErr
	}
	p.mu.Lock()
	p.startCallback = onStart
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.startCallback = nil
		p.mu.Unlock()
	}, nil
}

func (p *fakePlatform) fireExit(pid uint32) {
	p.mu.Lock()
	cb := p.exitCallbacks[pid]
	p.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (p *fakePlatform) fireStart(info processInfo) {
	p.mu.Lock()
	cb := p.startCallback
	p.mu.Unlock()
	if cb != nil {
		cb(info)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStartSeedsAndEmitsArrivalMarkers(t *testing.T) {
	plat := newFakePlatform()
	plat.seed = []processInfo{{PID: 100, Name: "worker.exe"}, {PID: 200, Name: "unrelated.exe"}}
	st := &fakeStore{}

	tr := New(1, []string{"Worker"}, st, testLogger(), plat)
	require.NoError(t, tr.Start(context.Background()))

	markers := st.snapshot()
	require.Len(t, markers, 1)
	require.Equal(t, model.MarkerTypeProcessStarted, markers[0].Type)

	live := tr.LivePIDs()
	_, ok := live[100]
	require.True(t, ok)
	_, ok = live[200]
	require.False(t, ok)
}

func TestArrivalClosesAlreadyExitedRace(t *testing.T) {
	plat := newFakePlatform()
	code := 1
	plat.alreadyExited[100] = &code
	st := &fakeStore{}

	tr := New(1, []string{"worker"}, st, testLogger(), plat)
	tr.arrival(context.Background(), processInfo{PID: 100, Name: "worker.exe"})

	markers := st.snapshot()
	require.Len(t, markers, 2)
	require.Equal(t, model.MarkerTypeProcessStarted, markers[0].Type)
	require.Equal(t, model.MarkerTypeProcessExited, markers[1].Type)

	live := tr.LivePIDs()
	require.Empty(t, live, "already-exited process must not remain active")
}

func TestExitRemovesFromActiveAndEmitsMarker(t *testing.T) {
	plat := newFakePlatform()
	st := &fakeStore{}
	tr := New(1, []string{"worker"}, st, testLogger(), plat)
	tr.arrival(context.Background(), processInfo{PID: 100, Name: "worker.exe"})

	require.Len(t, tr.LivePIDs(), 1)

	plat.fireExit(100)

	require.Empty(t, tr.LivePIDs())
	markers := st.snapshot()
	require.Len(t, markers, 2)
	require.Equal(t, model.MarkerTypeProcessExited, markers[1].Type)
}

func TestActiveSnapshotRemovesNoSuchProcess(t *testing.T) {
	plat := newFakePlatform()
	st := &fakeStore{}
	tr := New(1, []string{"worker"}, st, testLogger(), plat)
	tr.arrival(context.Background(), processInfo{PID: 100, Name: "worker.exe"})

	plat.openNoSuch[100] = true
	handles := tr.ActiveSnapshot()
	require.Empty(t, handles)
	require.Empty(t, tr.LivePIDs(), "ActiveSnapshot must evict pids that vanished")
}

func TestStartSubscriptionFailureDegradesToSeedOnly(t *testing.T) {
	plat := newFakePlatform()
	plat.subscribeStartErr = errors.New("privilege denied")
	st := &fakeStore{}
	tr := New(1, nil, st, testLogger(), plat)

	require.NoError(t, tr.Start(context.Background()))
	require.Nil(t, tr.unsubStart)
}

func TestArrivalIsAtMostOnce(t *testing.T) {
	plat := newFakePlatform()
	st := &fakeStore{}
	tr := New(1, []string{"worker"}, st, testLogger(), plat)

	tr.arrival(context.Background(), processInfo{PID: 100, Name: "worker.exe"})
	tr.arrival(context.Background(), processInfo{PID: 100, Name: "worker.exe"})

	markers := st.snapshot()
	require.Len(t, markers, 1, "duplicate arrival for an already-active pid must be a no-op")
}

func TestCPUDeltaFirstObservationIsZero(t *testing.T) {
	d := NewCPUDelta(4)
	pct := d.Percent(1, 5*time.Second, time.Second)
	require.Equal(t, float64(0), pct)
}

func TestCPUDeltaComputesPercent(t *testing.T) {
	d := NewCPUDelta(1)
	d.Percent(1, 0, time.Second)
	pct := d.Percent(1, 500*time.Millisecond, time.Second)
	require.InDelta(t, 50.0, pct, 0.001)
}

func TestCPUDeltaClampsNegative(t *testing.T) {
	d := NewCPUDelta(1)
	d.Percent(1, time.Second, time.Second)
	pct := d.Percent(1, 0, time.Second)
	require.Equal(t, float64(0), pct)
}

func TestCPUDeltaRetainEvictsDeadPids(t *testing.T) {
	d := NewCPUDelta(1)
	d.Percent(1, time.Second, time.Second)
	d.Percent(2, time.Second, time.Second)
	d.Retain(map[uint32]struct{}{1: {}})
	_, ok := d.state[2]
	require.False(t, ok)
	_, ok = d.state[1]
	require.True(t, ok)
}
