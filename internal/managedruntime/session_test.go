package managedruntime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/splax/scenariotel/internal/diagnostics"
	"github.com/splax/scenariotel/internal/model"
)

type fakeSession struct {
	events chan diagnostics.Event
	closed bool
}

func (s *fakeSession) Events() <-chan diagnostics.Event { return s.events }
func (s *fakeSession) Close() error                     { s.closed = true; return nil }

type fakeChannel struct {
	mu       sync.Mutex
	opened   map[uint32]*fakeSession
	failPids map[uint32]bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{opened: make(map[uint32]*fakeSession), failPids: make(map[uint32]bool)}
}

type openErr struct{}

func (openErr) Error() string { return "attach denied" }

func (c *fakeChannel) Open(ctx context.Context, pid uint32, providers []diagnostics.Provider) (diagnostics.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failPids[pid] {
		return nil, openErr{}
	}
	sess := &fakeSession{events: make(chan diagnostics.Event, 16)}
	c.opened[pid] = sess
	return sess, nil
}

func (c *fakeChannel) send(pid uint32, ev diagnostics.Event) {
	c.mu.Lock()
	sess := c.opened[pid]
	c.mu.Unlock()
	sess.events <- ev
}

type fakeStore struct {
	mu      sync.Mutex
	samples []model.ManagedRuntimeSample
}

func (s *fakeStore) InsertRun(ctx context.Context, r *model.Run) (int64, error) { return 0, nil }
func (s *fakeStore) UpdateRunEnd(ctx context.Context, runID int64, endedAt time.Time, duration time.Duration) error {
	return nil
}
func (s *fakeStore) InsertSystemSample(ctx context.Context, sample *model.SystemSample) (int64, error) {
	return 0, nil
}
func (s *fakeStore) InsertProcessSamples(ctx context.Context, samples []model.ProcessSample) error {
	return nil
}
func (s *fakeStore) InsertMarker(ctx context.Context, m *model.Marker) error { return nil }
func (s *fakeStore) InsertManagedRuntimeSamples(ctx context.Context, samples []model.ManagedRuntimeSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, samples...)
	return nil
}
func (s *fakeStore) InsertHTTPSamples(ctx context.Context, samples []model.HTTPSample) error {
	return nil
}
func (s *fakeStore) InsertDMVSample(ctx context.Context, d *model.DMVSample) error { return nil }
func (s *fakeStore) Close() error                                                  { return nil }

func (s *fakeStore) snapshot() []model.ManagedRuntimeSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ManagedRuntimeSample, len(s.samples))
	copy(out, s.samples)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSessionsEmitsSampleAfterCounterEvent(t *testing.T) {
	ch := newFakeChannel()
	st := &fakeStore{}
	app := AppConfig{Label: "app", ProcessName: "app.exe", Enabled: true}
	s := NewSessions(1, []AppConfig{app}, 250*time.Millisecond, ch, st, testLogger())
	defer s.Close()

	s.AttachExisting(context.Background(), map[uint32]string{100: "app.exe"})
	ch.send(100, diagnostics.Event{Payload: map[string]string{"name": "gc-heap-size", "mean": "2097152"}})
	time.Sleep(100 * time.Millisecond)
	ch.send(100, diagnostics.Event{Payload: map[string]string{"name": "gc-heap-size", "mean": "2097152"}})

	require.Eventually(t, func() bool {
		return len(st.snapshot()) > 0
	}, time.Second, 10*time.Millisecond)

	sample := st.snapshot()[0]
	require.Equal(t, model.RuntimeKindCore, sample.Kind)
	require.InDelta(t, 2.0, sample.HeapSizeMB, 0.001)
}

func TestSessionsAreAtMostOncePerPid(t *testing.T) {
	ch := newFakeChannel()
	st := &fakeStore{}
	app := AppConfig{Label: "app", ProcessName: "app.exe", Enabled: true}
	s := NewSessions(1, []AppConfig{app}, time.Second, ch, st, testLogger())
	defer s.Close()

	s.NotifyProcessStarted(context.Background(), 100, "app.exe")
	s.NotifyProcessStarted(context.Background(), 100, "app.exe")

	ch.mu.Lock()
	count := len(ch.opened)
	ch.mu.Unlock()
	require.Equal(t, 1, count)
}

func TestAttachFailureDoesNotPanic(t *testing.T) {
	ch := newFakeChannel()
	ch.failPids[100] = true
	st := &fakeStore{}
	app := AppConfig{Label: "app", ProcessName: "app.exe", Enabled: true}
	s := NewSessions(1, []AppConfig{app}, time.Second, ch, st, testLogger())
	defer s.Close()

	s.NotifyProcessStarted(context.Background(), 100, "app.exe")
	require.Empty(t, st.snapshot())
}

func TestDisabledAppIsFilteredOut(t *testing.T) {
	ch := newFakeChannel()
	st := &fakeStore{}
	app := AppConfig{Label: "app", ProcessName: "app.exe", Enabled: false}
	s := NewSessions(1, []AppConfig{app}, time.Second, ch, st, testLogger())
	defer s.Close()

	s.NotifyProcessStarted(context.Background(), 100, "app.exe")
	ch.mu.Lock()
	count := len(ch.opened)
	ch.mu.Unlock()
	require.Equal(t, 0, count)
}
