package dmv

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

type fakeQuerier struct {
	mu        sync.Mutex
	snapshots []snapshot
	idx       int
	failAt    map[int]bool
	startTime time.Time
	startErr  error
	closed    bool
}

func (f *fakeQuerier) scalarSnapshot(ctx context.Context) (snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.idx
	f.idx++
	if f.failAt[i] {
		return snapshot{}, errors.New("query failed")
	}
	if i >= len(f.snapshots) {
		return f.snapshots[len(f.snapshots)-1], nil
	}
	return f.snapshots[i], nil
}

func (f *fakeQuerier) serverStartTime(ctx context.Context) (time.Time, error) {
	return f.startTime, f.startErr
}

func (f *fakeQuerier) Close() error { f.closed = true; return nil }

type fakeStore struct {
	mu      sync.Mutex
	samples []*model.DMVSample
	markers []*model.Marker
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
func (s *fakeStore) InsertMarker(ctx context.Context, m *model.Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers = append(s.markers, m)
	return nil
}
func (s *fakeStore) InsertManagedRuntimeSamples(ctx context.Context, samples []model.ManagedRuntimeSample) error {
	return nil
}
func (s *fakeStore) InsertHTTPSamples(ctx context.Context, samples []model.HTTPSample) error {
	return nil
}
func (s *fakeStore) InsertDMVSample(ctx context.Context, d *model.DMVSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, d)
	return nil
}
func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) snapshot() []*model.DMVSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.DMVSample, len(s.samples))
	copy(out, s.samples)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSamplerDerivesRatesAcrossTicksAndClampsOnDecrease(t *testing.T) {
	q := &fakeQuerier{
		snapshots: []snapshot{
			{reads: 100, readStallMS: 200, readBytes: 1024000},
			{reads: 250, readStallMS: 500, readBytes: 2048000},
			{reads: 100, readStallMS: 500, readBytes: 100},
		},
		failAt: map[int]bool{},
	}
	st := &fakeStore{}
	s := NewSampler(1, q, st, testLogger())

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cur := base
	s.now = func() time.Time { return cur }

	s.pollOnce(context.Background())
	require.Len(t, st.snapshot(), 1)
	require.Equal(t, 0.0, st.snapshot()[0].ReadStallMSPerRead)

	cur = base.Add(time.Second)
	s.pollOnce(context.Background())
	second := st.snapshot()[1]
	require.InDelta(t, 2.0, second.ReadStallMSPerRead, 0.0001)
	require.InDelta(t, 1024000, second.ReadBytesPerSec, 0.1)

	cur = base.Add(2 * time.Second)
	s.pollOnce(context.Background())
	third := st.snapshot()[2]
	require.Equal(t, 0.0, third.ReadStallMSPerRead)
	require.Equal(t, 0.0, third.ReadBytesPerSec)
}

func TestSamplerQueryFailureSkipsEmission(t *testing.T) {
	q := &fakeQuerier{
		snapshots: []snapshot{{}},
		failAt:    map[int]bool{0: true},
	}
	st := &fakeStore{}
	s := NewSampler(1, q, st, testLogger())

	s.pollOnce(context.Background())
	require.Empty(t, st.snapshot())
}

func TestSamplerCapturesStartTimeMarkerOnce(t *testing.T) {
	q := &fakeQuerier{startTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	st := &fakeStore{}
	s := NewSampler(1, q, st, testLogger())

	s.captureStartTime(context.Background())
	s.captureStartTime(context.Background())

	require.Len(t, st.markers, 1)
	require.Equal(t, model.MarkerTypeAnnotation, st.markers[0].Type)
}

func TestSamplerRunStopsOnContextCancel(t *testing.T) {
	q := &fakeQuerier{snapshots: []snapshot{{}}}
	st := &fakeStore{}
	s := NewSampler(1, q, st, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, 10*time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
