package managedruntime

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/splax/scenariotel/internal/model"
)

type fakeClassicCounterSource struct {
	value float64
	err   error
}

func (f *fakeClassicCounterSource) Read() (float64, error) { return f.value, f.err }
func (f *fakeClassicCounterSource) Close() error           { return nil }

type fakeClassicPlatform struct {
	instances    map[uint32]string
	resolveFails map[uint32]bool
	values       map[string]float64
	openFails    map[string]bool
}

func newFakeClassicPlatform() *fakeClassicPlatform {
	return &fakeClassicPlatform{
		instances:    make(map[uint32]string),
		resolveFails: make(map[uint32]bool),
		values:       make(map[string]float64),
		openFails:    make(map[string]bool),
	}
}

func (p *fakeClassicPlatform) resolveInstance(processName string, pid uint32) (string, error) {
	if p.resolveFails[pid] {
		return "", fmt.Errorf("instance not found for pid %d", pid)
	}
	if inst, ok := p.instances[pid]; ok {
		return inst, nil
	}
	return fmt.Sprintf("%s#0", strings.TrimSuffix(processName, ".exe")), nil
}

func (p *fakeClassicPlatform) openCounter(category, counter, instance string) (classicCounterSource, error) {
	key := category + "|" + counter + "|" + instance
	if p.openFails[key] {
		return nil, fmt.Errorf("counter not found: %s", key)
	}
	return &fakeClassicCounterSource{value: p.values[key]}, nil
}

func (p *fakeClassicPlatform) setValue(category, counter, instance string, v float64) {
	p.values[category+"|"+counter+"|"+instance] = v
}

func TestClassicSamplerReadsConfiguredCounters(t *testing.T) {
	plat := newFakeClassicPlatform()
	plat.setValue(".NET CLR Memory", "# Bytes in all Heaps", "app#0", 4*1024*1024)
	plat.setValue(".NET CLR Memory", "% Time in GC", "app#0", 3.5)
	plat.setValue(".NET CLR LocksAndThreads", "# of current logical Threads", "app#0", 12)

	st := &fakeStore{}
	app := AppConfig{Label: "app", ProcessName: "app.exe", Enabled: true}
	c := NewClassicSampler(1, []AppConfig{app}, 0, plat, st, testLogger())

	c.pollOnce(context.Background(), map[uint32]string{100: "app.exe"})

	samples := st.snapshot()
	require.Len(t, samples, 1)
	require.Equal(t, model.RuntimeKindFramework, samples[0].Kind)
	require.InDelta(t, 4.0, samples[0].HeapSizeMB, 0.001)
	require.InDelta(t, 3.5, samples[0].GCTimePercent, 0.001)
	require.Equal(t, 12, samples[0].ThreadCount)
}

func TestClassicSamplerResolutionFailureYieldsNoSample(t *testing.T) {
	plat := newFakeClassicPlatform()
	plat.resolveFails[100] = true

	st := &fakeStore{}
	app := AppConfig{Label: "app", ProcessName: "app.exe", Enabled: true}
	c := NewClassicSampler(1, []AppConfig{app}, 0, plat, st, testLogger())

	c.pollOnce(context.Background(), map[uint32]string{100: "app.exe"})

	require.Empty(t, st.snapshot())
}

func TestClassicSamplerInstanceIsCachedAcrossPolls(t *testing.T) {
	plat := newFakeClassicPlatform()
	plat.setValue(".NET CLR Memory", "# Bytes in all Heaps", "app#0", 1024*1024)

	st := &fakeStore{}
	app := AppConfig{Label: "app", ProcessName: "app.exe", Enabled: true}
	c := NewClassicSampler(1, []AppConfig{app}, 0, plat, st, testLogger())

	c.pollOnce(context.Background(), map[uint32]string{100: "app.exe"})
	plat.resolveFails[100] = true // resolution would now fail, but cache should shortcut it
	c.pollOnce(context.Background(), map[uint32]string{100: "app.exe"})

	samples := st.snapshot()
	require.Len(t, samples, 2)
}

func TestClassicSamplerRetainEvictsDeadPids(t *testing.T) {
	plat := newFakeClassicPlatform()
	st := &fakeStore{}
	app := AppConfig{Label: "app", ProcessName: "app.exe", Enabled: true}
	c := NewClassicSampler(1, []AppConfig{app}, 0, plat, st, testLogger())

	c.pollOnce(context.Background(), map[uint32]string{100: "app.exe"})
	require.Len(t, c.instances, 1)

	c.Retain(map[uint32]struct{}{})
	require.Empty(t, c.instances)
}

func TestClassicSamplerDisabledAppIsIgnored(t *testing.T) {
	plat := newFakeClassicPlatform()
	st := &fakeStore{}
	app := AppConfig{Label: "app", ProcessName: "app.exe", Enabled: false}
	c := NewClassicSampler(1, []AppConfig{app}, 0, plat, st, testLogger())

	c.pollOnce(context.Background(), map[uint32]string{100: "app.exe"})
	require.Empty(t, st.snapshot())
}

func TestClassicSamplerRunStopsOnContextCancel(t *testing.T) {
	plat := newFakeClassicPlatform()
	st := &fakeStore{}
	app := AppConfig{Label: "app", ProcessName: "app.exe", Enabled: true}
	c := NewClassicSampler(1, []AppConfig{app}, 10*time.Millisecond, plat, st, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, func() map[uint32]string { return nil })
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
