package counters

import (
	"errors"
	"log/slog"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeSource is a counterSource test double whose Read can be scripted to
// fail, matching the "counter read failure isolation" property in spec §8
// scenario 5.
type fakeSource struct {
	values []float64
	fail   bool
	closed bool
}

func (f *fakeSource) Read() (float64, error) {
	if f.fail {
		return 0, errors.New("simulated read failure")
	}
	if len(f.values) == 0 {
		return 0, nil
	}
	v := f.values[0]
	if len(f.values) > 1 {
		f.values = f.values[1:]
	}
	return v, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

type fakeHostInfo struct {
	fail             bool
	totalMB, availMB float64
}

func (h *fakeHostInfo) Refresh() error {
	if h.fail {
		return errors.New("simulated host info failure")
	}
	return nil
}
func (h *fakeHostInfo) TotalPhysicalMB() float64     { return h.totalMB }
func (h *fakeHostInfo) AvailablePhysicalMB() float64 { return h.availMB }
func (h *fakeHostInfo) CPUModel() string             { return "Fake CPU" }

// fakePlatform lets each test control which counters fail to open/read.
type fakePlatform struct {
	cpuFails      bool
	cpuSource     *fakeSource
	diskSource    *fakeSource
	netInterfaces []string
	host          *fakeHostInfo
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		cpuSource:  &fakeSource{values: []float64{42.5}},
		diskSource: &fakeSource{values: []float64{10}},
		host:       &fakeHostInfo{totalMB: 16000, availMB: 8000},
	}
}

func (p *fakePlatform) openCPUTotal() (counterSource, error) {
	if p.cpuFails {
		return nil, errors.New("cpu counter unavailable")
	}
	return p.cpuSource, nil
}
func (p *fakePlatform) openDiskReads() (counterSource, error)      { return p.diskSource, nil }
func (p *fakePlatform) openDiskWrites() (counterSource, error)     { return p.diskSource, nil }
func (p *fakePlatform) openDiskReadBytes() (counterSource, error)  { return p.diskSource, nil }
func (p *fakePlatform) openDiskWriteBytes() (counterSource, error) { return p.diskSource, nil }
func (p *fakePlatform) enumerateNetworkInterfaces() ([]string, error) {
	return p.netInterfaces, nil
}
func (p *fakePlatform) openNetBytesSent(string) (counterSource, error) {
	return &fakeSource{values: []float64{1}}, nil
}
func (p *fakePlatform) openNetBytesReceived(string) (counterSource, error) {
	return &fakeSource{values: []float64{2}}, nil
}
func (p *fakePlatform) newHostInfo() hostInfoSource { return p.host }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSnapshotReadsEveryEnabledCounter(t *testing.T) {
	plat := newFakePlatform()
	r := New(Config{EnableDisk: true, EnableNetwork: false}, testLogger(), plat)
	defer r.Close()

	snap := r.Snapshot(time.Second)
	require.NotNil(t, snap.CPUTotalPercent)
	require.NotNil(t, snap.DiskReadsPerSec)
	require.NotNil(t, snap.MemoryUsedMB)
	require.Nil(t, snap.NetBytesSentPerSec, "network disabled should open nothing")
}

func TestSnapshotIsolatesAFailingCounter(t *testing.T) {
	plat := newFakePlatform()
	plat.cpuFails = true
	r := New(Config{EnableDisk: true}, testLogger(), plat)
	defer r.Close()

	snap := r.Snapshot(time.Second)
	require.Nil(t, snap.CPUTotalPercent, "cpu counter failed to open, must be absent")
	require.NotNil(t, snap.DiskReadsPerSec, "disk counters must still be read")
}

func TestSnapshotMemoryFailureNeverPropagates(t *testing.T) {
	plat := newFakePlatform()
	plat.host.fail = true
	r := New(Config{}, testLogger(), plat)
	defer r.Close()

	snap := r.Snapshot(time.Second)
	require.Nil(t, snap.MemoryUsedMB)
	require.Nil(t, snap.MemoryAvailableMB)
}

func TestNetworkCountersSummedAcrossInstances(t *testing.T) {
	plat := newFakePlatform()
	plat.netInterfaces = []string{"eth0", "eth1"}
	r := New(Config{EnableNetwork: true}, testLogger(), plat)
	defer r.Close()

	snap := r.Snapshot(time.Second)
	require.NotNil(t, snap.NetBytesSentPerSec)
	require.Equal(t, float64(2), *snap.NetBytesSentPerSec)
	require.NotNil(t, snap.NetBytesReceivedPerSec)
	require.Equal(t, float64(4), *snap.NetBytesReceivedPerSec)
}

func TestCloseIsIdempotent(t *testing.T) {
	plat := newFakePlatform()
	r := New(Config{EnableDisk: true}, testLogger(), plat)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	require.True(t, plat.cpuSource.closed)
}
