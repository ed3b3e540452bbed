package orchestrator

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/splax/scenariotel/internal/config"
	"github.com/splax/scenariotel/internal/lifecycle"
	"github.com/splax/scenariotel/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeHandle struct {
	pid                          uint32
	name                         string
	cpuTime                      time.Duration
	workingSetMB, privateBytesMB float64
	threadCount, handleCount     int
	cpuErr                       error
}

func (h *fakeHandle) PID() uint32  { return h.pid }
func (h *fakeHandle) Name() string { return h.name }
func (h *fakeHandle) CPUTime() (time.Duration, error) {
	if h.cpuErr != nil {
		return 0, h.cpuErr
	}
	return h.cpuTime, nil
}
func (h *fakeHandle) WorkingSetMB() (float64, error)   { return h.workingSetMB, nil }
func (h *fakeHandle) PrivateBytesMB() (float64, error) { return h.privateBytesMB, nil }
func (h *fakeHandle) ThreadCount() (int, error)        { return h.threadCount, nil }
func (h *fakeHandle) HandleCount() (int, error)        { return h.handleCount, nil }
func (h *fakeHandle) ExitCode() (bool, *int, error)    { return false, nil, nil }
func (h *fakeHandle) Close() error                     { return nil }


func TestAggregateOneSumsIntoGroup(t *testing.T) {
	o := &Orchestrator{logger: testLogger(), cpuDelta: lifecycle.NewCPUDelta(1)}
	agg := &processAggregate{}
	h := &fakeHandle{pid: 100, name: "app", cpuTime: time.Second, workingSetMB: 10, privateBytesMB: 5, threadCount: 3, handleCount: 7}

	o.aggregateOne(h, time.Second, agg)

	require.Equal(t, 0.0, agg.cpuPercent) // first observation is always zero
	require.Equal(t, 10.0, agg.workingSetMB)
	require.Equal(t, 5.0, agg.privateBytesMB)
	require.Equal(t, 3, agg.threadCount)
	require.Equal(t, 7, agg.handleCount)
}

func TestAggregateOneSkipsOnReadFailure(t *testing.T) {
	o := &Orchestrator{logger: testLogger(), cpuDelta: lifecycle.NewCPUDelta(1)}
	agg := &processAggregate{}
	h := &fakeHandle{pid: 100, name: "app", cpuErr: errors.New("access denied")}

	o.aggregateOne(h, time.Second, agg)

	require.Equal(t, processAggregate{}, *agg)
}

func TestCoreAndHTTPAppsSplitsHTTPMonitoringFlag(t *testing.T) {
	apps := []config.AppConfig{
		{Name: "a", ProcessName: "a.exe", Enabled: true, HTTPMonitoring: config.HTTPMonitoringConfig{Enabled: true, EndpointGrouping: "HostAndFirstPathSegment", BucketIntervalSeconds: 2}},
		{Name: "b", ProcessName: "b.exe", Enabled: true, HTTPMonitoring: config.HTTPMonitoringConfig{Enabled: false}},
	}
	core, http := coreAndHTTPApps(apps)

	require.Len(t, core, 2)
	require.True(t, core[0].Enabled)

	require.Len(t, http, 2)
	require.True(t, http[0].Enabled)
	require.Equal(t, model.EndpointGroupingHostAndFirstPathSegment, http[0].Grouping)
	require.False(t, http[1].Enabled, "app b disables http monitoring even though the app itself is enabled")
}

func TestClassicAppConfigsCarriesEnabledFlag(t *testing.T) {
	apps := []config.AppConfig{{Name: "legacy", ProcessName: "legacy.exe", Enabled: false}}
	out := classicAppConfigs(apps)
	require.Len(t, out, 1)
	require.False(t, out[0].Enabled)
}

func TestParseGroupingDefaultsToHostOnly(t *testing.T) {
	require.Equal(t, model.EndpointGroupingHostOnly, parseGrouping(""))
	require.Equal(t, model.EndpointGroupingHostOnly, parseGrouping("bogus"))
	require.Equal(t, model.EndpointGroupingHostAndFirstPathSegment, parseGrouping("hostandfirstpathsegment"))
}

func TestBuildProcessSamplesStampsParentSystemSampleID(t *testing.T) {
	groups := map[string]*processAggregate{
		"b": {cpuPercent: 1},
		"a": {cpuPercent: 2},
	}
	samples := buildProcessSamples(42, []string{"b", "a"}, groups)

	require.Len(t, samples, 2)
	require.Equal(t, []string{"a", "b"}, []string{samples[0].ProcessName, samples[1].ProcessName})
	for _, s := range samples {
		require.Equal(t, int64(42), s.SystemSampleID)
	}
}
