package httpreconstruct

import (
	"strings"
	"sync"
	"time"

	"github.com/splax/scenariotel/internal/model"
)

// bucketKey matches spec §4.4's "(bucket-start, app-label, process-name,
// endpoint-group)".
type bucketKey struct {
	bucketStart time.Time
	appLabel    string
	processName string
	endpoint    string
}

type bucketStats struct {
	requestCount  int64
	successCount  int64
	status4xx     int64
	status5xx     int64
	otherStatus   int64
	durationCount int64
	durationSumMS float64
	minDurationMS float64
	maxDurationMS float64
	hasDuration   bool
}

func (b *bucketStats) add(statusCode *int, durationMS float64) {
	b.requestCount++
	switch {
	case statusCode == nil:
		b.otherStatus++
	case *statusCode >= 200 && *statusCode < 300:
		b.successCount++
	case *statusCode >= 400 && *statusCode < 500:
		b.status4xx++
	case *statusCode >= 500 && *statusCode < 600:
		b.status5xx++
	default:
		// 1xx/3xx per spec §9 open question: treated as "other".
		b.otherStatus++
	}
	b.durationCount++
	b.durationSumMS += durationMS
	if !b.hasDuration || durationMS < b.minDurationMS {
		b.minDurationMS = durationMS
	}
	if !b.hasDuration || durationMS > b.maxDurationMS {
		b.maxDurationMS = durationMS
	}
	b.hasDuration = true
}

func (b *bucketStats) toSample(runID int64, key bucketKey) model.HTTPSample {
	s := model.HTTPSample{
		RunID:            runID,
		AppLabel:         key.appLabel,
		ProcessName:      key.processName,
		EndpointGroup:    key.endpoint,
		BucketStart:      key.bucketStart,
		RequestCount:     b.requestCount,
		SuccessCount:     b.successCount,
		Status4xxCount:   b.status4xx,
		Status5xxCount:   b.status5xx,
		OtherStatusCount: b.otherStatus,
		TotalDurationMS:  b.durationSumMS,
	}
	if b.durationCount > 0 {
		s.AvgDurationMS = b.durationSumMS / float64(b.durationCount)
		s.MinDurationMS = b.minDurationMS
		s.MaxDurationMS = b.maxDurationMS
	}
	return s
}

// bucketAggregator accumulates per-bucket HTTP statistics under one lock
// (spec §5: "HTTP bucket map in C4: single per-aggregator mutex; flushed
// by atomic swap-with-empty"), grounded on the teacher's rollupAggregator
// (api/internal/service/runtime/aggregator.go).
type bucketAggregator struct {
	mu      sync.Mutex
	buckets map[bucketKey]*bucketStats
}

func newBucketAggregator() *bucketAggregator {
	return &bucketAggregator{buckets: make(map[bucketKey]*bucketStats)}
}

func (a *bucketAggregator) add(appLabel, processName string, grouping model.EndpointGrouping, bucketInterval time.Duration, req activeRequest, statusCode *int, durationMS float64, completedAt time.Time) {
	endpoint := groupEndpoint(grouping, req.host, req.path)
	start := completedAt.Truncate(bucketInterval)
	key := bucketKey{bucketStart: start, appLabel: appLabel, processName: processName, endpoint: endpoint}

	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.buckets[key]
	if b == nil {
		b = &bucketStats{}
		a.buckets[key] = b
	}
	b.add(statusCode, durationMS)
}

// flush atomically swaps the bucket map with an empty one and returns
// every accumulated bucket as a sample (spec §4.4).
func (a *bucketAggregator) flush(runID int64) []model.HTTPSample {
	a.mu.Lock()
	buckets := a.buckets
	a.buckets = make(map[bucketKey]*bucketStats)
	a.mu.Unlock()

	if len(buckets) == 0 {
		return nil
	}
	out := make([]model.HTTPSample, 0, len(buckets))
	for key, stats := range buckets {
		out = append(out, stats.toSample(runID, key))
	}
	return out
}

func groupEndpoint(grouping model.EndpointGrouping, host, path string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		host = defaultHostLabel
	}
	if grouping != model.EndpointGroupingHostAndFirstPathSegment {
		return host
	}
	return host + ":" + firstPathSegment(path)
}

// firstPathSegment returns the text before the first '/' after any
// leading '/', lowercased (spec §4.4).
func firstPathSegment(path string) string {
	path = strings.ToLower(strings.TrimSpace(path))
	path = strings.TrimPrefix(path, "/")
	if idx := strings.Index(path, "/"); idx >= 0 {
		path = path[:idx]
	}
	return path
}
