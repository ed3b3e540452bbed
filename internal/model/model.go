// Package model holds the entities the capture core writes to the store.
package model

import "time"

// RuntimeKind tags a Managed Runtime Sample by the diagnostic path that produced it.
type RuntimeKind string

const (
	RuntimeKindCore      RuntimeKind = "Core"
	RuntimeKindFramework RuntimeKind = "Framework"
)

// EndpointGrouping selects how the HTTP reconstructor keys its bucket aggregates.
type EndpointGrouping string

const (
	EndpointGroupingHostOnly                EndpointGrouping = "HostOnly"
	EndpointGroupingHostAndFirstPathSegment EndpointGrouping = "HostAndFirstPathSegment"
)

// MarkerLevel mirrors the error taxonomy's severities (spec §7).
type MarkerLevel string

const (
	MarkerLevelInfo  MarkerLevel = "info"
	MarkerLevelWarn  MarkerLevel = "warn"
	MarkerLevelError MarkerLevel = "error"
)

// MarkerType distinguishes lifecycle markers from tool/error markers.
type MarkerType string

const (
	MarkerTypeProcessStarted MarkerType = "process_started"
	MarkerTypeProcessExited  MarkerType = "process_exited"
	MarkerTypeTool           MarkerType = "tool"
	MarkerTypeAnnotation     MarkerType = "annotation"
)

// WorkloadDescriptor describes the synthetic or real workload driving a Run.
type WorkloadDescriptor struct {
	Type    string
	SizeEst string
	Notes   string
}

// Run is the top-level entity owning every other record captured in one invocation.
type Run struct {
	ID                int64
	MachineName       string
	OSIdentifier      string
	LogicalCores      int
	CPUModel          string
	TotalPhysicalMB   float64
	SystemDriveType   string
	SystemDriveFreeMB float64
	UptimeAtStart     time.Duration
	Scenario          string
	Notes             string
	Workload          WorkloadDescriptor
	ConfigSnapshot    string
	ToolVersion       string
	StartedAt         time.Time
	EndedAt           *time.Time
	Duration          *time.Duration
}

// SystemSample is one tick of the master sampling clock.
type SystemSample struct {
	ID                     int64
	RunID                  int64
	Timestamp              time.Time
	CPUTotalPercent        *float64
	MemoryUsedMB           *float64
	MemoryAvailableMB      *float64
	DiskReadsPerSec        *float64
	DiskWritesPerSec       *float64
	DiskReadBytesPerSec    *float64
	DiskWriteBytesPerSec   *float64
	NetBytesSentPerSec     *float64
	NetBytesReceivedPerSec *float64
}

// ProcessSample is a per-process-name aggregate, child of a SystemSample.
type ProcessSample struct {
	ID             int64
	SystemSampleID int64
	ProcessName    string
	CPUPercent     float64
	WorkingSetMB   float64
	PrivateBytesMB float64
	ThreadCount    int
	HandleCount    int
}

// ManagedRuntimeSample is one emission from a managed-runtime session or classic poller.
type ManagedRuntimeSample struct {
	ID                     int64
	RunID                  int64
	Timestamp              time.Time
	AppLabel               string
	ProcessName            string
	Kind                   RuntimeKind
	HeapSizeMB             float64
	AllocationRateMBPerSec *float64
	Gen0CollectionsPerSec  float64
	Gen1CollectionsPerSec  float64
	Gen2CollectionsPerSec  float64
	GCTimePercent          float64
	ExceptionRatePerSec    float64
	ThreadCount            int
	ThreadPoolThreadCount  int
	ThreadPoolQueueLength  int
}

// HTTPSample is one (app, endpoint-group, bucket-start) aggregate.
type HTTPSample struct {
	ID               int64
	RunID            int64
	AppLabel         string
	ProcessName      string
	EndpointGroup    string
	BucketStart      time.Time
	RequestCount     int64
	SuccessCount     int64
	Status4xxCount   int64
	Status5xxCount   int64
	OtherStatusCount int64
	TotalDurationMS  float64
	AvgDurationMS    float64
	MinDurationMS    float64
	MaxDurationMS    float64
}

// DMVSample is one polling interval's scalar + derived-rate snapshot from the relational instance.
type DMVSample struct {
	ID                   int64
	RunID                int64
	Timestamp            time.Time
	ActiveRequestCount   int64
	BlockedRequestCount  int64
	UserConnectionCount  int64
	RunningSessionCount  int64
	TopWaitType          string
	TopWaitMS            float64
	TotalWaitMSAllUsers  float64
	ReadStallMSPerRead   float64
	WriteStallMSPerWrite float64
	ReadBytesPerSec      float64
	WriteBytesPerSec     float64
}

// Marker is a labeled, timestamped event attached to a Run.
type Marker struct {
	ID        int64
	RunID     int64
	Timestamp time.Time
	Type      MarkerType
	Level     MarkerLevel
	Label     string
}
