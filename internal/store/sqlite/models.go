// Package sqlite implements store.Store on a local SQLite file via gorm,
// the same persistence stack uubulb-nezha uses for its own agent-facing
// store (gorm.io/gorm + gorm.io/driver/sqlite). spec §6.3's database_path
// option names a filesystem path rather than a network DSN, which is what
// makes a file-backed store the right fit here instead of the teacher's
// own Postgres/pgx stack (see DESIGN.md).
package sqlite

import "time"

type runRow struct {
	ID                uint64 `gorm:"primaryKey;autoIncrement"`
	MachineName       string
	OSIdentifier      string
	LogicalCores      int
	CPUModel          string
	TotalPhysicalMB   float64
	SystemDriveType   string
	SystemDriveFreeMB float64
	UptimeAtStartMS   int64
	Scenario          string
	Notes             string
	WorkloadType      string
	WorkloadSizeEst   string
	WorkloadNotes     string
	ConfigSnapshot    string
	ToolVersion       string
	StartedAt         time.Time
	EndedAt           *time.Time
	DurationMS        *int64
}

func (runRow) TableName() string { return "runs" }

type systemSampleRow struct {
	ID                     uint64 `gorm:"primaryKey;autoIncrement"`
	RunID                  uint64 `gorm:"index:idx_system_sample_run"`
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

func (systemSampleRow) TableName() string { return "system_samples" }

type processSampleRow struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement"`
	SystemSampleID uint64 `gorm:"index:idx_process_sample_system"`
	ProcessName    string
	CPUPercent     float64
	WorkingSetMB   float64
	PrivateBytesMB float64
	ThreadCount    int
	HandleCount    int
}

func (processSampleRow) TableName() string { return "process_samples" }

type markerRow struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	RunID     uint64 `gorm:"index:idx_marker_run"`
	Timestamp time.Time
	Type      string
	Level     string
	Label     string
}

func (markerRow) TableName() string { return "markers" }

type managedRuntimeSampleRow struct {
	ID                     uint64 `gorm:"primaryKey;autoIncrement"`
	RunID                  uint64 `gorm:"index:idx_runtime_sample_run"`
	Timestamp              time.Time
	AppLabel               string
	ProcessName            string
	Kind                   string
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

func (managedRuntimeSampleRow) TableName() string { return "managed_runtime_samples" }

type httpSampleRow struct {
	ID               uint64 `gorm:"primaryKey;autoIncrement"`
	RunID            uint64 `gorm:"index:idx_http_sample_run"`
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

func (httpSampleRow) TableName() string { return "http_samples" }

type dmvSampleRow struct {
	ID                   uint64 `gorm:"primaryKey;autoIncrement"`
	RunID                uint64 `gorm:"index:idx_dmv_sample_run"`
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

func (dmvSampleRow) TableName() string { return "dmv_samples" }
