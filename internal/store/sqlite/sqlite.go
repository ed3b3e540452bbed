package sqlite

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/splax/scenariotel/internal/model"
	"github.com/splax/scenariotel/internal/store"
)

// Store implements store.Store on a local SQLite database file.
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

// Open creates (if needed) and migrates the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if err := db.AutoMigrate(
		&runRow{},
		&systemSampleRow{},
		&processSampleRow{},
		&markerRow{},
		&managedRuntimeSampleRow{},
		&httpSampleRow{},
		&dmvSampleRow{},
	); err != nil {
		return nil, fmt.Errorf("migrate sqlite store: %w", err)
	}
	return &Store{db: db}, nil
}

// InsertRun persists a new Run and returns its assigned identifier.
func (s *Store) InsertRun(ctx context.Context, run *model.Run) (int64, error) {
	row := runRow{
		MachineName:       run.MachineName,
		OSIdentifier:      run.OSIdentifier,
		LogicalCores:      run.LogicalCores,
		CPUModel:          run.CPUModel,
		TotalPhysicalMB:   run.TotalPhysicalMB,
		SystemDriveType:   run.SystemDriveType,
		SystemDriveFreeMB: run.SystemDriveFreeMB,
		UptimeAtStartMS:   run.UptimeAtStart.Milliseconds(),
		Scenario:          run.Scenario,
		Notes:             run.Notes,
		WorkloadType:      run.Workload.Type,
		WorkloadSizeEst:   run.Workload.SizeEst,
		WorkloadNotes:     run.Workload.Notes,
		ConfigSnapshot:    run.ConfigSnapshot,
		ToolVersion:       run.ToolVersion,
		StartedAt:         run.StartedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return int64(row.ID), nil
}

// UpdateRunEnd sets the run's end timestamp and duration exactly once.
func (s *Store) UpdateRunEnd(ctx context.Context, runID int64, endedAt time.Time, duration time.Duration) error {
	ms := duration.Milliseconds()
	result := s.db.WithContext(ctx).Model(&runRow{}).Where("id = ? AND ended_at IS NULL", runID).Updates(map[string]any{
		"ended_at":    endedAt,
		"duration_ms": &ms,
	})
	if result.Error != nil {
		return fmt.Errorf("update run end: %w", result.Error)
	}
	return nil
}

// InsertSystemSample persists a system sample and returns its assigned identifier.
func (s *Store) InsertSystemSample(ctx context.Context, sample *model.SystemSample) (int64, error) {
	row := systemSampleRow{
		RunID:                  uint64(sample.RunID),
		Timestamp:              sample.Timestamp,
		CPUTotalPercent:        sample.CPUTotalPercent,
		MemoryUsedMB:           sample.MemoryUsedMB,
		MemoryAvailableMB:      sample.MemoryAvailableMB,
		DiskReadsPerSec:        sample.DiskReadsPerSec,
		DiskWritesPerSec:       sample.DiskWritesPerSec,
		DiskReadBytesPerSec:    sample.DiskReadBytesPerSec,
		DiskWriteBytesPerSec:   sample.DiskWriteBytesPerSec,
		NetBytesSentPerSec:     sample.NetBytesSentPerSec,
		NetBytesReceivedPerSec: sample.NetBytesReceivedPerSec,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("insert system sample: %w", err)
	}
	return int64(row.ID), nil
}

// InsertProcessSamples batch-inserts process samples for one system sample tick.
func (s *Store) InsertProcessSamples(ctx context.Context, samples []model.ProcessSample) error {
	if len(samples) == 0 {
		return nil
	}
	rows := make([]processSampleRow, len(samples))
	for i, sample := range samples {
		rows[i] = processSampleRow{
			SystemSampleID: uint64(sample.SystemSampleID),
			ProcessName:    sample.ProcessName,
			CPUPercent:     sample.CPUPercent,
			WorkingSetMB:   sample.WorkingSetMB,
			PrivateBytesMB: sample.PrivateBytesMB,
			ThreadCount:    sample.ThreadCount,
			HandleCount:    sample.HandleCount,
		}
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("insert process samples: %w", err)
	}
	return nil
}

// InsertMarker persists a marker event.
func (s *Store) InsertMarker(ctx context.Context, marker *model.Marker) error {
	row := markerRow{
		RunID:     uint64(marker.RunID),
		Timestamp: marker.Timestamp,
		Type:      string(marker.Type),
		Level:     string(marker.Level),
		Label:     marker.Label,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert marker: %w", err)
	}
	return nil
}

// InsertManagedRuntimeSamples batch-inserts managed-runtime samples.
func (s *Store) InsertManagedRuntimeSamples(ctx context.Context, samples []model.ManagedRuntimeSample) error {
	if len(samples) == 0 {
		return nil
	}
	rows := make([]managedRuntimeSampleRow, len(samples))
	for i, sample := range samples {
		rows[i] = managedRuntimeSampleRow{
			RunID:                  uint64(sample.RunID),
			Timestamp:              sample.Timestamp,
			AppLabel:               sample.AppLabel,
			ProcessName:            sample.ProcessName,
			Kind:                   string(sample.Kind),
			HeapSizeMB:             sample.HeapSizeMB,
			AllocationRateMBPerSec: sample.AllocationRateMBPerSec,
			Gen0CollectionsPerSec:  sample.Gen0CollectionsPerSec,
			Gen1CollectionsPerSec:  sample.Gen1CollectionsPerSec,
			Gen2CollectionsPerSec:  sample.Gen2CollectionsPerSec,
			GCTimePercent:          sample.GCTimePercent,
			ExceptionRatePerSec:    sample.ExceptionRatePerSec,
			ThreadCount:            sample.ThreadCount,
			ThreadPoolThreadCount:  sample.ThreadPoolThreadCount,
			ThreadPoolQueueLength:  sample.ThreadPoolQueueLength,
		}
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("insert managed runtime samples: %w", err)
	}
	return nil
}

// InsertHTTPSamples batch-inserts HTTP bucket aggregates.
func (s *Store) InsertHTTPSamples(ctx context.Context, samples []model.HTTPSample) error {
	if len(samples) == 0 {
		return nil
	}
	rows := make([]httpSampleRow, len(samples))
	for i, sample := range samples {
		rows[i] = httpSampleRow{
			RunID:            uint64(sample.RunID),
			AppLabel:         sample.AppLabel,
			ProcessName:      sample.ProcessName,
			EndpointGroup:    sample.EndpointGroup,
			BucketStart:      sample.BucketStart,
			RequestCount:     sample.RequestCount,
			SuccessCount:     sample.SuccessCount,
			Status4xxCount:   sample.Status4xxCount,
			Status5xxCount:   sample.Status5xxCount,
			OtherStatusCount: sample.OtherStatusCount,
			TotalDurationMS:  sample.TotalDurationMS,
			AvgDurationMS:    sample.AvgDurationMS,
			MinDurationMS:    sample.MinDurationMS,
			MaxDurationMS:    sample.MaxDurationMS,
		}
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("insert http samples: %w", err)
	}
	return nil
}

// InsertDMVSample persists one relational DMV polling interval.
func (s *Store) InsertDMVSample(ctx context.Context, sample *model.DMVSample) error {
	row := dmvSampleRow{
		RunID:                uint64(sample.RunID),
		Timestamp:            sample.Timestamp,
		ActiveRequestCount:   sample.ActiveRequestCount,
		BlockedRequestCount:  sample.BlockedRequestCount,
		UserConnectionCount:  sample.UserConnectionCount,
		RunningSessionCount:  sample.RunningSessionCount,
		TopWaitType:          sample.TopWaitType,
		TopWaitMS:            sample.TopWaitMS,
		TotalWaitMSAllUsers:  sample.TotalWaitMSAllUsers,
		ReadStallMSPerRead:   sample.ReadStallMSPerRead,
		WriteStallMSPerWrite: sample.WriteStallMSPerWrite,
		ReadBytesPerSec:      sample.ReadBytesPerSec,
		WriteBytesPerSec:     sample.WriteBytesPerSec,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert dmv sample: %w", err)
	}
	return nil
}

// Close releases the underlying database connection. Idempotent.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
