// Package counters implements the Counter Reader (spec §4.1, component C1):
// safe, best-effort access to host and OS performance counters. A single
// failing counter never aborts a tick — every read degrades to an absent
// optional value, the same "catch and continue" shape the teacher's own
// leaf I/O wraps its errors in (spec §7, §9).
package counters

import "time"

// Config toggles which optional counter families C1 attempts to open.
type Config struct {
	EnableDisk    bool
	EnableNetwork bool
}

// Snapshot is one reading across every open counter. Any field may be nil
// when its source counter failed to open or failed to read (spec §4.1).
type Snapshot struct {
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

// counterSource is the minimal interface a single open performance counter
// exposes: a scalar read that reports a rate since the previous read. This
// mirrors spec §6.1's "a counter exposes a single scalar read that returns
// a rate computed since the previous read."
type counterSource interface {
	Read() (float64, error)
	Close() error
}

// hostInfoSource refreshes CPU/memory host facts (spec §6.1).
type hostInfoSource interface {
	Refresh() error
	TotalPhysicalMB() float64
	AvailablePhysicalMB() float64
	CPUModel() string
}
