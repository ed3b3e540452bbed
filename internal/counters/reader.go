package counters

import (
	"log/slog"
	"sync"
	"time"
)

// platform is the seam between Reader's best-effort orchestration and the
// actual OS counter catalog (spec §6.1). A build-tagged implementation
// backs this on windows; a stub backs it everywhere else so the package
// builds and its degrade-path logic is testable off-host.
type platform interface {
	openCPUTotal() (counterSource, error)
	openDiskReads() (counterSource, error)
	openDiskWrites() (counterSource, error)
	openDiskReadBytes() (counterSource, error)
	openDiskWriteBytes() (counterSource, error)
	enumerateNetworkInterfaces() ([]string, error)
	openNetBytesSent(instance string) (counterSource, error)
	openNetBytesReceived(instance string) (counterSource, error)
	newHostInfo() hostInfoSource
}

// namedCounter pairs an opened counter with the label used in warning logs.
type namedCounter struct {
	label  string
	source counterSource
}

// Reader is the Counter Reader (C1). It is not safe for concurrent Snapshot
// calls against the same instance from multiple goroutines simultaneously,
// matching the spec's expectation that C1 is driven by the single
// Orchestrator tick.
type Reader struct {
	logger *slog.Logger

	cpuTotal       *namedCounter
	diskReads      *namedCounter
	diskWrites     *namedCounter
	diskReadBytes  *namedCounter
	diskWriteBytes *namedCounter
	netSent        []*namedCounter
	netReceived    []*namedCounter

	host hostInfoSource

	mu     sync.Mutex
	closed bool
}

// New constructs a Reader per cfg, opening every enabled counter and
// priming each with one discard read (spec §4.1) so the first real
// Snapshot reports a rate rather than a cumulative total. Opening any
// individual counter may fail; failure is logged at warning level and the
// counter is recorded as unavailable rather than aborting construction.
func New(cfg Config, logger *slog.Logger, plat platform) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reader{logger: logger, host: plat.newHostInfo()}

	r.cpuTotal = r.open("cpu_total_percent", plat.openCPUTotal)

	if cfg.EnableDisk {
		r.diskReads = r.open("disk_reads_per_sec", plat.openDiskReads)
		r.diskWrites = r.open("disk_writes_per_sec", plat.openDiskWrites)
		r.diskReadBytes = r.open("disk_read_bytes_per_sec", plat.openDiskReadBytes)
		r.diskWriteBytes = r.open("disk_write_bytes_per_sec", plat.openDiskWriteBytes)
	}

	if cfg.EnableNetwork {
		instances, err := plat.enumerateNetworkInterfaces()
		if err != nil {
			logger.Warn("failed to enumerate network interfaces", "error", err)
		}
		for _, inst := range instances {
			if c := r.open("net_bytes_sent_per_sec["+inst+"]", func() (counterSource, error) {
				return plat.openNetBytesSent(inst)
			}); c != nil {
				r.netSent = append(r.netSent, c)
			}
			if c := r.open("net_bytes_received_per_sec["+inst+"]", func() (counterSource, error) {
				return plat.openNetBytesReceived(inst)
			}); c != nil {
				r.netReceived = append(r.netReceived, c)
			}
		}
	}

	return r
}

func (r *Reader) open(label string, openFn func() (counterSource, error)) *namedCounter {
	src, err := openFn()
	if err != nil {
		r.logger.Warn("failed to open counter", "counter", label, "error", err)
		return nil
	}
	if _, err := src.Read(); err != nil {
		r.logger.Warn("failed to prime counter", "counter", label, "error", err)
	}
	return &namedCounter{label: label, source: src}
}

// Snapshot reads every open counter. Per-counter failures yield absent
// values and are logged at debug level; they never propagate to the
// caller (spec §4.1, §7 TransientReadFailure).
func (r *Reader) Snapshot(interval time.Duration) Snapshot {
	snap := Snapshot{Timestamp: time.Now().UTC()}

	snap.CPUTotalPercent = r.readOne(r.cpuTotal)
	snap.DiskReadsPerSec = r.readOne(r.diskReads)
	snap.DiskWritesPerSec = r.readOne(r.diskWrites)
	snap.DiskReadBytesPerSec = r.readOne(r.diskReadBytes)
	snap.DiskWriteBytesPerSec = r.readOne(r.diskWriteBytes)

	if sum, ok := r.sumCounters(r.netSent); ok {
		snap.NetBytesSentPerSec = &sum
	}
	if sum, ok := r.sumCounters(r.netReceived); ok {
		snap.NetBytesReceivedPerSec = &sum
	}

	if err := r.host.Refresh(); err != nil {
		r.logger.Debug("failed to refresh host info", "error", err)
	} else {
		used := r.host.TotalPhysicalMB() - r.host.AvailablePhysicalMB()
		avail := r.host.AvailablePhysicalMB()
		snap.MemoryUsedMB = &used
		snap.MemoryAvailableMB = &avail
	}

	return snap
}

func (r *Reader) readOne(nc *namedCounter) *float64 {
	if nc == nil {
		return nil
	}
	v, err := nc.source.Read()
	if err != nil {
		r.logger.Debug("counter read failed", "counter", nc.label, "error", err)
		return nil
	}
	return &v
}

// sumCounters sums every successfully-read counter in the set. It reports
// ok=false when the set itself is empty (no interfaces enumerated) or when
// every read in the set failed, matching spec §4.1's "network interfaces
// are summed across instances."
func (r *Reader) sumCounters(set []*namedCounter) (float64, bool) {
	if len(set) == 0 {
		return 0, false
	}
	var total float64
	any := false
	for _, nc := range set {
		v, err := nc.source.Read()
		if err != nil {
			r.logger.Debug("counter read failed", "counter", nc.label, "error", err)
			continue
		}
		total += v
		any = true
	}
	return total, any
}

// Close releases all counter resources. Idempotent.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	closeOne := func(nc *namedCounter) {
		if nc == nil {
			return
		}
		if err := nc.source.Close(); err != nil {
			r.logger.Debug("failed to close counter", "counter", nc.label, "error", err)
		}
	}
	closeOne(r.cpuTotal)
	closeOne(r.diskReads)
	closeOne(r.diskWrites)
	closeOne(r.diskReadBytes)
	closeOne(r.diskWriteBytes)
	for _, nc := range r.netSent {
		closeOne(nc)
	}
	for _, nc := range r.netReceived {
		closeOne(nc)
	}
	return nil
}
