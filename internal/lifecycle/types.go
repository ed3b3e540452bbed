// Package lifecycle implements the Process Lifecycle Tracker (spec §4.2,
// component C2): it maintains the current set of live process identifiers
// matching a monitored name set, announces arrivals and departures, and
// hands out process handles for per-tick CPU/memory reads.
package lifecycle

import "time"

// ProcessHandle is a live reference to one OS process, owned by whoever
// receives it from ActiveSnapshot (spec §5: "process handles returned from
// ActiveSnapshot are owned by the caller").
type ProcessHandle interface {
	PID() uint32
	Name() string
	CPUTime() (time.Duration, error)
	WorkingSetMB() (float64, error)
	PrivateBytesMB() (float64, error)
	ThreadCount() (int, error)
	HandleCount() (int, error)
	// ExitCode reports whether the process has already exited and, if so,
	// its exit code when available. It is used to close the start/exit
	// race described in spec §4.2's arrival handler.
	ExitCode() (exited bool, code *int, err error)
	Close() error
}

// processInfo is a name+pid pair produced by enumeration or a start event.
type processInfo struct {
	PID  uint32
	Name string
}

// platform is the seam between Tracker's orchestration and the OS process
// facility (spec §6.1).
type platform interface {
	enumerateProcesses() ([]processInfo, error)
	openProcess(pid uint32, name string) (ProcessHandle, error)
	// subscribeExit arranges for onExit to be invoked (at most once) when
	// pid terminates. unsubscribe releases the subscription.
	subscribeExit(pid uint32, onExit func()) (unsubscribe func(), err error)
	// subscribeStart arranges for onStart to be invoked for every new
	// process started on the host. It may fail (commonly insufficient
	// privilege); the caller degrades to seed-only operation.
	subscribeStart(onStart func(processInfo)) (unsubscribe func(), err error)
}

// cpuState is the Orchestrator's per-pid delta bookkeeping (spec §4.2
// "Per-process CPU delta computation... owned by the Orchestrator but
// defined here for locality").
type cpuState struct {
	lastCPUTime time.Duration
	hasPrev     bool
}

// CPUDelta computes a process's CPU percent over interval on a host with
// logicalCores logical cores, per spec §4.2:
//
//	(cputime_now - cputime_prev) / (interval * logicalCores) * 100
//
// clamped to >= 0. The first observation after a pid becomes known
// produces 0.
type CPUDelta struct {
	logicalCores int
	state        map[uint32]*cpuState
}

// NewCPUDelta constructs a delta tracker for a host with the given logical
// core count.
func NewCPUDelta(logicalCores int) *CPUDelta {
	if logicalCores < 1 {
		logicalCores = 1
	}
	return &CPUDelta{logicalCores: logicalCores, state: make(map[uint32]*cpuState)}
}

// Percent returns the CPU percent for pid given its current cumulative CPU
// time and the tick interval.
func (c *CPUDelta) Percent(pid uint32, cpuTime time.Duration, interval time.Duration) float64 {
	s, ok := c.state[pid]
	if !ok {
		s = &cpuState{}
		c.state[pid] = s
	}
	if !s.hasPrev {
		s.lastCPUTime = cpuTime
		s.hasPrev = true
		return 0
	}
	delta := cpuTime - s.lastCPUTime
	s.lastCPUTime = cpuTime
	if delta <= 0 || interval <= 0 {
		return 0
	}
	pct := delta.Seconds() / (interval.Seconds() * float64(c.logicalCores)) * 100
	if pct < 0 {
		return 0
	}
	return pct
}

// Retain drops per-pid state for any pid not present in live, garbage
// collecting state for processes no longer active (spec §4.2).
func (c *CPUDelta) Retain(live map[uint32]struct{}) {
	for pid := range c.state {
		if _, ok := live[pid]; !ok {
			delete(c.state, pid)
		}
	}
}
