package counters

import (
	"fmt"
	"os"
	"runtime"
	"time"
)

// Facts is the host-metadata snapshot the Orchestrator stamps onto a Run at
// open, reusing C1's host-info source (see the run host facts entry in
// SPEC_FULL.md's supplemented features).
type Facts struct {
	MachineName       string
	OSIdentifier      string
	LogicalCores      int
	CPUModel          string
	TotalPhysicalMB   float64
	SystemDriveType   string
	SystemDriveFreeMB float64
	UptimeAtStart     time.Duration
}

// GatherFacts takes one reading across the host-info source and the
// platform's system-drive query, best-effort: any individual facet that
// fails to resolve is left at its zero value rather than aborting.
func GatherFacts(plat platform) Facts {
	f := Facts{
		OSIdentifier: fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		LogicalCores: runtime.NumCPU(),
	}
	if name, err := os.Hostname(); err == nil {
		f.MachineName = name
	}

	host := plat.newHostInfo()
	if err := host.Refresh(); err == nil {
		f.TotalPhysicalMB = host.TotalPhysicalMB()
	}
	f.CPUModel = host.CPUModel()

	if sd, ok := plat.(systemDriveQuerier); ok {
		driveType, freeMB, err := sd.systemDriveInfo()
		if err == nil {
			f.SystemDriveType = driveType
			f.SystemDriveFreeMB = freeMB
		}
	}

	if uq, ok := plat.(uptimeQuerier); ok {
		if uptime, err := uq.systemUptime(); err == nil {
			f.UptimeAtStart = uptime
		}
	}

	return f
}

// systemDriveQuerier is an optional platform capability: the windows
// backend implements it, the portable stub does not, so GatherFacts
// degrades to zero values off-host.
type systemDriveQuerier interface {
	systemDriveInfo() (driveType string, freeMB float64, err error)
}

// uptimeQuerier is an optional platform capability reporting how long the
// host has been running. Only the windows backend implements it.
type uptimeQuerier interface {
	systemUptime() (time.Duration, error)
}
