//go:build !windows

package counters

import "errors"

// ErrUnsupportedPlatform is returned by every counter open on a non-Windows
// host. The capture core's counter sources are Windows-only (spec §1); on
// any other OS every counter degrades to unavailable, which is exactly the
// behavior the Reader already implements for any single failing counter.
var ErrUnsupportedPlatform = errors.New("performance counters unsupported on this platform")

type stubPlatform struct{}

// Platform returns a stub backend on non-Windows builds so the package
// still compiles and its degrade-path behavior is testable off-host.
func Platform() platform { return stubPlatform{} }

func (stubPlatform) openCPUTotal() (counterSource, error)       { return nil, ErrUnsupportedPlatform }
func (stubPlatform) openDiskReads() (counterSource, error)      { return nil, ErrUnsupportedPlatform }
func (stubPlatform) openDiskWrites() (counterSource, error)     { return nil, ErrUnsupportedPlatform }
func (stubPlatform) openDiskReadBytes() (counterSource, error)  { return nil, ErrUnsupportedPlatform }
func (stubPlatform) openDiskWriteBytes() (counterSource, error) { return nil, ErrUnsupportedPlatform }

func (stubPlatform) enumerateNetworkInterfaces() ([]string, error) {
	return nil, ErrUnsupportedPlatform
}

func (stubPlatform) openNetBytesSent(string) (counterSource, error) {
	return nil, ErrUnsupportedPlatform
}

func (stubPlatform) openNetBytesReceived(string) (counterSource, error) {
	return nil, ErrUnsupportedPlatform
}

func (stubPlatform) newHostInfo() hostInfoSource { return &stubHostInfo{} }

type stubHostInfo struct{}

func (*stubHostInfo) Refresh() error               { return ErrUnsupportedPlatform }
func (*stubHostInfo) TotalPhysicalMB() float64     { return 0 }
func (*stubHostInfo) AvailablePhysicalMB() float64 { return 0 }
func (*stubHostInfo) CPUModel() string             { return "" }
