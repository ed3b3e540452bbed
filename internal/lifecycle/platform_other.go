//go:build !windows

package lifecycle

import (
	"errors"
	"time"
)

// ErrUnsupportedPlatform is returned by every lifecycle operation on a
// non-Windows host, mirroring the counters package's degrade pattern.
var ErrUnsupportedPlatform = errors.New("process lifecycle tracking unsupported on this platform")

type stubPlatform struct{}

// Platform returns a stub backend on non-Windows builds so the package
// still compiles and Tracker's orchestration logic is testable off-host.
func Platform() platform { return stubPlatform{} }

func (stubPlatform) enumerateProcesses() ([]processInfo, error) {
	return nil, ErrUnsupportedPlatform
}

func (stubPlatform) openProcess(pid uint32, name string) (ProcessHandle, error) {
	return nil, ErrUnsupportedPlatform
}

func (stubPlatform) subscribeExit(pid uint32, onExit func()) (func(), error) {
	return nil, ErrUnsupportedPlatform
}

func (stubPlatform) subscribeStart(onStart func(processInfo)) (func(), error) {
	return nil, ErrUnsupportedPlatform
}

type stubProcessHandle struct {
	pid  uint32
	name string
}

func (h *stubProcessHandle) PID() uint32                      { return h.pid }
func (h *stubProcessHandle) Name() string                     { return h.name }
func (h *stubProcessHandle) CPUTime() (time.Duration, error)  { return 0, ErrUnsupportedPlatform }
func (h *stubProcessHandle) WorkingSetMB() (float64, error)   { return 0, ErrUnsupportedPlatform }
func (h *stubProcessHandle) PrivateBytesMB() (float64, error) { return 0, ErrUnsupportedPlatform }
func (h *stubProcessHandle) ThreadCount() (int, error)        { return 0, ErrUnsupportedPlatform }
func (h *stubProcessHandle) HandleCount() (int, error)        { return 0, ErrUnsupportedPlatform }
func (h *stubProcessHandle) ExitCode() (bool, *int, error)    { return false, nil, ErrUnsupportedPlatform }
func (h *stubProcessHandle) Close() error                     { return nil }
