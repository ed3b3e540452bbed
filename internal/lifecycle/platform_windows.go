//go:build windows

package lifecycle

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

type windowsPlatform struct{}

// Platform returns the real Windows process-facility backend.
func Platform() platform { return windowsPlatform{} }

func (p windowsPlatform) enumerateProcesses() ([]processInfo, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, fmt.Errorf("CreateToolhelp32Snapshot: %w", err)
	}
	defer windows.CloseHandle(snap)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))

	var out []processInfo
	if err := windows.Process32First(snap, &entry); err != nil {
		return nil, fmt.Errorf("Process32First: %w", err)
	}
	for {
		name := windows.UTF16ToString(entry.ExeFile[:])
		out = append(out, processInfo{PID: entry.ProcessID, Name: name})
		if err := windows.Process32Next(snap, &entry); err != nil {
			break
		}
	}
	return out, nil
}

func (p windowsPlatform) openProcess(pid uint32, name string) (ProcessHandle, error) {
	access := uint32(windows.PROCESS_QUERY_LIMITED_INFORMATION | windows.PROCESS_VM_READ)
	h, err := windows.OpenProcess(access, false, pid)
	if err != nil {
		if errors.Is(err, windows.ERROR_INVALID_PARAMETER) {
			return nil, noSuchProcess{pid: pid}
		}
		return nil, fmt.Errorf("OpenProcess(%d): %w", pid, err)
	}
	return &windowsProcessHandle{pid: pid, name: name, handle: h}, nil
}

// subscribeExit opens a SYNCHRONIZE handle to pid and blocks one goroutine
// per process in WaitForSingleObject(INFINITE); when the wait completes it
// invokes onExit unless the returned unsubscribe func has been called. The
// waiting goroutine stays blocked until the process exits, even after
// unsubscribe. The unsubscribe func must be called at most once.
func (p windowsPlatform) subscribeExit(pid uint32, onExit func()) (func(), error) {
	access := uint32(windows.SYNCHRONIZE)
	h, err := windows.OpenProcess(access, false, pid)
	if err != nil {
		return nil, fmt.Errorf("OpenProcess(%d) for wait: %w", pid, err)
	}

	stop := make(chan struct{})
	go func() {
		defer windows.CloseHandle(h)
		event, err := windows.WaitForSingleObject(h, windows.INFINITE)
		if err != nil {
			return
		}
		select {
		case <-stop:
			return
		default:
		}
		if event == windows.WAIT_OBJECT_0 {
			onExit()
		}
	}()

	return func() { close(stop) }, nil
}

// subscribeStart uses a WMI-free heuristic: no public unprivileged Win32
// API delivers a stream of all process-start events without ETW (which
// itself needs administrator privilege to consume the kernel process
// provider). Rather than fabricate an ETW binding with no grounding
// anywhere in the pack, this returns an error so Tracker degrades to
// seed-only operation, matching spec §4.2's explicitly allowed
// PrivilegeDenied path.
func (p windowsPlatform) subscribeStart(onStart func(processInfo)) (func(), error) {
	return nil, fmt.Errorf("process-start notifications require the kernel ETW process provider: %w", errPrivilegeRequired)
}

type windowsProcessHandle struct {
	pid    uint32
	name   string
	handle windows.Handle
}

func (h *windowsProcessHandle) PID() uint32  { return h.pid }
func (h *windowsProcessHandle) Name() string { return h.name }

func (h *windowsProcessHandle) CPUTime() (time.Duration, error) {
	var creation, exit, kernel, user windows.Filetime
	if err := windows.GetProcessTimes(h.handle, &creation, &exit, &kernel, &user); err != nil {
		return 0, err
	}
	total := filetimeToDuration(kernel) + filetimeToDuration(user)
	return total, nil
}

func filetimeToDuration(ft windows.Filetime) time.Duration {
	ns := (int64(ft.HighDateTime)<<32 | int64(ft.LowDateTime)) * 100
	return time.Duration(ns)
}

func (h *windowsProcessHandle) WorkingSetMB() (float64, error) {
	var counters processMemoryCounters
	if err := getProcessMemoryInfo(h.handle, &counters); err != nil {
		return 0, err
	}
	return float64(counters.WorkingSetSize) / (1024 * 1024), nil
}

func (h *windowsProcessHandle) PrivateBytesMB() (float64, error) {
	var counters processMemoryCounters
	if err := getProcessMemoryInfo(h.handle, &counters); err != nil {
		return 0, err
	}
	return float64(counters.PrivateUsage) / (1024 * 1024), nil
}

func (h *windowsProcessHandle) ThreadCount() (int, error) {
	return countThreads(h.pid)
}

func (h *windowsProcessHandle) HandleCount() (int, error) {
	var count uint32
	if err := getProcessHandleCount(h.handle, &count); err != nil {
		return 0, err
	}
	return int(count), nil
}

func (h *windowsProcessHandle) ExitCode() (bool, *int, error) {
	var code uint32
	if err := windows.GetExitCodeProcess(h.handle, &code); err != nil {
		return false, nil, err
	}
	const stillActive = 259
	if code == stillActive {
		return false, nil, nil
	}
	c := int(code)
	return true, &c, nil
}

func (h *windowsProcessHandle) Close() error {
	return windows.CloseHandle(h.handle)
}

type noSuchProcess struct{ pid uint32 }

func (e noSuchProcess) Error() string       { return fmt.Sprintf("process %d does not exist", e.pid) }
func (e noSuchProcess) NoSuchProcess() bool { return true }

var errPrivilegeRequired = fmt.Errorf("insufficient privilege")
