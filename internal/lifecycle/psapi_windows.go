//go:build windows

package lifecycle

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modPsapi                      = windows.NewLazySystemDLL("psapi.dll")
	modNtdll                      = windows.NewLazySystemDLL("ntdll.dll")
	procGetProcessMemoryInfo      = modPsapi.NewProc("GetProcessMemoryInfo")
	procNtQueryInformationProcess = modNtdll.NewProc("NtQueryInformationProcess")
)

// processMemoryCounters mirrors the fields of PROCESS_MEMORY_COUNTERS_EX
// that the tracker needs; the struct layout must match the Win32 ABI.
type processMemoryCounters struct {
	cb                         uint32
	PageFaultCount             uint32
	PeakWorkingSetSize         uintptr
	WorkingSetSize             uintptr
	QuotaPeakPagedPoolUsage    uintptr
	QuotaPagedPoolUsage        uintptr
	QuotaPeakNonPagedPoolUsage uintptr
	QuotaNonPagedPoolUsage     uintptr
	PagefileUsage              uintptr
	PeakPagefileUsage          uintptr
	PrivateUsage               uintptr
}

func getProcessMemoryInfo(h windows.Handle, out *processMemoryCounters) error {
	out.cb = uint32(unsafe.Sizeof(*out))
	r1, _, err := procGetProcessMemoryInfo.Call(
		uintptr(h),
		uintptr(unsafe.Pointer(out)),
		uintptr(out.cb),
	)
	if r1 == 0 {
		return err
	}
	return nil
}

// processHandleCount quota info, per PROCESS_HANDLE_COUNT (processInfoClass 20).
func getProcessHandleCount(h windows.Handle, out *uint32) error {
	var returnLen uint32
	status, _, _ := procNtQueryInformationProcess.Call(
		uintptr(h),
		uintptr(20), // ProcessHandleCount
		uintptr(unsafe.Pointer(out)),
		uintptr(unsafe.Sizeof(*out)),
		uintptr(unsafe.Pointer(&returnLen)),
	)
	if status != 0 {
		return windows.Errno(status)
	}
	return nil
}

func countThreads(pid uint32) (int, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPTHREAD, 0)
	if err != nil {
		return 0, err
	}
	defer windows.CloseHandle(snap)

	var entry windows.ThreadEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))

	count := 0
	if err := windows.Thread32First(snap, &entry); err != nil {
		return 0, err
	}
	for {
		if entry.OwnerProcessID == pid {
			count++
		}
		if err := windows.Thread32Next(snap, &entry); err != nil {
			break
		}
	}
	return count, nil
}
