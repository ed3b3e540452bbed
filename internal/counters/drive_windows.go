//go:build windows

package counters

import (
	"fmt"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modKernel32            = windows.NewLazySystemDLL("kernel32.dll")
	procGetDriveType       = modKernel32.NewProc("GetDriveTypeW")
	procGetDiskFreeSpaceEx = modKernel32.NewProc("GetDiskFreeSpaceExW")
	procGetTickCount64     = modKernel32.NewProc("GetTickCount64")
)

var driveTypeNames = map[uintptr]string{
	0: "unknown",
	1: "no_root_dir",
	2: "removable",
	3: "fixed",
	4: "remote",
	5: "cdrom",
	6: "ramdisk",
}

// systemDriveInfo reports the type and free space of the drive hosting the
// Windows installation, read from the %SystemDrive% environment variable.
func (windowsPlatform) systemDriveInfo() (string, float64, error) {
	root := systemDriveRoot()
	rootPtr, err := syscall.UTF16PtrFromString(root)
	if err != nil {
		return "", 0, fmt.Errorf("encode drive root %q: %w", root, err)
	}

	ret, _, _ := procGetDriveType.Call(uintptr(unsafe.Pointer(rootPtr)))
	driveType, ok := driveTypeNames[ret]
	if !ok {
		driveType = "unknown"
	}

	var freeBytesAvailable, totalBytes, totalFreeBytes uint64
	r1, _, callErr := procGetDiskFreeSpaceEx.Call(
		uintptr(unsafe.Pointer(rootPtr)),
		uintptr(unsafe.Pointer(&freeBytesAvailable)),
		uintptr(unsafe.Pointer(&totalBytes)),
		uintptr(unsafe.Pointer(&totalFreeBytes)),
	)
	if r1 == 0 {
		return driveType, 0, fmt.Errorf("GetDiskFreeSpaceEx %q failed: %w", root, callErr)
	}

	return driveType, float64(freeBytesAvailable) / (1024 * 1024), nil
}

// systemUptime reports how long the host has been running since boot.
func (windowsPlatform) systemUptime() (time.Duration, error) {
	ticks, _, _ := procGetTickCount64.Call()
	return time.Duration(ticks) * time.Millisecond, nil
}

func systemDriveRoot() string {
	drive := windows.Getenv("SystemDrive")
	if drive == "" {
		drive = `C:`
	}
	return drive + `\`
}
