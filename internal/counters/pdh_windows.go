//go:build windows

package counters

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// pdh.dll bindings. x/sys/windows has no first-class PDH wrapper, so this
// package talks to it the same way any idiomatic Windows-only Go package
// built on golang.org/x/sys/windows does: resolve procs off a lazy DLL and
// call them via syscall.SyscallN. This is the grounded choice noted in
// SPEC_FULL.md's DOMAIN STACK section — there is no higher-level PDH
// binding anywhere in the example pack.
var (
	modPdh = windows.NewLazySystemDLL("pdh.dll")

	procPdhOpenQuery                 = modPdh.NewProc("PdhOpenQueryW")
	procPdhAddEnglishCounter         = modPdh.NewProc("PdhAddEnglishCounterW")
	procPdhCollectQueryData          = modPdh.NewProc("PdhCollectQueryData")
	procPdhGetFormattedCounterValue  = modPdh.NewProc("PdhGetFormattedCounterValue")
	procPdhCloseQuery                = modPdh.NewProc("PdhCloseQuery")
	procPdhEnumObjectItems            = modPdh.NewProc("PdhEnumObjectItemsW")
)

const (
	pdhFmtDouble = 0x00000200
	pdhMoreData  = 0x800007D2
)

type pdhFmtCounterValueDouble struct {
	CStatus     uint32
	DoubleValue float64
}

// pdhCounter wraps a single PDH query containing exactly one counter path,
// matching the one-query-per-counter shape the reader uses so each
// counterSource can be opened, primed, and closed independently.
type pdhCounter struct {
	query   windows.Handle
	counter windows.Handle
}

func openPDHCounter(path string) (counterSource, error) {
	var query windows.Handle
	ret, _, _ := procPdhOpenQuery.Call(0, 0, uintptr(unsafe.Pointer(&query)))
	if ret != 0 {
		return nil, fmt.Errorf("PdhOpenQuery failed: 0x%x", ret)
	}

	pathPtr, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		procPdhCloseQuery.Call(uintptr(query))
		return nil, fmt.Errorf("encode counter path %q: %w", path, err)
	}

	var counter windows.Handle
	ret, _, _ = procPdhAddEnglishCounter.Call(uintptr(query), uintptr(unsafe.Pointer(pathPtr)), 0, uintptr(unsafe.Pointer(&counter)))
	if ret != 0 {
		procPdhCloseQuery.Call(uintptr(query))
		return nil, fmt.Errorf("PdhAddEnglishCounter %q failed: 0x%x", path, ret)
	}

	return &pdhCounter{query: query, counter: counter}, nil
}

func (c *pdhCounter) Read() (float64, error) {
	ret, _, _ := procPdhCollectQueryData.Call(uintptr(c.query))
	if ret != 0 && ret != pdhMoreData {
		return 0, fmt.Errorf("PdhCollectQueryData failed: 0x%x", ret)
	}

	var value pdhFmtCounterValueDouble
	ret, _, _ = procPdhGetFormattedCounterValue.Call(uintptr(c.counter), uintptr(pdhFmtDouble), 0, uintptr(unsafe.Pointer(&value)))
	if ret != 0 {
		return 0, fmt.Errorf("PdhGetFormattedCounterValue failed: 0x%x", ret)
	}
	return value.DoubleValue, nil
}

func (c *pdhCounter) Close() error {
	ret, _, _ := procPdhCloseQuery.Call(uintptr(c.query))
	if ret != 0 {
		return fmt.Errorf("PdhCloseQuery failed: 0x%x", ret)
	}
	return nil
}

// enumerateNetworkInstanceNames lists the "Network Interface" PDH object's
// current instances, frozen at construction time per spec §4.1/§9.
func enumerateNetworkInstanceNames() ([]string, error) {
	const object = "Network Interface"
	objectPtr, err := syscall.UTF16PtrFromString(object)
	if err != nil {
		return nil, err
	}

	var counterBufLen, instanceBufLen uint32
	ret, _, _ := procPdhEnumObjectItems.Call(
		0, 0, uintptr(unsafe.Pointer(objectPtr)),
		0, uintptr(unsafe.Pointer(&counterBufLen)),
		0, uintptr(unsafe.Pointer(&instanceBufLen)),
		0, 0,
	)
	if ret != 0 && ret != pdhMoreData {
		return nil, fmt.Errorf("PdhEnumObjectItems (size probe) failed: 0x%x", ret)
	}
	if instanceBufLen == 0 {
		return nil, nil
	}

	counterBuf := make([]uint16, counterBufLen)
	instanceBuf := make([]uint16, instanceBufLen)
	ret, _, _ = procPdhEnumObjectItems.Call(
		0, 0, uintptr(unsafe.Pointer(objectPtr)),
		uintptr(unsafe.Pointer(&counterBuf[0])), uintptr(unsafe.Pointer(&counterBufLen)),
		uintptr(unsafe.Pointer(&instanceBuf[0])), uintptr(unsafe.Pointer(&instanceBufLen)),
		0, 0,
	)
	if ret != 0 {
		return nil, fmt.Errorf("PdhEnumObjectItems failed: 0x%x", ret)
	}

	return splitNulSeparated(instanceBuf), nil
}

func splitNulSeparated(buf []uint16) []string {
	var out []string
	start := 0
	for i, v := range buf {
		if v == 0 {
			if i > start {
				out = append(out, syscall.UTF16ToString(buf[start:i]))
			}
			start = i + 1
		}
	}
	return out
}
