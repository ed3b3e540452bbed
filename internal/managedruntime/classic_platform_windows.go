//go:build windows

package managedruntime

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// pdhClassicPlatform resolves per-pid instance names and opens named
// counters against the classic Windows PDH catalog, the same small
// syscall surface internal/counters' pdh_windows.go binds (no higher-level
// PDH wrapper exists anywhere in the example pack).
type pdhClassicPlatform struct {
	modPdh                  *windows.LazyDLL
	procPdhOpenQuery        *windows.LazyProc
	procPdhAddCounter       *windows.LazyProc
	procPdhCollectQueryData *windows.LazyProc
	procPdhGetFormatted     *windows.LazyProc
	procPdhCloseQuery       *windows.LazyProc
	procPdhEnumObjectItems  *windows.LazyProc
}

// NewClassicPlatform constructs the Framework-kind poller's PDH-backed
// instance resolver and counter source.
func NewClassicPlatform() classicPlatform {
	mod := windows.NewLazySystemDLL("pdh.dll")
	return &pdhClassicPlatform{
		modPdh:                  mod,
		procPdhOpenQuery:        mod.NewProc("PdhOpenQueryW"),
		procPdhAddCounter:       mod.NewProc("PdhAddEnglishCounterW"),
		procPdhCollectQueryData: mod.NewProc("PdhCollectQueryData"),
		procPdhGetFormatted:     mod.NewProc("PdhGetFormattedCounterValue"),
		procPdhCloseQuery:       mod.NewProc("PdhCloseQuery"),
		procPdhEnumObjectItems:  mod.NewProc("PdhEnumObjectItemsW"),
	}
}

const (
	pdhFmtDouble = 0x00000200
	pdhMoreData  = 0x800007D2
)

type pdhFmtCounterValueDouble struct {
	CStatus     uint32
	DoubleValue float64
}

// resolveInstance finds the "Process" category instance whose "ID Process"
// counter equals pid, trying base names "processName", "processName#1",
// "processName#2", ... until the catalog stops reporting a match.
func (p *pdhClassicPlatform) resolveInstance(processName string, pid uint32) (string, error) {
	base := stripExeSuffix(processName)
	for n := 0; ; n++ {
		instance := base
		if n > 0 {
			instance = fmt.Sprintf("%s#%d", base, n)
		}
		path := fmt.Sprintf(`\Process(%s)\ID Process`, instance)
		src, err := p.open(path)
		if err != nil {
			if n == 0 {
				continue // the bare name may not resolve; try "processName#1" next
			}
			return "", fmt.Errorf("instance not found for pid %d (process %q)", pid, processName)
		}
		v, err := src.Read()
		_ = src.Close()
		if err != nil {
			continue
		}
		if uint32(v) == pid {
			return instance, nil
		}
		if n > 64 {
			return "", fmt.Errorf("instance not found for pid %d (process %q) after %d candidates", pid, processName, n)
		}
	}
}

func (p *pdhClassicPlatform) openCounter(category, counter, instance string) (classicCounterSource, error) {
	path := fmt.Sprintf(`\%s(%s)\%s`, category, instance, counter)
	return p.open(path)
}

func (p *pdhClassicPlatform) open(path string) (classicCounterSource, error) {
	var query windows.Handle
	ret, _, _ := p.procPdhOpenQuery.Call(0, 0, uintptr(unsafe.Pointer(&query)))
	if ret != 0 {
		return nil, fmt.Errorf("PdhOpenQuery failed: 0x%x", ret)
	}

	pathPtr, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		p.procPdhCloseQuery.Call(uintptr(query))
		return nil, fmt.Errorf("encode counter path %q: %w", path, err)
	}

	var counter windows.Handle
	ret, _, _ = p.procPdhAddCounter.Call(uintptr(query), uintptr(unsafe.Pointer(pathPtr)), 0, uintptr(unsafe.Pointer(&counter)))
	if ret != 0 {
		p.procPdhCloseQuery.Call(uintptr(query))
		return nil, fmt.Errorf("PdhAddEnglishCounter %q failed: 0x%x", path, ret)
	}

	return &pdhClassicCounter{plat: p, query: query, counter: counter}, nil
}

func stripExeSuffix(name string) string {
	for _, suffix := range []string{".exe", ".EXE"} {
		if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			return name[:len(name)-len(suffix)]
		}
	}
	return name
}

type pdhClassicCounter struct {
	plat    *pdhClassicPlatform
	query   windows.Handle
	counter windows.Handle
}

func (c *pdhClassicCounter) Read() (float64, error) {
	ret, _, _ := c.plat.procPdhCollectQueryData.Call(uintptr(c.query))
	if ret != 0 && ret != pdhMoreData {
		return 0, fmt.Errorf("PdhCollectQueryData failed: 0x%x", ret)
	}
	var value pdhFmtCounterValueDouble
	ret, _, _ = c.plat.procPdhGetFormatted.Call(uintptr(c.counter), uintptr(pdhFmtDouble), 0, uintptr(unsafe.Pointer(&value)))
	if ret != 0 {
		return 0, fmt.Errorf("PdhGetFormattedCounterValue failed: 0x%x", ret)
	}
	return value.DoubleValue, nil
}

func (c *pdhClassicCounter) Close() error {
	ret, _, _ := c.plat.procPdhCloseQuery.Call(uintptr(c.query))
	if ret != 0 {
		return fmt.Errorf("PdhCloseQuery failed: 0x%x", ret)
	}
	return nil
}
