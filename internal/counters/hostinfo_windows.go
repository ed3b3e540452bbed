//go:build windows

package counters

import (
	"unsafe"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

// windowsHostInfo refreshes CPU/memory host facts via GlobalMemoryStatusEx
// and the processor name string from the registry, the same two primitives
// any idiomatic Windows-only Go host-facts reader uses (spec §6.1's "host
// info source").
type windowsHostInfo struct {
	totalPhysicalMB     float64
	availablePhysicalMB float64
	cpuModel            string
}

func newWindowsHostInfo() *windowsHostInfo {
	h := &windowsHostInfo{}
	h.cpuModel = readCPUModel()
	return h
}

func (h *windowsHostInfo) Refresh() error {
	var status windows.MemoryStatusEx
	status.Length = uint32(unsafe.Sizeof(status))
	if err := windows.GlobalMemoryStatusEx(&status); err != nil {
		return err
	}
	h.totalPhysicalMB = float64(status.TotalPhys) / (1024 * 1024)
	h.availablePhysicalMB = float64(status.AvailPhys) / (1024 * 1024)
	return nil
}

func (h *windowsHostInfo) TotalPhysicalMB() float64     { return h.totalPhysicalMB }
func (h *windowsHostInfo) AvailablePhysicalMB() float64 { return h.availablePhysicalMB }
func (h *windowsHostInfo) CPUModel() string             { return h.cpuModel }

func readCPUModel() string {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, `HARDWARE\DESCRIPTION\System\CentralProcessor\0`, registry.QUERY_VALUE)
	if err != nil {
		return ""
	}
	defer key.Close()
	name, _, err := key.GetStringValue("ProcessorNameString")
	if err != nil {
		return ""
	}
	return name
}
