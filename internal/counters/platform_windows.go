//go:build windows

package counters

import "fmt"

type windowsPlatform struct{}

// Platform returns the real Windows Counter Reader backend.
func Platform() platform { return windowsPlatform{} }

func (windowsPlatform) openCPUTotal() (counterSource, error) {
	return openPDHCounter(`\Processor(_Total)\% Processor Time`)
}

func (windowsPlatform) openDiskReads() (counterSource, error) {
	return openPDHCounter(`\PhysicalDisk(_Total)\Disk Reads/sec`)
}

func (windowsPlatform) openDiskWrites() (counterSource, error) {
	return openPDHCounter(`\PhysicalDisk(_Total)\Disk Writes/sec`)
}

func (windowsPlatform) openDiskReadBytes() (counterSource, error) {
	return openPDHCounter(`\PhysicalDisk(_Total)\Disk Read Bytes/sec`)
}

func (windowsPlatform) openDiskWriteBytes() (counterSource, error) {
	return openPDHCounter(`\PhysicalDisk(_Total)\Disk Write Bytes/sec`)
}

func (windowsPlatform) enumerateNetworkInterfaces() ([]string, error) {
	return enumerateNetworkInstanceNames()
}

func (windowsPlatform) openNetBytesSent(instance string) (counterSource, error) {
	return openPDHCounter(fmt.Sprintf(`\Network Interface(%s)\Bytes Sent/sec`, instance))
}

func (windowsPlatform) openNetBytesReceived(instance string) (counterSource, error) {
	return openPDHCounter(fmt.Sprintf(`\Network Interface(%s)\Bytes Received/sec`, instance))
}

func (windowsPlatform) newHostInfo() hostInfoSource {
	return newWindowsHostInfo()
}
