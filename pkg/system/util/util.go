//go:build linux

package util

import (
	"bufio"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// IntelVendor is the vendor_id reported by Intel parts in /proc/cpuinfo.
const IntelVendor = "GenuineIntel"

// CPUInfo is the subset of /proc/cpuinfo the tool reports.
type CPUInfo struct {
	Vendor  string
	Model   string
	Logical int
}

// Intel reports whether the vendor id is Intel's.
func (c CPUInfo) Intel() bool { return c.Vendor == IntelVendor }

// ReadCPUInfo parses /proc/cpuinfo content. Logical counts "processor" entries.
func ReadCPUInfo(r io.Reader) (CPUInfo, error) {
	var info CPUInfo
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		switch key {
		case "processor":
			info.Logical++
		case "vendor_id":
			if info.Vendor == "" {
				info.Vendor = val
			}
		case "model name":
			if info.Model == "" {
				info.Model = val
			}
		}
	}
	return info, sc.Err()
}

// LocalCPUInfo reads /proc/cpuinfo, falling back to runtime.NumCPU for the
// logical count when the file is unavailable.
func LocalCPUInfo() CPUInfo {
	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return CPUInfo{Logical: runtime.NumCPU()}
	}
	defer f.Close()

	info, err := ReadCPUInfo(f)
	if err != nil || info.Logical == 0 {
		info.Logical = runtime.NumCPU()
	}
	return info
}

// SystemSummary returns host name, kernel release, logical CPU count and
// CPU model for the report header. Unknown values are "?".
func SystemSummary() (host, kernel, cpus, model string) {
	host, kernel, model = "?", "?", "?"

	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		host = unix.ByteSliceToString(uts.Nodename[:])
		kernel = unix.ByteSliceToString(uts.Release[:])
	} else if h, err := os.Hostname(); err == nil {
		host = h
	}

	info := LocalCPUInfo()
	cpus = strconv.Itoa(info.Logical)
	if info.Model != "" {
		model = info.Model
	}
	return host, kernel, cpus, model
}
