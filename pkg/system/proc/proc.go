//go:build linux

package proc

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// StatPath is the kernel's aggregate CPU accounting file.
const StatPath = "/proc/stat"

// CPUSample holds jiffy counters of the aggregate "cpu" line:
//   - Active: user + nice + system + irq + softirq + steal
//   - Total:  Active + idle + iowait
type CPUSample struct {
	Active uint64
	Total  uint64
}

// SampleCPU reads the current aggregate counters from /proc/stat.
func SampleCPU() (CPUSample, error) {
	f, err := os.Open(StatPath)
	if err != nil {
		return CPUSample{}, err
	}
	defer f.Close()
	return ReadCPUSample(f)
}

// ReadCPUSample parses a /proc/stat formatted stream.
func ReadCPUSample(r io.Reader) (CPUSample, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fs := strings.Fields(sc.Text())
		if len(fs) == 0 || fs[0] != "cpu" {
			continue
		}
		if len(fs) < 9 {
			return CPUSample{}, ErrShortStat
		}
		var vals [8]uint64
		for i := range vals {
			v, err := strconv.ParseUint(fs[i+1], 10, 64)
			if err != nil {
				return CPUSample{}, fmt.Errorf("%w: field %d: %v", ErrBadStat, i+1, err)
			}
			vals[i] = v
		}
		active := vals[0] + vals[1] + vals[2] + vals[5] + vals[6] + vals[7]
		return CPUSample{Active: active, Total: active + vals[3] + vals[4]}, nil
	}
	if err := sc.Err(); err != nil {
		return CPUSample{}, err
	}
	return CPUSample{}, ErrNoCPU
}

// Utilization returns the busy fraction between prev and next in [0,1].
// Counter resets yield 0.
func Utilization(prev, next CPUSample) float64 {
	active := deltaU64(next.Active, prev.Active)
	total := deltaU64(next.Total, prev.Total)
	if total == 0 {
		return 0
	}
	return clamp01(float64(active) / float64(total))
}

func deltaU64(now, prev uint64) uint64 {
	if now >= prev {
		return now - prev
	}
	return 0
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
