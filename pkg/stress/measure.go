//go:build linux

package stress

import (
	"time"

	"github.com/ja7ad/undervolt/pkg/system/proc"
)

// measure runs fn and fills timing and system utilization. Utilization is
// left at zero when /proc/stat cannot be read.
func measure(fn func() (uint64, error)) Outcome {
	before, berr := proc.SampleCPU()
	start := time.Now()

	rounds, err := fn()

	out := Outcome{Err: err, Elapsed: time.Since(start), Rounds: rounds}
	if after, aerr := proc.SampleCPU(); berr == nil && aerr == nil {
		out.Utilization = proc.Utilization(before, after)
	}
	return out
}
