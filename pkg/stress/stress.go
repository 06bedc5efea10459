// Package stress provides bounded CPU-saturating workloads used to probe the
// stability of a voltage offset.
package stress

import (
	"errors"
	"time"
)

// ErrStressFault indicates the workload observed a computation error or
// exited abnormally before its time bound.
var ErrStressFault = errors.New("stress: fault")

// Outcome summarizes one bounded run.
type Outcome struct {
	// Err is nil for a clean run. Faults wrap ErrStressFault.
	Err         error
	Elapsed     time.Duration
	Rounds      uint64
	Utilization float64
}

// Fault reports whether the run ended with an error.
func (o Outcome) Fault() bool { return o.Err != nil }
