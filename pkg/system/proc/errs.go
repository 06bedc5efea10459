package proc

import "errors"

var (
	// ErrNoCPU indicates that /proc/stat had no aggregate CPU line.
	ErrNoCPU = errors.New("proc: no cpu line")

	// ErrShortStat indicates that the aggregate CPU line had fewer fields
	// than expected.
	ErrShortStat = errors.New("proc: short cpu line")

	// ErrBadStat indicates a non-numeric jiffy counter.
	ErrBadStat = errors.New("proc: malformed cpu counter")
)
