package benchmark

import "errors"

var (
	// ErrStressFault indicates the stress workload failed at the current
	// offset. The run is concluded; the last stable entry is the answer.
	ErrStressFault = errors.New("benchmark: stress fault")

	// ErrCancelRequested indicates the stop signal was observed between
	// iterations.
	ErrCancelRequested = errors.New("benchmark: cancel requested")

	// ErrInvalidParams indicates unusable benchmark parameters.
	ErrInvalidParams = errors.New("benchmark: invalid parameters")

	// ErrMalformedLine indicates a record line that cannot be parsed.
	ErrMalformedLine = errors.New("benchmark: malformed record line")
)
