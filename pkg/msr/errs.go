package msr

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied indicates the caller may not open the per-core
	// msr device (requires root or CAP_SYS_RAWIO).
	ErrPermissionDenied = errors.New("msr: permission denied")

	// ErrUnsupportedRegister indicates the kernel interface is missing
	// (msr module not loaded) or the CPU rejected the register id.
	ErrUnsupportedRegister = errors.New("msr: unsupported register")

	// ErrCoreIndexOutOfRange indicates a core index outside [0, cores).
	ErrCoreIndexOutOfRange = errors.New("msr: core index out of range")
)

// CoreError annotates a register failure with the core and operation.
type CoreError struct {
	Core int
	Op   string
	Err  error
}

func (e *CoreError) Error() string {
	return fmt.Sprintf("msr: core %d: %s: %v", e.Core, e.Op, e.Err)
}

func (e *CoreError) Unwrap() error { return e.Err }
