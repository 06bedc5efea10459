package controller

import (
	"errors"
	"fmt"

	"github.com/ja7ad/undervolt/pkg/voltage"
)

var (
	// ErrPositiveOffsetRejected indicates a positive offset requested
	// without force. No register was written.
	ErrPositiveOffsetRejected = errors.New("controller: positive offset rejected (use force)")

	// ErrReadbackMismatch indicates a core reported a different offset than
	// the one just written, e.g. a locked register.
	ErrReadbackMismatch = errors.New("controller: readback mismatch")
)

// PlaneError carries the plane (and core, when known; -1 otherwise) a
// failure belongs to.
type PlaneError struct {
	Plane voltage.Plane
	Core  int
	Err   error
}

func (e *PlaneError) Error() string {
	if e.Core < 0 {
		return fmt.Sprintf("%s: %v", e.Plane, e.Err)
	}
	return fmt.Sprintf("%s: core %d: %v", e.Plane, e.Core, e.Err)
}

func (e *PlaneError) Unwrap() error { return e.Err }
