package voltage

import "errors"

var (
	// ErrUnknownPlane indicates a plane name or plane-select field that is
	// not in the registry.
	ErrUnknownPlane = errors.New("voltage: unknown plane")

	// ErrOffsetOutOfRange indicates an offset whose quantized value does not
	// fit the 11-bit signed offset field (about -1000 mV .. +999 mV).
	ErrOffsetOutOfRange = errors.New("voltage: offset out of range")
)
