package voltage

import (
	"fmt"
	"math"

	"github.com/ja7ad/undervolt/pkg/types"
)

// Register is the MSR address of the overclocking mailbox.
const Register = 0x150

// DefaultFactor is the number of offset units per millivolt.
const DefaultFactor = 1.024

// Word layout of the mailbox register.
//
//	63      busy/command bit, always set on requests
//	40..43  plane select
//	36..39  command class, 0x1
//	32      write mode
//	21..31  signed 11-bit offset in 1/1.024 mV units
const (
	commandBit  = uint64(1) << 63
	planeShift  = 40
	planeMask   = 0xF
	classBits   = uint64(0x1) << 36
	writeBit    = uint64(1) << 32
	offsetShift = 21
	offsetMask  = 0x7FF
	offsetSign  = 0x400

	minUnits = -1024
	maxUnits = 1023
)

// Mode selects whether a word reads or writes the plane offset.
type Mode int

const (
	Read Mode = iota
	Write
)

func (m Mode) String() string {
	if m == Write {
		return "write"
	}
	return "read"
}

// Word is a raw 64-bit register value.
type Word uint64

func (w Word) String() string { return fmt.Sprintf("0x%016x", uint64(w)) }

// Mode returns the read/write mode bit of w.
func (w Word) Mode() Mode {
	if uint64(w)&writeBit != 0 {
		return Write
	}
	return Read
}

// Plane returns the raw plane-select field of w.
func (w Word) Plane() Plane { return Plane((uint64(w) >> planeShift) & planeMask) }

// Units returns the sign-extended offset field of w.
func (w Word) Units() int64 {
	raw := int64((uint64(w) >> offsetShift) & offsetMask)
	if raw&offsetSign != 0 {
		raw -= offsetMask + 1
	}
	return raw
}

// Codec converts millivolt offsets to and from register words.
type Codec struct {
	// Factor is the number of offset units per millivolt; zero means DefaultFactor.
	Factor float64
}

// DefaultCodec uses the documented 1.024 units/mV resolution.
var DefaultCodec = Codec{Factor: DefaultFactor}

func (c Codec) factor() float64 {
	if c.Factor <= 0 {
		return DefaultFactor
	}
	return c.Factor
}

// Step returns the size of one offset unit in mV.
func (c Codec) Step() types.Millivolts { return types.Millivolts(1 / c.factor()) }

// Tolerance returns the maximum quantization error, half a step.
func (c Codec) Tolerance() types.Millivolts { return c.Step() / 2 }

// Min and Max bound the representable offsets.
func (c Codec) Min() types.Millivolts { return types.Millivolts(minUnits / c.factor()) }
func (c Codec) Max() types.Millivolts { return types.Millivolts(maxUnits / c.factor()) }

// Units quantizes mv to offset units, rounding half to even.
func (c Codec) Units(mv types.Millivolts) (int64, error) {
	u := math.RoundToEven(float64(mv) * c.factor())
	if math.IsNaN(u) || u < minUnits || u > maxUnits {
		return 0, fmt.Errorf("%w: %.3f mV (allowed %.2f..%.2f)", ErrOffsetOutOfRange, float64(mv), float64(c.Min()), float64(c.Max()))
	}
	return int64(u), nil
}

// Quantize returns the representable offset closest to mv. Values outside
// the register range are quantized without bounds checking.
func (c Codec) Quantize(mv types.Millivolts) types.Millivolts {
	f := c.factor()
	return types.Millivolts(math.RoundToEven(float64(mv)*f) / f)
}

// Encode packs a plane, offset and mode into a register word. Read-mode
// words carry a zero offset field and ignore mv.
func (c Codec) Encode(p Plane, mv types.Millivolts, mode Mode) (Word, error) {
	if !p.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownPlane, uint8(p))
	}
	w := commandBit | uint64(p)<<planeShift | classBits
	if mode == Write {
		u, err := c.Units(mv)
		if err != nil {
			return 0, fmt.Errorf("encode %s: %w", p, err)
		}
		w |= writeBit | (uint64(u)&offsetMask)<<offsetShift
	}
	return Word(w), nil
}

// Offset returns the offset carried by w in mV.
func (c Codec) Offset(w Word) types.Millivolts {
	return types.Millivolts(float64(w.Units()) / c.factor())
}

// Decode extracts the plane-select field and the offset from w.
func (c Codec) Decode(w Word) (Plane, types.Millivolts, error) {
	p := w.Plane()
	if !p.Valid() {
		return 0, 0, fmt.Errorf("%w: select field %d in %s", ErrUnknownPlane, uint8(p), w)
	}
	return p, c.Offset(w), nil
}
