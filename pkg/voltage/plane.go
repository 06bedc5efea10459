package voltage

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ja7ad/undervolt/pkg/types"
)

// Plane identifies an independently addressable voltage rail. The numeric
// value is the plane-select pattern placed in bits 40..43 of the register.
type Plane uint8

const (
	Core     Plane = 0
	GPU      Plane = 1
	Cache    Plane = 2
	Uncore   Plane = 3
	AnalogIO Plane = 4
)

type planeDef struct {
	Plane       Plane
	Name        string
	Description string
}

// Core and Cache share one rail on most client parts; the hardware applies
// the more negative of the two.
var planeDefs = []planeDef{
	{Plane: Core, Name: "core", Description: "CPU core rail"},
	{Plane: GPU, Name: "gpu", Description: "integrated graphics rail"},
	{Plane: Cache, Name: "cache", Description: "ring/LLC rail"},
	{Plane: Uncore, Name: "uncore", Description: "system agent rail"},
	{Plane: AnalogIO, Name: "analogio", Description: "analog I/O rail"},
}

// Planes returns every registered plane in plane-select order.
func Planes() []Plane {
	out := make([]Plane, 0, len(planeDefs))
	for _, d := range planeDefs {
		out = append(out, d.Plane)
	}
	return out
}

// ParsePlane resolves a case-insensitive plane name.
func ParsePlane(name string) (Plane, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, d := range planeDefs {
		if d.Name == n {
			return d.Plane, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPlane, name)
}

// Valid reports whether p is in the registry.
func (p Plane) Valid() bool { return int(p) < len(planeDefs) }

func (p Plane) String() string {
	if !p.Valid() {
		return fmt.Sprintf("plane(%d)", uint8(p))
	}
	return planeDefs[p].Name
}

// Description returns a short human description of the rail.
func (p Plane) Description() string {
	if !p.Valid() {
		return ""
	}
	return planeDefs[p].Description
}

// MarshalText lets planes be used as map keys in JSON/YAML.
func (p Plane) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPlane, uint8(p))
	}
	return []byte(p.String()), nil
}

func (p *Plane) UnmarshalText(b []byte) error {
	v, err := ParsePlane(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// OffsetRequest maps planes to the offset a caller wants applied.
type OffsetRequest map[Plane]types.Millivolts

// Planes returns the requested planes in plane-select order.
func (r OffsetRequest) Planes() []Plane {
	out := make([]Plane, 0, len(r))
	for p := range r {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Positive returns the planes carrying a positive offset.
func (r OffsetRequest) Positive() []Plane {
	var out []Plane
	for _, p := range r.Planes() {
		if r[p].Positive() {
			out = append(out, p)
		}
	}
	return out
}

// Shift returns a copy with delta added to every plane.
func (r OffsetRequest) Shift(delta types.Millivolts) OffsetRequest {
	out := make(OffsetRequest, len(r))
	for p, v := range r {
		out[p] = v + delta
	}
	return out
}

// Format renders "core=-100.00 cache=-100.00" in plane order.
func (r OffsetRequest) Format() string {
	parts := make([]string, 0, len(r))
	for _, p := range r.Planes() {
		parts = append(parts, fmt.Sprintf("%s=%.2f", p, float64(r[p])))
	}
	return strings.Join(parts, " ")
}
