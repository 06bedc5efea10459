package types

import (
	"fmt"
	"math"
)

// Millivolts is a float64 wrapper representing a voltage offset in mV.
type Millivolts float64

// String returns the offset with two decimals and unit, e.g. "-19.53 mV".
func (m Millivolts) String() string {
	return fmt.Sprintf("%.2f mV", float64(m))
}

// Volts returns the offset in volts.
func (m Millivolts) Volts() float64 { return float64(m) / 1000 }

// Positive reports whether the offset raises the voltage.
func (m Millivolts) Positive() bool { return m > 0 }

// Within reports whether m and other differ by at most tol.
func (m Millivolts) Within(other, tol Millivolts) bool {
	return math.Abs(float64(m-other)) <= float64(tol)
}
