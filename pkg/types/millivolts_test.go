package types

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMillivolts_String(t *testing.T) {
	cases := []struct {
		in   Millivolts
		want string
	}{
		{Millivolts(0), "0.00 mV"},
		{Millivolts(-19.53125), "-19.53 mV"},
		{Millivolts(-99.609375), "-99.61 mV"},
		{Millivolts(12.5), "12.50 mV"},
		{Millivolts(-1000), "-1000.00 mV"},
	}
	for i, tc := range cases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			require.Equal(t, tc.want, tc.in.String())
		})
	}
}

func TestMillivolts_Accessors(t *testing.T) {
	assert.InDelta(t, -0.1, Millivolts(-100).Volts(), 1e-12)
	assert.True(t, Millivolts(0.5).Positive())
	assert.False(t, Millivolts(0).Positive())
	assert.False(t, Millivolts(-3).Positive())
}

func TestMillivolts_Within(t *testing.T) {
	assert.True(t, Millivolts(-100).Within(-99.61, 0.49))
	assert.True(t, Millivolts(-100).Within(-100, 0))
	assert.False(t, Millivolts(-100).Within(-99.5, 0.49))
	assert.False(t, Millivolts(-100).Within(-100.5, 0.49))
}
