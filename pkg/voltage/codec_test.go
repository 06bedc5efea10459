package voltage

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/ja7ad/undervolt/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_KnownWords(t *testing.T) {
	cases := []struct {
		plane Plane
		mv    types.Millivolts
		mode  Mode
		want  uint64
	}{
		{Core, -50, Write, 0x80000011f9a00000},
		{Core, -125, Write, 0x80000011f0000000},
		{GPU, -125, Write, 0x80000111f0000000},
		{Core, -100, Read, 0x8000001000000000},
		{GPU, 0, Read, 0x8000011000000000},
		{AnalogIO, 0, Write, 0x8000041100000000},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s_%v_%s", tc.plane, float64(tc.mv), tc.mode), func(t *testing.T) {
			w, err := DefaultCodec.Encode(tc.plane, tc.mv, tc.mode)
			require.NoError(t, err)
			assert.Equal(t, Word(tc.want), w, "got %s", w)
			assert.Equal(t, tc.mode, w.Mode())
			assert.Equal(t, tc.plane, w.Plane())
		})
	}
}

func TestOffset_KnownFields(t *testing.T) {
	assert.Equal(t, types.Millivolts(-125), DefaultCodec.Offset(0xf0000000))
	assert.InDelta(t, -49.8046875, float64(DefaultCodec.Offset(0xf9a00000)), 1e-12)
	assert.InDelta(t, -19.53125, float64(DefaultCodec.Offset(0x80000110fd800000)), 1e-12)
	assert.Equal(t, types.Millivolts(0), DefaultCodec.Offset(0x8000001000000000))
}

func TestEncodeDecode_Core100(t *testing.T) {
	w, err := DefaultCodec.Encode(Core, -100, Write)
	require.NoError(t, err)

	p, mv, err := DefaultCodec.Decode(w)
	require.NoError(t, err)
	assert.Equal(t, Core, p)
	assert.InDelta(t, -99.609375, float64(mv), 1e-9)
	assert.True(t, mv.Within(-100, DefaultCodec.Tolerance()))
}

func TestUnits_RoundHalfEven(t *testing.T) {
	c := Codec{Factor: 1}
	cases := map[types.Millivolts]int64{
		2.5:  2,
		3.5:  4,
		-2.5: -2,
		-3.5: -4,
		0.49: 0,
		0.51: 1,
	}
	for in, want := range cases {
		got, err := c.Units(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, "units(%v)", float64(in))
	}
}

func TestEncode_Range(t *testing.T) {
	ok := []types.Millivolts{-1000, -999.9, 0, 500, 999}
	for _, v := range ok {
		_, err := DefaultCodec.Encode(Core, v, Write)
		assert.NoError(t, err, "%v should encode", float64(v))
	}

	bad := []types.Millivolts{-1001, 1000, 1500, -5000}
	for _, v := range bad {
		_, err := DefaultCodec.Encode(Cache, v, Write)
		require.Error(t, err, "%v should be rejected", float64(v))
		assert.ErrorIs(t, err, ErrOffsetOutOfRange)
	}

	// out-of-range offsets are irrelevant for read requests
	_, err := DefaultCodec.Encode(Cache, -5000, Read)
	assert.NoError(t, err)
}

func TestEncode_UnknownPlane(t *testing.T) {
	_, err := DefaultCodec.Encode(Plane(9), -10, Write)
	assert.ErrorIs(t, err, ErrUnknownPlane)

	_, _, err = DefaultCodec.Decode(Word(0x80000911f0000000))
	assert.ErrorIs(t, err, ErrUnknownPlane)
}

func TestRoundTrip_EveryUnit(t *testing.T) {
	for u := int64(minUnits); u <= maxUnits; u++ {
		v := types.Millivolts(float64(u) / DefaultFactor)
		for _, p := range Planes() {
			w, err := DefaultCodec.Encode(p, v, Write)
			require.NoError(t, err)
			gotP, got, err := DefaultCodec.Decode(w)
			require.NoError(t, err)
			require.Equal(t, p, gotP)
			require.Equal(t, u, w.Units(), "unit %d", u)
			require.InDelta(t, float64(v), float64(got), 1e-9, "unit %d", u)
		}
	}
}

func TestRoundTrip_RandomWithinTolerance(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	tol := float64(DefaultCodec.Tolerance())
	for i := 0; i < 10000; i++ {
		v := types.Millivolts(-1000 + r.Float64()*1999)
		w, err := DefaultCodec.Encode(Uncore, v, Write)
		require.NoError(t, err)
		_, got, err := DefaultCodec.Decode(w)
		require.NoError(t, err)
		require.InDelta(t, float64(DefaultCodec.Quantize(v)), float64(got), 1e-9)
		require.LessOrEqual(t, abs(float64(got-v)), tol+1e-9, "v=%v", float64(v))
	}
}

func TestQuantize_Monotonic(t *testing.T) {
	prev := DefaultCodec.Quantize(-1000)
	for v := -1000.0; v <= 999.0; v += 0.01 {
		q := DefaultCodec.Quantize(types.Millivolts(v))
		require.GreaterOrEqual(t, float64(q), float64(prev), "v=%v", v)
		prev = q
	}
}

func TestCodec_StepAndBounds(t *testing.T) {
	assert.InDelta(t, 0.9765625, float64(DefaultCodec.Step()), 1e-12)
	assert.InDelta(t, 0.48828125, float64(DefaultCodec.Tolerance()), 1e-12)
	assert.InDelta(t, -1000, float64(DefaultCodec.Min()), 1e-9)
	assert.InDelta(t, 999.0234375, float64(DefaultCodec.Max()), 1e-9)

	// zero factor falls back to the documented resolution
	assert.Equal(t, DefaultCodec.Step(), Codec{}.Step())
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func ExampleCodec_Encode() {
	w, _ := DefaultCodec.Encode(Core, -50, Write)
	fmt.Println(w)
	// Output: 0x80000011f9a00000
}
