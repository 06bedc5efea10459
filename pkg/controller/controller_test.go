package controller

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja7ad/undervolt/pkg/msr"
	"github.com/ja7ad/undervolt/pkg/types"
	"github.com/ja7ad/undervolt/pkg/voltage"
)

const testCores = 8

func newTestController(t *testing.T, reg msr.Register, parallelism int) *Controller {
	t.Helper()
	return New(reg, voltage.DefaultCodec, Config{Parallelism: parallelism}, nil)
}

// planeOf extracts the plane-select field the way the mailbox does.
func planeOf(word uint64) voltage.Plane { return voltage.Word(word).Plane() }

// failingRegister fails every write request for one plane.
type failingRegister struct {
	*msr.Simulator
	plane voltage.Plane
	err   error
}

func (f *failingRegister) Write(core int, word uint64) error {
	if planeOf(word) == f.plane {
		return &msr.CoreError{Core: core, Op: "write", Err: f.err}
	}
	return f.Simulator.Write(core, word)
}

// stuckCore drops write-mode requests on a single core.
type stuckCore struct {
	*msr.Simulator
	core int
}

func (s *stuckCore) Write(core int, word uint64) error {
	if core == s.core && voltage.Word(word).Mode() == voltage.Write {
		return nil
	}
	return s.Simulator.Write(core, word)
}

// sharedRail answers core and cache reads with the more negative of the
// two stored offsets, like parts where both planes feed one rail.
type sharedRail struct {
	*msr.Simulator
	selected []voltage.Plane
}

func (s *sharedRail) Write(core int, word uint64) error {
	s.selected[core] = planeOf(word)
	return s.Simulator.Write(core, word)
}

func (s *sharedRail) Read(core int) (uint64, error) {
	v, err := s.Simulator.Read(core)
	if err != nil {
		return 0, err
	}
	p := s.selected[core]
	if p != voltage.Core && p != voltage.Cache {
		return v, nil
	}
	coreField := voltage.Word(s.Field(core, uint8(voltage.Core)))
	cacheField := voltage.Word(s.Field(core, uint8(voltage.Cache)))
	lowest := coreField
	if cacheField.Units() < coreField.Units() {
		lowest = cacheField
	}
	return v&^0xFFFFFFFF | uint64(lowest), nil
}

func TestGet_ReportsPresetOffset(t *testing.T) {
	sim := msr.NewSimulator(testCores)
	sim.Preset(uint8(voltage.GPU), 0xfd800000) // -20 units

	ctrl := newTestController(t, sim, 0)
	got, err := ctrl.Get(context.Background(), voltage.GPU)
	require.NoError(t, err)
	require.Len(t, got, 1)

	line := fmt.Sprintf("%s: %s", voltage.GPU, got[voltage.GPU])
	assert.Equal(t, "gpu: -19.53 mV", line)
}

func TestGet_DefaultsToAllPlanes(t *testing.T) {
	sim := msr.NewSimulator(2)
	ctrl := newTestController(t, sim, 0)

	got, err := ctrl.Get(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 5)
	for _, p := range voltage.Planes() {
		assert.Zero(t, got[p], "plane %s", p)
	}
	// only core 0 is consulted
	assert.Equal(t, 5, sim.Writes(0))
	assert.Equal(t, 0, sim.Writes(1))
}

func TestSet_CoreAndCache(t *testing.T) {
	for _, par := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("parallelism_%d", par), func(t *testing.T) {
			sim := msr.NewSimulator(testCores)
			ctrl := newTestController(t, sim, par)

			res, err := ctrl.Set(context.Background(), voltage.OffsetRequest{
				voltage.Core:  -100,
				voltage.Cache: -100,
			}, false)
			require.NoError(t, err)
			require.Len(t, res, 2)

			for _, p := range []voltage.Plane{voltage.Core, voltage.Cache} {
				a := res[p]
				assert.Equal(t, p, a.Plane)
				assert.Equal(t, types.Millivolts(-100), a.Requested)
				assert.InDelta(t, -100, float64(a.Applied), float64(voltage.DefaultCodec.Tolerance()))
				require.Len(t, a.PerCore, testCores)
				for core, mv := range a.PerCore {
					assert.Equal(t, a.Applied, mv, "core %d", core)
				}
			}

			// every core got the write request and a read request per plane
			for core := 0; core < testCores; core++ {
				assert.Equal(t, 4, sim.Writes(core), "core %d", core)
				assert.Equal(t, uint32(0xf3400000), sim.Field(core, uint8(voltage.Core)))
			}

			got, err := ctrl.Get(context.Background(), voltage.Core, voltage.Cache)
			require.NoError(t, err)
			assert.Equal(t, res[voltage.Core].Applied, got[voltage.Core])
			assert.Equal(t, voltage.OffsetRequest{voltage.Core: got[voltage.Core], voltage.Cache: got[voltage.Cache]}, Applied(res))
		})
	}
}

func TestSet_PositiveRejectedWithoutWrites(t *testing.T) {
	sim := msr.NewSimulator(testCores)
	ctrl := newTestController(t, sim, 0)

	res, err := ctrl.Set(context.Background(), voltage.OffsetRequest{
		voltage.Core: -80,
		voltage.GPU:  10,
	}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPositiveOffsetRejected)
	assert.Nil(t, res)
	assert.Zero(t, sim.TotalWrites())

	var pe *PlaneError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, voltage.GPU, pe.Plane)

	res, err = ctrl.Set(context.Background(), voltage.OffsetRequest{voltage.GPU: 10}, true)
	require.NoError(t, err)
	assert.InDelta(t, 10, float64(res[voltage.GPU].Applied), 0.49)
}

func TestSet_OutOfRangeWithoutWrites(t *testing.T) {
	sim := msr.NewSimulator(testCores)
	ctrl := newTestController(t, sim, 0)

	_, err := ctrl.Set(context.Background(), voltage.OffsetRequest{
		voltage.Core:   -50,
		voltage.Uncore: -1200,
	}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, voltage.ErrOffsetOutOfRange)
	assert.Zero(t, sim.TotalWrites())
}

func TestSet_NoCores(t *testing.T) {
	ctrl := newTestController(t, msr.NewSimulator(0), 0)

	res, err := ctrl.Set(context.Background(), voltage.OffsetRequest{voltage.Core: -10}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, msr.ErrCoreIndexOutOfRange)
	assert.Empty(t, res)

	var pe *PlaneError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, voltage.Core, pe.Plane)
}

func TestSet_ReadbackMismatchWhenWritesIgnored(t *testing.T) {
	sim := msr.NewSimulator(testCores)
	sim.IgnoreWrites = true
	ctrl := newTestController(t, sim, 0)

	res, err := ctrl.Set(context.Background(), voltage.OffsetRequest{
		voltage.Core:  -100,
		voltage.Cache: -100,
	}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReadbackMismatch)
	assert.Empty(t, res)

	// both planes reported independently
	joined, ok := err.(interface{ Unwrap() []error })
	require.True(t, ok)
	require.Len(t, joined.Unwrap(), 2)
}

func TestSet_MismatchOnSingleCore(t *testing.T) {
	reg := &stuckCore{Simulator: msr.NewSimulator(testCores), core: 5}
	ctrl := newTestController(t, reg, 0)

	_, err := ctrl.Set(context.Background(), voltage.OffsetRequest{voltage.Core: -60}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReadbackMismatch)

	var pe *PlaneError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 5, pe.Core)
	assert.Equal(t, voltage.Core, pe.Plane)
}

func TestSet_PlaneFailureDoesNotAbortOthers(t *testing.T) {
	boom := errors.New("boom")
	reg := &failingRegister{Simulator: msr.NewSimulator(4), plane: voltage.GPU, err: boom}
	ctrl := newTestController(t, reg, 0)

	res, err := ctrl.Set(context.Background(), voltage.OffsetRequest{
		voltage.Core:  -50,
		voltage.GPU:   -50,
		voltage.Cache: -50,
	}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrReadbackMismatch)

	require.Len(t, res, 2)
	assert.Contains(t, res, voltage.Core)
	assert.Contains(t, res, voltage.Cache)
	assert.NotContains(t, res, voltage.GPU)
}

func TestSet_RegisterErrorsSurfaceWithCore(t *testing.T) {
	reg := &failingRegister{Simulator: msr.NewSimulator(2), plane: voltage.Core, err: msr.ErrPermissionDenied}
	ctrl := newTestController(t, reg, 1)

	_, err := ctrl.Set(context.Background(), voltage.OffsetRequest{voltage.Core: -10}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, msr.ErrPermissionDenied)

	var ce *msr.CoreError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "write", ce.Op)
}

func TestSet_SharedRailDiscrepancyIsSurfaced(t *testing.T) {
	sim := msr.NewSimulator(2)
	reg := &sharedRail{Simulator: sim, selected: make([]voltage.Plane, 2)}
	ctrl := newTestController(t, reg, 1)

	res, err := ctrl.Set(context.Background(), voltage.OffsetRequest{
		voltage.Core:  -100,
		voltage.Cache: -50,
	}, false)

	// core applied first and reads back fine; cache reads back core's value
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReadbackMismatch)
	require.Contains(t, res, voltage.Core)
	assert.NotContains(t, res, voltage.Cache)

	got, err := ctrl.Get(context.Background(), voltage.Core, voltage.Cache)
	require.NoError(t, err)
	assert.Equal(t, got[voltage.Core], got[voltage.Cache])
}

func TestSet_ContextCancelled(t *testing.T) {
	sim := msr.NewSimulator(2)
	ctrl := newTestController(t, sim, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ctrl.Set(ctx, voltage.OffsetRequest{voltage.Core: -10}, false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sim.TotalWrites())
}

// countingRegister tracks the highest number of in-flight writes.
type countingRegister struct {
	*msr.Simulator
	inflight, peak atomic.Int32
}

func (c *countingRegister) Write(core int, word uint64) error {
	n := c.inflight.Add(1)
	defer c.inflight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return c.Simulator.Write(core, word)
}

func TestSet_SequentialFanOut(t *testing.T) {
	reg := &countingRegister{Simulator: msr.NewSimulator(testCores)}
	ctrl := newTestController(t, reg, 1)

	_, err := ctrl.Set(context.Background(), voltage.OffsetRequest{voltage.Uncore: -30}, false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), reg.peak.Load())
}
