//go:build linux

package stress

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const kernelIters = 1 << 16

// CPU runs Workers goroutines that repeatedly evaluate a deterministic
// floating point kernel and compare each result against a reference. An
// undervolted core that miscomputes shows up as a checksum mismatch.
type CPU struct {
	// Workers defaults to runtime.NumCPU().
	Workers int
	Logger  *slog.Logger

	kernel func(seed uint64) uint64
}

// Run implements the benchmark stresser contract: it blocks for d (or until
// ctx ends, or a worker faults).
func (c CPU) Run(ctx context.Context, d time.Duration) Outcome {
	workers := c.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	kernel := c.kernel
	if kernel == nil {
		kernel = fpKernel
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return measure(func() (uint64, error) {
		rctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		seed := uint64(time.Now().UnixNano()%1021) + 3
		want := kernel(seed)

		var rounds atomic.Uint64
		g, gctx := errgroup.WithContext(rctx)
		for w := 0; w < workers; w++ {
			g.Go(func() error {
				for round := uint64(0); ; round++ {
					if gctx.Err() != nil {
						return nil
					}
					if got := kernel(seed); got != want {
						return fmt.Errorf("%w: worker %d round %d: checksum %#x, want %#x", ErrStressFault, w, round, got, want)
					}
					rounds.Add(1)
				}
			})
		}
		err := g.Wait()
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		logger.Debug("cpu stress finished", "workers", workers, "rounds", rounds.Load(), "err", err)
		return rounds.Load(), err
	})
}

// fpKernel mixes sqrt, FMA and integer folding so both the FPU and ALUs
// stay busy. The result depends only on seed.
func fpKernel(seed uint64) uint64 {
	x := float64(seed)
	acc := 1.0
	h := seed * 0x9E3779B97F4A7C15
	for i := 0; i < kernelIters; i++ {
		x = math.Sqrt(x*x+float64(i&0xFF)) + 0.5
		acc = math.FMA(acc, 1.0000001, x*1e-7)
		h ^= math.Float64bits(acc)
		h *= 0x100000001B3
	}
	return h ^ math.Float64bits(x)
}
