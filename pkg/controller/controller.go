// Package controller reads and programs voltage offsets on every logical
// core through the overclocking mailbox register.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/ja7ad/undervolt/pkg/msr"
	"github.com/ja7ad/undervolt/pkg/types"
	"github.com/ja7ad/undervolt/pkg/voltage"
)

// Controller orchestrates multi-plane get/set over a Register.
type Controller struct {
	reg    msr.Register
	codec  voltage.Codec
	cfg    Config
	logger *slog.Logger
}

// New returns a Controller. A nil logger uses slog.Default().
func New(reg msr.Register, codec voltage.Codec, cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Parallelism < 0 {
		cfg.Parallelism = 0
	}
	return &Controller{reg: reg, codec: codec, cfg: cfg, logger: logger}
}

// Codec returns the codec used for encoding and decoding.
func (c *Controller) Codec() voltage.Codec { return c.codec }

// Get reads the current offset of each plane (all planes when none are
// given) from the representative core.
func (c *Controller) Get(ctx context.Context, planes ...voltage.Plane) (map[voltage.Plane]types.Millivolts, error) {
	if len(planes) == 0 {
		planes = voltage.Planes()
	}
	out := make(map[voltage.Plane]types.Millivolts, len(planes))
	for _, p := range planes {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		mv, err := c.read(p, c.cfg.ReadCore)
		if err != nil {
			return out, &PlaneError{Plane: p, Core: c.cfg.ReadCore, Err: err}
		}
		out[p] = mv
	}
	return out, nil
}

// read issues a read request for p on core and decodes the response.
func (c *Controller) read(p voltage.Plane, core int) (types.Millivolts, error) {
	req, err := c.codec.Encode(p, 0, voltage.Read)
	if err != nil {
		return 0, err
	}
	if err := c.reg.Write(core, uint64(req)); err != nil {
		return 0, err
	}
	raw, err := c.reg.Read(core)
	if err != nil {
		return 0, err
	}
	mv := c.codec.Offset(voltage.Word(raw))
	c.logger.Debug("read offset", "plane", p, "core", core, "word", voltage.Word(raw), "mv", float64(mv))
	return mv, nil
}

// Set applies req to every logical core and verifies each core by readback.
//
// Validation is all-or-nothing: a positive offset without force, or an
// offset the codec cannot encode, fails the whole call before any write.
// After validation every plane is handled independently: a failing plane is
// reported in the joined error and the others are still applied. The
// returned map holds the planes that were confirmed.
func (c *Controller) Set(ctx context.Context, req voltage.OffsetRequest, force bool) (map[voltage.Plane]AppliedOffset, error) {
	if pos := req.Positive(); len(pos) > 0 && !force {
		errs := make([]error, 0, len(pos))
		for _, p := range pos {
			errs = append(errs, &PlaneError{Plane: p, Core: -1, Err: fmt.Errorf("%w: %s", ErrPositiveOffsetRejected, req[p])})
		}
		return nil, errors.Join(errs...)
	}

	planes := req.Planes()
	words := make(map[voltage.Plane]voltage.Word, len(planes))
	for _, p := range planes {
		w, err := c.codec.Encode(p, req[p], voltage.Write)
		if err != nil {
			return nil, &PlaneError{Plane: p, Core: -1, Err: err}
		}
		words[p] = w
	}

	out := make(map[voltage.Plane]AppliedOffset, len(planes))
	var errs []error
	for _, p := range planes {
		if err := ctx.Err(); err != nil {
			errs = append(errs, &PlaneError{Plane: p, Core: -1, Err: err})
			continue
		}
		applied, err := c.apply(p, req[p], words[p])
		if err != nil {
			c.logger.Error("set offset failed", "plane", p, "err", err)
			errs = append(errs, err)
			continue
		}
		c.logger.Info("offset applied", "plane", p, "requested", float64(applied.Requested), "applied", float64(applied.Applied))
		out[p] = applied
	}
	return out, errors.Join(errs...)
}

// apply fans w out to every core, waits for all writes, then reads every
// core back.
func (c *Controller) apply(p voltage.Plane, requested types.Millivolts, w voltage.Word) (AppliedOffset, error) {
	cores := c.reg.Cores()
	if cores <= 0 {
		return AppliedOffset{}, &PlaneError{
			Plane: p,
			Core:  -1,
			Err:   fmt.Errorf("%w: register reports %d cores", msr.ErrCoreIndexOutOfRange, cores),
		}
	}

	err := c.fanOut(cores, func(core int) error {
		c.logger.Debug("write offset", "plane", p, "core", core, "word", w)
		if err := c.reg.Write(core, uint64(w)); err != nil {
			return &PlaneError{Plane: p, Core: core, Err: err}
		}
		return nil
	})
	if err != nil {
		return AppliedOffset{}, err
	}

	perCore := make([]types.Millivolts, cores)
	err = c.fanOut(cores, func(core int) error {
		mv, err := c.read(p, core)
		if err != nil {
			return &PlaneError{Plane: p, Core: core, Err: err}
		}
		perCore[core] = mv
		return nil
	})
	if err != nil {
		return AppliedOffset{}, err
	}

	want := c.codec.Quantize(requested)
	tol := c.codec.Tolerance()
	for core, got := range perCore {
		if !got.Within(want, tol) {
			return AppliedOffset{}, &PlaneError{
				Plane: p,
				Core:  core,
				Err:   fmt.Errorf("%w: wrote %s, read %s", ErrReadbackMismatch, want, got),
			}
		}
	}

	return AppliedOffset{
		Plane:     p,
		Requested: requested,
		Applied:   perCore[0],
		PerCore:   perCore,
	}, nil
}

// fanOut runs fn for every core and waits for all of them. The first error
// is returned once every call has finished.
func (c *Controller) fanOut(cores int, fn func(core int) error) error {
	var g errgroup.Group
	if c.cfg.Parallelism > 0 {
		g.SetLimit(c.cfg.Parallelism)
	}
	for core := 0; core < cores; core++ {
		g.Go(func() error { return fn(core) })
	}
	return g.Wait()
}
