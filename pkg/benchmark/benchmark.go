// Package benchmark searches for a stable voltage offset by applying a
// candidate, stressing the machine and stepping further down while the
// workload keeps passing.
//
// Every iteration appends an "attempt" line to the Record before the stress
// step starts. If the offset hangs or crashes the machine, the last line of
// the record names it.
package benchmark

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ja7ad/undervolt/pkg/controller"
	"github.com/ja7ad/undervolt/pkg/voltage"
)

// Runner drives the state machine. It is single threaded: at most one
// stress run is outstanding.
type Runner struct {
	Applier  Applier
	Stresser Stresser
	Record   *Record
	Logger   *slog.Logger

	// OnTransition, when set, observes every state change.
	OnTransition func(from, to State)
	// OnEntry, when set, observes every record line after it is durable.
	OnEntry func(Entry)

	now   func() time.Time
	state State
}

// Run executes the benchmark. The stop signal carried by ctx is honored
// between iterations only; a stress run in progress finishes its bound.
//
// Errors: ErrInvalidParams, ErrCancelRequested, ErrStressFault, or the
// Applier / Record error that concluded the run. The Report is valid in
// every case.
func (r *Runner) Run(ctx context.Context, p Params) (Report, error) {
	if err := p.Validate(); err != nil {
		return Report{}, err
	}
	if r.Applier == nil || r.Stresser == nil || r.Record == nil {
		return Report{}, fmt.Errorf("%w: runner is missing a collaborator", ErrInvalidParams)
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	r.state = Idle

	rep := Report{RunID: uuid.NewString()}

	current := p.Start.Shift(0)
	for i := 1; i <= p.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			_ = r.append(&rep, i, current, Cancelled, err)
			r.transition(Concluded)
			logger.Info("benchmark cancelled", "iteration", i)
			rep.State = r.state
			return rep, fmt.Errorf("%w before iteration %d: %w", ErrCancelRequested, i, err)
		}

		r.transition(Applying)
		res, err := r.Applier.Set(ctx, current, p.Force)
		if err != nil {
			_ = r.append(&rep, i, current, Failed, err)
			r.transition(Concluded)
			rep.State = r.state
			return rep, fmt.Errorf("iteration %d: apply %s: %w", i, current.Format(), err)
		}
		applied := controller.Applied(res)

		// write-before-risk: no durable attempt line, no stress
		if err := r.append(&rep, i, applied, Attempt, nil); err != nil {
			r.transition(Concluded)
			rep.State = r.state
			return rep, fmt.Errorf("iteration %d: %w", i, err)
		}

		r.transition(Stressing)
		logger.Info("stressing", "iteration", i, "offsets", applied.Format(), "duration", p.Duration)
		out := r.Stresser.Run(context.WithoutCancel(ctx), p.Duration)

		r.transition(Evaluating)
		rep.Iterations = i
		logger.Debug("stress finished", "iteration", i, "elapsed", out.Elapsed, "rounds", out.Rounds, "utilization", out.Utilization, "err", out.Err)

		if out.Fault() {
			rep.Unstable = true
			if err := r.append(&rep, i, applied, Unstable, out.Err); err != nil {
				logger.Error("record unstable outcome", "err", err)
			}
			r.transition(Concluded)
			rep.State = r.state
			return rep, fmt.Errorf("%w: iteration %d at %s: %w", ErrStressFault, i, applied.Format(), out.Err)
		}

		if err := r.append(&rep, i, applied, Stable, nil); err != nil {
			r.transition(Concluded)
			rep.State = r.state
			return rep, fmt.Errorf("iteration %d: %w", i, err)
		}
		rep.LastStable = applied

		if i == p.Iterations {
			break
		}
		r.transition(Continuing)
		current = current.Shift(-p.Step)
	}

	r.transition(Concluded)
	rep.State = r.state
	logger.Info("benchmark concluded", "iterations", rep.Iterations, "last_stable", rep.LastStable.Format())
	return rep, nil
}

func (r *Runner) transition(to State) {
	from := r.state
	r.state = to
	if r.OnTransition != nil {
		r.OnTransition(from, to)
	}
}

func (r *Runner) append(rep *Report, iter int, offsets voltage.OffsetRequest, outcome Outcome, cause error) error {
	e := Entry{
		Time:      r.now().UTC(),
		RunID:     rep.RunID,
		Iteration: iter,
		Offsets:   offsets,
		Outcome:   outcome,
	}
	if cause != nil {
		e.Err = cause.Error()
	}
	if err := r.Record.Append(e); err != nil {
		return err
	}
	rep.Entries = append(rep.Entries, e)
	if r.OnEntry != nil {
		r.OnEntry(e)
	}
	return nil
}
