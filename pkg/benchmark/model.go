package benchmark

import (
	"context"
	"fmt"
	"time"

	"github.com/ja7ad/undervolt/pkg/controller"
	"github.com/ja7ad/undervolt/pkg/stress"
	"github.com/ja7ad/undervolt/pkg/types"
	"github.com/ja7ad/undervolt/pkg/voltage"
)

// State is a phase of the benchmark state machine.
type State int

const (
	Idle State = iota
	Applying
	Stressing
	Evaluating
	Continuing
	Concluded
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Applying:
		return "applying"
	case Stressing:
		return "stressing"
	case Evaluating:
		return "evaluating"
	case Continuing:
		return "continuing"
	case Concluded:
		return "concluded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Applier programs offsets; *controller.Controller satisfies it.
type Applier interface {
	Set(ctx context.Context, req voltage.OffsetRequest, force bool) (map[voltage.Plane]controller.AppliedOffset, error)
}

// Stresser runs an opaque workload for at most d.
type Stresser interface {
	Run(ctx context.Context, d time.Duration) stress.Outcome
}

// Params configures one benchmark run.
//   - Start: offsets of the first iteration
//   - Step: magnitude subtracted from every plane after a stable iteration
//   - Duration: stress bound per iteration
//   - Iterations: maximum number of stress runs
//   - Force: allow positive offsets
type Params struct {
	Start      voltage.OffsetRequest
	Step       types.Millivolts
	Duration   time.Duration
	Iterations int
	Force      bool
}

// Validate checks p once at the boundary.
func (p Params) Validate() error {
	switch {
	case len(p.Start) == 0:
		return fmt.Errorf("%w: no planes to test", ErrInvalidParams)
	case p.Step < 0:
		return fmt.Errorf("%w: step must be >= 0, got %s", ErrInvalidParams, p.Step)
	case p.Duration <= 0:
		return fmt.Errorf("%w: duration must be > 0", ErrInvalidParams)
	case p.Iterations <= 0:
		return fmt.Errorf("%w: iterations must be > 0", ErrInvalidParams)
	}
	for _, pl := range p.Start.Planes() {
		if !pl.Valid() {
			return fmt.Errorf("%w: %w", ErrInvalidParams, voltage.ErrUnknownPlane)
		}
	}
	return nil
}

// Report summarizes a run.
type Report struct {
	RunID string `json:"run_id"`
	// Iterations counts completed stress runs.
	Iterations int `json:"iterations"`
	// LastStable holds the applied offsets of the last stable iteration;
	// nil when none was stable.
	LastStable voltage.OffsetRequest `json:"last_stable,omitempty"`
	Unstable   bool                  `json:"unstable"`
	State      State                 `json:"-"`
	Entries    []Entry               `json:"-"`
}
