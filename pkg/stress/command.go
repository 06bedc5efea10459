//go:build linux

package stress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Command runs an external workload (e.g. stress-ng, mprime) bounded by the
// run duration. Reaching the bound is a clean run; a non-zero exit before
// the bound is a fault.
type Command struct {
	Path   string
	Args   []string
	Logger *slog.Logger
}

// ParseCommand splits a whitespace separated command line. Quoting is not
// supported.
func ParseCommand(line string) (Command, error) {
	fs := strings.Fields(line)
	if len(fs) == 0 {
		return Command{}, errors.New("stress: empty command")
	}
	return Command{Path: fs[0], Args: fs[1:]}, nil
}

// Run implements the benchmark stresser contract.
func (c Command) Run(ctx context.Context, d time.Duration) Outcome {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return measure(func() (uint64, error) {
		cctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		cmd := exec.CommandContext(cctx, c.Path, c.Args...)
		cmd.WaitDelay = time.Second
		var stderr strings.Builder
		cmd.Stderr = &stderr

		logger.Debug("starting stress command", "cmd", cmd.String(), "bound", d)
		err := cmd.Run()

		switch {
		case ctx.Err() != nil:
			return 0, ctx.Err()
		case errors.Is(cctx.Err(), context.DeadlineExceeded):
			return 1, nil
		case err != nil:
			msg := strings.TrimSpace(stderr.String())
			if len(msg) > 256 {
				msg = msg[len(msg)-256:]
			}
			return 0, fmt.Errorf("%w: %s: %w (%s)", ErrStressFault, c.Path, err, msg)
		default:
			return 1, nil
		}
	})
}
