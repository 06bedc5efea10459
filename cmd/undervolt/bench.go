//go:build linux

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ja7ad/undervolt/pkg/benchmark"
	"github.com/ja7ad/undervolt/pkg/config"
	"github.com/ja7ad/undervolt/pkg/stress"
	"github.com/ja7ad/undervolt/pkg/system/util"
	"github.com/ja7ad/undervolt/pkg/types"
	"github.com/ja7ad/undervolt/pkg/voltage"
)

type benchOpts struct {
	interval    string
	count       int
	step        float64
	logPath     string
	stressCmd   string
	workers     int
	jsonPath    string
	profile     string
	saveProfile string
	force       bool
}

func newBenchmarkCmd(g *globals) *cobra.Command {
	o := &benchOpts{}
	var planes planeFlags

	cmd := &cobra.Command{
		Use:   "benchmark --<plane> <start mV> [...]",
		Short: "Step offsets down until a stress run fails",
		Long: `benchmark applies the start offsets, runs a bounded stress workload and,
while the machine stays stable, lowers every plane by --step and repeats.

Each iteration is recorded to stdout and to --log before the stress run
starts, so the last line of the log names the offset that was under test
if the machine hangs. Use "benchmark inspect" after a reboot to read it.`,
		Example: `  undervolt benchmark --core -50 --cache -50 -i 60 -c 20 --log /var/log/undervolt.log
  undervolt benchmark --core -80 --stress-cmd "stress-ng --cpu 0 --verify" --json report.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base := voltage.OffsetRequest{}
			if o.profile != "" {
				p, err := config.LoadProfile(o.profile)
				if err != nil {
					return err
				}
				if base, err = p.Request(); err != nil {
					return err
				}
				o.force = o.force || p.Force
			}
			return runBenchmark(cmd, g, o, planes.request(cmd.Flags(), base))
		},
	}

	planes = bindPlaneFlags(cmd.Flags(), "start offset in mV for the %s")
	f := cmd.Flags()
	f.StringVarP(&o.interval, "interval", "i", "10s", "stress duration per iteration (seconds or Go duration)")
	f.IntVarP(&o.count, "count", "c", 30, "maximum number of iterations")
	f.Float64VarP(&o.step, "step", "s", 5, "mV subtracted from every plane after a stable iteration")
	f.StringVar(&o.logPath, "log", "", "append the record to this file (default $UNDERVOLT_RECORD_PATH)")
	f.StringVar(&o.stressCmd, "stress-cmd", "", "external stress command instead of the built-in workload")
	f.IntVarP(&o.workers, "workers", "w", 0, "built-in workload goroutines (0 = one per CPU)")
	f.StringVar(&o.jsonPath, "json", "", "write the final report as JSON")
	f.StringVar(&o.profile, "profile", "", "YAML profile with start offsets; plane flags override its values")
	f.StringVar(&o.saveProfile, "save-profile", "", "write the last stable offsets as a YAML profile")
	f.BoolVarP(&o.force, "force", "f", false, "allow positive offsets")

	cmd.AddCommand(newInspectCmd())
	return cmd
}

func runBenchmark(cmd *cobra.Command, g *globals, o *benchOpts, start voltage.OffsetRequest) error {
	d, err := parseInterval(o.interval)
	if err != nil {
		return err
	}
	params := benchmark.Params{
		Start:      start,
		Step:       types.Millivolts(o.step),
		Duration:   d,
		Iterations: o.count,
		Force:      o.force,
	}
	if err := params.Validate(); err != nil {
		return err
	}

	stresser, err := g.stresser(o)
	if err != nil {
		return err
	}
	ctrl, err := g.controller()
	if err != nil {
		return err
	}

	sinks := []io.Writer{cmd.OutOrStdout()}
	logPath := o.logPath
	if logPath == "" {
		logPath = g.cfg.RecordPath
	}
	if logPath != "" {
		f, err := benchmark.OpenFile(logPath)
		if err != nil {
			return err
		}
		defer f.Close()
		sinks = append(sinks, f)
	}

	host, kernel, cpus, model := util.SystemSummary()
	g.logger.Info("benchmark starting",
		"host", host, "kernel", kernel, "cpus", cpus, "model", model,
		"start", start.Format(), "step", params.Step, "interval", d, "count", o.count)

	exp := g.exporter()
	runner := &benchmark.Runner{
		Applier:  ctrl,
		Stresser: stresser,
		Record:   benchmark.NewRecord(sinks...),
		Logger:   g.logger,
		OnTransition: func(from, to benchmark.State) {
			g.logger.Debug("benchmark state", "from", from, "to", to)
		},
		OnEntry: func(e benchmark.Entry) {
			if exp != nil {
				exp.ObserveEntry(e)
				g.flushMetrics(exp)
			}
		},
	}

	rep, runErr := runner.Run(cmd.Context(), params)

	if rep.LastStable != nil {
		g.logger.Info("last stable offsets", "offsets", rep.LastStable.Format(), "iterations", rep.Iterations)
		if o.saveProfile != "" {
			if err := saveProfile(o.saveProfile, rep.LastStable, o.force); err != nil {
				runErr = errors.Join(runErr, err)
			}
		}
	} else {
		g.logger.Warn("no stable iteration", "iterations", rep.Iterations)
	}
	if o.jsonPath != "" {
		if err := writeReport(o.jsonPath, rep); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	return runErr
}

func (g *globals) stresser(o *benchOpts) (benchmark.Stresser, error) {
	line := o.stressCmd
	if line == "" {
		line = g.cfg.StressCmd
	}
	if line == "" {
		return stress.CPU{Workers: o.workers, Logger: g.logger}, nil
	}
	c, err := stress.ParseCommand(line)
	if err != nil {
		return nil, err
	}
	c.Logger = g.logger
	return c, nil
}

// parseInterval accepts whole seconds ("60") or a Go duration ("1m30s").
func parseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", s, err)
	}
	return d, nil
}

func writeReport(path string, rep benchmark.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return f.Sync()
}

func saveProfile(path string, req voltage.OffsetRequest, force bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	defer f.Close()
	return config.WriteProfile(f, req, force)
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <log>",
		Short: "Show the last stable and the last unconfirmed offsets of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			entries, err := benchmark.ReadEntries(f)
			if err != nil {
				return err
			}
			return printInspect(cmd.OutOrStdout(), entries)
		},
	}
}

func printInspect(w io.Writer, entries []benchmark.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "record is empty")
		return err
	}
	if e, ok := benchmark.LastStable(entries); ok {
		fmt.Fprintf(w, "last stable:      %s (run %s, iteration %d)\n", e.Offsets.Format(), e.RunID, e.Iteration)
	} else {
		fmt.Fprintln(w, "last stable:      none")
	}
	if e, ok := benchmark.LastUnconfirmed(entries); ok {
		fmt.Fprintf(w, "last unconfirmed: %s (run %s, iteration %d)\n", e.Offsets.Format(), e.RunID, e.Iteration)
		fmt.Fprintln(w, "the machine likely stopped while stressing this offset; do not apply it")
	} else {
		fmt.Fprintln(w, "last unconfirmed: none")
	}
	_, err := fmt.Fprintf(w, "entries:          %d\n", len(entries))
	return err
}
