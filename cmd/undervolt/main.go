//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ja7ad/undervolt/pkg/benchmark"
	"github.com/ja7ad/undervolt/pkg/config"
	"github.com/ja7ad/undervolt/pkg/controller"
	"github.com/ja7ad/undervolt/pkg/metrics"
	"github.com/ja7ad/undervolt/pkg/msr"
	"github.com/ja7ad/undervolt/pkg/system/util"
	"github.com/ja7ad/undervolt/pkg/types"
	"github.com/ja7ad/undervolt/pkg/voltage"
)

// exit codes
const (
	exitOK       = 0
	exitError    = 1
	exitUnstable = 2
)

type globals struct {
	cfg         config.Config
	verbose     bool
	simulate    bool
	metricsFile string
	logger      *slog.Logger
}

// planeFlags binds one float flag per plane (--core, --gpu, ...).
type planeFlags map[voltage.Plane]*float64

func bindPlaneFlags(fs *pflag.FlagSet, usage string) planeFlags {
	pf := planeFlags{}
	for _, p := range voltage.Planes() {
		pf[p] = fs.Float64(p.String(), 0, fmt.Sprintf(usage, p.Description()))
	}
	return pf
}

// request overlays every flag that was set on base.
func (pf planeFlags) request(fs *pflag.FlagSet, base voltage.OffsetRequest) voltage.OffsetRequest {
	out := base.Shift(0)
	for p, v := range pf {
		if fs.Changed(p.String()) {
			out[p] = types.Millivolts(*v)
		}
	}
	return out
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd(&globals{}).ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

func newRootCmd(g *globals) *cobra.Command {
	root := &cobra.Command{
		Use:   "undervolt",
		Short: "Undervolt Intel CPUs through the overclocking mailbox MSR",
		Long: `undervolt reads and programs voltage offsets of Intel CPU power planes
(core, gpu, cache, uncore, analogio) through MSR 0x150 on every logical core,
and searches for a stable offset with an automated stress benchmark.

Requires root and the msr kernel module (modprobe msr).

Examples:
  undervolt get
  undervolt set --core -100 --cache -100
  undervolt benchmark --core -80 --cache -80 -i 60 -c 20 --log /var/log/undervolt.log`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.init()
		},
	}

	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "print debug info")
	root.PersistentFlags().BoolVar(&g.simulate, "simulate", false, "use an in-memory register instead of /dev/cpu/*/msr")
	root.PersistentFlags().StringVar(&g.metricsFile, "metrics-file", "", "write Prometheus textfile metrics to this path")

	root.AddCommand(newInfoCmd(g), newGetCmd(g), newSetCmd(g), newBenchmarkCmd(g))
	return root
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, benchmark.ErrStressFault):
		slog.Error("benchmark found an unstable offset", "err", err)
		return exitUnstable
	default:
		slog.Error(err.Error())
		return exitError
	}
}

func (g *globals) init() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if g.verbose {
		cfg.LogLevel = slog.LevelDebug
	}
	if g.metricsFile != "" {
		cfg.MetricsFile = g.metricsFile
	}
	g.cfg = cfg

	g.logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      cfg.LogLevel,
		TimeFormat: "15:04:05",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	slog.SetDefault(g.logger)
	return nil
}

func (g *globals) register() (msr.Register, error) {
	if g.simulate {
		cores := g.cfg.Cores
		if cores <= 0 {
			cores = runtime.NumCPU()
		}
		g.logger.Warn("using simulated register, hardware is not touched", "cores", cores)
		return msr.NewSimulator(cores), nil
	}
	if info := util.LocalCPUInfo(); info.Vendor != "" && !info.Intel() {
		g.logger.Warn("not an Intel CPU, the mailbox register is likely unsupported", "vendor", info.Vendor)
	}
	return msr.NewDevice(msr.Config{
		Root:     g.cfg.MSRRoot,
		Register: uint32(g.cfg.Register),
		Cores:    g.cfg.Cores,
	})
}

func (g *globals) controller() (*controller.Controller, error) {
	reg, err := g.register()
	if err != nil {
		return nil, err
	}
	g.logger.Debug("register ready", "register", g.cfg.Register, "cores", reg.Cores())
	return controller.New(reg, voltage.Codec{Factor: g.cfg.Factor}, controller.Config{
		Parallelism: g.cfg.Parallelism,
	}, g.logger), nil
}

func (g *globals) exporter() *metrics.Exporter {
	if g.cfg.MetricsFile == "" {
		return nil
	}
	return metrics.New()
}

func (g *globals) flushMetrics(e *metrics.Exporter) {
	if e == nil {
		return
	}
	if err := e.WriteTextfile(g.cfg.MetricsFile); err != nil {
		g.logger.Warn("write metrics", "err", err)
	}
}

func newInfoCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show host, CPU and register information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			host, kernel, cpus, model := util.SystemSummary()
			nodes := "missing (modprobe msr)"
			if n, err := msr.Discover(g.cfg.MSRRoot); err == nil {
				nodes = fmt.Sprintf("%d under %s", n, g.cfg.MSRRoot)
			}
			codec := voltage.Codec{Factor: g.cfg.Factor}
			fmt.Fprintf(cmd.OutOrStdout(), _console, host, kernel, cpus, model, g.cfg.Register, nodes,
				codec.Step(), codec.Min(), codec.Max())
			return nil
		},
	}
}

func newGetCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "get [plane...]",
		Short: "Print the current offset of each plane",
		Example: `  undervolt get
  undervolt get core cache`,
		ValidArgs: planeNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			planes, err := parsePlanes(args)
			if err != nil {
				return err
			}
			ctrl, err := g.controller()
			if err != nil {
				return err
			}
			offsets, err := ctrl.Get(cmd.Context(), planes...)
			if err != nil {
				return err
			}
			if len(planes) == 0 {
				planes = voltage.Planes()
			}
			for _, p := range planes {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %.2f mV\n", p, float64(offsets[p]))
			}

			if e := g.exporter(); e != nil {
				e.ObserveOffsets(offsets)
				g.flushMetrics(e)
			}
			return nil
		},
	}
}

func newSetCmd(g *globals) *cobra.Command {
	var (
		force   bool
		profile string
		planes  planeFlags
	)
	cmd := &cobra.Command{
		Use:   "set --<plane> <mV> [...]",
		Short: "Apply voltage offsets to every core",
		Example: `  undervolt set --core -100 --cache -100
  undervolt set --profile /etc/undervolt.yaml
  undervolt set --gpu 10 --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base := voltage.OffsetRequest{}
			if profile != "" {
				p, err := config.LoadProfile(profile)
				if err != nil {
					return err
				}
				if base, err = p.Request(); err != nil {
					return err
				}
				force = force || p.Force
			}
			req := planes.request(cmd.Flags(), base)
			if len(req) == 0 {
				return errors.New("no offsets given (use --core, --gpu, --cache, --uncore, --analogio or --profile)")
			}

			ctrl, err := g.controller()
			if err != nil {
				return err
			}
			applied, err := ctrl.Set(cmd.Context(), req, force)
			for _, p := range req.Planes() {
				if a, ok := applied[p]; ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %.2f mV (requested %.2f mV)\n", p, float64(a.Applied), float64(a.Requested))
				}
			}

			if e := g.exporter(); e != nil {
				e.ObserveOffsets(controller.Applied(applied))
				g.flushMetrics(e)
			}
			return err
		},
	}
	planes = bindPlaneFlags(cmd.Flags(), "offset in mV for the %s")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "allow setting positive offsets")
	cmd.Flags().StringVar(&profile, "profile", "", "YAML offset profile; plane flags override its values")
	return cmd
}

func parsePlanes(names []string) ([]voltage.Plane, error) {
	out := make([]voltage.Plane, 0, len(names))
	for _, n := range names {
		p, err := voltage.ParsePlane(n)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func planeNames() []string {
	var out []string
	for _, p := range voltage.Planes() {
		out = append(out, p.String())
	}
	return out
}

const _console = `undervolt - Intel CPU voltage offset tool

* GitHub: https://github.com/ja7ad/undervolt

       Host: %s
       Kernel: %s
       CPUs: %s
       Model: %s
       Register: %s
       MSR nodes: %s
       Resolution: %s (range %s .. %s)
`
