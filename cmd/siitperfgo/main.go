// siitperfgo is a line-rate RFC 2544/RFC 8219 benchmarking tool for
// IPv4/IPv6 translator and NAT devices under test.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lencsegabor-port/siitperfgo/internal/config"
	"github.com/lencsegabor-port/siitperfgo/internal/engine"
	"github.com/lencsegabor-port/siitperfgo/internal/metrics"
	"github.com/lencsegabor-port/siitperfgo/internal/report"
	appversion "github.com/lencsegabor-port/siitperfgo/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:     "siitperfgo",
		Short:   "RFC 2544/RFC 8219 benchmarking tool for translator/NAT devices",
		Version: appversion.Version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (YAML)")

	root.AddCommand(newRunCommand(&configPath))
	root.AddCommand(newValidateCommand(&configPath))
	return root
}

// newRunCommand mirrors original_source/main-tp.c's readCmdLine
// positional-argument convention: siitperfgo run <ipv6_frame_size>
// <rate> <duration> <timeout_ms> <n> <m> [N M R T D [delay k]], per
// SPEC_FULL.md section 6.B. The first six positionals are always the
// stateless core; the next five (N, M, R, T, D) are the preliminary
// -phase parameters required when stateful mode is enabled, and the
// final two (delay, k) enable latency measurement. Arguments beyond
// the core six are reachable this way purely as a convenience: they
// set the same fields as the YAML keys (prelim_frames,
// state_table_size, prelim_rate, prelim_timeout_ms, prelim_delay_ms,
// delay_seconds, k), which a YAML file also uses for configuration not
// expressible positionally (run.stateful, per-side addressing, and so
// on). These underscored keys cannot be set through environment
// variables, because the env mapper turns every underscore into a dot.
func newRunCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [ipv6_frame_size rate duration timeout_ms n m [N M R T D [delay k]]]",
		Short: "run a benchmark and print the reported outputs",
		Args:  cobra.RangeArgs(0, 13),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := positionalOverrides(args)
			if err != nil {
				return err
			}
			return runBenchmark(cmd.Context(), *configPath, overrides)
		},
	}
	return cmd
}

func newValidateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "load and validate a configuration file without running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0], nil)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "invalid configuration: %v\n", err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration %s is valid (rate=%d duration=%d)\n",
				args[0], cfg.Run.Rate, cfg.Run.Duration)
			return nil
		},
	}
}

func positionalOverrides(args []string) (map[string]any, error) {
	keys := []string{
		"run.ipv6_frame_size", "run.rate", "run.duration", "run.timeout_ms", "run.n", "run.m",
		"run.prelim_frames", "run.state_table_size", "run.prelim_rate", "run.prelim_timeout_ms", "run.prelim_delay_ms",
		"run.delay_seconds", "run.k",
	}
	overrides := map[string]any{}
	for i, a := range args {
		var v int
		if _, err := fmt.Sscanf(a, "%d", &v); err != nil {
			return nil, fmt.Errorf("argument %d (%q): %w", i+1, a, err)
		}
		overrides[keys[i]] = v
	}
	return overrides, nil
}

func runBenchmark(ctx context.Context, configPath string, overrides map[string]any) error {
	cfg, err := config.Load(configPath, overrides)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	logger.Info("siitperfgo starting",
		slog.String("version", appversion.Version),
		slog.Int("rate", cfg.Run.Rate),
		slog.Int("duration", cfg.Run.Duration),
	)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	dirs, err := buildDirections(cfg)
	if err != nil {
		return fmt.Errorf("build directions: %w", err)
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(sigCtx)
	if cfg.Metrics.Addr != "" {
		srv := newMetricsServer(cfg.Metrics, reg)
		g.Go(func() error {
			logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			return srv.Close()
		})
	}

	e := engine.New(&cfg.Run, logger, collector, nil)
	rpt, runErr := e.Run(gCtx, dirs)
	stop()
	_ = g.Wait()

	var writeErr error
	if cfg.Run.Format == "yaml" {
		writeErr = report.WriteYAML(os.Stdout, rpt)
	} else {
		writeErr = report.WriteText(os.Stdout, rpt)
	}
	if writeErr != nil {
		logger.Error("write report", slog.String("error", writeErr.Error()))
	}

	if runErr != nil {
		logger.Error("siitperfgo run failed", slog.String("error", runErr.Error()))
		return runErr
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{Addr: cfg.Addr, Handler: mux}
}
