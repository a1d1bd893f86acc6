// ============================================================================
// coresched CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra command tree for running, comparing and serving schedulers
//
// Command Structure:
//   coresched                      # Root command
//   ├── run                        # Simulate one scheme over a workload
//   │   └── --workload, -w        # Workload YAML file
//   ├── compare                    # Simulate several schemes in parallel
//   ├── serve                      # Expose one engine over gRPC
//   ├── replay                     # Summarise a trace file
//   ├── generate                   # Write a random workload
//   ├── config                     # Print the effective configuration
//   ├── --config, -c              # Config file (default configs/default.yaml)
//   ├── --log-level               # Overrides log.level from the config
//   └── --version
//
// Configuration:
//   YAML config file, see configs/default.yaml. A missing file falls back
//   to built-in defaults. Command flags override config values only when
//   set explicitly.
//
// Output:
//   Reports and tables go to stdout, logs go to stderr.
//
// run Command:
//   1. Load config and workload
//   2. Open trace file (if trace.path or --trace is set)
//   3. Run the simulator, print per-job table
//   4. Write report JSON (if report.path or --report is set)
//   5. Print the run's Prometheus metrics (if metrics.enabled)
//
//   Examples:
//     ./coresched run -w examples/workload.yaml --scheme psjf --cores 2
//     ./coresched run -w examples/workload.yaml --scheme rr --quantum 3 --trace run.trace
//
// compare Command:
//   Submits one task per scheme to the worker pool and prints the averages
//   side by side.
//
//   Examples:
//     ./coresched compare -w examples/workload.yaml --cores 2
//     ./coresched compare -w examples/workload.yaml --schemes fcfs,rr
//
// serve Command:
//   Starts the gRPC Scheduler service and, if enabled, the metrics server.
//   SIGINT/SIGTERM stop both gracefully.
//
//   Examples:
//     ./coresched serve --port 50051
//
// ============================================================================

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/coresched/internal/config"
	"github.com/ChuLiYu/coresched/internal/logging"
	"github.com/ChuLiYu/coresched/internal/metrics"
	"github.com/ChuLiYu/coresched/internal/report"
	"github.com/ChuLiYu/coresched/internal/scheduler"
	"github.com/ChuLiYu/coresched/internal/server"
	"github.com/ChuLiYu/coresched/internal/simulator"
	"github.com/ChuLiYu/coresched/internal/trace"
	"github.com/ChuLiYu/coresched/internal/worker"
	"github.com/ChuLiYu/coresched/internal/workload"
	"github.com/ChuLiYu/coresched/pkg/types"
)

var (
	configFile string
	logLevel   string
)

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "coresched",
		Short: "coresched: a discrete-event multi-core CPU scheduler",
		Long: `coresched simulates CPU scheduling on N identical cores with:
- FCFS, SJF, PSJF, PRI, PPRI and RR policies
- per-job waiting, turnaround and response times
- replayable scheduling traces
- a gRPC interface to a live engine`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error), overrides config")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildCompareCommand())
	rootCmd.AddCommand(buildServeCommand())
	rootCmd.AddCommand(buildReplayCommand())
	rootCmd.AddCommand(buildGenerateCommand())
	rootCmd.AddCommand(buildConfigCommand())

	return rootCmd
}

// schedulerFlags are the flags shared by run, compare and serve.
type schedulerFlags struct {
	scheme  string
	cores   int
	quantum int
	strict  bool
}

func (f *schedulerFlags) register(cmd *cobra.Command, withScheme bool) {
	if withScheme {
		cmd.Flags().StringVar(&f.scheme, "scheme", "", "scheduling scheme (fcfs, sjf, psjf, pri, ppri, rr)")
	}
	cmd.Flags().IntVar(&f.cores, "cores", 0, "number of cores")
	cmd.Flags().IntVar(&f.quantum, "quantum", 0, "round-robin quantum")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "reject driver contract violations")
}

// apply copies explicitly set flags onto cfg and re-validates it.
func (f *schedulerFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("scheme") {
		scheme, err := types.ParseScheme(f.scheme)
		if err != nil {
			return err
		}
		cfg.Scheduler.Scheme = scheme
	}
	if flags.Changed("cores") {
		cfg.Scheduler.Cores = f.cores
	}
	if flags.Changed("quantum") {
		cfg.Scheduler.Quantum = f.quantum
	}
	if flags.Changed("strict") {
		cfg.Scheduler.Strict = f.strict
	}
	return cfg.Validate()
}

// setup loads the config and builds the command logger.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadOrDefault(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	logger := logging.NewLoggerWithWriter(logging.ParseLevel(level), cfg.Log.Format, cmd.ErrOrStderr())
	return cfg, logger, nil
}

// ============================================================================
// run
// ============================================================================

func buildRunCommand() *cobra.Command {
	var (
		sf           schedulerFlags
		workloadFile string
		tracePath    string
		reportPath   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one scheduling simulation",
		Long:  "Simulate a workload under one scheme and print per-job times and averages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			if err := sf.apply(cmd, cfg); err != nil {
				return err
			}
			if cmd.Flags().Changed("trace") {
				cfg.Trace.Path = tracePath
			}
			if cmd.Flags().Changed("report") {
				cfg.Report.Path = reportPath
			}
			return runSimulation(cmd.Context(), cmd.OutOrStdout(), cfg, logger, workloadFile)
		},
	}

	sf.register(cmd, true)
	cmd.Flags().StringVarP(&workloadFile, "workload", "w", "", "workload YAML file")
	cmd.Flags().StringVar(&tracePath, "trace", "", "write a scheduling trace to this file")
	cmd.Flags().StringVar(&reportPath, "report", "", "write the JSON report to this file")
	_ = cmd.MarkFlagRequired("workload")

	return cmd
}

func runSimulation(ctx context.Context, out io.Writer, cfg *config.Config, logger *slog.Logger, workloadFile string) (err error) {
	w, err := workload.Load(workloadFile)
	if err != nil {
		return fmt.Errorf("failed to load workload: %w", err)
	}

	var (
		observer scheduler.Observer
		recorder *trace.Recorder
	)
	if cfg.Trace.Path != "" {
		tl, terr := trace.Create(cfg.Trace.Path, trace.Options{
			SyncOnAppend:  cfg.Trace.SyncOnAppend,
			BufferSize:    cfg.Trace.BufferSize,
			FlushInterval: cfg.FlushInterval(),
		})
		if terr != nil {
			return fmt.Errorf("failed to create trace: %w", terr)
		}
		defer func() {
			if cerr := tl.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("failed to close trace: %w", cerr)
			}
		}()
		recorder = trace.NewRecorder(tl)
		observer = recorder
	}

	// 單次執行沒有 /metrics 端點，指標寫入私有 registry 並附在輸出後
	var (
		collector *metrics.Collector
		registry  *prometheus.Registry
	)
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		collector = metrics.NewCollectorWith(registry)
		observer = scheduler.MultiObserver(observer, collector.Observer(cfg.Scheduler.Scheme))
	}

	sim, err := simulator.New(simulator.Config{
		Cores:    cfg.Scheduler.Cores,
		Scheme:   cfg.Scheduler.Scheme,
		Quantum:  cfg.Scheduler.Quantum,
		Strict:   cfg.Scheduler.Strict,
		Observer: observer,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	if cfg.Simulation.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Simulation.Timeout)
		defer cancel()
	}

	start := time.Now()
	rep, err := sim.Run(ctx, w)
	if collector != nil {
		collector.RecordRun(cfg.Scheduler.Scheme, time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}
	if recorder != nil {
		if err := recorder.Err(); err != nil {
			return fmt.Errorf("failed to write trace: %w", err)
		}
		rep.TracePath = cfg.Trace.Path
	}

	if err := report.WriteJobs(out, rep); err != nil {
		return err
	}

	if cfg.Report.Path != "" {
		if err := report.NewManager(cfg.Report.Path).Write(rep); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		logger.Info("Report written", "path", cfg.Report.Path, "run_id", rep.RunID)
	}
	if registry != nil {
		return writeMetrics(out, registry)
	}
	return nil
}

func writeMetrics(out io.Writer, registry *prometheus.Registry) error {
	fmt.Fprintln(out)
	if err := metrics.WriteText(out, registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

// ============================================================================
// compare
// ============================================================================

func buildCompareCommand() *cobra.Command {
	var (
		sf           schedulerFlags
		workloadFile string
		schemes      []string
		workers      int
	)

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare schemes over one workload",
		Long:  "Run the workload under several schemes on the worker pool and print the averages side by side",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			if err := sf.apply(cmd, cfg); err != nil {
				return err
			}
			if cmd.Flags().Changed("workers") {
				cfg.Simulation.Workers = workers
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			selected, err := parseSchemes(schemes)
			if err != nil {
				return err
			}
			return compareSchemes(cmd.Context(), cmd.OutOrStdout(), cfg, logger, workloadFile, selected)
		},
	}

	sf.register(cmd, false)
	cmd.Flags().StringVarP(&workloadFile, "workload", "w", "", "workload YAML file")
	cmd.Flags().StringSliceVar(&schemes, "schemes", nil, "schemes to compare (default all)")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel simulations, overrides simulation.workers")
	_ = cmd.MarkFlagRequired("workload")

	return cmd
}

func parseSchemes(names []string) ([]types.Scheme, error) {
	if len(names) == 0 {
		return types.AllSchemes(), nil
	}
	seen := make(map[types.Scheme]bool)
	var out []types.Scheme
	for _, name := range names {
		scheme, err := types.ParseScheme(name)
		if err != nil {
			return nil, err
		}
		if !seen[scheme] {
			seen[scheme] = true
			out = append(out, scheme)
		}
	}
	return out, nil
}

func compareSchemes(ctx context.Context, out io.Writer, cfg *config.Config, logger *slog.Logger, workloadFile string, schemes []types.Scheme) error {
	w, err := workload.Load(workloadFile)
	if err != nil {
		return fmt.Errorf("failed to load workload: %w", err)
	}

	tasks := make([]worker.Task, len(schemes))
	for i, scheme := range schemes {
		tasks[i] = worker.Task{
			ID: scheme.String(),
			Config: simulator.Config{
				Cores:   cfg.Scheduler.Cores,
				Scheme:  scheme,
				Quantum: cfg.Scheduler.Quantum,
				Strict:  cfg.Scheduler.Strict,
			},
			Workload: w,
			Timeout:  cfg.Simulation.Timeout,
		}
	}

	opts := []worker.Option{worker.WithLogger(logger)}
	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		opts = append(opts, worker.WithMetrics(metrics.NewCollectorWith(registry)))
	}
	pool := worker.NewPool(len(tasks), opts...)
	if err := pool.StartContext(ctx, cfg.Simulation.Workers); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	defer pool.Stop()

	results, err := pool.RunAll(ctx, tasks)
	if err != nil {
		return err
	}

	reports := make([]*report.Report, 0, len(results))
	var errs []error
	for _, result := range results {
		if !result.Success() {
			errs = append(errs, fmt.Errorf("%s: %w", result.TaskID, result.Error))
			continue
		}
		logger.Debug("Simulation done", "scheme", result.TaskID, "duration", result.Duration)
		reports = append(reports, result.Report)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	fmt.Fprintf(out, "workload=%s jobs=%d cores=%d quantum=%d\n\n", w.Name, len(w.Jobs), cfg.Scheduler.Cores, cfg.Scheduler.Quantum)
	if err := report.WriteComparison(out, reports); err != nil {
		return err
	}
	if registry != nil {
		return writeMetrics(out, registry)
	}
	return nil
}

// ============================================================================
// serve
// ============================================================================

func buildServeCommand() *cobra.Command {
	var (
		sf   schedulerFlags
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gRPC scheduler service",
		Long:  "Expose a live scheduling engine over gRPC; metrics are served when enabled in config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			if err := sf.apply(cmd, cfg); err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}

	sf.register(cmd, true)
	cmd.Flags().IntVar(&port, "port", 0, "gRPC port, overrides server.port")

	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	opts := []server.Option{server.WithLogger(logger)}
	if cfg.Metrics.Enabled {
		opts = append(opts, server.WithMetrics(metrics.NewCollector()))
	}
	srv, err := server.NewServer(server.Config{
		Cores:  cfg.Scheduler.Cores,
		Scheme: cfg.Scheduler.Scheme,
		Strict: cfg.Scheduler.Strict,
	}, opts...)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", cfg.Server.Port, err)
	}
	gs := srv.NewGRPCServer()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gRPC server listening", "addr", lis.Addr().String())
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Received shutdown signal, stopping gracefully")
		gs.GracefulStop()
		return nil
	})
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			logger.Info("Starting metrics server", "port", cfg.Metrics.Port)
			return metrics.Serve(ctx, cfg.Metrics.Port, nil)
		})
	}

	err = g.Wait()
	logger.Info("Server stopped")
	return err
}

// ============================================================================
// replay
// ============================================================================

func buildReplayCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "replay <trace-file>",
		Short: "Verify and summarise a trace file",
		Long:  "Check every trace record's checksum and sequence, then print event counts, makespan and per-core busy time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := trace.ReadAll(args[0])
			if err != nil {
				return fmt.Errorf("failed to replay trace: %w", err)
			}
			summary := trace.Summarize(events)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
			return writeSummary(cmd.OutOrStdout(), args[0], summary)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func writeSummary(out io.Writer, path string, s trace.Summary) error {
	fmt.Fprintf(out, "trace:    %s\n", path)
	fmt.Fprintf(out, "events:   %d (last seq %d)\n", s.Events, s.LastSeq)
	fmt.Fprintf(out, "jobs:     %d arrived, %d unfinished\n", s.Jobs, len(s.Unfinished))
	fmt.Fprintf(out, "makespan: %d\n\n", s.Makespan)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EVENT\tCOUNT")
	for _, t := range []trace.EventType{trace.EventArrive, trace.EventDispatch, trace.EventPreempt, trace.EventQuantum, trace.EventFinish} {
		fmt.Fprintf(tw, "%s\t%d\n", t, s.Counts[t])
	}
	fmt.Fprintln(tw)

	cores := make([]int, 0, len(s.BusyByCore))
	for core := range s.BusyByCore {
		cores = append(cores, core)
	}
	sort.Ints(cores)
	fmt.Fprintln(tw, "CORE\tBUSY")
	for _, core := range cores {
		fmt.Fprintf(tw, "%d\t%d\n", core, s.BusyByCore[core])
	}
	return tw.Flush()
}

// ============================================================================
// generate
// ============================================================================

func buildGenerateCommand() *cobra.Command {
	opts := workload.DefaultGenerateOptions()
	var outFile string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a random workload",
		Long:  "Write a reproducible random workload (same seed, same jobs) as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := workload.Generate(opts)
			if err != nil {
				return err
			}
			if err := w.Save(outFile); err != nil {
				return fmt.Errorf("failed to write workload: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d jobs (total run time %d) to %s\n", len(w.Jobs), w.TotalRunTime(), outFile)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "output YAML file")
	cmd.Flags().IntVar(&opts.Jobs, "jobs", opts.Jobs, "number of jobs")
	cmd.Flags().IntVar(&opts.MaxGap, "max-gap", opts.MaxGap, "largest gap between arrivals")
	cmd.Flags().IntVar(&opts.MaxRunTime, "max-run-time", opts.MaxRunTime, "largest run time")
	cmd.Flags().IntVar(&opts.MaxPriority, "max-priority", opts.MaxPriority, "largest priority value")
	cmd.Flags().Int64Var(&opts.Seed, "seed", opts.Seed, "random seed")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

// ============================================================================
// config
// ============================================================================

func buildConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Long:  "Print the configuration after defaults and the config file are merged",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", configFile)
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

// exitCode maps an error to a process exit status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		return 130
	}
	return 1
}

// Execute runs the command tree and returns the process exit status.
func Execute() int {
	cmd := BuildCLI()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return 0
}
