// Command loadtestd is thin process wiring around the load-testing core:
// it wires the orchestrator/engine/store together and then either loads a
// TestSpec from YAML, submits it, and waits for the run to reach a terminal
// status before printing a summary (-spec), or loads a schedules file from
// YAML and arms it on a scheduler until signalled (-schedules). When both
// flags are given, -schedules wins and the spec is not loaded.
// It has no REST surface, no report generation, and no MCP tool surface —
// those are out of scope collaborators per the core's design (spec §1).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/example/loadtest/internal/config"
	"github.com/example/loadtest/internal/engine"
	"github.com/example/loadtest/internal/metrics"
	"github.com/example/loadtest/internal/orchestrator"
	"github.com/example/loadtest/internal/scheduler"
	"github.com/example/loadtest/internal/specmodel"
	"github.com/example/loadtest/internal/store"
)

var (
	specPath       string
	schedulesPath  string
	pollInterval   time.Duration
	prometheusAddr string
	verbose        bool
)

func init() {
	flag.StringVar(&specPath, "spec", "", "Path to a TestSpec YAML file to submit once")
	flag.StringVar(&schedulesPath, "schedules", "", "Path to a schedules YAML file to arm and run indefinitely")
	flag.DurationVar(&pollInterval, "poll", 200*time.Millisecond, "Poll interval while waiting for a submitted run")
	flag.StringVar(&prometheusAddr, "prometheus", "", "If set (port or host:port; only the port is used, on all interfaces), expose a Prometheus /metrics endpoint for reported runs")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug-level logging")
}

func main() {
	flag.Parse()

	logger := newLogger(verbose)
	defer logger.Sync() //nolint:errcheck

	if specPath == "" && schedulesPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -spec or -schedules is required")
		flag.Usage()
		os.Exit(1)
	}

	st := store.NewMemoryStore()
	reg := engine.NewRegistry()
	eng := engine.New(reg, nil, logger)
	orch := orchestrator.New(eng, st, logger)

	var exporter *metrics.PrometheusExporter
	if prometheusAddr != "" {
		exporter = startPrometheusExporter(prometheusAddr, logger)
		defer func() { _ = exporter.Stop(context.Background()) }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if schedulesPath != "" {
		runSchedules(ctx, orch, st, logger)
		return
	}

	if err := runOnce(ctx, orch, exporter, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func startPrometheusExporter(addr string, logger *zap.Logger) *metrics.PrometheusExporter {
	port := parsePort(addr)
	exp := metrics.NewPrometheusExporter(metrics.PrometheusExporterConfig{Port: port})
	if err := exp.Start(); err != nil {
		logger.Error("failed to start prometheus exporter", zap.Error(err))
	}
	return exp
}

func parsePort(addr string) int {
	var port int
	if _, err := fmt.Sscanf(addr, "%d", &port); err == nil && port > 0 {
		return port
	}
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			var p int
			if _, err := fmt.Sscanf(addr[i+1:], "%d", &p); err == nil {
				return p
			}
		}
	}
	return 9090
}

func runOnce(ctx context.Context, orch *orchestrator.Orchestrator, exporter *metrics.PrometheusExporter, logger *zap.Logger) error {
	spec, err := config.LoadSpecFile(specPath)
	if err != nil {
		return fmt.Errorf("loading spec: %w", err)
	}

	runID, err := orch.Submit(ctx, spec)
	if err != nil {
		return fmt.Errorf("submitting run: %w", err)
	}
	logger.Info("submitted run", zap.String("run_id", runID), zap.String("name", spec.Name))

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down, cancelling active run", zap.String("run_id", runID))
			orch.Cancel(context.Background(), runID)
			return ctx.Err()
		case <-ticker.C:
			result, err := orch.Get(ctx, runID)
			if err != nil {
				return fmt.Errorf("reading run: %w", err)
			}
			if !isTerminal(result) {
				continue
			}
			printSummary(result)
			if exporter != nil {
				exporter.ReportRun(result)
			}
			if result.Passed != nil && !*result.Passed {
				os.Exit(2)
			}
			return nil
		}
	}
}

func runSchedules(ctx context.Context, orch *orchestrator.Orchestrator, st store.Store, logger *zap.Logger) {
	schedules, err := config.LoadSchedulesFile(schedulesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	sched := scheduler.New(orch, st, logger)
	if err := sched.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting scheduler: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = sched.Stop(context.Background()) }()

	for i := range schedules {
		if err := sched.AddSchedule(ctx, &schedules[i]); err != nil {
			logger.Error("failed to arm schedule", zap.String("name", schedules[i].Name), zap.Error(err))
		}
	}

	logger.Info("scheduler armed, waiting for signal", zap.Int("schedule_count", len(schedules)))
	<-ctx.Done()
	logger.Info("shutting down scheduler")
}

func isTerminal(r *specmodel.RunResult) bool {
	return r.Status.IsTerminal()
}

func printSummary(r *specmodel.RunResult) {
	fmt.Printf("run %s: status=%s requests_completed=%d/%d\n", r.ID, r.Status, r.RequestsCompleted, r.Spec.TotalRequests)
	if r.ErrorMessage != "" {
		fmt.Printf("  error: %s\n", r.ErrorMessage)
		return
	}
	m := r.Metrics
	fmt.Printf("  successful=%d failed=%d error_rate=%.4f rps=%.2f\n", m.SuccessfulReqs, m.FailedRequests, m.ErrorRate, m.RequestsPerSecond)
	fmt.Printf("  latency ms: p50=%.2f p90=%.2f p95=%.2f p99=%.2f max=%.2f\n", m.P50LatencyMs, m.P90LatencyMs, m.P95LatencyMs, m.P99LatencyMs, m.MaxLatencyMs)
	if r.Passed != nil {
		fmt.Printf("  passed=%v\n", *r.Passed)
	}
	for _, reason := range r.FailureReasons {
		fmt.Printf("  - %s\n", reason)
	}
}
