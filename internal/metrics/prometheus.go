package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/loadtest/internal/specmodel"
)

// Prometheus metric names, adapted from the teacher's loadgen_* namespace to
// this system's run-level surface (spec §5 "Supplemented features": export
// of a finished run's Metrics + threshold verdict, purely additive).
const (
	MetricRunsTotal         = "loadtest_runs_total"
	MetricRequestsTotal     = "loadtest_requests_total"
	MetricRequestLatencyMs  = "loadtest_request_latency_ms"
	MetricThroughputRPS     = "loadtest_throughput_rps"
	MetricErrorRate         = "loadtest_error_rate"
	MetricBytesReceived     = "loadtest_bytes_received_total"
	MetricThresholdsPassed  = "loadtest_thresholds_passed"
	MetricStatusCodesTotal  = "loadtest_status_codes_total"
	MetricErrorsByTypeTotal = "loadtest_errors_by_type_total"
)

// PrometheusExporter exports finished-run Metrics and threshold verdicts via
// an HTTP /metrics endpoint, mirroring the teacher's PrometheusExporter
// (same registry-per-instance, own HTTP server, Start/Stop lifecycle)
// recalibrated to export a RunResult rather than live traffic-shaper state.
//
// Thread Safety: safe for concurrent use.
type PrometheusExporter struct {
	mu sync.RWMutex

	config   PrometheusExporterConfig
	registry *prometheus.Registry

	runsTotal        *prometheus.CounterVec
	requestsTotal    *prometheus.CounterVec
	latencyMs        *prometheus.GaugeVec
	throughputRPS    prometheus.Gauge
	errorRate        prometheus.Gauge
	bytesReceived    prometheus.Counter
	thresholdsPassed prometheus.Gauge
	statusCodes      *prometheus.CounterVec
	errorsByType     *prometheus.CounterVec

	server *http.Server
	ln     net.Listener

	running   bool
	lastError error
}

// PrometheusExporterConfig configures the exporter's HTTP endpoint.
type PrometheusExporterConfig struct {
	// Port is the HTTP port for the metrics endpoint. Default: 9090.
	Port int
	// Path is the URL path for the metrics endpoint. Default: /metrics.
	Path string
	// Namespace prefixes every metric name. Default: loadtest.
	Namespace string
}

// DefaultPrometheusExporterConfig returns the default configuration.
func DefaultPrometheusExporterConfig() PrometheusExporterConfig {
	return PrometheusExporterConfig{Port: 9090, Path: "/metrics", Namespace: "loadtest"}
}

// NewPrometheusExporter creates an exporter with its own registry, so
// multiple runs' exporters never collide with process-default metrics.
func NewPrometheusExporter(config PrometheusExporterConfig) *PrometheusExporter {
	if config.Port == 0 {
		config.Port = 9090
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if config.Namespace == "" {
		config.Namespace = "loadtest"
	}

	e := &PrometheusExporter{config: config, registry: prometheus.NewRegistry()}
	e.initMetrics()
	return e
}

func (e *PrometheusExporter) initMetrics() {
	e.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: e.config.Namespace, Name: "runs_total",
		Help: "Total number of load test runs reported, by terminal status.",
	}, []string{"status"})

	e.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: e.config.Namespace, Name: "requests_total",
		Help: "Total requests observed in reported runs, by outcome.",
	}, []string{"outcome"})

	e.latencyMs = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: e.config.Namespace, Name: "request_latency_ms",
		Help: "Latency percentiles (ms) of the most recently reported run.",
	}, []string{"quantile"})

	e.throughputRPS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: e.config.Namespace, Name: "throughput_rps",
		Help: "Requests per second of the most recently reported run.",
	})

	e.errorRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: e.config.Namespace, Name: "error_rate",
		Help: "Error rate (0-1) of the most recently reported run.",
	})

	e.bytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: e.config.Namespace, Name: "bytes_received_total",
		Help: "Total response bytes received across reported runs.",
	})

	e.thresholdsPassed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: e.config.Namespace, Name: "thresholds_passed",
		Help: "1 if the most recently reported run passed its thresholds, else 0.",
	})

	e.statusCodes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: e.config.Namespace, Name: "status_codes_total",
		Help: "Response status code counts across reported runs.",
	}, []string{"code"})

	e.errorsByType = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: e.config.Namespace, Name: "errors_by_type_total",
		Help: "Error category counts across reported runs.",
	}, []string{"category"})

	e.registry.MustRegister(
		e.runsTotal, e.requestsTotal, e.latencyMs, e.throughputRPS,
		e.errorRate, e.bytesReceived, e.thresholdsPassed, e.statusCodes, e.errorsByType,
	)
}

// ReportRun translates a finished RunResult's Metrics and threshold verdict
// into gauge/counter updates. Intended to be called once per terminal run,
// by whatever process-level collaborator owns the exporter (out of core
// scope: the core depends only on this method existing, not on who calls
// it).
func (e *PrometheusExporter) ReportRun(run *specmodel.RunResult) {
	e.runsTotal.WithLabelValues(string(run.Status)).Inc()

	m := run.Metrics
	e.requestsTotal.WithLabelValues("successful").Add(float64(m.SuccessfulReqs))
	e.requestsTotal.WithLabelValues("failed").Add(float64(m.FailedRequests))

	e.latencyMs.WithLabelValues("p50").Set(m.P50LatencyMs)
	e.latencyMs.WithLabelValues("p90").Set(m.P90LatencyMs)
	e.latencyMs.WithLabelValues("p95").Set(m.P95LatencyMs)
	e.latencyMs.WithLabelValues("p99").Set(m.P99LatencyMs)
	e.latencyMs.WithLabelValues("min").Set(m.MinLatencyMs)
	e.latencyMs.WithLabelValues("max").Set(m.MaxLatencyMs)
	e.latencyMs.WithLabelValues("mean").Set(m.MeanLatencyMs)

	e.throughputRPS.Set(m.RequestsPerSecond)
	e.errorRate.Set(m.ErrorRate)
	e.bytesReceived.Add(float64(m.TotalBytesReceived))

	if run.Passed != nil && *run.Passed {
		e.thresholdsPassed.Set(1)
	} else {
		e.thresholdsPassed.Set(0)
	}

	for code, count := range m.StatusCodeCounts {
		e.statusCodes.WithLabelValues(fmt.Sprintf("%d", code)).Add(float64(count))
	}
	for category, count := range m.ErrorsByType {
		e.errorsByType.WithLabelValues(category).Add(float64(count))
	}
}

// Start starts the HTTP server serving the metrics endpoint.
func (e *PrometheusExporter) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", e.config.Port))
	if err != nil {
		return fmt.Errorf("starting prometheus exporter: %w", err)
	}
	e.ln = ln

	mux := http.NewServeMux()
	mux.Handle(e.config.Path, promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	e.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.mu.Lock()
			e.lastError = err
			e.mu.Unlock()
		}
	}()

	e.running = true
	return nil
}

// Stop stops the HTTP server.
func (e *PrometheusExporter) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil
	}
	e.running = false
	if e.server != nil {
		return e.server.Shutdown(ctx)
	}
	return nil
}

// IsRunning reports whether the HTTP server is currently serving.
func (e *PrometheusExporter) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// LastError returns the last error observed by the serving goroutine, if any.
func (e *PrometheusExporter) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastError
}

// Registry exposes the underlying registry, chiefly for tests that want to
// gather metric families without going over HTTP.
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}
