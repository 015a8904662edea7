package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/loadtest/internal/auth"
	"github.com/example/loadtest/internal/metrics"
	"github.com/example/loadtest/internal/ratelimit"
	"github.com/example/loadtest/internal/selector"
	"github.com/example/loadtest/internal/specmodel"
	"github.com/example/loadtest/internal/template"
)

const (
	// sampledRequestCap bounds how many successful outcomes are retained in
	// RunResult.SampledRequests; every failure is retained regardless.
	sampledRequestCap = 20
	// metricsRefreshEvery is the completion-count cadence at which a live
	// RunResult snapshot is republished mid-run.
	metricsRefreshEvery = 5
	// sampledBodyCap truncates captured response bodies so a sampled
	// request never balloons a snapshot with a multi-megabyte payload.
	sampledBodyCap = 10 * 1024
)

// ProgressFunc is invoked after each completed request with the running
// completed/total counts. May be nil.
type ProgressFunc func(completed, total int)

// aggregator abstracts over a single-endpoint Collector and a
// MultiCollector so runState doesn't need to branch on endpoint count past
// construction time.
type aggregator interface {
	Record(specmodel.RequestResult)
	Stop()
	Aggregate() specmodel.Metrics
	EndpointMetrics() []specmodel.EndpointMetrics
}

type singleAggregator struct{ c *metrics.Collector }

func (a singleAggregator) Record(r specmodel.RequestResult)            { a.c.Record(r) }
func (a singleAggregator) Stop()                                       { a.c.Stop() }
func (a singleAggregator) Aggregate() specmodel.Metrics                { return a.c.Compute() }
func (a singleAggregator) EndpointMetrics() []specmodel.EndpointMetrics { return nil }

type multiAggregator struct{ m *metrics.MultiCollector }

func (a multiAggregator) Record(r specmodel.RequestResult)            { a.m.Record(r) }
func (a multiAggregator) Stop()                                       { a.m.Stop() }
func (a multiAggregator) Aggregate() specmodel.Metrics                { return a.m.Aggregate() }
func (a multiAggregator) EndpointMetrics() []specmodel.EndpointMetrics { return a.m.EndpointMetrics() }

// Engine runs TestSpecs to completion against a shared HTTP client,
// publishing live progress through a Registry. One Engine can run many
// TestSpecs concurrently; each Run call owns its own run state.
type Engine struct {
	httpClient *http.Client
	registry   *Registry
	log        *zap.Logger
}

// New creates an Engine. A nil httpClient defaults to a client with no
// overall timeout (the per-request deadline comes from
// spec.TimeoutSeconds instead). A nil logger defaults to zap.NewNop().
func New(registry *Registry, httpClient *http.Client, logger *zap.Logger) *Engine {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{httpClient: httpClient, registry: registry, log: logger}
}

// Cancel signals cancellation for an active run. Returns false if runID is
// not currently active (already terminal, or unknown).
func (e *Engine) Cancel(runID string) bool {
	return e.registry.Cancel(runID)
}

// Get returns the live snapshot for an active run.
func (e *Engine) Get(runID string) (*specmodel.RunResult, bool) {
	return e.registry.Get(runID)
}

// Run executes spec to a terminal RunResult. If runID is empty a new UUID
// is minted. Run blocks until the run reaches a terminal state (completed,
// cancelled via ctx, or failed on an auth/internal error) and returns the
// final RunResult; it also leaves a final snapshot in the Registry briefly,
// until the deferred unregister below removes it.
func (e *Engine) Run(ctx context.Context, spec *specmodel.TestSpec, runID string, progress ProgressFunc) *specmodel.RunResult {
	if runID == "" {
		runID = uuid.NewString()
	}

	result := &specmodel.RunResult{ID: runID, Spec: *spec, Status: specmodel.StatusPending}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ar := e.registry.register(runID, result.Clone(), cancel)
	defer e.registry.unregister(runID)

	startedAt := time.Now()
	result.Status = specmodel.StatusRunning
	result.StartedAt = &startedAt
	ar.publish(result.Clone())
	e.log.Info("run started", zap.String("run_id", runID), zap.String("name", spec.Name), zap.Int("total_requests", spec.TotalRequests))

	if err := spec.Validate(); err != nil {
		return e.fail(result, ar, err.Error())
	}

	endpoints := spec.ResolvedEndpoints()
	tmpl := template.New(spec.Variables)
	authResolver := auth.New(tmpl)

	globalAuth, err := authResolver.Headers(runCtx, spec.Auth, 0)
	if err != nil {
		return e.fail(result, ar, err.Error())
	}

	sel, err := selector.New(spec.Strategy(), endpoints, spec.TotalRequests)
	if err != nil {
		return e.fail(result, ar, err.Error())
	}

	var agg aggregator
	if len(spec.Endpoints) > 0 {
		names := make([]string, 0, len(endpoints))
		for _, ep := range endpoints {
			names = append(names, ep.Name)
		}
		agg = multiAggregator{metrics.NewMultiCollector(names)}
	} else {
		agg = singleAggregator{metrics.NewCollector()}
	}

	rs := &runState{
		spec:         spec,
		tmpl:         tmpl,
		globalAuth:   globalAuth,
		sel:          sel,
		limiter:      ratelimit.New(spec.RequestsPerSecond),
		collector:    agg,
		httpClient:   e.httpClient,
	}

	workers := spec.Concurrency
	if workers > spec.TotalRequests {
		workers = spec.TotalRequests
	}
	jobs := make(chan int, spec.TotalRequests)
	for i := 1; i <= spec.TotalRequests; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range jobs {
				rs.processOne(runCtx, n)
				completed := int(rs.completed.Load())
				if completed%metricsRefreshEvery == 0 {
					rs.publishProgress(ar, result)
				}
				if progress != nil {
					progress(completed, spec.TotalRequests)
				}
			}
		}()
	}
	wg.Wait()

	agg.Stop()
	completedAt := time.Now()
	result.CompletedAt = &completedAt
	result.RequestsCompleted = int(rs.completed.Load())
	result.Metrics = agg.Aggregate()
	result.EndpointMetrics = agg.EndpointMetrics()
	result.SampledRequests = rs.snapshotSampled()

	passed, reasons := metrics.EvaluateThresholds(result.Metrics, &spec.Thresholds, aggregateExpectedStatusCodes(endpoints))
	result.Passed = &passed
	result.FailureReasons = reasons

	if runCtx.Err() != nil {
		result.Status = specmodel.StatusCancelled
	} else {
		result.Status = specmodel.StatusCompleted
	}

	ar.publish(result.Clone())
	e.log.Info("run finished",
		zap.String("run_id", runID),
		zap.String("status", string(result.Status)),
		zap.Int("requests_completed", result.RequestsCompleted),
		zap.Boolp("passed", result.Passed),
	)
	return result
}

// fail transitions result to failed with message and publishes it as the
// final snapshot, per spec §7: auth and internal errors are fatal, no
// further dispatch occurs.
func (e *Engine) fail(result *specmodel.RunResult, ar *activeRun, message string) *specmodel.RunResult {
	now := time.Now()
	result.Status = specmodel.StatusFailed
	result.ErrorMessage = message
	result.CompletedAt = &now
	ar.publish(result.Clone())
	e.log.Error("run failed", zap.String("run_id", result.ID), zap.String("error", message))
	return result
}

// aggregateExpectedStatusCodes unions every resolved endpoint's expected
// status codes; the aggregate Metrics mixes outcomes from every endpoint,
// so an endpoint-scoped threshold check would wrongly flag another
// endpoint's own expected codes as unexpected.
func aggregateExpectedStatusCodes(endpoints []specmodel.EndpointSpec) []int {
	set := make(map[int]bool)
	for _, ep := range endpoints {
		codes := ep.ExpectedStatusCodes
		if len(codes) == 0 {
			codes = specmodel.DefaultExpectedStatusCodes
		}
		for _, c := range codes {
			set[c] = true
		}
	}
	out := make([]int, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// runState holds everything one Run call needs to dispatch requests and
// accumulate results. It is not safe to reuse across runs.
type runState struct {
	spec       *specmodel.TestSpec
	tmpl       *template.Resolver
	globalAuth map[string]string
	sel        selector.Selector
	limiter    ratelimit.Limiter
	collector  aggregator
	httpClient *http.Client

	completed atomic.Int64

	sampledMu     sync.Mutex
	sampled       []specmodel.RequestResult
	sampledSucces int

	// publishMu serializes snapshot publication so concurrent workers can
	// never publish an older completed-count snapshot after a newer one;
	// completed itself only grows, so the order of lock acquisition alone
	// fixes the order readers observe.
	publishMu sync.Mutex
}

// processOne resolves and executes request n, then records its outcome.
// ctx.Done() and a blocked rate-limiter acquire are the two
// cancellation-polling suspension points before a request is attempted;
// once it classifies as "cancelled" with no status code and no latency.
func (rs *runState) processOne(ctx context.Context, n int) {
	if ctx.Err() != nil {
		rs.record(specmodel.RequestResult{RequestNumber: n, Error: "cancelled", Timestamp: time.Now()})
		return
	}
	if err := rs.limiter.Acquire(ctx); err != nil {
		rs.record(specmodel.RequestResult{RequestNumber: n, Error: "cancelled", Timestamp: time.Now()})
		return
	}
	ep := rs.sel.Select(n)
	rs.record(rs.dispatch(ctx, ep, n))
}

func (rs *runState) record(r specmodel.RequestResult) {
	rs.collector.Record(r)
	rs.sample(r)
	rs.completed.Add(1)
}

func (rs *runState) sample(r specmodel.RequestResult) {
	rs.sampledMu.Lock()
	defer rs.sampledMu.Unlock()
	if r.Failed() {
		rs.sampled = append(rs.sampled, r)
		return
	}
	if rs.sampledSucces < sampledRequestCap {
		rs.sampled = append(rs.sampled, r)
		rs.sampledSucces++
	}
}

// publishProgress republishes a coherent mid-run snapshot of result: the
// completed count, current aggregate, and sampled-requests list, all taken
// under publishMu so concurrent workers can never publish an
// already-superseded (lower completed-count) snapshot out of order.
func (rs *runState) publishProgress(ar *activeRun, result *specmodel.RunResult) {
	rs.publishMu.Lock()
	defer rs.publishMu.Unlock()
	snapshot := *result
	snapshot.RequestsCompleted = int(rs.completed.Load())
	snapshot.Metrics = rs.collector.Aggregate()
	snapshot.EndpointMetrics = rs.collector.EndpointMetrics()
	snapshot.SampledRequests = rs.snapshotSampled()
	ar.publish(snapshot.Clone())
}

func (rs *runState) snapshotSampled() []specmodel.RequestResult {
	rs.sampledMu.Lock()
	out := append([]specmodel.RequestResult(nil), rs.sampled...)
	rs.sampledMu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RequestNumber < out[j].RequestNumber })
	return out
}

// dispatch resolves templates into a concrete HTTP request for endpoint ep,
// sends it, and classifies the outcome. Endpoint headers take precedence
// over globally-resolved auth headers.
func (rs *runState) dispatch(ctx context.Context, ep specmodel.EndpointSpec, n int) specmodel.RequestResult {
	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(rs.spec.TimeoutSeconds)*time.Second)
	defer cancel()

	method := ep.Method
	if method == "" {
		method = http.MethodGet
	}
	url := rs.tmpl.Substitute(ep.URL, nil, n)
	headers := rs.tmpl.SubstituteHeaders(ep.Headers, nil, n)

	merged := make(map[string]string, len(rs.globalAuth)+len(headers))
	for k, v := range rs.globalAuth {
		merged[k] = v
	}
	for k, v := range headers {
		merged[k] = v
	}

	var bodyReader io.Reader
	var requestBody string
	if ep.Body != nil {
		resolved := rs.tmpl.SubstituteValue(ep.Body, nil, n)
		if s, ok := resolved.(string); ok {
			requestBody = s
			bodyReader = strings.NewReader(s)
		} else {
			encoded, err := json.Marshal(resolved)
			if err != nil {
				return specmodel.RequestResult{RequestNumber: n, Error: "encode_error: " + err.Error(), EndpointName: ep.Name, Timestamp: time.Now()}
			}
			requestBody = string(encoded)
			bodyReader = bytes.NewReader(encoded)
			if _, ok := merged["Content-Type"]; !ok {
				merged["Content-Type"] = "application/json"
			}
		}
	}

	req, err := http.NewRequestWithContext(reqCtx, method, url, bodyReader)
	if err != nil {
		return specmodel.RequestResult{RequestNumber: n, Error: "request_error: " + err.Error(), EndpointName: ep.Name, Timestamp: time.Now()}
	}
	for k, v := range merged {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := rs.httpClient.Do(req)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		return specmodel.RequestResult{
			RequestNumber:  n,
			LatencyMs:      latencyMs,
			Error:          classifyTransportError(err),
			Timestamp:      start,
			EndpointName:   ep.Name,
			RequestURL:     url,
			RequestMethod:  method,
			RequestHeaders: merged,
			RequestBody:    requestBody,
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	sampleBody := body
	if len(sampleBody) > sampledBodyCap {
		sampleBody = sampleBody[:sampledBodyCap]
	}
	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	return specmodel.RequestResult{
		RequestNumber:     n,
		StatusCode:        resp.StatusCode,
		LatencyMs:         latencyMs,
		Timestamp:         start,
		ResponseSizeBytes: int64(len(body)),
		EndpointName:      ep.Name,
		RequestURL:        url,
		RequestMethod:     method,
		RequestHeaders:    merged,
		RequestBody:       requestBody,
		ResponseHeaders:   respHeaders,
		ResponseBody:      string(sampleBody),
	}
}

// classifyTransportError maps a failed http.Client.Do into the spec's
// per-request error taxonomy: cancelled (run-level context cancellation),
// timeout (deadline exceeded or a net.Error reporting Timeout()), else the
// raw connection_error detail.
func classifyTransportError(err error) string {
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return fmt.Sprintf("connection_error: %v", err)
}
