// Package metrics incrementally aggregates RequestResult outcomes into the
// latency/throughput/error statistics of specmodel.Metrics, and evaluates
// Thresholds against a computed snapshot. It is adapted from the teacher's
// Collector: same atomic-counter-plus-locked-slice shape, same copy-and-sort
// snapshot strategy, recalibrated to the percentile-by-linear-interpolation
// contract and threshold evaluation this system requires (the teacher had
// neither).
package metrics

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/loadtest/internal/specmodel"
)

// Collector aggregates outcomes for a single run or a single endpoint
// within a multi-endpoint run. Safe for concurrent use.
type Collector struct {
	mu sync.RWMutex

	totalRequests  atomic.Int64
	failedRequests atomic.Int64
	totalBytes     atomic.Int64

	latenciesMu sync.Mutex
	latencies   []float64 // ms, every outcome with latency>0 (failures included)

	statusMu    sync.Mutex
	statusCodes map[int]int64

	errorMu   sync.Mutex
	errorsRaw map[string]int64

	startTime time.Time
	endTime   time.Time
}

// NewCollector creates an empty Collector and stamps its start time, per
// the engine lifecycle ("Build collaborators ... metrics collector").
func NewCollector() *Collector {
	return &Collector{
		statusCodes: make(map[int]int64),
		errorsRaw:   make(map[string]int64),
		startTime:   time.Now(),
	}
}

// Record ingests one outcome. Called immediately per completion so live
// metrics reflect in-flight state (spec §4.5 step 8).
func (c *Collector) Record(r specmodel.RequestResult) {
	c.totalRequests.Add(1)
	if r.Failed() {
		c.failedRequests.Add(1)
	} else {
		c.totalBytes.Add(int64(r.ResponseSizeBytes))
	}

	if r.LatencyMs > 0 {
		c.latenciesMu.Lock()
		c.latencies = append(c.latencies, r.LatencyMs)
		c.latenciesMu.Unlock()
	}

	if r.StatusCode != 0 {
		c.statusMu.Lock()
		c.statusCodes[r.StatusCode]++
		c.statusMu.Unlock()
	}

	if r.Error != "" {
		c.errorMu.Lock()
		c.errorsRaw[normalizeErrorCategory(r.Error)]++
		c.errorMu.Unlock()
	}
}

// normalizeErrorCategory applies spec §4.6's error-category normalization:
// any string containing "timeout" collapses to "timeout", any containing
// "connection" collapses to "connection_error", else the raw category is
// kept as-is.
func normalizeErrorCategory(raw string) string {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "timeout"):
		return "timeout"
	case strings.Contains(lower, "connection"):
		return "connection_error"
	default:
		return raw
	}
}

// Stop stamps the end time. Idempotent calls after the first are no-ops.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.endTime.IsZero() {
		c.endTime = time.Now()
	}
}

// Compute returns the current aggregate statistics. It may be called
// before Stop (mid-run progress) or after (final aggregate); duration is
// computed against time.Now() in the former case.
func (c *Collector) Compute() specmodel.Metrics {
	c.mu.RLock()
	start, end := c.startTime, c.endTime
	c.mu.RUnlock()

	total := c.totalRequests.Load()
	failed := c.failedRequests.Load()
	successful := total - failed

	m := specmodel.Metrics{
		TotalRequests:      total,
		SuccessfulReqs:     successful,
		FailedRequests:     failed,
		TotalBytesReceived: c.totalBytes.Load(),
		ErrorsByType:       c.snapshotErrors(),
		StatusCodeCounts:   c.snapshotStatusCodes(),
	}

	c.latenciesMu.Lock()
	latencies := slices.Clone(c.latencies)
	c.latenciesMu.Unlock()
	if len(latencies) > 0 {
		slices.Sort(latencies)
		n := len(latencies)
		m.MinLatencyMs = latencies[0]
		m.MaxLatencyMs = latencies[n-1]
		m.MeanLatencyMs = mean(latencies)
		m.P50LatencyMs = percentile(latencies, 50)
		m.P90LatencyMs = percentile(latencies, 90)
		m.P95LatencyMs = percentile(latencies, 95)
		m.P99LatencyMs = percentile(latencies, 99)
	}

	var duration time.Duration
	if !start.IsZero() {
		if end.IsZero() {
			duration = time.Since(start)
		} else {
			duration = end.Sub(start)
		}
	}
	if duration > 0 {
		m.DurationSeconds = duration.Seconds()
		m.RequestsPerSecond = float64(total) / m.DurationSeconds
	}
	if total > 0 {
		m.ErrorRate = float64(failed) / float64(total)
	}

	return m
}

// percentile implements spec §4.6's linear-interpolation formula over
// sorted ms values v: k = (n-1)*p/100, f = floor(k), c = min(f+1, n-1),
// result = v[f]*(c-k) + v[c]*(k-f). For n=1 it returns v[0].
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	k := float64(n-1) * p / 100
	f := math.Floor(k)
	c := math.Min(f+1, float64(n-1))
	fi, ci := int(f), int(c)
	return sorted[fi]*(c-k) + sorted[ci]*(k-f)
}

func mean(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func (c *Collector) snapshotStatusCodes() map[int]int64 {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	out := make(map[int]int64, len(c.statusCodes))
	for k, v := range c.statusCodes {
		out[k] = v
	}
	return out
}

func (c *Collector) snapshotErrors() map[string]int64 {
	c.errorMu.Lock()
	defer c.errorMu.Unlock()
	out := make(map[string]int64, len(c.errorsRaw))
	for k, v := range c.errorsRaw {
		out[k] = v
	}
	return out
}

// EvaluateThresholds checks a computed Metrics snapshot against thresholds
// and the spec's expected-status-code set, producing ordered failure
// reasons per spec §4.6. A nil thresholds pointer still checks the
// unexpected-status-code rule.
func EvaluateThresholds(m specmodel.Metrics, thresholds *specmodel.Thresholds, expectedStatusCodes []int) (passed bool, reasons []string) {
	if m.FailedRequests > 0 {
		reasons = append(reasons, fmt.Sprintf("%d request(s) failed", m.FailedRequests))
	}

	if thresholds != nil {
		if thresholds.MaxLatencyP50Ms != nil && m.P50LatencyMs > *thresholds.MaxLatencyP50Ms {
			reasons = append(reasons, fmt.Sprintf("p50 latency %.2fms exceeds limit %.2fms", m.P50LatencyMs, *thresholds.MaxLatencyP50Ms))
		}
		if thresholds.MaxLatencyP95Ms != nil && m.P95LatencyMs > *thresholds.MaxLatencyP95Ms {
			reasons = append(reasons, fmt.Sprintf("p95 latency %.2fms exceeds limit %.2fms", m.P95LatencyMs, *thresholds.MaxLatencyP95Ms))
		}
		if thresholds.MaxLatencyP99Ms != nil && m.P99LatencyMs > *thresholds.MaxLatencyP99Ms {
			reasons = append(reasons, fmt.Sprintf("p99 latency %.2fms exceeds limit %.2fms", m.P99LatencyMs, *thresholds.MaxLatencyP99Ms))
		}
		if thresholds.MaxErrorRate != nil && m.ErrorRate > *thresholds.MaxErrorRate {
			reasons = append(reasons, fmt.Sprintf("error rate %.4f exceeds limit %.4f", m.ErrorRate, *thresholds.MaxErrorRate))
		}
		if thresholds.MinThroughputRPS != nil && m.RequestsPerSecond < *thresholds.MinThroughputRPS {
			reasons = append(reasons, fmt.Sprintf("throughput %.2f req/s below minimum %.2f req/s", m.RequestsPerSecond, *thresholds.MinThroughputRPS))
		}
	}

	expected := make(map[int]bool, len(expectedStatusCodes))
	for _, code := range expectedStatusCodes {
		expected[code] = true
	}
	codes := make([]int, 0, len(m.StatusCodeCounts))
	for code := range m.StatusCodeCounts {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		if !expected[code] {
			reasons = append(reasons, fmt.Sprintf("Received %d responses with unexpected status code %d", m.StatusCodeCounts[code], code))
		}
	}

	return len(reasons) == 0, reasons
}
