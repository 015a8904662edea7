package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/loadtest/internal/specmodel"
)

func newEngine() (*Engine, *Registry) {
	reg := NewRegistry()
	return New(reg, &http.Client{}, nil), reg
}

func TestRun_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	e, _ := newEngine()
	spec := &specmodel.TestSpec{
		Name: "happy", Method: http.MethodGet, URL: srv.URL,
		TotalRequests: 20, Concurrency: 5, TimeoutSeconds: 5,
	}
	result := e.Run(context.Background(), spec, "", nil)

	require.Equal(t, specmodel.StatusCompleted, result.Status)
	assert.Equal(t, 20, result.RequestsCompleted)
	assert.EqualValues(t, 20, result.Metrics.TotalRequests)
	assert.EqualValues(t, 20, result.Metrics.SuccessfulReqs)
	require.NotNil(t, result.Passed)
	assert.True(t, *result.Passed)
	assert.Empty(t, result.FailureReasons)
}

func TestRun_AllServerErrors_FailsThresholdButCompletes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e, _ := newEngine()
	spec := &specmodel.TestSpec{
		Name: "all-500", Method: http.MethodGet, URL: srv.URL,
		TotalRequests: 10, Concurrency: 3, TimeoutSeconds: 5,
	}
	result := e.Run(context.Background(), spec, "", nil)

	require.Equal(t, specmodel.StatusCompleted, result.Status)
	require.NotNil(t, result.Passed)
	assert.False(t, *result.Passed)
	require.NotEmpty(t, result.FailureReasons)
	assert.Contains(t, result.FailureReasons[0], "unexpected status code 500")
}

func TestRun_CancellationMidRun(t *testing.T) {
	var served atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served.Add(1)
		time.Sleep(20 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, reg := newEngine()
	spec := &specmodel.TestSpec{
		Name: "cancel-me", Method: http.MethodGet, URL: srv.URL,
		TotalRequests: 200, Concurrency: 5, TimeoutSeconds: 5,
	}

	runID := "run-cancel-1"
	done := make(chan *specmodel.RunResult, 1)
	go func() {
		done <- e.Run(context.Background(), spec, runID, nil)
	}()

	time.Sleep(30 * time.Millisecond)
	assert.True(t, reg.Cancel(runID))

	result := <-done
	assert.Equal(t, specmodel.StatusCancelled, result.Status)
	assert.EqualValues(t, 200, result.RequestsCompleted, "every dispatched or short-circuited request is still accounted for")
	assert.Less(t, int(served.Load()), 200, "cancellation must short-circuit requests still queued behind the permit/rate-limiter suspension points")
	assert.Greater(t, result.Metrics.ErrorsByType["cancelled"], int64(0))
}

func TestRun_CancelUnknownRunID_ReturnsFalse(t *testing.T) {
	_, reg := newEngine()
	assert.False(t, reg.Cancel("nope"))
}

func TestRun_P95ThresholdFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	maxP95 := 1.0
	e, _ := newEngine()
	spec := &specmodel.TestSpec{
		Name: "slow", Method: http.MethodGet, URL: srv.URL,
		TotalRequests: 5, Concurrency: 5, TimeoutSeconds: 5,
		Thresholds: specmodel.Thresholds{MaxLatencyP95Ms: &maxP95},
	}
	result := e.Run(context.Background(), spec, "", nil)

	require.NotNil(t, result.Passed)
	assert.False(t, *result.Passed)
	require.NotEmpty(t, result.FailureReasons)
	assert.Contains(t, result.FailureReasons[0], "p95 latency")
}

func TestRun_WeightedMultiEndpoint_RoutesToSubAggregates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, _ := newEngine()
	spec := &specmodel.TestSpec{
		Name:          "multi",
		TotalRequests: 100,
		Concurrency:   10,
		TimeoutSeconds: 5,
		DistributionStrategy: specmodel.DistributionWeighted,
		Endpoints: []specmodel.EndpointSpec{
			{Name: "heavy", URL: srv.URL, Method: http.MethodGet, Weight: 9},
			{Name: "light", URL: srv.URL, Method: http.MethodGet, Weight: 1},
		},
	}
	result := e.Run(context.Background(), spec, "", nil)

	require.Equal(t, specmodel.StatusCompleted, result.Status)
	require.Len(t, result.EndpointMetrics, 2)
	var heavy, light int64
	for _, em := range result.EndpointMetrics {
		switch em.EndpointName {
		case "heavy":
			heavy = em.Metrics.TotalRequests
		case "light":
			light = em.Metrics.TotalRequests
		}
	}
	assert.Equal(t, heavy+light, result.Metrics.TotalRequests)
	assert.Greater(t, heavy, light)
}

func TestRun_InvalidSpec_FailsImmediately(t *testing.T) {
	e, _ := newEngine()
	spec := &specmodel.TestSpec{Name: "", TotalRequests: 1, Concurrency: 1, TimeoutSeconds: 1, URL: "http://x", Method: "GET"}
	result := e.Run(context.Background(), spec, "", nil)
	assert.Equal(t, specmodel.StatusFailed, result.Status)
	assert.NotEmpty(t, result.ErrorMessage)
}

func TestRun_AuthFailure_FailsRunWithNoDispatch(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, _ := newEngine()
	spec := &specmodel.TestSpec{
		Name: "bad-auth", Method: http.MethodGet, URL: srv.URL,
		TotalRequests: 10, Concurrency: 2, TimeoutSeconds: 5,
		Auth: &specmodel.AuthConfig{Type: "unsupported"},
	}
	result := e.Run(context.Background(), spec, "", nil)

	assert.Equal(t, specmodel.StatusFailed, result.Status)
	assert.Zero(t, hits.Load())
}

func TestRun_SampledRequests_CappedSuccessesAllFailures(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close() // connection refused for every request against dead.URL

	e, _ := newEngine()
	spec := &specmodel.TestSpec{
		Name: "sampled", TotalRequests: 80, Concurrency: 8, TimeoutSeconds: 5,
		DistributionStrategy: specmodel.DistributionRoundRobin,
		Endpoints: []specmodel.EndpointSpec{
			{Name: "ok", URL: ok.URL, Method: http.MethodGet},
			{Name: "dead", URL: dead.URL, Method: http.MethodGet},
		},
	}
	result := e.Run(context.Background(), spec, "", nil)

	var successes, failures int
	for i := range result.SampledRequests {
		if result.SampledRequests[i].Failed() {
			failures++
		} else {
			successes++
		}
	}
	assert.LessOrEqual(t, successes, sampledRequestCap)
	assert.Equal(t, 40, failures, "every transport-error outcome must still be sampled")
	for i := 1; i < len(result.SampledRequests); i++ {
		assert.Less(t, result.SampledRequests[i-1].RequestNumber, result.SampledRequests[i].RequestNumber)
	}
}
