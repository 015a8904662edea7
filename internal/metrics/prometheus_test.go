package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/loadtest/internal/specmodel"
)

func TestNewPrometheusExporter_Defaults(t *testing.T) {
	e := NewPrometheusExporter(PrometheusExporterConfig{})
	assert.Equal(t, 9090, e.config.Port)
	assert.Equal(t, "/metrics", e.config.Path)
	assert.False(t, e.IsRunning())
}

func boolPtr(b bool) *bool { return &b }

func TestReportRun_PopulatesGauges(t *testing.T) {
	e := NewPrometheusExporter(PrometheusExporterConfig{Port: 0})
	run := &specmodel.RunResult{
		Status: specmodel.StatusCompleted,
		Passed: boolPtr(true),
		Metrics: specmodel.Metrics{
			SuccessfulReqs:     9,
			FailedRequests:     1,
			P50LatencyMs:       10,
			P95LatencyMs:       20,
			RequestsPerSecond:  5,
			ErrorRate:          0.1,
			TotalBytesReceived: 1024,
			StatusCodeCounts:   map[int]int64{200: 9, 500: 1},
			ErrorsByType:       map[string]int64{"timeout": 1},
		},
	}

	e.ReportRun(run)

	families, err := e.registry.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	assert.True(t, found[MetricRunsTotal])
	assert.True(t, found[MetricThresholdsPassed])
	assert.True(t, found[MetricStatusCodesTotal])
}

func TestPrometheusExporter_StartStopServesMetrics(t *testing.T) {
	e := NewPrometheusExporter(PrometheusExporterConfig{Port: 0, Path: "/metrics"})
	// NewPrometheusExporter replaces Port 0 with the 9090 default, so pin a
	// fixed high port instead; the exporter builds its own listener from
	// config.Port.
	e.config.Port = 19873

	require.NoError(t, e.Start())
	defer func() { _ = e.Stop(context.Background()) }()
	assert.True(t, e.IsRunning())

	resp, err := http.Get("http://127.0.0.1:19873/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "loadtest_")

	require.NoError(t, e.Stop(context.Background()))
	assert.False(t, e.IsRunning())
}

func TestPrometheusExporter_StopWithoutStartIsNoop(t *testing.T) {
	e := NewPrometheusExporter(PrometheusExporterConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, e.Stop(ctx))
}
