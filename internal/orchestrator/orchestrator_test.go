package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/loadtest/internal/engine"
	"github.com/example/loadtest/internal/specmodel"
	"github.com/example/loadtest/internal/store"
)

func newOrchestrator() *Orchestrator {
	reg := engine.NewRegistry()
	eng := engine.New(reg, &http.Client{}, nil)
	return New(eng, store.NewMemoryStore(), nil)
}

func waitTerminal(t *testing.T, o *Orchestrator, runID string) *specmodel.RunResult {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		result, err := o.Get(context.Background(), runID)
		require.NoError(t, err)
		if result.Status.IsTerminal() {
			return result
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run did not reach a terminal state in time")
	return nil
}

func TestSubmit_ReturnsImmediatelyThenReachesTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	o := newOrchestrator()
	spec := &specmodel.TestSpec{Name: "quick", Method: http.MethodGet, URL: srv.URL, TotalRequests: 5, Concurrency: 2, TimeoutSeconds: 5}

	runID, err := o.Submit(context.Background(), spec)
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	result := waitTerminal(t, o, runID)
	assert.Equal(t, specmodel.StatusCompleted, result.Status)
	assert.EqualValues(t, 5, result.Metrics.TotalRequests)
}

func TestSubmit_InvalidSpecFailsFast(t *testing.T) {
	o := newOrchestrator()
	_, err := o.Submit(context.Background(), &specmodel.TestSpec{})
	assert.Error(t, err)
}

func TestSubmit_PassingRunUpsertsTestConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	o := newOrchestrator()
	spec := &specmodel.TestSpec{Name: "save-me", Method: http.MethodGet, URL: srv.URL, TotalRequests: 3, Concurrency: 1, TimeoutSeconds: 5}
	runID, err := o.Submit(context.Background(), spec)
	require.NoError(t, err)
	waitTerminal(t, o, runID)

	cfg, err := o.store.GetTestConfig(context.Background(), "save-me")
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)
}

func TestCancel_SignalsActiveRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	o := newOrchestrator()
	spec := &specmodel.TestSpec{Name: "cancel", Method: http.MethodGet, URL: srv.URL, TotalRequests: 100, Concurrency: 5, TimeoutSeconds: 5}
	runID, err := o.Submit(context.Background(), spec)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, CancelSignalled, o.Cancel(context.Background(), runID))

	result := waitTerminal(t, o, runID)
	assert.Equal(t, specmodel.StatusCancelled, result.Status)
}

func TestCancel_AlreadyTerminalAndNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	o := newOrchestrator()
	spec := &specmodel.TestSpec{Name: "fast", Method: http.MethodGet, URL: srv.URL, TotalRequests: 1, Concurrency: 1, TimeoutSeconds: 5}
	runID, err := o.Submit(context.Background(), spec)
	require.NoError(t, err)
	waitTerminal(t, o, runID)

	assert.Equal(t, CancelAlreadyTerminal, o.Cancel(context.Background(), runID))
	assert.Equal(t, CancelNotFound, o.Cancel(context.Background(), "never-existed"))
}

func TestDelete_RefusesActiveRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	o := newOrchestrator()
	spec := &specmodel.TestSpec{Name: "busy", Method: http.MethodGet, URL: srv.URL, TotalRequests: 50, Concurrency: 5, TimeoutSeconds: 5}
	runID, err := o.Submit(context.Background(), spec)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	ok, err := o.Delete(context.Background(), runID)
	assert.ErrorIs(t, err, ErrRunActive)
	assert.False(t, ok)

	o.Cancel(context.Background(), runID)
	waitTerminal(t, o, runID)

	ok, err = o.Delete(context.Background(), runID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestList_SubstitutesLiveSnapshotForActiveRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(30 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	o := newOrchestrator()
	spec := &specmodel.TestSpec{Name: "listed", Method: http.MethodGet, URL: srv.URL, TotalRequests: 20, Concurrency: 3, TimeoutSeconds: 5}
	runID, err := o.Submit(context.Background(), spec)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	page, total, err := o.List(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, specmodel.StatusRunning, page[0].Status)
	assert.Equal(t, runID, page[0].ID)

	waitTerminal(t, o, runID)
}
