// Package mockserver provides a small deterministic HTTP upstream for
// exercising the execution engine, orchestrator, and scheduler in tests
// without depending on a real network service. It is test-support only,
// never imported by a shipped component (spec §1's mock-upstream
// collaborator is explicitly out of the core's scope).
package mockserver

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"
)

// FixedStatus starts a server that always responds with the given status
// code and body.
func FixedStatus(status int, body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

// Delayed starts a server that sleeps for d before responding with status.
// Useful for exercising per-request timeouts and cancellation.
func Delayed(status int, d time.Duration) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(d)
		w.WriteHeader(status)
	}))
}

// CountingEcho starts a server that echoes the request method and path back
// as the response body, incrementing a shared counter on every call. It is
// used to assert on per-request dispatch behavior (e.g. endpoint
// selection) without parsing response bodies in every test.
func CountingEcho() (*httptest.Server, *atomic.Int64) {
	var count atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(r.Method + " " + r.URL.Path))
	}))
	return srv, &count
}

// Unreachable returns a URL that refuses connections, for exercising
// connection_error classification. It starts and immediately closes a
// server to mint a port that is guaranteed free right up until the caller
// dials it.
func Unreachable() string {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()
	return url
}
