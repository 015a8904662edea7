package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/example/loadtest/internal/specmodel"
)

func TestIsTerminal(t *testing.T) {
	cases := []struct {
		status specmodel.RunStatus
		want   bool
	}{
		{specmodel.StatusPending, false},
		{specmodel.StatusRunning, false},
		{specmodel.StatusCompleted, true},
		{specmodel.StatusCancelled, true},
		{specmodel.StatusFailed, true},
	}
	for _, c := range cases {
		r := &specmodel.RunResult{Status: c.status}
		assert.Equal(t, c.want, isTerminal(r))
	}
}

func TestParsePort(t *testing.T) {
	assert.Equal(t, 9090, parsePort(""))
	assert.Equal(t, 8080, parsePort(":8080"))
	assert.Equal(t, 8080, parsePort("localhost:8080"))
	assert.Equal(t, 9090, parsePort("9090"))
}
