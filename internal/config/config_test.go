package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSpecBytes_Minimal(t *testing.T) {
	doc := `
name: "smoke"
method: GET
url: "http://localhost:8080/health"
total_requests: 10
concurrency: 2
timeout_seconds: 5
`
	spec, err := LoadSpecBytes([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "smoke", spec.Name)
	assert.Equal(t, 10, spec.TotalRequests)
	assert.Equal(t, []int{200, 201, 204}, spec.ExpectedStatusCodes)
}

func TestLoadSpecBytes_InvalidFailsValidation(t *testing.T) {
	doc := `
name: ""
method: GET
url: "http://localhost:8080"
total_requests: 0
concurrency: 1
timeout_seconds: 5
`
	_, err := LoadSpecBytes([]byte(doc))
	assert.Error(t, err)
}

func TestLoadSpecFile_NotFound(t *testing.T) {
	_, err := LoadSpecFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLoadSpecFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spec.yaml")
	doc := `
name: "from-file"
method: POST
url: "http://localhost:8080/echo"
total_requests: 5
concurrency: 1
timeout_seconds: 5
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	spec, err := LoadSpecFile(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", spec.Name)
}

func TestLoadSchedulesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schedules.yaml")
	doc := `
schedules:
  - id: "sched-1"
    name: "nightly"
    enabled: true
    spec:
      name: "nightly-smoke"
      method: GET
      url: "http://localhost:8080/health"
      total_requests: 100
      concurrency: 10
      timeout_seconds: 5
    trigger: interval
    hours: 24
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	schedules, err := LoadSchedulesFile(path)
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.Equal(t, "nightly", schedules[0].Name)
	assert.Equal(t, "nightly-smoke", schedules[0].Spec.Name)
}

func TestLoadSchedulesFile_InvalidTrigger(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schedules.yaml")
	doc := `
schedules:
  - id: "sched-1"
    name: "bad"
    enabled: true
    spec:
      name: "bad-spec"
      method: GET
      url: "http://localhost:8080/health"
      total_requests: 100
      concurrency: 10
      timeout_seconds: 5
    trigger: bogus
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := LoadSchedulesFile(path)
	assert.Error(t, err)
}
