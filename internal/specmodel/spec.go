// Package specmodel defines the data model for load test submissions and
// results: TestSpec, EndpointSpec, Thresholds, AuthConfig, RunResult, and
// ScheduleConfig. These types are immutable job descriptions and durable
// records; mutation rules are documented on each type.
package specmodel

import (
	"errors"
	"fmt"
	"time"
)

// Errors returned by specmodel validation.
var (
	// ErrInvalidSpec is returned when a TestSpec fails validation.
	ErrInvalidSpec = errors.New("specmodel: invalid test spec")
	// ErrInvalidEndpoint is returned when an EndpointSpec fails validation.
	ErrInvalidEndpoint = errors.New("specmodel: invalid endpoint spec")
	// ErrInvalidAuth is returned when an AuthConfig fails validation.
	ErrInvalidAuth = errors.New("specmodel: invalid auth config")
	// ErrInvalidSchedule is returned when a ScheduleConfig fails validation.
	ErrInvalidSchedule = errors.New("specmodel: invalid schedule config")
)

// DistributionStrategy names how requests are spread across multiple
// endpoints.
type DistributionStrategy string

// Supported distribution strategies.
const (
	DistributionRoundRobin DistributionStrategy = "round_robin"
	DistributionWeighted   DistributionStrategy = "weighted"
	DistributionSequential DistributionStrategy = "sequential"
)

// DefaultExpectedStatusCodes is used when TestSpec/EndpointSpec do not
// specify expected_status_codes.
var DefaultExpectedStatusCodes = []int{200, 201, 204}

// defaultEndpointName is the synthetic endpoint name derived from a
// single-URL TestSpec that has no explicit endpoints.
const defaultEndpointName = "default"

// TestSpec is an immutable request-shaped job description. A TestSpec is
// created by the caller and never mutated once a run starts.
type TestSpec struct {
	Name                string                `yaml:"name" json:"name"`
	Description         string                `yaml:"description,omitempty" json:"description,omitempty"`
	Method              string                `yaml:"method" json:"method"`
	URL                 string                `yaml:"url" json:"url"`
	Headers             map[string]string     `yaml:"headers,omitempty" json:"headers,omitempty"`
	Body                any                   `yaml:"body,omitempty" json:"body,omitempty"`
	TotalRequests       int                   `yaml:"total_requests" json:"total_requests"`
	Concurrency         int                   `yaml:"concurrency" json:"concurrency"`
	RequestsPerSecond   float64               `yaml:"requests_per_second,omitempty" json:"requests_per_second,omitempty"`
	TimeoutSeconds      int                   `yaml:"timeout_seconds" json:"timeout_seconds"`
	ExpectedStatusCodes []int                 `yaml:"expected_status_codes,omitempty" json:"expected_status_codes,omitempty"`
	Thresholds          Thresholds            `yaml:"thresholds,omitempty" json:"thresholds,omitempty"`
	Variables           map[string]string     `yaml:"variables,omitempty" json:"variables,omitempty"`
	Auth                *AuthConfig           `yaml:"auth,omitempty" json:"auth,omitempty"`
	Endpoints           []EndpointSpec        `yaml:"endpoints,omitempty" json:"endpoints,omitempty"`
	DistributionStrategy DistributionStrategy `yaml:"distribution_strategy,omitempty" json:"distribution_strategy,omitempty"`
}

// EndpointSpec describes the per-endpoint request shape for multi-endpoint
// TestSpecs. Weight is meaningful only under weighted distribution.
type EndpointSpec struct {
	Name                string            `yaml:"name" json:"name"`
	URL                 string            `yaml:"url" json:"url"`
	Method              string            `yaml:"method" json:"method"`
	Headers             map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Body                any               `yaml:"body,omitempty" json:"body,omitempty"`
	Weight              int               `yaml:"weight,omitempty" json:"weight,omitempty"`
	ExpectedStatusCodes []int             `yaml:"expected_status_codes,omitempty" json:"expected_status_codes,omitempty"`
}

// Thresholds holds optional upper bounds evaluated against the aggregate
// Metrics of a finished run. Unset fields impose no constraint.
type Thresholds struct {
	MaxLatencyP50Ms  *float64 `yaml:"max_latency_p50_ms,omitempty" json:"max_latency_p50_ms,omitempty"`
	MaxLatencyP95Ms  *float64 `yaml:"max_latency_p95_ms,omitempty" json:"max_latency_p95_ms,omitempty"`
	MaxLatencyP99Ms  *float64 `yaml:"max_latency_p99_ms,omitempty" json:"max_latency_p99_ms,omitempty"`
	MaxErrorRate     *float64 `yaml:"max_error_rate,omitempty" json:"max_error_rate,omitempty"`
	MinThroughputRPS *float64 `yaml:"min_throughput_rps,omitempty" json:"min_throughput_rps,omitempty"`
}

// Validate checks range and shape invariants of a TestSpec, applying
// defaults for fields left unset (expected_status_codes, distribution
// strategy). It mirrors the teacher's "validate in place, return wrapped
// sentinel" style.
func (s *TestSpec) Validate() error {
	if l := len(s.Name); l < 1 || l > 256 {
		return fmt.Errorf("%w: name must be 1-256 chars", ErrInvalidSpec)
	}
	if s.TotalRequests < 1 || s.TotalRequests > 1_000_000 {
		return fmt.Errorf("%w: total_requests must be in [1, 1000000]", ErrInvalidSpec)
	}
	if s.Concurrency < 1 || s.Concurrency > 1000 {
		return fmt.Errorf("%w: concurrency must be in [1, 1000]", ErrInvalidSpec)
	}
	if s.RequestsPerSecond != 0 && (s.RequestsPerSecond < 0.1 || s.RequestsPerSecond > 10000) {
		return fmt.Errorf("%w: requests_per_second must be in [0.1, 10000]", ErrInvalidSpec)
	}
	if s.TimeoutSeconds < 1 || s.TimeoutSeconds > 300 {
		return fmt.Errorf("%w: timeout_seconds must be in [1, 300]", ErrInvalidSpec)
	}
	if len(s.Endpoints) == 0 {
		if s.URL == "" {
			return fmt.Errorf("%w: url is required when no endpoints are given", ErrInvalidSpec)
		}
		if s.Method == "" {
			return fmt.Errorf("%w: method is required when no endpoints are given", ErrInvalidSpec)
		}
	}
	names := make(map[string]bool, len(s.Endpoints))
	for i := range s.Endpoints {
		ep := &s.Endpoints[i]
		if err := ep.Validate(); err != nil {
			return fmt.Errorf("endpoints[%d]: %w", i, err)
		}
		if names[ep.Name] {
			return fmt.Errorf("%w: duplicate endpoint name %q", ErrInvalidSpec, ep.Name)
		}
		names[ep.Name] = true
	}
	if err := s.Thresholds.Validate(); err != nil {
		return err
	}
	if s.Auth != nil {
		if err := s.Auth.Validate(); err != nil {
			return err
		}
	}
	switch s.DistributionStrategy {
	case "", DistributionRoundRobin, DistributionWeighted, DistributionSequential:
	default:
		return fmt.Errorf("%w: unknown distribution_strategy %q", ErrInvalidSpec, s.DistributionStrategy)
	}
	if len(s.ExpectedStatusCodes) == 0 {
		s.ExpectedStatusCodes = append([]int(nil), DefaultExpectedStatusCodes...)
	}
	if s.DistributionStrategy == "" {
		s.DistributionStrategy = DistributionRoundRobin
	}
	return nil
}

// Validate checks EndpointSpec invariants.
func (e *EndpointSpec) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidEndpoint)
	}
	if e.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidEndpoint)
	}
	if e.Method == "" {
		return fmt.Errorf("%w: method is required", ErrInvalidEndpoint)
	}
	if e.Weight != 0 && (e.Weight < 1 || e.Weight > 100) {
		return fmt.Errorf("%w: weight must be in [1, 100]", ErrInvalidEndpoint)
	}
	return nil
}

// Validate checks Thresholds invariants.
func (t *Thresholds) Validate() error {
	if t.MaxErrorRate != nil && (*t.MaxErrorRate < 0 || *t.MaxErrorRate > 1) {
		return fmt.Errorf("%w: max_error_rate must be in [0, 1]", ErrInvalidSpec)
	}
	return nil
}

// ResolvedEndpoints returns the spec's endpoints, synthesizing a single
// "default" endpoint from the top-level URL/method/headers/body/expected
// status codes when none are configured. This is the single place that
// implements the §3 invariant: "if endpoints is non-empty, it overrides the
// single-URL fields; otherwise a synthetic single default endpoint is
// derived."
func (s *TestSpec) ResolvedEndpoints() []EndpointSpec {
	if len(s.Endpoints) > 0 {
		return s.Endpoints
	}
	codes := s.ExpectedStatusCodes
	if len(codes) == 0 {
		codes = DefaultExpectedStatusCodes
	}
	return []EndpointSpec{{
		Name:                defaultEndpointName,
		URL:                 s.URL,
		Method:              s.Method,
		Headers:             s.Headers,
		Body:                s.Body,
		Weight:              1,
		ExpectedStatusCodes: codes,
	}}
}

// Strategy returns the effective distribution strategy, defaulting to
// round_robin.
func (s *TestSpec) Strategy() DistributionStrategy {
	if s.DistributionStrategy == "" {
		return DistributionRoundRobin
	}
	return s.DistributionStrategy
}

// RunStatus is the terminal-or-not lifecycle state of a RunResult.
type RunStatus string

// Supported run statuses.
const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusCancelled RunStatus = "cancelled"
	StatusFailed    RunStatus = "failed"
)

// IsTerminal reports whether the status will never change again.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// RequestResult is the per-request outcome recorded by the execution
// engine. Exactly one of (StatusCode set, Error == "") or (StatusCode == 0,
// Error != "") holds per spec §8's universal property.
type RequestResult struct {
	RequestNumber     int               `json:"request_number"`
	StatusCode        int               `json:"status_code,omitempty"`
	LatencyMs         float64           `json:"latency_ms"`
	Error             string            `json:"error,omitempty"`
	Timestamp         time.Time         `json:"timestamp"`
	ResponseSizeBytes int64             `json:"response_size_bytes"`
	EndpointName      string            `json:"endpoint_name"`
	RequestHeaders    map[string]string `json:"request_headers,omitempty"`
	RequestBody       string            `json:"request_body,omitempty"`
	RequestURL        string            `json:"request_url,omitempty"`
	RequestMethod     string            `json:"request_method,omitempty"`
	ResponseHeaders   map[string]string `json:"response_headers,omitempty"`
	ResponseBody      string            `json:"response_body,omitempty"`
}

// Failed reports whether this outcome counts against threshold failure
// accounting (a transport failure, not merely an unexpected status code).
func (r *RequestResult) Failed() bool {
	return r.Error != "" || r.StatusCode == 0
}

// Metrics is the aggregate statistics block computed by the metrics
// collector, see spec §4.6.
type Metrics struct {
	TotalRequests      int64           `json:"total_requests"`
	SuccessfulReqs     int64           `json:"successful_requests"`
	FailedRequests     int64           `json:"failed_requests"`
	MinLatencyMs       float64         `json:"min_latency_ms"`
	MaxLatencyMs       float64         `json:"max_latency_ms"`
	MeanLatencyMs      float64         `json:"mean_latency_ms"`
	P50LatencyMs       float64         `json:"p50_latency_ms"`
	P90LatencyMs       float64         `json:"p90_latency_ms"`
	P95LatencyMs       float64         `json:"p95_latency_ms"`
	P99LatencyMs       float64         `json:"p99_latency_ms"`
	RequestsPerSecond  float64         `json:"requests_per_second"`
	DurationSeconds    float64         `json:"duration_seconds"`
	ErrorRate          float64         `json:"error_rate"`
	ErrorsByType       map[string]int64 `json:"errors_by_type,omitempty"`
	StatusCodeCounts   map[int]int64    `json:"status_code_counts,omitempty"`
	TotalBytesReceived int64           `json:"total_bytes_received"`
}

// TestConfig is the durable "last known good spec" record upserted by
// save_config_on_completion after a successful run, keyed by Spec.Name.
type TestConfig struct {
	Name      string    `yaml:"name" json:"name"`
	Spec      TestSpec  `yaml:"spec" json:"spec"`
	Enabled   bool      `yaml:"enabled" json:"enabled"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
}

// EndpointMetrics pairs an endpoint name with its own Metrics sub-aggregate.
type EndpointMetrics struct {
	EndpointName string  `json:"endpoint_name"`
	Metrics      Metrics `json:"metrics"`
}

// RunResult is the durable record of one execution of a TestSpec. It is
// created at submission with StatusPending, mutated solely by the engine
// that owns it while running, and frozen on terminal transition.
type RunResult struct {
	ID                string            `json:"id"`
	Spec              TestSpec          `json:"spec"`
	Status            RunStatus         `json:"status"`
	StartedAt         *time.Time        `json:"started_at,omitempty"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
	Metrics           Metrics           `json:"metrics"`
	Passed            *bool             `json:"passed,omitempty"`
	FailureReasons    []string          `json:"failure_reasons,omitempty"`
	EndpointMetrics   []EndpointMetrics `json:"endpoint_metrics,omitempty"`
	RequestsCompleted int               `json:"requests_completed"`
	ErrorMessage      string            `json:"error_message,omitempty"`
	SampledRequests   []RequestResult   `json:"sampled_requests,omitempty"`
}

// Clone returns a deep-enough copy of the RunResult suitable for publishing
// as an immutable snapshot into an active-run table (see spec §9's guidance
// to prefer producer-owned snapshots over live mutation).
func (r *RunResult) Clone() *RunResult {
	if r == nil {
		return nil
	}
	cp := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	if r.Passed != nil {
		p := *r.Passed
		cp.Passed = &p
	}
	cp.Metrics = cloneMetrics(r.Metrics)
	if r.FailureReasons != nil {
		cp.FailureReasons = append([]string(nil), r.FailureReasons...)
	}
	if r.EndpointMetrics != nil {
		cp.EndpointMetrics = make([]EndpointMetrics, len(r.EndpointMetrics))
		for i, em := range r.EndpointMetrics {
			cp.EndpointMetrics[i] = EndpointMetrics{EndpointName: em.EndpointName, Metrics: cloneMetrics(em.Metrics)}
		}
	}
	if r.SampledRequests != nil {
		cp.SampledRequests = append([]RequestResult(nil), r.SampledRequests...)
	}
	return &cp
}

// TriggerType names how a ScheduleConfig decides when to fire next.
type TriggerType string

// Supported trigger types.
const (
	TriggerInterval TriggerType = "interval"
	TriggerCron     TriggerType = "cron"
	TriggerDate     TriggerType = "date"
)

// ScheduleConfig arms a TestSpec to run repeatedly (or once, for
// TriggerDate) under the scheduler. It is a durable record: the scheduler
// loads every enabled ScheduleConfig at startup and re-arms its trigger.
//
// Trigger fields are grouped by variant and only the group matching
// Trigger is meaningful, mirroring the discrete interval/cron/date fields
// an agent-side scheduler would hand a cron engine (minute, hour, day,
// month, day_of_week, timezone) rather than a pre-joined cron string.
type ScheduleConfig struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Spec        TestSpec `yaml:"spec" json:"spec"`
	Enabled     bool     `yaml:"enabled" json:"enabled"`

	Trigger TriggerType `yaml:"trigger" json:"trigger"`

	// TriggerInterval fields: fire every Seconds+Minutes*60+Hours*3600+Days*86400.
	Seconds int `yaml:"seconds,omitempty" json:"seconds,omitempty"`
	Minutes int `yaml:"minutes,omitempty" json:"minutes,omitempty"`
	Hours   int `yaml:"hours,omitempty" json:"hours,omitempty"`
	Days    int `yaml:"days,omitempty" json:"days,omitempty"`

	// TriggerCron fields: each is a standard cron field and independently
	// optional; an empty field means "every" (the usual cron "*").
	Minute    string `yaml:"minute,omitempty" json:"minute,omitempty"`
	Hour      string `yaml:"hour,omitempty" json:"hour,omitempty"`
	Day       string `yaml:"day,omitempty" json:"day,omitempty"`
	Month     string `yaml:"month,omitempty" json:"month,omitempty"`
	DayOfWeek string `yaml:"day_of_week,omitempty" json:"day_of_week,omitempty"`
	Timezone  string `yaml:"tz,omitempty" json:"tz,omitempty"`

	// TriggerDate field: the fire-once instant.
	RunDate time.Time `yaml:"run_date,omitempty" json:"run_date,omitempty"`

	MaxRuns   int       `yaml:"max_runs,omitempty" json:"max_runs,omitempty"` // 0 means unbounded
	RunCount  int       `yaml:"run_count" json:"run_count"`
	Tags      []string  `yaml:"tags,omitempty" json:"tags,omitempty"`
	CreatedAt time.Time `yaml:"created_at,omitempty" json:"created_at,omitempty"`
	UpdatedAt time.Time `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// IntervalSeconds returns the TriggerInterval period in whole seconds,
// floored to 1 so a zero-valued interval can never produce a busy loop.
func (s *ScheduleConfig) IntervalSeconds() int {
	total := s.Seconds + s.Minutes*60 + s.Hours*3600 + s.Days*86400
	if total < 1 {
		return 1
	}
	return total
}

// CronExpr builds the five-field cron expression (minute hour day month
// day_of_week) a cron engine parses, defaulting any unset field to "*" and
// prefixing a CRON_TZ= clause when Timezone is set.
func (s *ScheduleConfig) CronExpr() string {
	field := func(v string) string {
		if v == "" {
			return "*"
		}
		return v
	}
	expr := fmt.Sprintf("%s %s %s %s %s", field(s.Minute), field(s.Hour), field(s.Day), field(s.Month), field(s.DayOfWeek))
	if s.Timezone != "" {
		expr = "CRON_TZ=" + s.Timezone + " " + expr
	}
	return expr
}

// Validate checks a ScheduleConfig's trigger fields are well formed for its
// declared TriggerType.
func (s *ScheduleConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSchedule)
	}
	if err := s.Spec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	switch s.Trigger {
	case TriggerInterval:
		if s.Seconds == 0 && s.Minutes == 0 && s.Hours == 0 && s.Days == 0 {
			return fmt.Errorf("%w: interval trigger requires at least one of seconds/minutes/hours/days", ErrInvalidSchedule)
		}
	case TriggerCron:
		if s.Minute == "" && s.Hour == "" && s.Day == "" && s.Month == "" && s.DayOfWeek == "" {
			return fmt.Errorf("%w: cron trigger requires at least one of minute/hour/day/month/day_of_week", ErrInvalidSchedule)
		}
		if s.Timezone != "" {
			if _, err := time.LoadLocation(s.Timezone); err != nil {
				return fmt.Errorf("%w: invalid tz %q: %v", ErrInvalidSchedule, s.Timezone, err)
			}
		}
	case TriggerDate:
		if s.RunDate.IsZero() {
			return fmt.Errorf("%w: date trigger requires run_date", ErrInvalidSchedule)
		}
	default:
		return fmt.Errorf("%w: unknown trigger type %q", ErrInvalidSchedule, s.Trigger)
	}
	if s.MaxRuns < 0 {
		return fmt.Errorf("%w: max_runs cannot be negative", ErrInvalidSchedule)
	}
	return nil
}

// ExhaustedRuns reports whether a bounded schedule has already hit its
// MaxRuns cap and should be disabled and detached before any further fire
// is attempted.
func (s *ScheduleConfig) ExhaustedRuns() bool {
	return s.MaxRuns > 0 && s.RunCount >= s.MaxRuns
}

func cloneMetrics(m Metrics) Metrics {
	cp := m
	if m.ErrorsByType != nil {
		cp.ErrorsByType = make(map[string]int64, len(m.ErrorsByType))
		for k, v := range m.ErrorsByType {
			cp.ErrorsByType[k] = v
		}
	}
	if m.StatusCodeCounts != nil {
		cp.StatusCodeCounts = make(map[int]int64, len(m.StatusCodeCounts))
		for k, v := range m.StatusCodeCounts {
			cp.StatusCodeCounts[k] = v
		}
	}
	return cp
}
