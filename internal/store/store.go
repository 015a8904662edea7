// Package store defines the run/config repository contract the
// orchestrator and scheduler depend on, plus an in-memory reference
// implementation. It is grounded on the teacher's config package's
// "load/validate/default" conventions, reshaped into a keyed CRUD store
// since the teacher itself has no persistence layer (it is a one-shot CLI
// load generator, not a service with durable state).
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/example/loadtest/internal/specmodel"
)

// ErrNotFound is returned when a lookup or delete targets an unknown id or
// name.
var ErrNotFound = errors.New("store: not found")

// RunFilter narrows a List query over RunResults.
type RunFilter struct {
	Status *specmodel.RunStatus
	Name   string
	Limit  int
	Offset int
}

// Store is the persistence contract the core depends on (spec §6). Every
// method is safe for concurrent use.
type Store interface {
	SaveRun(ctx context.Context, run *specmodel.RunResult) error
	GetRun(ctx context.Context, id string) (*specmodel.RunResult, error)
	DeleteRun(ctx context.Context, id string) (bool, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*specmodel.RunResult, int, error)

	UpsertTestConfig(ctx context.Context, cfg *specmodel.TestConfig) error
	GetTestConfig(ctx context.Context, name string) (*specmodel.TestConfig, error)

	SaveSchedule(ctx context.Context, sched *specmodel.ScheduleConfig) error
	GetSchedule(ctx context.Context, id string) (*specmodel.ScheduleConfig, error)
	DeleteSchedule(ctx context.Context, id string) (bool, error)
	ListSchedules(ctx context.Context) ([]*specmodel.ScheduleConfig, error)

	SaveFireAudit(ctx context.Context, audit FireAudit) error
}

// FireAudit is one scheduler-fire record, per spec §4.8 ("record an audit
// entry (schedule_id, triggered_at, resulting run_id or error)").
type FireAudit struct {
	ScheduleID  string
	TriggeredAt string // RFC3339; stamped by the caller, not this package (no wall-clock access here)
	RunID       string
	Error       string
}

// MemoryStore is an in-process, lock-guarded Store. It is the reference
// implementation; a durable backend (SQL, object storage, ...) is an
// external collaborator the core does not otherwise depend on.
type MemoryStore struct {
	mu sync.RWMutex

	runs      map[string]*specmodel.RunResult
	runOrder  []string
	configs   map[string]*specmodel.TestConfig
	schedules map[string]*specmodel.ScheduleConfig
	audits    []FireAudit
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:      make(map[string]*specmodel.RunResult),
		configs:   make(map[string]*specmodel.TestConfig),
		schedules: make(map[string]*specmodel.ScheduleConfig),
	}
}

// SaveRun upserts run, keyed by run.ID.
func (s *MemoryStore) SaveRun(_ context.Context, run *specmodel.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; !exists {
		s.runOrder = append(s.runOrder, run.ID)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

// GetRun returns a clone of the persisted RunResult for id.
func (s *MemoryStore) GetRun(_ context.Context, id string) (*specmodel.RunResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

// DeleteRun removes run id if present, returning whether it was found.
func (s *MemoryStore) DeleteRun(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return false, nil
	}
	delete(s.runs, id)
	for i, rid := range s.runOrder {
		if rid == id {
			s.runOrder = append(s.runOrder[:i], s.runOrder[i+1:]...)
			break
		}
	}
	return true, nil
}

// ListRuns applies filter.Status/Name then filter.Offset/Limit over runs in
// insertion order, returning the page and the total match count before
// pagination.
func (s *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]*specmodel.RunResult, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*specmodel.RunResult, 0, len(s.runOrder))
	for _, id := range s.runOrder {
		r := s.runs[id]
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		if filter.Name != "" && r.Spec.Name != filter.Name {
			continue
		}
		matched = append(matched, r)
	}
	total := len(matched)

	start := filter.Offset
	if start > total {
		start = total
	}
	end := total
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}

	page := make([]*specmodel.RunResult, 0, end-start)
	for _, r := range matched[start:end] {
		page = append(page, r.Clone())
	}
	return page, total, nil
}

// UpsertTestConfig saves cfg keyed by cfg.Name.
func (s *MemoryStore) UpsertTestConfig(_ context.Context, cfg *specmodel.TestConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	s.configs[cfg.Name] = &cp
	return nil
}

// GetTestConfig returns the TestConfig saved under name.
func (s *MemoryStore) GetTestConfig(_ context.Context, name string) (*specmodel.TestConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *cfg
	return &cp, nil
}

// SaveSchedule upserts sched, keyed by sched.ID.
func (s *MemoryStore) SaveSchedule(_ context.Context, sched *specmodel.ScheduleConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sched
	s.schedules[sched.ID] = &cp
	return nil
}

// GetSchedule returns the ScheduleConfig saved under id.
func (s *MemoryStore) GetSchedule(_ context.Context, id string) (*specmodel.ScheduleConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.schedules[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sched
	return &cp, nil
}

// DeleteSchedule removes schedule id if present.
func (s *MemoryStore) DeleteSchedule(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return false, nil
	}
	delete(s.schedules, id)
	return true, nil
}

// ListSchedules returns every saved schedule, sorted by ID.
func (s *MemoryStore) ListSchedules(_ context.Context) ([]*specmodel.ScheduleConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*specmodel.ScheduleConfig, 0, len(s.schedules))
	for _, sched := range s.schedules {
		cp := *sched
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveFireAudit appends audit to the in-memory audit trail.
func (s *MemoryStore) SaveFireAudit(_ context.Context, audit FireAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, audit)
	return nil
}

var _ Store = (*MemoryStore)(nil)
