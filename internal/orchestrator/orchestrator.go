// Package orchestrator is the control-plane singleton that submits specs to
// the execution engine, tracks them through an active-run table, and
// answers live/terminal reads, cancellation, deletion, and listing. It is
// grounded on the teacher's Runner, restructured from "one runner owns one
// in-flight test" into "one orchestrator owns many concurrently in-flight
// runs keyed by id," per spec §4.7's singleton-per-process, many-runs
// control plane. It keeps no running-state flag and has no Start/Stop
// lifecycle of its own: per-run state lives in the engine's Registry.
package orchestrator

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/loadtest/internal/engine"
	"github.com/example/loadtest/internal/specmodel"
	"github.com/example/loadtest/internal/store"
)

// ErrRunActive is returned by Delete when the target run has not reached a
// terminal state.
var ErrRunActive = errors.New("orchestrator: run is active")

// CancelOutcome is the result of a Cancel call, distinguishing "signalled"
// from the two benign non-signalling cases spec §6 calls for.
type CancelOutcome int

// Cancel outcomes.
const (
	// CancelSignalled means the run was active and cancellation was sent.
	CancelSignalled CancelOutcome = iota
	// CancelAlreadyTerminal means the run is known but already reached a
	// terminal status; a benign no-op, not an error.
	CancelAlreadyTerminal
	// CancelNotFound means no run with that id is known at all.
	CancelNotFound
)

// Orchestrator is the singleton control plane for one process. Create one
// with New and keep it for the process lifetime; every method is safe for
// concurrent use.
type Orchestrator struct {
	engine *engine.Engine
	store  store.Store
	log    *zap.Logger
}

// New creates an Orchestrator wired to an engine and a store. A nil logger
// defaults to zap.NewNop().
func New(eng *engine.Engine, st store.Store, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{engine: eng, store: st, log: logger}
}

// Submit mints a run id, persists an initial pending record, and starts the
// engine task in the background, returning the run id immediately per spec
// §4.7 ("enqueue the engine task, return immediately").
func (o *Orchestrator) Submit(ctx context.Context, spec *specmodel.TestSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	runID := uuid.NewString()
	pending := &specmodel.RunResult{ID: runID, Status: specmodel.StatusPending, Spec: *spec}
	if err := o.store.SaveRun(ctx, pending); err != nil {
		return "", err
	}

	go o.runAndPersist(runID, spec)

	return runID, nil
}

// runAndPersist drives one engine run to completion and persists the final
// record plus, when the run ends with status completed (whether or not its
// thresholds passed), the TestConfig upsert. It runs on
// its own background context: the run's lifetime is independent of the
// ctx.Context Submit was called with, since Submit itself has already
// returned.
func (o *Orchestrator) runAndPersist(runID string, spec *specmodel.TestSpec) {
	ctx := context.Background()
	result := o.engine.Run(ctx, spec, runID, nil)

	if err := o.store.SaveRun(ctx, result); err != nil {
		o.log.Error("persisting run result failed", zap.String("run_id", runID), zap.Error(err))
	}

	if result.Status == specmodel.StatusCompleted {
		cfg := &specmodel.TestConfig{Name: spec.Name, Spec: *spec, Enabled: true}
		if err := o.store.UpsertTestConfig(ctx, cfg); err != nil {
			o.log.Error("save_config_on_completion failed", zap.String("run_id", runID), zap.Error(err))
		}
	}
}

// Get returns the live RunResult if the run is still in the engine's active
// table (up-to-the-moment progress), else the persisted record.
func (o *Orchestrator) Get(ctx context.Context, runID string) (*specmodel.RunResult, error) {
	if live, ok := o.engine.Get(runID); ok {
		return live, nil
	}
	return o.store.GetRun(ctx, runID)
}

// Cancel signals cancellation for runID if it is currently active,
// distinguishing "already terminal" from "never existed" for a known-but-
// finished run, per spec §6.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) CancelOutcome {
	if o.engine.Cancel(runID) {
		return CancelSignalled
	}
	if _, err := o.store.GetRun(ctx, runID); err == nil {
		return CancelAlreadyTerminal
	}
	return CancelNotFound
}

// Delete removes a terminal run's persisted record. Deleting an active run
// is refused with ErrRunActive, per spec §7's orchestrator-level error.
func (o *Orchestrator) Delete(ctx context.Context, runID string) (bool, error) {
	if _, ok := o.engine.Get(runID); ok {
		return false, ErrRunActive
	}
	return o.store.DeleteRun(ctx, runID)
}

// List delegates to the store, substituting the live snapshot for any
// result whose id is still in the engine's active-run table so callers see
// up-to-the-moment progress, per spec §4.7.
func (o *Orchestrator) List(ctx context.Context, filter store.RunFilter) ([]*specmodel.RunResult, int, error) {
	page, total, err := o.store.ListRuns(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	for i, r := range page {
		if live, ok := o.engine.Get(r.ID); ok {
			page[i] = live
		}
	}
	return page, total, nil
}
