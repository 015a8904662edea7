// Package scheduler arms ScheduleConfigs to submit runs on a recurring
// basis. It is grounded on the teacher family's lifecycle shape (a
// mutex-guarded running flag, context-cancelled background loop, wg.Wait on
// Stop) seen in the sibling backend's infrastructure/scheduler.CronTrigger
// and automation.Scheduler, rebuilt here over github.com/robfig/cron/v3 for
// cron triggers and plain timers for interval/date triggers, since neither
// teacher package used that library directly.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/example/loadtest/internal/orchestrator"
	"github.com/example/loadtest/internal/specmodel"
	"github.com/example/loadtest/internal/store"
)

// armed tracks whatever it takes to disarm one ScheduleConfig's trigger.
type armed struct {
	cronEntry cron.EntryID // TriggerCron only, valid when hasCronEntry
	hasCronEntry bool
	stopInterval chan struct{} // TriggerInterval only
	dateTimer    *time.Timer   // TriggerDate only
}

// Scheduler owns the recurring-run lifecycle: arming triggers, firing
// Orchestrator.Submit on schedule, applying the max-runs cap, and recording
// a fire audit trail. Create one with New and call Start once at process
// startup.
type Scheduler struct {
	orch  *orchestrator.Orchestrator
	store store.Store
	log   *zap.Logger

	cronEngine *cron.Cron

	mu      sync.Mutex
	running bool
	armedBy map[string]*armed
}

// New creates a Scheduler. A nil logger defaults to zap.NewNop().
func New(orch *orchestrator.Orchestrator, st store.Store, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		orch:       orch,
		store:      st,
		log:        logger,
		cronEngine: cron.New(),
		armedBy:    make(map[string]*armed),
	}
}

// Start loads every persisted ScheduleConfig and arms the enabled ones, then
// starts the cron engine. Calling Start twice without an intervening Stop is
// a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: loading schedules: %w", err)
	}
	for _, sched := range schedules {
		if !sched.Enabled {
			continue
		}
		if err := s.arm(sched); err != nil {
			s.log.Error("failed to arm schedule at startup",
				zap.String("schedule_id", sched.ID), zap.Error(err))
		}
	}

	s.cronEngine.Start()
	s.log.Info("scheduler started", zap.Int("armed_count", len(s.armedBy)))
	return nil
}

// Stop disarms every trigger and stops the cron engine, waiting for its
// in-flight entries to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	ids := make([]string, 0, len(s.armedBy))
	for id := range s.armedBy {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.disarm(id)
	}

	stopCtx := s.cronEngine.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("scheduler stopped")
	return nil
}

// AddSchedule validates, persists, and (if enabled) arms sched.
func (s *Scheduler) AddSchedule(ctx context.Context, sched *specmodel.ScheduleConfig) error {
	if err := sched.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if sched.CreatedAt.IsZero() {
		sched.CreatedAt = now
	}
	sched.UpdatedAt = now
	if err := s.store.SaveSchedule(ctx, sched); err != nil {
		return err
	}
	if sched.Enabled {
		return s.arm(sched)
	}
	return nil
}

// RemoveSchedule disarms and deletes sched, returning whether it existed.
func (s *Scheduler) RemoveSchedule(ctx context.Context, id string) (bool, error) {
	s.disarm(id)
	return s.store.DeleteSchedule(ctx, id)
}

// Pause disarms id's trigger without losing the persisted record, so Resume
// can re-arm it later. Per the fire-detach contract, a paused schedule is
// indistinguishable from one that hit its run cap except for RunCount.
func (s *Scheduler) Pause(ctx context.Context, id string) error {
	sched, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	s.disarm(id)
	sched.Enabled = false
	return s.store.SaveSchedule(ctx, sched)
}

// Resume re-arms a previously paused schedule.
func (s *Scheduler) Resume(ctx context.Context, id string) error {
	sched, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	if sched.ExhaustedRuns() {
		return fmt.Errorf("scheduler: schedule %q has exhausted its max_runs cap", id)
	}
	sched.Enabled = true
	if err := s.store.SaveSchedule(ctx, sched); err != nil {
		return err
	}
	return s.arm(sched)
}

// arm wires sched's trigger into the cron engine or a timer, keyed by
// sched.ID. Callers must hold no lock; arm takes s.mu itself.
func (s *Scheduler) arm(sched *specmodel.ScheduleConfig) error {
	switch sched.Trigger {
	case specmodel.TriggerCron:
		id := sched.ID
		expr := sched.CronExpr()
		entryID, err := s.cronEngine.AddFunc(expr, func() { s.fire(id) })
		if err != nil {
			return fmt.Errorf("scheduler: invalid cron expression %q: %w", expr, err)
		}
		s.mu.Lock()
		s.armedBy[sched.ID] = &armed{cronEntry: entryID, hasCronEntry: true}
		s.mu.Unlock()

	case specmodel.TriggerInterval:
		interval := time.Duration(sched.IntervalSeconds()) * time.Second
		stop := make(chan struct{})
		s.mu.Lock()
		s.armedBy[sched.ID] = &armed{stopInterval: stop}
		s.mu.Unlock()
		go s.intervalLoop(sched.ID, interval, stop)

	case specmodel.TriggerDate:
		id := sched.ID
		delay := time.Until(sched.RunDate)
		if delay < 0 {
			delay = 0
		}
		timer := time.AfterFunc(delay, func() { s.fire(id) })
		s.mu.Lock()
		s.armedBy[sched.ID] = &armed{dateTimer: timer}
		s.mu.Unlock()

	default:
		return fmt.Errorf("scheduler: unknown trigger type %q", sched.Trigger)
	}
	return nil
}

// disarm removes and stops whatever trigger mechanism backs id, if any.
func (s *Scheduler) disarm(id string) {
	s.mu.Lock()
	a, ok := s.armedBy[id]
	if ok {
		delete(s.armedBy, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	switch {
	case a.hasCronEntry:
		s.cronEngine.Remove(a.cronEntry)
	case a.stopInterval != nil:
		close(a.stopInterval)
	case a.dateTimer != nil:
		a.dateTimer.Stop()
	}
}

func (s *Scheduler) intervalLoop(id string, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.fire(id)
		}
	}
}

// fire is the trigger callback shared by every trigger type: reload the
// schedule's current state, apply the disable-and-detach-before-submission
// rule when the run cap is already exhausted, otherwise submit and record
// the fire audit per spec §4.8.
func (s *Scheduler) fire(id string) {
	ctx := context.Background()
	sched, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		s.log.Error("fire: schedule vanished", zap.String("schedule_id", id), zap.Error(err))
		s.disarm(id)
		return
	}

	if sched.ExhaustedRuns() {
		sched.Enabled = false
		if saveErr := s.store.SaveSchedule(ctx, sched); saveErr != nil {
			s.log.Error("fire: disabling exhausted schedule failed", zap.String("schedule_id", id), zap.Error(saveErr))
		}
		s.disarm(id)
		return
	}

	audit := store.FireAudit{ScheduleID: id, TriggeredAt: time.Now().UTC().Format(time.RFC3339)}

	runID, err := s.orch.Submit(ctx, &sched.Spec)
	if err != nil {
		audit.Error = err.Error()
		s.log.Error("scheduled submission failed", zap.String("schedule_id", id), zap.Error(err))
	} else {
		audit.RunID = runID
		sched.RunCount++
		sched.UpdatedAt = time.Now().UTC()
		if err := s.store.SaveSchedule(ctx, sched); err != nil {
			s.log.Error("fire: persisting run_count failed", zap.String("schedule_id", id), zap.Error(err))
		}
		if sched.ExhaustedRuns() {
			sched.Enabled = false
			if err := s.store.SaveSchedule(ctx, sched); err != nil {
				s.log.Error("fire: disabling schedule after final run failed", zap.String("schedule_id", id), zap.Error(err))
			}
			s.disarm(id)
		}
		// TriggerDate is one-shot regardless of max_runs.
		if sched.Trigger == specmodel.TriggerDate {
			sched.Enabled = false
			_ = s.store.SaveSchedule(ctx, sched)
			s.disarm(id)
		}
	}

	if auditErr := s.store.SaveFireAudit(ctx, audit); auditErr != nil {
		s.log.Error("fire: saving audit record failed", zap.String("schedule_id", id), zap.Error(auditErr))
	}
}
