package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/loadtest/internal/specmodel"
)

func TestMemoryStore_SaveGetDeleteRun(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	run := &specmodel.RunResult{ID: "r1", Status: specmodel.StatusCompleted, Spec: specmodel.TestSpec{Name: "n1"}}
	require.NoError(t, s.SaveRun(ctx, run))

	got, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, specmodel.StatusCompleted, got.Status)

	// The stored copy must be independent of the caller's pointer.
	run.Status = specmodel.StatusFailed
	got2, _ := s.GetRun(ctx, "r1")
	assert.Equal(t, specmodel.StatusCompleted, got2.Status)

	ok, err := s.DeleteRun(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.GetRun(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err = s.DeleteRun(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_ListRuns_FilterAndPaginate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		status := specmodel.StatusCompleted
		if i%2 == 0 {
			status = specmodel.StatusFailed
		}
		require.NoError(t, s.SaveRun(ctx, &specmodel.RunResult{
			ID: string(rune('a' + i)), Status: status, Spec: specmodel.TestSpec{Name: "shared"},
		}))
	}

	completed := specmodel.StatusCompleted
	page, total, err := s.ListRuns(ctx, RunFilter{Status: &completed})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, page, 2)

	page, total, err = s.ListRuns(ctx, RunFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, page, 2)

	page, total, err = s.ListRuns(ctx, RunFilter{Name: "nonexistent"})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, page)
}

func TestMemoryStore_TestConfigUpsert(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.GetTestConfig(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	cfg := &specmodel.TestConfig{Name: "n1", Enabled: true, Spec: specmodel.TestSpec{Name: "n1", TotalRequests: 1}}
	require.NoError(t, s.UpsertTestConfig(ctx, cfg))
	got, err := s.GetTestConfig(ctx, "n1")
	require.NoError(t, err)
	assert.True(t, got.Enabled)

	cfg.Spec.TotalRequests = 2
	require.NoError(t, s.UpsertTestConfig(ctx, cfg))
	got, _ = s.GetTestConfig(ctx, "n1")
	assert.Equal(t, 2, got.Spec.TotalRequests)
}

func TestMemoryStore_ScheduleCRUD(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	sched := &specmodel.ScheduleConfig{ID: "s1", Name: "nightly", Enabled: true}
	require.NoError(t, s.SaveSchedule(ctx, sched))

	got, err := s.GetSchedule(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "nightly", got.Name)

	all, err := s.ListSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	ok, err := s.DeleteSchedule(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = s.GetSchedule(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_SaveFireAudit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.SaveFireAudit(ctx, FireAudit{ScheduleID: "s1", RunID: "r1"}))
	require.NoError(t, s.SaveFireAudit(ctx, FireAudit{ScheduleID: "s1", Error: "boom"}))
	assert.Len(t, s.audits, 2)
}
