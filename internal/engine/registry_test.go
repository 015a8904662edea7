package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/loadtest/internal/specmodel"
)

func TestRegistry_GetUnknownID(t *testing.T) {
	reg := NewRegistry()
	_, ok := reg.Get("nope")
	assert.False(t, ok)
}

func TestRegistry_RegisterPublishGetCloneIsolated(t *testing.T) {
	reg := NewRegistry()
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	initial := &specmodel.RunResult{ID: "r1", Status: specmodel.StatusRunning}
	ar := reg.register("r1", initial.Clone(), cancel)

	snap, ok := reg.Get("r1")
	require.True(t, ok)
	assert.Equal(t, specmodel.StatusRunning, snap.Status)

	// Mutating the returned snapshot must not affect the registry's state.
	snap.Status = specmodel.StatusCompleted
	snap2, _ := reg.Get("r1")
	assert.Equal(t, specmodel.StatusRunning, snap2.Status)

	ar.publish(&specmodel.RunResult{ID: "r1", Status: specmodel.StatusCompleted})
	snap3, _ := reg.Get("r1")
	assert.Equal(t, specmodel.StatusCompleted, snap3.Status)
}

func TestRegistry_CancelInvokesHandle(t *testing.T) {
	reg := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	reg.register("r2", &specmodel.RunResult{ID: "r2"}, cancel)

	assert.True(t, reg.Cancel("r2"))
	assert.Error(t, ctx.Err())

	// Cancelling twice is a no-op, not an error.
	assert.True(t, reg.Cancel("r2"))
}

func TestRegistry_UnregisterRemoves(t *testing.T) {
	reg := NewRegistry()
	_, cancel := context.WithCancel(context.Background())
	reg.register("r3", &specmodel.RunResult{ID: "r3"}, cancel)
	reg.unregister("r3")
	_, ok := reg.Get("r3")
	assert.False(t, ok)
	assert.False(t, reg.Cancel("r3"))
}
