package scan

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanDefaultKeepsEverything(t *testing.T) {
	node, _ := fibNode(t)
	plan := PlanBuffers(node, nil)
	assert.Equal(t, WindowAll, plan.Window(0))
	// Full retention: depth 2 + 5 steps of int64 scalars.
	assert.Equal(t, 7*8, plan.MemoryEstimate())
}

func TestPlanBoundedWindows(t *testing.T) {
	node, _ := fibNode(t) // tap depth 2

	plan := PlanBuffers(node, []OutputUsage{{LastK: 4}})
	assert.Equal(t, 4, plan.Window(0))
	assert.Equal(t, 4*8, plan.MemoryEstimate())

	// A window below the tap depth would starve the recurrence; the plan clamps it.
	plan = PlanBuffers(node, []OutputUsage{{LastK: 1}})
	assert.Equal(t, 2, plan.Window(0))

	// NeedsAll wins over LastK.
	plan = PlanBuffers(node, []OutputUsage{{NeedsAll: true, LastK: 1}})
	assert.Equal(t, WindowAll, plan.Window(0))
}

func TestPlanWindowNeverExceedsFullBuffer(t *testing.T) {
	node, _ := fibNode(t)
	plan := PlanBuffers(node, []OutputUsage{{LastK: 100}})
	assert.Equal(t, 100, plan.Window(0))
	// Physical rows stay capped at the full timeline (2 + 5).
	assert.Equal(t, 7*8, plan.MemoryEstimate())
}

func TestPlanValidation(t *testing.T) {
	node, _ := fibNode(t)
	err := exceptions.TryCatch[error](func() { PlanBuffers(node, []OutputUsage{{LastK: 1}, {LastK: 1}}) })
	require.Error(t, err)
	err = exceptions.TryCatch[error](func() { PlanBuffers(node, []OutputUsage{{LastK: 0}}) })
	require.Error(t, err)
}

func TestPlanString(t *testing.T) {
	node, _ := fibNode(t)
	assert.Contains(t, PlanBuffers(node, nil).String(), "all")
	assert.Contains(t, PlanBuffers(node, []OutputUsage{{LastK: 3}}).String(), "last 3")
}
