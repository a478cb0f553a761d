package macro

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusIdle(t *testing.T) {
	assert.True(t, StatusPending.Idle())
	assert.True(t, StatusCompleted.Idle())
	assert.False(t, StatusRunning.Idle())
	assert.False(t, StatusFailed.Idle())
}

func TestCanTransitionIsMonotonic(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusRunning))
	assert.True(t, CanTransition(StatusRunning, StatusCompleted))
	assert.True(t, CanTransition(StatusRunning, StatusFailed))
	assert.True(t, CanTransition(StatusPending, StatusFailed))

	assert.False(t, CanTransition(StatusRunning, StatusPending))
	assert.False(t, CanTransition(StatusCompleted, StatusRunning))
	assert.False(t, CanTransition(StatusFailed, StatusCompleted))
	assert.False(t, CanTransition(StatusCompleted, StatusCompleted))
	assert.False(t, CanTransition("bogus", StatusRunning))
}

func TestActionKind(t *testing.T) {
	assert.Equal(t, KindInit, ActionInit.Kind())
	assert.Equal(t, KindTest, Action("TEST").Kind())
	assert.Equal(t, KindEndTest, ActionEndTest.Kind())
	assert.Equal(t, KindTeardown, ActionTeardown.Kind())
	assert.Equal(t, KindCustom, Action("screenshot").Kind())
	assert.Equal(t, "custom", KindCustom.String())
}
