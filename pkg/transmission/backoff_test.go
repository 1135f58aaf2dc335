package transmission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestExponentialBackoffWalksSchedule(t *testing.T) {
	policy := NewExponentialBackoff()
	state := NewBackoffState()

	assert.False(t, state.Active())
	assert.Equal(t, 5*time.Second, policy.Next(state))
	assert.True(t, state.Active())
	assert.Equal(t, 10*time.Second, policy.Next(state))
	assert.Equal(t, 5*time.Second, policy.Next(state))
	assert.Equal(t, 15*time.Second, policy.Next(state))
}

func TestExponentialBackoffCapsAtScheduleEnd(t *testing.T) {
	policy := NewExponentialBackoff()
	state := NewBackoffState()

	var last time.Duration
	for i := 0; i < len(exponentialSchedule); i++ {
		last = policy.Next(state)
	}
	// The cursor holds at the final entry instead of cycling.
	for i := 0; i < 5; i++ {
		assert.Equal(t, last, policy.Next(state))
	}
}

func TestBackoffNeverExceedsMaxAndCursorIsMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		policy := NewExponentialBackoff()
		state := NewBackoffState()
		calls := rapid.IntRange(1, 50).Draw(t, "calls")

		prevIndex := -1
		for i := 0; i < calls; i++ {
			d := policy.Next(state)
			if d > policy.Max() {
				t.Fatalf("duration %v exceeds policy max %v", d, policy.Max())
			}
			if state.index < prevIndex {
				t.Fatalf("cursor moved backwards: %d -> %d", prevIndex, state.index)
			}
			if state.index >= len(exponentialSchedule) {
				t.Fatalf("cursor out of range: %d", state.index)
			}
			prevIndex = state.index
		}
	})
}

func TestResetReturnsCursorToInactive(t *testing.T) {
	policy := NewExponentialBackoff()
	state := NewBackoffState()

	for i := 0; i < 7; i++ {
		policy.Next(state)
	}
	state.Reset()
	require.False(t, state.Active())
	// The walk restarts from the top of the schedule.
	assert.Equal(t, 5*time.Second, policy.Next(state))
}

func TestStaticBackoffIsFixed(t *testing.T) {
	policy := NewStaticBackoff(3 * time.Second)
	state := NewBackoffState()

	for i := 0; i < 4; i++ {
		assert.Equal(t, 3*time.Second, policy.Next(state))
	}
	assert.True(t, state.Active())
	assert.Equal(t, 3*time.Second, policy.Max())
}
