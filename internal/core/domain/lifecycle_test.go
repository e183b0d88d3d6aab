package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/melih/lighthouse-stack/internal/errdefs"
)

func TestState_Transitions(t *testing.T) {
	assert.True(t, StateCreated.CanTransition(StateStarting, RestartNo, false))
	assert.True(t, StateStarting.CanTransition(StateHealthy, RestartNo, false))
	assert.True(t, StateHealthy.CanTransition(StateUnhealthy, RestartNo, false))
	assert.False(t, StateStopping.CanTransition(StateRunning, RestartNo, false))

	_, err := StateCreated.Transition(StateHealthy, RestartNo, false)
	assert.ErrorIs(t, err, errdefs.ErrInvalidTransition)
}

func TestState_RestartReentry(t *testing.T) {
	assert.True(t, StateStopped.CanTransition(StateStarting, RestartUnlessStopped, false))
	assert.False(t, StateStopped.CanTransition(StateStarting, RestartUnlessStopped, true))
	assert.True(t, StateStopped.CanTransition(StateStarting, RestartAlways, true))
	assert.False(t, StateStopped.CanTransition(StateStarting, RestartNo, false))
}

func TestContainer_Lifecycle(t *testing.T) {
	cases := []struct {
		c    Container
		want State
	}{
		{Container{State: "created"}, StateCreated},
		{Container{State: "running", Health: HealthStarting}, StateStarting},
		{Container{State: "running", Health: HealthHealthy}, StateHealthy},
		{Container{State: "running", Health: HealthUnhealthy}, StateUnhealthy},
		{Container{State: "running"}, StateRunning},
		{Container{State: "exited"}, StateStopped},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.c.Lifecycle(), "%+v", tc.c)
	}
	assert.True(t, Container{State: "running"}.Ready())
	assert.False(t, Container{State: "running", Health: HealthStarting}.Ready())
}

func TestHealthProbe_Budget(t *testing.T) {
	h := HealthProbe{Interval: 30 * time.Second, Timeout: 10 * time.Second, Retries: 3, StartPeriod: 40 * time.Second}
	assert.Equal(t, 160*time.Second, h.Budget())
}
