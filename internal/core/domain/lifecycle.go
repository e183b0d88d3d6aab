package domain

import (
	"fmt"

	"github.com/melih/lighthouse-stack/internal/errdefs"
)

// State is a step of the container lifecycle shared by every service.
type State string

const (
	StateCreated   State = "created"
	StateStarting  State = "starting"
	StateHealthy   State = "healthy"
	StateUnhealthy State = "unhealthy"
	StateRunning   State = "running"
	StateStopping  State = "stopping"
	StateStopped   State = "stopped"
)

var transitions = map[State][]State{
	StateCreated:   {StateStarting, StateStopped},
	StateStarting:  {StateHealthy, StateUnhealthy, StateRunning, StateStopping, StateStopped},
	StateHealthy:   {StateRunning, StateUnhealthy, StateStopping, StateStopped},
	StateUnhealthy: {StateHealthy, StateRunning, StateStopping, StateStopped},
	StateRunning:   {StateHealthy, StateUnhealthy, StateStopping, StateStopped},
	StateStopping:  {StateStopped},
	StateStopped:   {StateStarting},
}

// CanTransition reports whether moving from s to next is legal.
// Re-entering starting after a stop needs a restart policy that allows it;
// explicit stops are never re-entered.
func (s State) CanTransition(next State, policy RestartPolicy, explicitStop bool) bool {
	if s == StateStopped && next == StateStarting {
		return policy.Restarts(explicitStop)
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition returns next or an error wrapping errdefs.ErrInvalidTransition.
func (s State) Transition(next State, policy RestartPolicy, explicitStop bool) (State, error) {
	if !s.CanTransition(next, policy, explicitStop) {
		return s, fmt.Errorf("%w: %s -> %s", errdefs.ErrInvalidTransition, s, next)
	}
	return next, nil
}
