package models

import (
	"fmt"
	"time"
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[ProcessState]map[ProcessState]bool{
	ProcessPending: {
		ProcessStarting: true, // Pending → Starting (spawn issued)
		ProcessFailed:   true, // Pending → Failed (spawn error, preflight rejection)
		ProcessStopped:  true, // Pending → Stopped (plan aborted before spawn)
	},
	ProcessStarting: {
		ProcessRunning: true, // Starting → Running (readiness gate passed)
		ProcessFailed:  true, // Starting → Failed (exited or gate timed out)
		ProcessBackoff: true, // Starting → Backoff (crashed, restart budget left)
		ProcessKilled:  true, // Starting → Killed (teardown during the gate)
		ProcessStopped: true, // Starting → Stopped (ordered stop during the gate)
	},
	ProcessRunning: {
		ProcessDegraded: true, // Running → Degraded (health probes failing)
		ProcessStopped:  true, // Running → Stopped (clean exit or ordered stop)
		ProcessFailed:   true, // Running → Failed (non-zero exit, no restart)
		ProcessBackoff:  true, // Running → Backoff (crashed, restart budget left)
		ProcessKilled:   true, // Running → Killed (grace period expired)
	},
	ProcessDegraded: {
		ProcessRunning: true, // Degraded → Running (health recovered)
		ProcessStopped: true,
		ProcessFailed:  true,
		ProcessBackoff: true,
		ProcessKilled:  true,
	},
	ProcessBackoff: {
		ProcessStarting: true, // Backoff → Starting (restart attempt)
		ProcessFailed:   true, // Backoff → Failed (budget exhausted)
		ProcessStopped:  true, // Backoff → Stopped (teardown while waiting)
	},
	// Terminal states (no transitions allowed)
	ProcessStopped: {},
	ProcessFailed:  {},
	ProcessKilled:  {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to ProcessState) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}

	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}

	return nil
}

// IsTerminalState returns true if the state is terminal (no further transitions)
func IsTerminalState(state ProcessState) bool {
	return state == ProcessStopped || state == ProcessFailed || state == ProcessKilled
}

// IsActiveState returns true if the process is alive or coming up
func IsActiveState(state ProcessState) bool {
	return state == ProcessStarting || state == ProcessRunning || state == ProcessDegraded
}

// CanRestart returns true if the supervisor may schedule a restart from this state
func CanRestart(state ProcessState) bool {
	return state == ProcessBackoff || state == ProcessDegraded
}

// RestartPolicy defines restart behavior for a supervised process
type RestartPolicy struct {
	Mode           RestartMode   // restart, fail-unit, or ignore
	MaxRestarts    int           // Restart budget inside Window
	Window         time.Duration // Sliding window for the budget
	Cooldown       time.Duration // Pause after the budget is exhausted
	InitialDelay   time.Duration // Delay before the first restart
	MaxDelay       time.Duration // Ceiling for the backoff
	DelayMultiplier float64      // Multiplier for exponential backoff between attempts
}

// DefaultRestartPolicy returns the default restart policy for background processes
func DefaultRestartPolicy() *RestartPolicy {
	return &RestartPolicy{
		Mode:            RestartModeFailUnit,
		MaxRestarts:     3,
		Window:          5 * time.Minute,
		Cooldown:        15 * time.Minute,
		InitialDelay:    2 * time.Second,
		MaxDelay:        1 * time.Minute,
		DelayMultiplier: 2.0,
	}
}

// CalculateDelay calculates the backoff delay for a given restart count
func (rp *RestartPolicy) CalculateDelay(restartCount int) time.Duration {
	if restartCount <= 0 {
		return rp.InitialDelay
	}

	// Exponential backoff: initialDelay * (multiplier ^ restartCount)
	delay := float64(rp.InitialDelay)
	for i := 0; i < restartCount; i++ {
		delay *= rp.DelayMultiplier
	}

	duration := time.Duration(delay)
	if duration > rp.MaxDelay {
		return rp.MaxDelay
	}
	return duration
}

// ShouldRestart decides whether a crash should be followed by a restart,
// given the restart timestamps observed so far. Timestamps outside the
// window do not count against the budget.
func (rp *RestartPolicy) ShouldRestart(restarts []time.Time, now time.Time) bool {
	if rp.Mode != RestartModeRestart {
		return false
	}

	windowStart := now.Add(-rp.Window)
	inWindow := 0
	for _, t := range restarts {
		if t.After(windowStart) {
			inWindow++
		}
	}

	return inWindow < rp.MaxRestarts
}

// PruneWindow drops restart timestamps that fell out of the window
func (rp *RestartPolicy) PruneWindow(restarts []time.Time, now time.Time) []time.Time {
	windowStart := now.Add(-rp.Window)
	var kept []time.Time
	for _, t := range restarts {
		if t.After(windowStart) {
			kept = append(kept, t)
		}
	}
	return kept
}
