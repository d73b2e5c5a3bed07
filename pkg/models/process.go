package models

import (
	"time"
)

// ProcessState represents the lifecycle state of a supervised process
type ProcessState string

const (
	ProcessPending  ProcessState = "pending"  // Declared in the plan, not yet spawned
	ProcessStarting ProcessState = "starting" // Spawned, readiness gate in progress
	ProcessRunning  ProcessState = "running"  // Readiness gate passed, healthy
	ProcessDegraded ProcessState = "degraded" // Alive but failing health probes
	ProcessBackoff  ProcessState = "backoff"  // Crashed, waiting for a restart attempt
	ProcessStopped  ProcessState = "stopped"  // Exited cleanly or stopped on request
	ProcessFailed   ProcessState = "failed"   // Exited with an error, no restart pending
	ProcessKilled   ProcessState = "killed"   // Force-killed after the grace period
)

// RestartMode selects what the supervisor does when a process dies unexpectedly
type RestartMode string

const (
	RestartModeRestart  RestartMode = "restart"   // Restart within the windowed budget
	RestartModeFailUnit RestartMode = "fail-unit" // Tear the whole unit down
	RestartModeIgnore   RestartMode = "ignore"    // Leave it dead, keep the unit up
)

// ProcessInfo is the reported view of one supervised process
type ProcessInfo struct {
	Name       string       `json:"name"`
	PID        int          `json:"pid,omitempty"`
	State      ProcessState `json:"state"`
	Foreground bool         `json:"foreground,omitempty"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	ReadyAt    *time.Time   `json:"ready_at,omitempty"`
	StoppedAt  *time.Time   `json:"stopped_at,omitempty"`
	Restarts   int          `json:"restarts"`
	ExitCode   *int         `json:"exit_code,omitempty"`
	ExitReason string       `json:"exit_reason,omitempty"`
	Error      string       `json:"error,omitempty"`
	CPUPercent float64      `json:"cpu_percent,omitempty"`
	MemoryMB   float64      `json:"memory_mb,omitempty"`
	CPUPeak    float64      `json:"cpu_peak_percent,omitempty"`
	MemoryPeak float64      `json:"memory_peak_mb,omitempty"`
	Transitions []StateTransition `json:"transitions,omitempty"`
}

// StateTransition tracks process state changes with timestamps
type StateTransition struct {
	From      ProcessState `json:"from"`
	To        ProcessState `json:"to"`
	Timestamp time.Time    `json:"timestamp"`
	Reason    string       `json:"reason,omitempty"`
}

// Uptime returns how long the process has been up, zero if never started
func (p *ProcessInfo) Uptime() time.Duration {
	if p.StartedAt == nil {
		return 0
	}
	if p.StoppedAt != nil {
		return p.StoppedAt.Sub(*p.StartedAt)
	}
	return time.Since(*p.StartedAt)
}

// UnitStatus is the reported view of the whole supervised unit
type UnitStatus struct {
	StartedAt time.Time     `json:"started_at"`
	Uptime    string        `json:"uptime"`
	Processes []ProcessInfo `json:"processes"`
}
