package models

import (
	"testing"
	"time"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    ProcessState
		to      ProcessState
		wantErr bool
	}{
		// Valid transitions
		{"Pending to Starting", ProcessPending, ProcessStarting, false},
		{"Pending to Failed", ProcessPending, ProcessFailed, false},
		{"Starting to Running", ProcessStarting, ProcessRunning, false},
		{"Starting to Failed", ProcessStarting, ProcessFailed, false},
		{"Starting to Backoff", ProcessStarting, ProcessBackoff, false},
		{"Running to Degraded", ProcessRunning, ProcessDegraded, false},
		{"Running to Stopped", ProcessRunning, ProcessStopped, false},
		{"Running to Backoff", ProcessRunning, ProcessBackoff, false},
		{"Degraded to Running", ProcessDegraded, ProcessRunning, false},
		{"Backoff to Starting", ProcessBackoff, ProcessStarting, false},
		{"Backoff to Failed", ProcessBackoff, ProcessFailed, false},

		// Invalid transitions
		{"Pending to Running", ProcessPending, ProcessRunning, true},
		{"Pending to Backoff", ProcessPending, ProcessBackoff, true},
		{"Running to Starting", ProcessRunning, ProcessStarting, true},
		{"Stopped to Starting", ProcessStopped, ProcessStarting, true},
		{"Failed to Running", ProcessFailed, ProcessRunning, true},
		{"Killed to anything", ProcessKilled, ProcessBackoff, true},
		{"Backoff to Running", ProcessBackoff, ProcessRunning, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTransition(%v, %v) error = %v, wantErr %v",
					tt.from, tt.to, err, tt.wantErr)
			}
		})
	}
}

func TestIsTerminalState(t *testing.T) {
	tests := []struct {
		name     string
		state    ProcessState
		expected bool
	}{
		{"Stopped is terminal", ProcessStopped, true},
		{"Failed is terminal", ProcessFailed, true},
		{"Killed is terminal", ProcessKilled, true},
		{"Pending is not terminal", ProcessPending, false},
		{"Running is not terminal", ProcessRunning, false},
		{"Backoff is not terminal", ProcessBackoff, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsTerminalState(tt.state)
			if result != tt.expected {
				t.Errorf("IsTerminalState(%v) = %v, want %v", tt.state, result, tt.expected)
			}
		})
	}
}

func TestIsActiveState(t *testing.T) {
	tests := []struct {
		name     string
		state    ProcessState
		expected bool
	}{
		{"Starting is active", ProcessStarting, true},
		{"Running is active", ProcessRunning, true},
		{"Degraded is active", ProcessDegraded, true},
		{"Pending is not active", ProcessPending, false},
		{"Backoff is not active", ProcessBackoff, false},
		{"Failed is not active", ProcessFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsActiveState(tt.state)
			if result != tt.expected {
				t.Errorf("IsActiveState(%v) = %v, want %v", tt.state, result, tt.expected)
			}
		})
	}
}

func TestCalculateDelay(t *testing.T) {
	policy := DefaultRestartPolicy()

	tests := []struct {
		name         string
		restartCount int
		expected     time.Duration
		maxExpected  time.Duration
	}{
		{"First restart", 0, 2 * time.Second, 2 * time.Second},
		{"Second restart", 1, 4 * time.Second, 4 * time.Second},
		{"Third restart", 2, 8 * time.Second, 8 * time.Second},
		{"Many restarts (capped)", 10, policy.MaxDelay, policy.MaxDelay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := policy.CalculateDelay(tt.restartCount)
			if result < tt.expected || result > tt.maxExpected {
				t.Errorf("CalculateDelay(%d) = %v, want range [%v, %v]",
					tt.restartCount, result, tt.expected, tt.maxExpected)
			}
		})
	}
}

func TestShouldRestart(t *testing.T) {
	now := time.Now()

	policy := &RestartPolicy{
		Mode:        RestartModeRestart,
		MaxRestarts: 3,
		Window:      5 * time.Minute,
	}

	tests := []struct {
		name     string
		mode     RestartMode
		restarts []time.Time
		expected bool
	}{
		{"No history", RestartModeRestart, nil, true},
		{"Under budget", RestartModeRestart, []time.Time{now.Add(-1 * time.Minute)}, true},
		{
			"Budget exhausted",
			RestartModeRestart,
			[]time.Time{now.Add(-1 * time.Minute), now.Add(-2 * time.Minute), now.Add(-3 * time.Minute)},
			false,
		},
		{
			"Old restarts fall out of window",
			RestartModeRestart,
			[]time.Time{now.Add(-10 * time.Minute), now.Add(-20 * time.Minute), now.Add(-1 * time.Minute)},
			true,
		},
		{"Fail-unit mode never restarts", RestartModeFailUnit, nil, false},
		{"Ignore mode never restarts", RestartModeIgnore, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy.Mode = tt.mode
			result := policy.ShouldRestart(tt.restarts, now)
			if result != tt.expected {
				t.Errorf("ShouldRestart() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestPruneWindow(t *testing.T) {
	now := time.Now()
	policy := &RestartPolicy{Window: 5 * time.Minute}

	restarts := []time.Time{
		now.Add(-10 * time.Minute),
		now.Add(-4 * time.Minute),
		now.Add(-1 * time.Minute),
	}

	kept := policy.PruneWindow(restarts, now)
	if len(kept) != 2 {
		t.Fatalf("PruneWindow() kept %d timestamps, want 2", len(kept))
	}
	for _, ts := range kept {
		if !ts.After(now.Add(-5 * time.Minute)) {
			t.Errorf("PruneWindow() kept out-of-window timestamp %v", ts)
		}
	}
}

func TestForecastMap(t *testing.T) {
	f := &Forecast{
		Ticker: "AAPL",
		Source: SourceNaive,
		Points: []ForecastPoint{
			{Date: "2026-08-25", Price: 231.50},
			{Date: "2026-08-26", Price: 232.10},
		},
	}

	m := f.Map()
	if len(m) != 2 {
		t.Fatalf("Map() returned %d entries, want 2", len(m))
	}
	if m["2026-08-25"] != 231.50 {
		t.Errorf("Map()[2026-08-25] = %v, want 231.50", m["2026-08-25"])
	}
	if f.Horizon() != 2 {
		t.Errorf("Horizon() = %d, want 2", f.Horizon())
	}
}
