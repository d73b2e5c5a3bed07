package report

// The report is written after the unit is already down.
// A report failure must never change the launcher's exit code.

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stocktrend/prediagent/pkg/logging"
	"github.com/stocktrend/prediagent/pkg/models"
)

// SessionReport is the immutable record of one launcher run. Built
// once at teardown, never updated.
type SessionReport struct {
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Duration  string    `json:"duration"`

	// Outcome
	Cause    string `json:"cause"`
	ExitCode int    `json:"exit_code"`

	Processes []models.ProcessInfo `json:"processes"`
}

// NewSession builds the report from the final supervisor snapshot.
func NewSession(startedAt time.Time, cause string, exitCode int, processes []models.ProcessInfo) *SessionReport {
	now := time.Now()
	return &SessionReport{
		StartedAt: startedAt,
		EndedAt:   now,
		Duration:  now.Sub(startedAt).Round(time.Millisecond).String(),
		Cause:     cause,
		ExitCode:  exitCode,
		Processes: processes,
	}
}

// Write persists the report as indented JSON, creating parent
// directories as needed.
func (r *SessionReport) Write(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session report: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write session report: %w", err)
	}
	return nil
}

// TotalRestarts sums restarts across all processes.
func (r *SessionReport) TotalRestarts() int {
	total := 0
	for _, p := range r.Processes {
		total += p.Restarts
	}
	return total
}

// LogSummary emits the human-readable one-line summary.
// This is what ops grep for after an incident.
func (r *SessionReport) LogSummary(logger *logging.Logger) {
	if logger == nil {
		return
	}
	logger.Info(fmt.Sprintf("SESSION | cause=%s | exit=%d | runtime=%s | processes=%d | restarts=%d",
		r.Cause, r.ExitCode, r.Duration, len(r.Processes), r.TotalRestarts()))
}
