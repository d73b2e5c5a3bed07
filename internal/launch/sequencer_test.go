package launch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stocktrend/prediagent/internal/report"
	"github.com/stocktrend/prediagent/pkg/logging"
	"github.com/stocktrend/prediagent/pkg/models"
)

func quietLogger() *logging.Logger {
	logger := logging.NewLogger(logging.ERROR, false)
	logger.SetOutput(&bytes.Buffer{})
	return logger
}

func md(d time.Duration) *Duration {
	v := Duration(d)
	return &v
}

// testPlan keeps delays tiny so the suite stays fast. Entries without
// an explicit min_delay get 10ms instead of the production default.
func testPlan(procs ...ProcessConfig) *Plan {
	plan := &Plan{
		ShutdownGrace:  Duration(2 * time.Second),
		SampleInterval: Duration(time.Hour),
		Processes:      procs,
	}
	for i := range plan.Processes {
		if plan.Processes[i].MinDelay == nil {
			plan.Processes[i].MinDelay = md(10 * time.Millisecond)
		}
		if plan.Processes[i].Restart.Policy == "" {
			plan.Processes[i].Restart.Policy = string(models.RestartModeFailUnit)
		}
	}
	return plan
}

func runPlan(t *testing.T, plan *Plan) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return NewSequencer(plan, quietLogger()).Run(ctx)
}

func TestSequencerForegroundCompletion(t *testing.T) {
	plan := testPlan(
		ProcessConfig{Name: "agent", Command: "sleep", Args: []string{"30"}},
		ProcessConfig{Name: "ui", Command: "sh", Args: []string{"-c", "exit 0"}, Foreground: true},
	)

	if code := runPlan(t, plan); code != ExitOK {
		t.Errorf("expected exit 0, got %d", code)
	}
}

func TestSequencerPropagatesForegroundExitCode(t *testing.T) {
	plan := testPlan(
		ProcessConfig{Name: "agent", Command: "sleep", Args: []string{"30"}},
		ProcessConfig{Name: "ui", Command: "sh", Args: []string{"-c", "exit 7"}, Foreground: true},
	)

	if code := runPlan(t, plan); code != 7 {
		t.Errorf("expected the foreground exit code 7, got %d", code)
	}
}

func TestSequencerStartsInDeclaredOrder(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "agent-was-first")

	plan := testPlan(
		ProcessConfig{
			Name:     "agent",
			Command:  "sh",
			Args:     []string{"-c", fmt.Sprintf("touch %s; exec sleep 30", marker)},
			MinDelay: md(50 * time.Millisecond),
		},
		ProcessConfig{
			Name:       "ui",
			Command:    "sh",
			Args:       []string{"-c", fmt.Sprintf("test -f %s || exit 9; exit 0", marker)},
			Foreground: true,
		},
	)

	if code := runPlan(t, plan); code != ExitOK {
		t.Errorf("foreground saw no marker from the first process, exit %d", code)
	}
}

func TestSequencerEnforcesMinDelayFloor(t *testing.T) {
	plan := testPlan(
		ProcessConfig{
			Name:     "agent",
			Command:  "sleep",
			Args:     []string{"30"},
			MinDelay: md(200 * time.Millisecond),
		},
		ProcessConfig{Name: "ui", Command: "sh", Args: []string{"-c", "exit 0"}, Foreground: true},
	)

	start := time.Now()
	if code := runPlan(t, plan); code != ExitOK {
		t.Fatalf("unexpected exit %d", code)
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("launch finished in %s, before the 200ms floor", elapsed)
	}
}

func TestSequencerBackgroundFailureTearsUnitDown(t *testing.T) {
	plan := testPlan(
		ProcessConfig{
			Name:    "agent",
			Command: "sh",
			Args:    []string{"-c", "sleep 0.3; exit 1"},
		},
		ProcessConfig{Name: "ui", Command: "sleep", Args: []string{"30"}, Foreground: true},
	)

	start := time.Now()
	code := runPlan(t, plan)
	if code != ExitUnitFail {
		t.Errorf("expected exit %d on background failure, got %d", ExitUnitFail, code)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("teardown took %s, foreground was not stopped", elapsed)
	}
}

func TestSequencerIgnoredStartFailureProceeds(t *testing.T) {
	plan := testPlan(
		ProcessConfig{
			Name:     "flaky",
			Command:  "sh",
			Args:     []string{"-c", "exit 1"},
			MinDelay: md(100 * time.Millisecond),
			Restart:  RestartConfig{Policy: string(models.RestartModeIgnore)},
		},
		ProcessConfig{Name: "ui", Command: "sh", Args: []string{"-c", "exit 0"}, Foreground: true},
	)

	if code := runPlan(t, plan); code != ExitOK {
		t.Errorf("expected the unit to come up without the ignored process, got exit %d", code)
	}
}

func TestSequencerFailUnitStartFailureAborts(t *testing.T) {
	plan := testPlan(
		ProcessConfig{
			Name:     "agent",
			Command:  "sh",
			Args:     []string{"-c", "exit 1"},
			MinDelay: md(100 * time.Millisecond),
		},
		ProcessConfig{Name: "ui", Command: "sleep", Args: []string{"30"}, Foreground: true},
	)

	if code := runPlan(t, plan); code != ExitUnitFail {
		t.Errorf("expected exit %d when a fail-unit process dies in its gate, got %d", ExitUnitFail, code)
	}
}

func TestSequencerShutdownOnContextCancel(t *testing.T) {
	plan := testPlan(
		ProcessConfig{Name: "agent", Command: "sleep", Args: []string{"30"}},
		ProcessConfig{Name: "ui", Command: "sleep", Args: []string{"30"}, Foreground: true},
	)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	start := time.Now()
	code := NewSequencer(plan, quietLogger()).Run(ctx)
	if code != ExitOK {
		t.Errorf("expected clean exit on shutdown, got %d", code)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("shutdown took %s", elapsed)
	}
}

func TestSequencerRejectsBadPlan(t *testing.T) {
	plan := testPlan(
		ProcessConfig{Name: "a", Command: "sleep", Args: []string{"1"}, Foreground: true},
		ProcessConfig{Name: "b", Command: "sleep", Args: []string{"1"}, Foreground: true},
	)

	if code := runPlan(t, plan); code != ExitBadPlan {
		t.Errorf("expected exit %d for an invalid plan, got %d", ExitBadPlan, code)
	}
}

func TestSequencerPreflightFailure(t *testing.T) {
	plan := testPlan(
		ProcessConfig{Name: "agent", Command: "definitely-not-a-real-binary-xyz"},
		ProcessConfig{Name: "ui", Command: "sh", Args: []string{"-c", "exit 0"}, Foreground: true},
	)

	if code := runPlan(t, plan); code != ExitPreflight {
		t.Errorf("expected exit %d for a missing command, got %d", ExitPreflight, code)
	}
}

func TestSequencerTCPGate(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to open gate target: %v", err)
	}
	defer ln.Close()

	plan := testPlan(
		ProcessConfig{
			Name:    "agent",
			Command: "sleep",
			Args:    []string{"30"},
			Ready: &ReadyConfig{
				TCP:       ln.Addr().String(),
				Interval:  Duration(20 * time.Millisecond),
				Timeout:   Duration(2 * time.Second),
				Successes: 2,
			},
		},
		ProcessConfig{Name: "ui", Command: "sh", Args: []string{"-c", "exit 0"}, Foreground: true},
	)

	if code := runPlan(t, plan); code != ExitOK {
		t.Errorf("expected the gate to pass against a live listener, got exit %d", code)
	}
}

func TestSequencerGateTimeoutFailsUnit(t *testing.T) {
	plan := testPlan(
		ProcessConfig{
			Name:    "agent",
			Command: "sleep",
			Args:    []string{"30"},
			Ready: &ReadyConfig{
				TCP:      "127.0.0.1:1",
				Interval: Duration(50 * time.Millisecond),
				Timeout:  Duration(300 * time.Millisecond),
			},
		},
		ProcessConfig{Name: "ui", Command: "sleep", Args: []string{"30"}, Foreground: true},
	)

	if code := runPlan(t, plan); code != ExitUnitFail {
		t.Errorf("expected exit %d when the gate times out, got %d", ExitUnitFail, code)
	}
}

func TestSequencerWritesSessionReport(t *testing.T) {
	reportPath := filepath.Join(t.TempDir(), "session.json")
	plan := testPlan(
		ProcessConfig{Name: "agent", Command: "sleep", Args: []string{"30"}},
		ProcessConfig{Name: "ui", Command: "sh", Args: []string{"-c", "exit 5"}, Foreground: true},
	)
	plan.ReportPath = reportPath

	if code := runPlan(t, plan); code != 5 {
		t.Fatalf("expected exit 5, got %d", code)
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("session report missing: %v", err)
	}

	var rep report.SessionReport
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatalf("session report is not valid JSON: %v", err)
	}
	if rep.ExitCode != 5 {
		t.Errorf("expected exit_code 5 in the report, got %d", rep.ExitCode)
	}
	if !strings.Contains(rep.Cause, "foreground") {
		t.Errorf("expected a foreground exit cause, got %q", rep.Cause)
	}
	if len(rep.Processes) != 2 {
		t.Errorf("expected both processes in the report, got %d", len(rep.Processes))
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to pick a port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestSequencerStatusAndMetricsEndpoints(t *testing.T) {
	plan := testPlan(
		ProcessConfig{Name: "agent", Command: "sleep", Args: []string{"30"}},
		ProcessConfig{Name: "ui", Command: "sleep", Args: []string{"30"}, Foreground: true},
	)
	plan.StatusAddr = freeAddr(t)
	plan.MetricsAddr = freeAddr(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() {
		done <- NewSequencer(plan, quietLogger()).Run(ctx)
	}()

	var status models.UnitStatus
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get("http://" + plan.StatusAddr + "/status")
		if err == nil {
			err = json.NewDecoder(resp.Body).Decode(&status)
			resp.Body.Close()
			running := 0
			for _, p := range status.Processes {
				if p.State == models.ProcessRunning {
					running++
				}
			}
			if err == nil && running == 2 {
				break
			}
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("status endpoint never showed both processes running: %+v", status.Processes)
		}
		time.Sleep(50 * time.Millisecond)
	}

	resp, err := http.Get("http://" + plan.MetricsAddr + "/metrics")
	if err != nil {
		cancel()
		t.Fatalf("metrics endpoint: %v", err)
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	resp.Body.Close()

	body := buf.String()
	for _, want := range []string{
		"prediagent_unit_uptime_seconds",
		"prediagent_process_up{process=\"agent\"} 1",
		"prediagent_process_up{process=\"ui\"} 1",
		"prediagent_process_restarts_total",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}

	cancel()
	select {
	case code := <-done:
		if code != ExitOK {
			t.Errorf("expected clean exit after cancel, got %d", code)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("sequencer did not shut down")
	}
}
