package supervisor_test

import (
	"bytes"
	"context"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stocktrend/prediagent/internal/supervisor"
	"github.com/stocktrend/prediagent/pkg/logging"
)

func quietLogger() *logging.Logger {
	logger := logging.NewLogger(logging.ERROR, false)
	logger.SetOutput(&bytes.Buffer{})
	return logger
}

func TestProcessCleanExit(t *testing.T) {
	p := supervisor.NewProcess("t", "/bin/sh", []string{"-c", "exit 0"}, "", nil, quietLogger())
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exit, err := p.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !exit.Clean() {
		t.Errorf("expected clean exit, got %s", exit.Reason())
	}
	if p.Alive() {
		t.Error("process should not be alive after exit")
	}
}

func TestProcessExitCode(t *testing.T) {
	p := supervisor.NewProcess("t", "/bin/sh", []string{"-c", "exit 3"}, "", nil, quietLogger())
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exit, err := p.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if exit.Code != 3 {
		t.Errorf("exit code = %d, want 3", exit.Code)
	}
	if exit.Clean() {
		t.Error("exit 3 should not be clean")
	}
	if exit.Reason() != "exited with code 3" {
		t.Errorf("Reason() = %q", exit.Reason())
	}
}

func TestProcessSignalReason(t *testing.T) {
	p := supervisor.NewProcess("t", "sleep", []string{"30"}, "", nil, quietLogger())
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !p.Alive() {
		t.Fatal("process should be alive after start")
	}

	if err := p.Signal(syscall.SIGKILL); err != nil {
		t.Fatalf("Signal: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exit, err := p.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !exit.Signaled {
		t.Fatalf("expected signaled exit, got %s", exit.Reason())
	}
	if exit.Signal != "killed" {
		t.Errorf("signal = %q, want killed", exit.Signal)
	}
	if exit.Code != 137 {
		t.Errorf("code = %d, want 137", exit.Code)
	}
	if !strings.Contains(exit.Reason(), "terminated by signal") {
		t.Errorf("Reason() = %q", exit.Reason())
	}
}

func TestProcessStopGraceful(t *testing.T) {
	p := supervisor.NewProcess("t", "sleep", []string{"30"}, "", nil, quietLogger())
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	forced, err := p.Stop(5 * time.Second)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if forced {
		t.Error("sleep should die on SIGTERM without escalation")
	}
	if p.Exit() == nil {
		t.Error("exit status should be recorded after Stop")
	}
}

func TestProcessStopEscalatesToKill(t *testing.T) {
	p := supervisor.NewProcess("t", "/bin/sh", []string{"-c", `trap "" TERM; sleep 30`}, "", nil, quietLogger())
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Give the shell a moment to install the trap
	time.Sleep(100 * time.Millisecond)

	forced, err := p.Stop(200 * time.Millisecond)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !forced {
		t.Error("expected SIGKILL escalation for a TERM-ignoring child")
	}
}

func TestProcessRelaysOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.INFO, false)
	logger.SetOutput(&buf)

	p := supervisor.NewProcess("echoer", "/bin/sh", []string{"-c", "echo hello from child"}, "", nil, logger)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if !strings.Contains(buf.String(), "hello from child") {
		t.Errorf("child output not relayed, log: %s", buf.String())
	}
}

func TestProcessEnvPassthrough(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.INFO, false)
	logger.SetOutput(&buf)

	p := supervisor.NewProcess("env", "/bin/sh", []string{"-c", "echo value=$PREDI_TEST_VAR"},
		"", []string{"PREDI_TEST_VAR=42"}, logger)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if !strings.Contains(buf.String(), "value=42") {
		t.Errorf("env var not passed through, log: %s", buf.String())
	}
}

func TestProcessDoubleStart(t *testing.T) {
	p := supervisor.NewProcess("t", "/bin/sh", []string{"-c", "exit 0"}, "", nil, quietLogger())
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(); err == nil {
		t.Error("second Start should fail")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Wait(ctx)
}
