package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/stocktrend/prediagent/pkg/logging"
)

// maxLogLine bounds one relayed child output line.
const maxLogLine = 256 * 1024

// ExitStatus describes how a child process left.
type ExitStatus struct {
	Code     int
	Signaled bool
	Signal   string
	Err      error
}

// Clean reports a voluntary zero exit.
func (e *ExitStatus) Clean() bool {
	return e != nil && !e.Signaled && e.Code == 0
}

// Reason renders the exit for logs and status reports.
func (e *ExitStatus) Reason() string {
	if e == nil {
		return "still running"
	}
	if e.Signaled {
		return fmt.Sprintf("terminated by signal %s", e.Signal)
	}
	return fmt.Sprintf("exited with code %d", e.Code)
}

// Process wraps one child command. The child runs as its own process
// group leader so the launcher can signal the whole subtree without
// touching itself, and so a launcher crash leaves the child alive.
type Process struct {
	name   string
	cmd    *exec.Cmd
	logger *logging.Logger

	mu      sync.Mutex
	pid     int
	started bool
	exit    *ExitStatus

	relayWG sync.WaitGroup
	done    chan struct{}
}

// NewProcess builds a process for the given command line. Env entries
// are appended to the launcher's own environment.
func NewProcess(name, command string, args []string, dir string, env []string, logger *logging.Logger) *Process {
	cmd := exec.Command(command, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(cmd.Environ(), env...)
	}

	// Child becomes its own process group leader
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}

	if logger == nil {
		logger = logging.NewLogger(logging.INFO, false)
	}

	return &Process{
		name:   name,
		cmd:    cmd,
		logger: logger.WithField("process", name),
		done:   make(chan struct{}),
	}
}

// Start spawns the child and begins relaying its output. The returned
// error covers spawn failures only; exits are observed through Wait.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("process %s already started", p.name)
	}

	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe for %s: %w", p.name, err)
	}
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe for %s: %w", p.name, err)
	}

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", p.name, err)
	}

	p.started = true
	p.pid = p.cmd.Process.Pid

	p.relayWG.Add(2)
	go p.relay(stdout, "stdout")
	go p.relay(stderr, "stderr")

	go p.reap()

	return nil
}

// relay forwards child output lines into the launcher log.
func (p *Process) relay(r io.Reader, stream string) {
	defer p.relayWG.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLogLine)
	fields := map[string]interface{}{"stream": stream}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		p.logger.Info(line, fields)
	}
}

// reap collects the child's exit status once, after the relays drain.
// Pipes must be fully read before Wait per the os/exec contract.
func (p *Process) reap() {
	p.relayWG.Wait()
	err := p.cmd.Wait()

	status := &ExitStatus{Err: err}
	if err == nil {
		status.Code = 0
	} else if exitErr, ok := err.(*exec.ExitError); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			status.Signaled = true
			status.Signal = ws.Signal().String()
			status.Code = 128 + int(ws.Signal())
		} else {
			status.Code = exitErr.ExitCode()
		}
	} else {
		status.Code = -1
	}

	p.mu.Lock()
	p.exit = status
	p.mu.Unlock()

	close(p.done)
}

// Pid returns the child pid, zero before Start.
func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

// Exit returns the exit status, nil while the child still runs.
func (p *Process) Exit() *ExitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit
}

// Done closes when the child has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Alive probes the child with signal 0.
func (p *Process) Alive() bool {
	p.mu.Lock()
	pid := p.pid
	exited := p.exit != nil
	p.mu.Unlock()

	if pid <= 0 || exited {
		return false
	}
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}

// Signal delivers sig to the child's whole process group.
func (p *Process) Signal(sig syscall.Signal) error {
	p.mu.Lock()
	pid := p.pid
	p.mu.Unlock()

	if pid <= 0 {
		return fmt.Errorf("process %s not started", p.name)
	}
	return syscall.Kill(-pid, sig)
}

// Wait blocks until the child exits or the context ends.
func (p *Process) Wait(ctx context.Context) (*ExitStatus, error) {
	select {
	case <-p.done:
		return p.Exit(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop terminates the child group: SIGTERM, then SIGKILL once the
// grace period runs out. Reports whether escalation was needed.
func (p *Process) Stop(grace time.Duration) (bool, error) {
	select {
	case <-p.done:
		return false, nil // already gone
	default:
	}

	if err := p.Signal(syscall.SIGTERM); err != nil {
		// ESRCH means the group died between the check and the signal
		if err == syscall.ESRCH {
			return false, nil
		}
		return false, err
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.done:
		return false, nil
	case <-timer.C:
	}

	p.logger.Warn("Grace period expired, killing process group", map[string]interface{}{
		"grace": grace.String(),
	})
	if err := p.Signal(syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return true, err
	}

	<-p.done
	return true, nil
}
