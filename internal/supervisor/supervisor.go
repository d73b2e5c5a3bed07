package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stocktrend/prediagent/internal/cgroups"
	"github.com/stocktrend/prediagent/pkg/logging"
	"github.com/stocktrend/prediagent/pkg/models"
	"github.com/stocktrend/prediagent/pkg/sysinfo"
)

const defaultStopGrace = 30 * time.Second

// EventType classifies supervision events.
type EventType string

const (
	EventStarted    EventType = "started"
	EventReady      EventType = "ready"
	EventDegraded   EventType = "degraded"
	EventRecovered  EventType = "recovered"
	EventExited     EventType = "exited"
	EventRestarting EventType = "restarting"
	EventCooldown   EventType = "cooldown"
	EventFailed     EventType = "failed"
	EventStopped    EventType = "stopped"
)

// Event reports a state change of one supervised process.
type Event struct {
	Name   string              `json:"name"`
	Type   EventType           `json:"type"`
	State  models.ProcessState `json:"state"`
	Detail string              `json:"detail,omitempty"`
	Time   time.Time           `json:"time"`
}

// ProcessSpec declares one process to supervise.
type ProcessSpec struct {
	Name       string
	Command    string
	Args       []string
	Dir        string
	Env        []string
	Foreground bool
	Policy     *models.RestartPolicy
	Limits     *cgroups.Limits
	StopGrace  time.Duration

	// ReadyCheck blocks until the process is ready or the gate fails.
	// Nil means the process is considered ready as soon as it spawned.
	ReadyCheck func(ctx context.Context) error
}

type entry struct {
	spec   ProcessSpec
	policy *models.RestartPolicy
	proc   *Process

	state       models.ProcessState
	transitions []models.StateTransition

	restarts     []time.Time
	restartCount int

	startedAt *time.Time
	readyAt   *time.Time
	stoppedAt *time.Time
	lastExit  *ExitStatus
	lastErr   string

	cgroupPath string
	stopping   bool
	stopCh     chan struct{}

	cpu, mem         float64
	cpuPeak, memPeak float64
}

// Supervisor owns the lifecycle of the unit's child processes: spawning,
// readiness gating, restart policy, teardown, and resource sampling.
type Supervisor struct {
	logger *logging.Logger

	// Cgroups enables best-effort containment when set before Start.
	Cgroups *cgroups.Manager

	mu      sync.Mutex
	order   []string
	entries map[string]*entry
	events  chan Event
}

// New creates an empty supervisor.
func New(logger *logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.NewLogger(logging.INFO, false)
	}
	return &Supervisor{
		logger:  logger.WithField("component", "supervisor"),
		entries: make(map[string]*entry),
		events:  make(chan Event, 64),
	}
}

// Events exposes the supervision event stream. Events are dropped when
// the consumer lags behind the buffer.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// Start spawns the process and blocks through its readiness gate.
//
// The error contract follows the restart policy: with mode "restart" a
// failed start is absorbed, background recovery begins, and Start
// returns nil so the rest of the unit can come up degraded. With
// "fail-unit" or "ignore" the failure is returned for the caller to
// judge.
func (s *Supervisor) Start(ctx context.Context, spec ProcessSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("process spec has no name")
	}

	policy := spec.Policy
	if policy == nil {
		policy = models.DefaultRestartPolicy()
	}

	e := &entry{
		spec:   spec,
		policy: policy,
		state:  models.ProcessPending,
		stopCh: make(chan struct{}),
	}

	s.mu.Lock()
	if _, exists := s.entries[spec.Name]; exists {
		s.mu.Unlock()
		return fmt.Errorf("process %s already supervised", spec.Name)
	}
	s.entries[spec.Name] = e
	s.order = append(s.order, spec.Name)
	s.mu.Unlock()

	if err := s.spawn(e); err != nil {
		return s.startFailure(ctx, e, err)
	}

	if err := s.gate(ctx, e); err != nil {
		if e.proc != nil && e.proc.Alive() {
			e.proc.Stop(s.stopGrace(e))
		}
		return s.startFailure(ctx, e, fmt.Errorf("readiness gate for %s: %w", spec.Name, err))
	}

	s.markReady(e)
	go s.supervise(ctx, e)
	return nil
}

// spawn launches a fresh incarnation of the process.
func (s *Supervisor) spawn(e *entry) error {
	s.mu.Lock()
	s.setStateLocked(e, models.ProcessStarting, "spawn issued")
	s.mu.Unlock()

	proc := NewProcess(e.spec.Name, e.spec.Command, e.spec.Args, e.spec.Dir, e.spec.Env, s.logger)
	if err := proc.Start(); err != nil {
		s.mu.Lock()
		e.lastErr = err.Error()
		s.mu.Unlock()
		return err
	}

	now := time.Now()
	s.mu.Lock()
	e.proc = proc
	e.startedAt = &now
	e.readyAt = nil
	e.stoppedAt = nil
	e.lastExit = nil
	e.lastErr = ""
	s.mu.Unlock()

	if s.Cgroups != nil {
		path := s.Cgroups.Setup(e.spec.Name, proc.Pid(), e.spec.Limits)
		s.mu.Lock()
		e.cgroupPath = path
		s.mu.Unlock()
	}

	s.logger.Info("Process started", map[string]interface{}{
		"process": e.spec.Name,
		"pid":     proc.Pid(),
	})
	s.emit(e.spec.Name, EventStarted, fmt.Sprintf("pid %d", proc.Pid()))
	return nil
}

// gate runs the readiness check, racing it against an early exit.
func (s *Supervisor) gate(ctx context.Context, e *entry) error {
	if e.spec.ReadyCheck == nil {
		return nil
	}

	gateCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	checkErr := make(chan error, 1)
	go func() {
		checkErr <- e.spec.ReadyCheck(gateCtx)
	}()

	select {
	case err := <-checkErr:
		return err
	case <-e.proc.Done():
		return fmt.Errorf("process exited during readiness gate: %s", e.proc.Exit().Reason())
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) markReady(e *entry) {
	now := time.Now()
	s.mu.Lock()
	e.readyAt = &now
	s.setStateLocked(e, models.ProcessRunning, "readiness gate passed")
	s.mu.Unlock()

	s.logger.Info("Process ready", map[string]interface{}{
		"process": e.spec.Name,
		"pid":     e.proc.Pid(),
	})
	s.emit(e.spec.Name, EventReady, "")
}

// startFailure resolves a failed first start against the restart policy.
func (s *Supervisor) startFailure(ctx context.Context, e *entry, err error) error {
	s.logger.Error("Process failed to start", map[string]interface{}{
		"process": e.spec.Name,
		"error":   err.Error(),
	})

	s.mu.Lock()
	e.lastErr = err.Error()
	mode := e.policy.Mode
	if mode == models.RestartModeRestart {
		s.setStateLocked(e, models.ProcessBackoff, err.Error())
	} else {
		s.setStateLocked(e, models.ProcessFailed, err.Error())
	}
	s.mu.Unlock()

	s.emit(e.spec.Name, EventExited, err.Error())

	if mode == models.RestartModeRestart {
		go func() {
			if s.backoffRespawn(ctx, e) {
				s.supervise(ctx, e)
			}
		}()
		return nil
	}
	return err
}

// supervise watches one process until it reaches a terminal state.
// Runs as a goroutine per supervised child.
func (s *Supervisor) supervise(ctx context.Context, e *entry) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.proc.Done():
		}

		exit := e.proc.Exit()
		s.clearCgroup(e)

		s.mu.Lock()
		stopping := e.stopping
		e.lastExit = exit
		now := time.Now()
		e.stoppedAt = &now
		s.mu.Unlock()

		if stopping {
			return // ordered stop sets the final state
		}

		reason := exit.Reason()
		s.logger.Warn("Process exited unexpectedly", map[string]interface{}{
			"process": e.spec.Name,
			"reason":  reason,
		})

		if exit.Clean() && e.policy.Mode != models.RestartModeRestart {
			s.mu.Lock()
			s.setStateLocked(e, models.ProcessStopped, reason)
			s.mu.Unlock()
			s.emit(e.spec.Name, EventStopped, reason)
			return
		}

		switch e.policy.Mode {
		case models.RestartModeIgnore:
			s.mu.Lock()
			s.setStateLocked(e, models.ProcessFailed, reason)
			s.mu.Unlock()
			s.emit(e.spec.Name, EventExited, reason+" (restarts disabled)")
			return

		case models.RestartModeFailUnit:
			s.mu.Lock()
			s.setStateLocked(e, models.ProcessFailed, reason)
			s.mu.Unlock()
			s.emit(e.spec.Name, EventExited, reason)
			s.emit(e.spec.Name, EventFailed, reason)
			return

		case models.RestartModeRestart:
			s.mu.Lock()
			s.setStateLocked(e, models.ProcessBackoff, reason)
			s.mu.Unlock()
			s.emit(e.spec.Name, EventExited, reason)
			if !s.backoffRespawn(ctx, e) {
				return
			}
		}
	}
}

// backoffRespawn retries the process until it is running again. Returns
// false when supervision should end (shutdown or ordered stop).
func (s *Supervisor) backoffRespawn(ctx context.Context, e *entry) bool {
	for {
		now := time.Now()
		s.mu.Lock()
		e.restarts = e.policy.PruneWindow(e.restarts, now)
		allowed := e.policy.ShouldRestart(e.restarts, now)
		inWindow := len(e.restarts)
		s.mu.Unlock()

		if !allowed {
			detail := fmt.Sprintf("restart budget exhausted (%d in %s), cooling down for %s",
				inWindow, e.policy.Window, e.policy.Cooldown)
			s.logger.Warn("Restart budget exhausted", map[string]interface{}{
				"process":  e.spec.Name,
				"cooldown": e.policy.Cooldown.String(),
			})
			s.emit(e.spec.Name, EventCooldown, detail)
			if !s.sleep(ctx, e, e.policy.Cooldown) {
				return false
			}
			continue
		}

		delay := e.policy.CalculateDelay(inWindow)
		s.emit(e.spec.Name, EventRestarting, fmt.Sprintf("attempt %d in %s", e.restartCount+1, delay))
		if !s.sleep(ctx, e, delay) {
			return false
		}

		s.mu.Lock()
		e.restarts = append(e.restarts, time.Now())
		e.restartCount++
		s.mu.Unlock()

		if err := s.spawn(e); err != nil {
			s.mu.Lock()
			s.setStateLocked(e, models.ProcessBackoff, err.Error())
			s.mu.Unlock()
			continue // counted against the budget above
		}

		if s.isStopping(e) {
			// Stop landed while we were spawning, put the fresh child down
			if e.proc.Alive() {
				e.proc.Stop(s.stopGrace(e))
			}
			return false
		}

		if err := s.gate(ctx, e); err != nil {
			s.logger.Warn("Readiness gate failed after restart", map[string]interface{}{
				"process": e.spec.Name,
				"error":   err.Error(),
			})
			if e.proc.Alive() {
				e.proc.Stop(s.stopGrace(e))
			}
			if s.isStopping(e) {
				return false
			}
			s.mu.Lock()
			s.setStateLocked(e, models.ProcessBackoff, err.Error())
			s.mu.Unlock()
			s.emit(e.spec.Name, EventExited, fmt.Sprintf("readiness gate failed: %v", err))
			continue
		}

		s.markReady(e)
		return true
	}
}

func (s *Supervisor) isStopping(e *entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.stopping
}

// sleep waits for d unless shutdown or an ordered stop interrupts.
func (s *Supervisor) sleep(ctx context.Context, e *entry, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-e.stopCh:
		return false
	}
}

// Stop performs an ordered stop of one process.
func (s *Supervisor) Stop(name string, grace time.Duration) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown process: %s", name)
	}
	if e.stopping {
		s.mu.Unlock()
		return nil
	}
	e.stopping = true
	close(e.stopCh)
	proc := e.proc
	state := e.state
	s.mu.Unlock()

	if proc == nil || models.IsTerminalState(state) || state == models.ProcessBackoff {
		if models.IsTerminalState(state) {
			return nil // already settled, nothing to signal
		}
		s.mu.Lock()
		s.setStateLocked(e, models.ProcessStopped, "stopped before running")
		s.mu.Unlock()
		s.emit(name, EventStopped, "stopped before running")
		return nil
	}

	if grace <= 0 {
		grace = s.stopGrace(e)
	}

	forced, err := proc.Stop(grace)
	s.clearCgroup(e)

	now := time.Now()
	s.mu.Lock()
	e.lastExit = proc.Exit()
	e.stoppedAt = &now
	if forced {
		s.setStateLocked(e, models.ProcessKilled, "killed after grace period")
	} else {
		s.setStateLocked(e, models.ProcessStopped, "stopped on request")
	}
	s.mu.Unlock()

	if forced {
		s.emit(name, EventStopped, "killed after grace period")
	} else {
		s.emit(name, EventStopped, "")
	}
	return err
}

// StopAll stops every process in reverse start order.
func (s *Supervisor) StopAll(grace time.Duration) {
	s.mu.Lock()
	names := make([]string, len(s.order))
	copy(names, s.order)
	s.mu.Unlock()

	for i := len(names) - 1; i >= 0; i-- {
		if err := s.Stop(names[i], grace); err != nil {
			s.logger.Warn("Failed to stop process", map[string]interface{}{
				"process": names[i],
				"error":   err.Error(),
			})
		}
	}
}

// MarkDegraded flags a running process whose health probes are failing.
func (s *Supervisor) MarkDegraded(name, reason string) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok || e.state != models.ProcessRunning {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(e, models.ProcessDegraded, reason)
	s.mu.Unlock()

	s.emit(name, EventDegraded, reason)
}

// MarkRecovered clears a degraded flag after health probes pass again.
func (s *Supervisor) MarkRecovered(name string) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok || e.state != models.ProcessDegraded {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(e, models.ProcessRunning, "health recovered")
	s.mu.Unlock()

	s.emit(name, EventRecovered, "")
}

// Recycle puts an unhealthy process down so the restart policy can
// decide what happens next. Unlike Stop this is not an ordered stop:
// the supervision loop sees the exit and applies the policy.
func (s *Supervisor) Recycle(name string, grace time.Duration, reason string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown process: %s", name)
	}
	proc := e.proc
	if e.state == models.ProcessRunning {
		s.setStateLocked(e, models.ProcessDegraded, reason)
	}
	s.mu.Unlock()

	if proc == nil {
		return nil
	}

	s.logger.Warn("Recycling unhealthy process", map[string]interface{}{
		"process": name,
		"reason":  reason,
	})
	s.emit(name, EventDegraded, reason)

	if grace <= 0 {
		grace = s.stopGrace(e)
	}
	_, err := proc.Stop(grace)
	return err
}

// Info returns the reported view of one process.
func (s *Supervisor) Info(name string) (models.ProcessInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return models.ProcessInfo{}, false
	}
	return s.infoLocked(e), true
}

// Status returns every process in start order.
func (s *Supervisor) Status() []models.ProcessInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]models.ProcessInfo, 0, len(s.order))
	for _, name := range s.order {
		infos = append(infos, s.infoLocked(s.entries[name]))
	}
	return infos
}

func (s *Supervisor) infoLocked(e *entry) models.ProcessInfo {
	info := models.ProcessInfo{
		Name:       e.spec.Name,
		State:      e.state,
		Foreground: e.spec.Foreground,
		StartedAt:  e.startedAt,
		ReadyAt:    e.readyAt,
		StoppedAt:  e.stoppedAt,
		Restarts:   e.restartCount,
		Error:      e.lastErr,
		CPUPercent: e.cpu,
		MemoryMB:   e.mem,
		CPUPeak:    e.cpuPeak,
		MemoryPeak: e.memPeak,
	}
	if e.proc != nil {
		info.PID = e.proc.Pid()
	}
	if e.lastExit != nil {
		code := e.lastExit.Code
		info.ExitCode = &code
		info.ExitReason = e.lastExit.Reason()
	}
	info.Transitions = make([]models.StateTransition, len(e.transitions))
	copy(info.Transitions, e.transitions)
	return info
}

// SampleUsage polls per-child CPU and memory until ctx ends. Run it as
// a goroutine next to the supervision loops.
func (s *Supervisor) SampleUsage(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleOnce()
		}
	}
}

func (s *Supervisor) sampleOnce() {
	type target struct {
		e   *entry
		pid int
	}

	s.mu.Lock()
	var targets []target
	for _, name := range s.order {
		e := s.entries[name]
		if e.proc != nil && models.IsActiveState(e.state) {
			targets = append(targets, target{e, e.proc.Pid()})
		}
	}
	s.mu.Unlock()

	for _, t := range targets {
		stats, err := sysinfo.Sample(t.pid)
		if err != nil {
			continue // racing an exit is fine
		}
		s.mu.Lock()
		t.e.cpu = stats.CPUPercent
		t.e.mem = stats.MemoryMB
		if stats.CPUPercent > t.e.cpuPeak {
			t.e.cpuPeak = stats.CPUPercent
		}
		if stats.MemoryMB > t.e.memPeak {
			t.e.memPeak = stats.MemoryMB
		}
		s.mu.Unlock()
	}
}

func (s *Supervisor) clearCgroup(e *entry) {
	s.mu.Lock()
	path := e.cgroupPath
	e.cgroupPath = ""
	s.mu.Unlock()

	if path != "" && s.Cgroups != nil {
		s.Cgroups.Delete(path)
	}
}

func (s *Supervisor) stopGrace(e *entry) time.Duration {
	if e.spec.StopGrace > 0 {
		return e.spec.StopGrace
	}
	return defaultStopGrace
}

// setStateLocked records a transition. Callers hold s.mu.
func (s *Supervisor) setStateLocked(e *entry, to models.ProcessState, reason string) {
	from := e.state
	if from == to {
		return
	}
	if err := models.ValidateTransition(from, to); err != nil {
		s.logger.Warn("Unexpected state transition", map[string]interface{}{
			"process": e.spec.Name,
			"error":   err.Error(),
		})
	}
	e.state = to
	e.transitions = append(e.transitions, models.StateTransition{
		From:      from,
		To:        to,
		Timestamp: time.Now(),
		Reason:    reason,
	})
}

// emit publishes an event without ever blocking supervision.
func (s *Supervisor) emit(name string, typ EventType, detail string) {
	s.mu.Lock()
	var state models.ProcessState
	if e, ok := s.entries[name]; ok {
		state = e.state
	}
	s.mu.Unlock()

	ev := Event{
		Name:   name,
		Type:   typ,
		State:  state,
		Detail: detail,
		Time:   time.Now(),
	}

	select {
	case s.events <- ev:
	default:
		s.logger.Debug("Event buffer full, dropping event", map[string]interface{}{
			"process": name,
			"type":    string(typ),
		})
	}
}
