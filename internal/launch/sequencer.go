package launch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stocktrend/prediagent/internal/cgroups"
	"github.com/stocktrend/prediagent/internal/readiness"
	"github.com/stocktrend/prediagent/internal/report"
	"github.com/stocktrend/prediagent/internal/supervisor"
	"github.com/stocktrend/prediagent/pkg/logging"
	"github.com/stocktrend/prediagent/pkg/models"
	"github.com/stocktrend/prediagent/pkg/tlsutil"
)

// Launcher exit codes.
const (
	ExitOK        = 0 // clean shutdown, or the foreground exit code replaces it
	ExitBadPlan   = 2 // the plan was rejected before anything ran
	ExitPreflight = 3 // environment checks failed before anything spawned
	ExitUnitFail  = 4 // a fail-unit process brought the whole unit down
)

// Sequencer drives a plan from preflight to teardown: processes start
// in declared order, each held behind its readiness gate, and the unit
// stays up until the foreground process exits, a fail-unit process
// dies, or a shutdown signal arrives.
type Sequencer struct {
	plan   *Plan
	logger *logging.Logger

	sup       *supervisor.Supervisor
	metrics   *Metrics
	monitors  map[string]*readiness.Monitor
	tlsByName map[string]*tls.Config

	startedAt time.Time
	cancelRun context.CancelFunc
	servers   []*http.Server
}

// NewSequencer prepares a sequencer for one run of the plan.
func NewSequencer(plan *Plan, logger *logging.Logger) *Sequencer {
	if logger == nil {
		logger = logging.NewLogger(logging.INFO, false)
	}
	return &Sequencer{
		plan:      plan,
		logger:    logger.WithField("component", "launcher"),
		monitors:  make(map[string]*readiness.Monitor),
		tlsByName: make(map[string]*tls.Config),
	}
}

// Run executes the plan and returns the launcher exit code.
func (s *Sequencer) Run(ctx context.Context) int {
	s.plan.ApplyDefaults()
	if err := s.plan.Validate(); err != nil {
		s.logger.Error("Plan rejected", map[string]interface{}{"error": err.Error()})
		return ExitBadPlan
	}

	if err := Preflight(s.plan); err != nil {
		var pf *PreflightError
		if errors.As(err, &pf) {
			for _, p := range pf.Problems {
				s.logger.Error("Preflight check failed", map[string]interface{}{"problem": p})
			}
		} else {
			s.logger.Error("Preflight check failed", map[string]interface{}{"error": err.Error()})
		}
		return ExitPreflight
	}

	if err := s.loadTLS(); err != nil {
		s.logger.Error("Preflight check failed", map[string]interface{}{"error": err.Error()})
		return ExitPreflight
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel
	defer cancel()

	s.startedAt = time.Now()
	s.sup = supervisor.New(s.logger)
	if s.plan.Cgroups {
		s.sup.Cgroups = cgroups.New()
	}
	s.metrics = NewMetrics(s.startedAt)

	go s.sup.SampleUsage(runCtx, s.plan.SampleInterval.Std())
	s.serveStatus()
	s.serveMetrics()

	if code, done := s.startAll(runCtx); done {
		return code
	}

	fg := s.plan.Foreground()
	s.logger.Info("Unit is up", map[string]interface{}{
		"processes":  len(s.plan.Processes),
		"foreground": fg.Name,
		"took":       time.Since(s.startedAt).Round(time.Millisecond).String(),
	})

	return s.watch(ctx, fg.Name)
}

// startAll walks the plan in order. Each process must clear its
// readiness gate before the next one spawns. Returns (code, true) when
// the run is already over.
func (s *Sequencer) startAll(runCtx context.Context) (int, bool) {
	for i := range s.plan.Processes {
		proc := &s.plan.Processes[i]

		s.logger.Info("Starting process", map[string]interface{}{
			"process": proc.Name,
			"command": proc.Command,
			"order":   i + 1,
		})

		err := s.sup.Start(runCtx, s.processSpec(proc))
		if err != nil {
			if runCtx.Err() != nil {
				return s.teardown("shutdown requested during startup", ExitOK), true
			}
			if models.RestartMode(proc.Restart.Policy) == models.RestartModeIgnore {
				s.logger.Warn("Process failed to start, continuing per policy", map[string]interface{}{
					"process": proc.Name,
					"error":   err.Error(),
				})
				continue
			}
			cause := fmt.Sprintf("process %s failed to start: %v", proc.Name, err)
			return s.teardown(cause, ExitUnitFail), true
		}

		s.watchHealth(runCtx, proc)
	}
	return 0, false
}

// processSpec translates one plan entry into a supervised spec.
func (s *Sequencer) processSpec(proc *ProcessConfig) supervisor.ProcessSpec {
	spec := supervisor.ProcessSpec{
		Name:       proc.Name,
		Command:    proc.Command,
		Args:       proc.Args,
		Dir:        proc.Dir,
		Env:        proc.Env,
		Foreground: proc.Foreground,
		Policy:     proc.RestartPolicy(),
		StopGrace:  s.plan.ShutdownGrace.Std(),
		ReadyCheck: s.readyCheck(proc),
	}

	if proc.Limits != nil {
		spec.Limits = &cgroups.Limits{
			CPUMax:    proc.Limits.CPUMax,
			CPUWeight: proc.Limits.CPUWeight,
			MemoryMax: proc.Limits.MemoryMaxMB * 1024 * 1024,
			IOMax:     proc.Limits.IOMax,
		}
	}
	return spec
}

// readyCheck builds the gate closure the supervisor re-applies on
// every spawn of this process, restarts included. The foreground entry
// is never gated: it is last in the sequence, nothing waits behind it,
// and its exit must reach the operator as an exit, not as a failed
// start.
func (s *Sequencer) readyCheck(proc *ProcessConfig) func(context.Context) error {
	if proc.Foreground {
		return nil
	}

	gate := &readiness.Gate{
		MinDelay: proc.MinDelay.Std(),
		Logger:   s.logger.WithField("process", proc.Name),
	}

	if proc.Ready.Enabled() {
		gate.Interval = proc.Ready.Interval.Std()
		gate.Timeout = proc.Ready.Timeout.Std()
		gate.Successes = proc.Ready.Successes
		gate.Prober = s.prober(proc, proc.Ready.URL, proc.Ready.TCP, proc.Ready.ProbeTimeout.Std())
	}

	return gate.Wait
}

// prober picks HTTP or TCP probing for one target.
func (s *Sequencer) prober(proc *ProcessConfig, url, tcp string, timeout time.Duration) readiness.Prober {
	if url != "" {
		p := readiness.NewHTTPProber(url, timeout)
		if cfg := s.tlsByName[proc.Name]; cfg != nil {
			p = p.WithTLS(cfg)
		}
		return p
	}
	return readiness.NewTCPProber(tcp, timeout)
}

// loadTLS resolves every ca_file in the plan before anything spawns,
// so a bad path surfaces as a preflight failure rather than a gate
// timeout.
func (s *Sequencer) loadTLS() error {
	for i := range s.plan.Processes {
		proc := &s.plan.Processes[i]
		if proc.Ready == nil || proc.Ready.CAFile == "" {
			continue
		}
		cfg, err := tlsutil.LoadClientConfig("", "", proc.Ready.CAFile)
		if err != nil {
			return fmt.Errorf("process %q: %w", proc.Name, err)
		}
		s.tlsByName[proc.Name] = cfg
	}
	return nil
}

// watchHealth attaches steady-state health polling to a started
// process. Degraded and recovered probes only flip the reported state;
// an unhealthy streak recycles the process so its restart policy runs.
func (s *Sequencer) watchHealth(runCtx context.Context, proc *ProcessConfig) {
	if proc.Health == nil || proc.Health.URL == "" {
		return
	}

	name := proc.Name
	grace := s.plan.ShutdownGrace.Std()

	hp := readiness.NewHTTPProber(proc.Health.URL, 0)
	if cfg := s.tlsByName[name]; cfg != nil {
		hp = hp.WithTLS(cfg)
	}

	mon := &readiness.Monitor{
		Prober:         hp,
		Interval:       proc.Health.Interval.Std(),
		DegradedAfter:  proc.Health.DegradedAfter,
		UnhealthyAfter: proc.Health.UnhealthyAfter,
		Logger:         s.logger.WithField("process", name),
		OnDegraded: func(reason string) {
			s.sup.MarkDegraded(name, reason)
		},
		OnRecovered: func() {
			s.sup.MarkRecovered(name)
		},
		OnUnhealthy: func(reason string) {
			if err := s.sup.Recycle(name, grace, reason); err != nil {
				s.logger.Warn("Failed to recycle process", map[string]interface{}{
					"process": name,
					"error":   err.Error(),
				})
			}
		},
	}

	s.monitors[name] = mon
	go mon.Run(runCtx)
}

// watch consumes supervision events until something ends the run.
// Events can drop under backpressure, so the foreground state is also
// polled.
func (s *Sequencer) watch(ctx context.Context, fgName string) int {
	events := s.sup.Events()
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.teardown("shutdown requested", ExitOK)

		case ev := <-events:
			s.metrics.RecordEvent(ev)
			s.logEvent(ev)

			if ev.Name == fgName && models.IsTerminalState(ev.State) {
				return s.foregroundDone(fgName)
			}
			if ev.Type == supervisor.EventFailed {
				cause := fmt.Sprintf("process %s failed: %s", ev.Name, ev.Detail)
				return s.teardown(cause, ExitUnitFail)
			}

		case <-tick.C:
			if info, ok := s.sup.Info(fgName); ok && models.IsTerminalState(info.State) {
				return s.foregroundDone(fgName)
			}
		}
	}
}

// foregroundDone tears the unit down and propagates the foreground
// exit code as the launcher's own.
func (s *Sequencer) foregroundDone(fgName string) int {
	info, _ := s.sup.Info(fgName)
	code := ExitOK
	if info.ExitCode != nil {
		code = *info.ExitCode
	}

	cause := fmt.Sprintf("foreground process %s exited", fgName)
	if info.ExitReason != "" {
		cause = fmt.Sprintf("foreground process %s exited: %s", fgName, info.ExitReason)
	}
	return s.teardown(cause, code)
}

// teardown stops everything in reverse order, writes the session
// report, and returns the exit code it was handed.
func (s *Sequencer) teardown(cause string, code int) int {
	s.logger.Info("Stopping unit", map[string]interface{}{
		"cause": cause,
		"code":  code,
	})

	if s.cancelRun != nil {
		s.cancelRun()
	}
	s.sup.StopAll(s.plan.ShutdownGrace.Std())
	s.writeReport(cause, code)
	s.shutdownServers()

	s.logger.Info("Unit stopped", map[string]interface{}{
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
	return code
}

// writeReport persists the session outcome when the plan asks for one.
func (s *Sequencer) writeReport(cause string, code int) {
	if s.plan.ReportPath == "" {
		return
	}

	rep := report.NewSession(s.startedAt, cause, code, s.sup.Status())
	if err := rep.Write(s.plan.ReportPath); err != nil {
		s.logger.Warn("Failed to write session report", map[string]interface{}{
			"path":  s.plan.ReportPath,
			"error": err.Error(),
		})
		return
	}
	rep.LogSummary(s.logger)
}

// logEvent mirrors the supervision stream into the launcher log.
func (s *Sequencer) logEvent(ev supervisor.Event) {
	fields := map[string]interface{}{
		"process": ev.Name,
		"state":   string(ev.State),
	}
	if ev.Detail != "" {
		fields["detail"] = ev.Detail
	}

	switch ev.Type {
	case supervisor.EventExited, supervisor.EventFailed, supervisor.EventCooldown:
		s.logger.Warn("Supervision event: "+string(ev.Type), fields)
	default:
		s.logger.Info("Supervision event: "+string(ev.Type), fields)
	}
}
