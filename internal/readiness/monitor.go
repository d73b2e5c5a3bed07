package readiness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stocktrend/prediagent/pkg/logging"
)

// HealthStatus represents the observed health of a supervised target
type HealthStatus int

const (
	HealthStatusHealthy HealthStatus = iota
	HealthStatusDegraded
	HealthStatusUnhealthy
)

// String returns string representation of health status
func (hs HealthStatus) String() string {
	switch hs {
	case HealthStatusHealthy:
		return "healthy"
	case HealthStatusDegraded:
		return "degraded"
	case HealthStatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Monitor polls a target after its gate passed and tracks consecutive
// probe failures. Crossing DegradedAfter failures fires OnDegraded,
// crossing UnhealthyAfter fires OnUnhealthy, and the first success
// after any failures fires OnRecovered. After an unhealthy trigger the
// failure streak resets so the target's restart gets a full window to
// come back up.
type Monitor struct {
	Prober         Prober
	Interval       time.Duration
	DegradedAfter  int
	UnhealthyAfter int

	OnDegraded  func(reason string)
	OnRecovered func()
	OnUnhealthy func(reason string)

	Logger *logging.Logger

	mu                  sync.Mutex
	status              HealthStatus
	consecutiveFailures int
	totalFailures       int64
	totalProbes         int64
	lastSuccess         time.Time
	lastErr             error
}

// Run polls until ctx ends. Run it as a goroutine per watched target.
func (m *Monitor) Run(ctx context.Context) {
	interval := m.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	degradedAfter := m.DegradedAfter
	if degradedAfter <= 0 {
		degradedAfter = 2
	}
	unhealthyAfter := m.UnhealthyAfter
	if unhealthyAfter <= degradedAfter {
		unhealthyAfter = degradedAfter * 2
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := m.Prober.Check(ctx)
		if err == nil {
			m.recordSuccess()
			continue
		}
		m.recordFailure(err, degradedAfter, unhealthyAfter)
	}
}

func (m *Monitor) recordSuccess() {
	m.mu.Lock()
	wasFailing := m.consecutiveFailures > 0 || m.status != HealthStatusHealthy
	m.consecutiveFailures = 0
	m.status = HealthStatusHealthy
	m.lastSuccess = time.Now()
	m.totalProbes++
	m.mu.Unlock()

	if wasFailing && m.OnRecovered != nil {
		m.OnRecovered()
	}
}

func (m *Monitor) recordFailure(err error, degradedAfter, unhealthyAfter int) {
	m.mu.Lock()
	m.consecutiveFailures++
	m.totalFailures++
	m.totalProbes++
	m.lastErr = err
	failures := m.consecutiveFailures
	prev := m.status

	var fire func(reason string)
	var reason string
	switch {
	case failures >= unhealthyAfter:
		m.status = HealthStatusUnhealthy
		reason = fmt.Sprintf("%d consecutive probe failures: %v", failures, err)
		fire = m.OnUnhealthy
		// Full window again before the next unhealthy trigger
		m.consecutiveFailures = 0
	case failures >= degradedAfter && prev == HealthStatusHealthy:
		m.status = HealthStatusDegraded
		reason = fmt.Sprintf("%d consecutive probe failures: %v", failures, err)
		fire = m.OnDegraded
	}
	m.mu.Unlock()

	if m.Logger != nil {
		m.Logger.Debug("Health probe failed", map[string]interface{}{
			"target":   m.Prober.Target(),
			"failures": failures,
			"error":    err.Error(),
		})
	}

	if fire != nil && reason != "" {
		fire(reason)
	}
}

// Status returns the current observed health.
func (m *Monitor) Status() HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Report returns a snapshot for status endpoints.
func (m *Monitor) Report() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := map[string]interface{}{
		"target":               m.Prober.Target(),
		"status":               m.status.String(),
		"consecutive_failures": m.consecutiveFailures,
		"total_failures":       m.totalFailures,
		"total_probes":         m.totalProbes,
	}
	if !m.lastSuccess.IsZero() {
		report["last_success"] = m.lastSuccess.Format(time.RFC3339)
	}
	if m.lastErr != nil {
		report["last_error"] = m.lastErr.Error()
	}
	return report
}
