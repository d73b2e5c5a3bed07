package launch

import (
	"bytes"
	"fmt"
	"net/http"
	"sync"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/stocktrend/prediagent/internal/supervisor"
	"github.com/stocktrend/prediagent/pkg/models"
)

// Metrics exports Prometheus metrics for the launcher
type Metrics struct {
	startTime time.Time
	mu        sync.RWMutex
	events    map[string]int64 // event type -> count
}

// NewMetrics creates the launcher metrics collector
func NewMetrics(startTime time.Time) *Metrics {
	return &Metrics{
		startTime: startTime,
		events:    make(map[string]int64),
	}
}

// RecordEvent counts one supervision event
func (m *Metrics) RecordEvent(ev supervisor.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[string(ev.Type)]++
}

// metricsHandler serves Prometheus-compatible metrics at /metrics
func (s *Sequencer) metricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		processes := s.sup.Status()

		// prediagent_unit_uptime_seconds
		fmt.Fprintf(w, "# HELP prediagent_unit_uptime_seconds Unit uptime in seconds\n")
		fmt.Fprintf(w, "# TYPE prediagent_unit_uptime_seconds gauge\n")
		fmt.Fprintf(w, "prediagent_unit_uptime_seconds %.0f\n", time.Since(s.startedAt).Seconds())

		// prediagent_processes
		fmt.Fprintf(w, "\n# HELP prediagent_processes Number of supervised processes\n")
		fmt.Fprintf(w, "# TYPE prediagent_processes gauge\n")
		fmt.Fprintf(w, "prediagent_processes %d\n", len(processes))

		// prediagent_process_up{process}
		fmt.Fprintf(w, "\n# HELP prediagent_process_up Whether the process is alive (1) or down (0)\n")
		fmt.Fprintf(w, "# TYPE prediagent_process_up gauge\n")
		for _, p := range processes {
			up := 0
			if p.State == models.ProcessRunning || p.State == models.ProcessDegraded || p.State == models.ProcessStarting {
				up = 1
			}
			fmt.Fprintf(w, "prediagent_process_up{process=\"%s\"} %d\n", p.Name, up)
		}

		// prediagent_process_state{process,state}
		fmt.Fprintf(w, "\n# HELP prediagent_process_state Current lifecycle state per process\n")
		fmt.Fprintf(w, "# TYPE prediagent_process_state gauge\n")
		for _, p := range processes {
			fmt.Fprintf(w, "prediagent_process_state{process=\"%s\",state=\"%s\"} 1\n", p.Name, p.State)
		}

		// prediagent_process_restarts_total{process}
		fmt.Fprintf(w, "\n# HELP prediagent_process_restarts_total Restarts per process since launch\n")
		fmt.Fprintf(w, "# TYPE prediagent_process_restarts_total counter\n")
		for _, p := range processes {
			fmt.Fprintf(w, "prediagent_process_restarts_total{process=\"%s\"} %d\n", p.Name, p.Restarts)
		}

		// prediagent_process_cpu_percent{process}
		fmt.Fprintf(w, "\n# HELP prediagent_process_cpu_percent Sampled CPU usage per process\n")
		fmt.Fprintf(w, "# TYPE prediagent_process_cpu_percent gauge\n")
		for _, p := range processes {
			fmt.Fprintf(w, "prediagent_process_cpu_percent{process=\"%s\"} %.2f\n", p.Name, p.CPUPercent)
		}

		// prediagent_process_memory_mb{process}
		fmt.Fprintf(w, "\n# HELP prediagent_process_memory_mb Sampled RSS per process in MB\n")
		fmt.Fprintf(w, "# TYPE prediagent_process_memory_mb gauge\n")
		for _, p := range processes {
			fmt.Fprintf(w, "prediagent_process_memory_mb{process=\"%s\"} %.2f\n", p.Name, p.MemoryMB)
		}

		// prediagent_supervision_events_total{type}
		s.metrics.mu.RLock()
		fmt.Fprintf(w, "\n# HELP prediagent_supervision_events_total Supervision events by type\n")
		fmt.Fprintf(w, "# TYPE prediagent_supervision_events_total counter\n")
		for evType, count := range s.metrics.events {
			fmt.Fprintf(w, "prediagent_supervision_events_total{type=\"%s\"} %d\n", evType, count)
		}
		s.metrics.mu.RUnlock()

		// Append the Prometheus-registered metrics (Go runtime, promhttp)
		fmt.Fprintf(w, "\n")

		metricFamilies, err := promclient.DefaultGatherer.Gather()
		if err != nil {
			fmt.Fprintf(w, "# Error gathering Prometheus metrics: %v\n", err)
			return
		}

		var buf bytes.Buffer
		encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
		for _, mf := range metricFamilies {
			// Skip metrics we've already written manually (to avoid duplicates)
			switch mf.GetName() {
			case "prediagent_unit_uptime_seconds",
				"prediagent_processes",
				"prediagent_process_up",
				"prediagent_process_state",
				"prediagent_process_restarts_total",
				"prediagent_process_cpu_percent",
				"prediagent_process_memory_mb",
				"prediagent_supervision_events_total":
				continue
			}

			if err := encoder.Encode(mf); err != nil {
				fmt.Fprintf(w, "# Error encoding metric %s: %v\n", mf.GetName(), err)
			}
		}

		w.Write(buf.Bytes())
	})
}
