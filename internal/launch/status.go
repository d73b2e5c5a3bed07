package launch

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/stocktrend/prediagent/pkg/models"
)

// statusRouter exposes the launcher's own observation surface: unit
// status, per-process health reports, and a liveness probe for the
// launcher itself.
func (s *Sequencer) statusRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	return r
}

// handleStatus reports the whole unit: every process with its state,
// restarts, exit info and resource usage.
func (s *Sequencer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := models.UnitStatus{
		StartedAt: s.startedAt,
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Processes: s.sup.Status(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// handleHealth aggregates the health monitors. The overall field is
// the worst status across all watched processes.
func (s *Sequencer) handleHealth(w http.ResponseWriter, r *http.Request) {
	overall := "healthy"
	reports := make(map[string]interface{})

	for name, mon := range s.monitors {
		reports[name] = mon.Report()
		switch mon.Status().String() {
		case "unhealthy":
			overall = "unhealthy"
		case "degraded":
			if overall == "healthy" {
				overall = "degraded"
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"overall":   overall,
		"processes": reports,
	})
}

// handleHealthz answers for the launcher process itself.
func (s *Sequencer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// serveStatus starts the status server when the plan asks for one.
func (s *Sequencer) serveStatus() {
	if s.plan.StatusAddr == "" {
		return
	}

	srv := &http.Server{
		Addr:         s.plan.StatusAddr,
		Handler:      s.statusRouter(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.servers = append(s.servers, srv)

	s.logger.Info("Status server listening", map[string]interface{}{"addr": s.plan.StatusAddr})
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Warn("Status server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
}

// serveMetrics starts the metrics server when the plan asks for one.
func (s *Sequencer) serveMetrics() {
	if s.plan.MetricsAddr == "" {
		return
	}

	h := http.NewServeMux()
	h.Handle("/metrics", s.metricsHandler())

	srv := &http.Server{
		Addr:         s.plan.MetricsAddr,
		Handler:      h,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.servers = append(s.servers, srv)

	s.logger.Info("Metrics server listening", map[string]interface{}{"addr": s.plan.MetricsAddr})
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Warn("Metrics server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
}

// shutdownServers drains the status and metrics servers.
func (s *Sequencer) shutdownServers() {
	for _, srv := range s.servers {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		srv.Shutdown(ctx)
		cancel()
	}
}
