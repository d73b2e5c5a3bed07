package ui

import (
	"context"
	_ "embed"
	"encoding/json"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/stocktrend/prediagent/pkg/a2a"
	"github.com/stocktrend/prediagent/pkg/logging"
	"github.com/stocktrend/prediagent/pkg/models"
	"github.com/stocktrend/prediagent/pkg/retry"
)

//go:embed dashboard.html
var dashboardHTML string

var dashboardTmpl = template.Must(template.New("dashboard").Parse(dashboardHTML))

// forecastTimeout bounds one dashboard or API forecast request
const forecastTimeout = 10 * time.Second

// healthTimeout bounds agent health probes made on behalf of the browser
const healthTimeout = 3 * time.Second

// Config holds the UI server settings
type Config struct {
	// AgentURL is the base URL of the forecast agent
	AgentURL string

	// Version is shown in the page footer and health endpoint
	Version string
}

// Server renders the forecast dashboard and proxies API calls to the
// agent. It holds no session state.
type Server struct {
	config    Config
	client    *a2a.Client
	logger    *logging.Logger
	metrics   *Metrics
	http      *http.Client
	startedAt time.Time
}

// NewServer creates a new UI server talking to the agent at
// config.AgentURL
func NewServer(config Config, logger *logging.Logger) *Server {
	client := a2a.NewClient(config.AgentURL, logger)

	// A browser request should fail fast rather than ride the full
	// agent backoff budget.
	client.Retry = retry.Config{
		MaxRetries:     1,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2.0,
	}

	return &Server{
		config:    config,
		client:    client,
		logger:    logger,
		metrics:   NewMetrics(time.Now()),
		http:      &http.Client{Timeout: healthTimeout},
		startedAt: time.Now(),
	}
}

// Client returns the agent client, for callers that want to share it
func (s *Server) Client() *a2a.Client {
	return s.client
}

// RegisterRoutes registers all UI routes
func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/", s.Dashboard).Methods("GET")
	r.HandleFunc("/api/forecast", s.APIForecast).Methods("GET")
	r.HandleFunc("/api/agent/health", s.AgentHealth).Methods("GET")
	r.HandleFunc("/healthz", s.Healthz).Methods("GET")
	r.Handle("/metrics", s.metrics.Handler()).Methods("GET")
}

// dashboardData is the template context for one page render
type dashboardData struct {
	Ticker   string
	Points   []models.ForecastPoint
	Error    string
	AgentUp  bool
	AgentURL string
	Version  string
}

// Dashboard renders the ticker form and, when a ticker is submitted, the
// forecast table
func (s *Server) Dashboard(w http.ResponseWriter, r *http.Request) {
	s.metrics.RecordPageView()

	data := dashboardData{
		Ticker:   models.NormalizeTicker(r.URL.Query().Get("ticker")),
		AgentUp:  s.agentUp(r.Context()),
		AgentURL: s.config.AgentURL,
		Version:  s.config.Version,
	}

	if data.Ticker != "" {
		ctx, cancel := context.WithTimeout(r.Context(), forecastTimeout)
		result, err := s.client.Forecast(ctx, data.Ticker, 0)
		cancel()

		if err != nil {
			data.Error = "Forecast unavailable: " + err.Error()
			s.metrics.RecordProxy(false)
			s.logger.Warn("Dashboard forecast failed", map[string]interface{}{
				"ticker": data.Ticker,
				"error":  err.Error(),
			})
		} else {
			data.Points = models.PointsFromMap(result)
			s.metrics.RecordProxy(true)
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTmpl.Execute(w, data); err != nil {
		s.logger.Error("Failed to render dashboard", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// APIForecast proxies a forecast request to the agent and returns the
// date to price mapping as JSON
func (s *Server) APIForecast(w http.ResponseWriter, r *http.Request) {
	ticker := models.NormalizeTicker(r.URL.Query().Get("ticker"))
	if ticker == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "ticker query parameter is required",
		})
		return
	}

	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error": "days must be a non-negative integer",
			})
			return
		}
		days = parsed
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), forecastTimeout)
	defer cancel()

	result, err := s.client.Forecast(ctx, ticker, days)
	s.metrics.ObserveProxy(time.Since(start))
	if err != nil {
		s.metrics.RecordProxy(false)
		s.logger.Warn("Forecast proxy failed", map[string]interface{}{
			"ticker": ticker,
			"error":  err.Error(),
		})
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	s.metrics.RecordProxy(true)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ticker":   ticker,
		"horizon":  len(result),
		"forecast": result,
	})
}

// AgentHealth forwards the agent's health report, preserving its status
// code so browsers see what the launcher sees
func (s *Server) AgentHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.AgentURL+"/health", nil)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	resp, err := s.http.Do(req)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"status": "unreachable",
			"error":  err.Error(),
		})
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// Healthz reports the UI's own readiness. The launcher gate polls this
// endpoint; agent reachability is deliberately not part of it, the UI
// renders an offline badge instead of failing its probe.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"version":        s.config.Version,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

// agentUp runs a quick health probe for the dashboard badge
func (s *Server) agentUp(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.AgentURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

// writeJSON writes v as a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
