package agent

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/stocktrend/prediagent/pkg/a2a"
	"github.com/stocktrend/prediagent/pkg/auth"
	"github.com/stocktrend/prediagent/pkg/forecast"
	"github.com/stocktrend/prediagent/pkg/logging"
	"github.com/stocktrend/prediagent/pkg/ratelimit"
	"github.com/stocktrend/prediagent/pkg/store"
)

// Config holds the agent server settings
type Config struct {
	// Version is reported on the agent card and health endpoint
	Version string

	// PublicURL overrides the base URL advertised on the agent card.
	// When empty the URL is derived from the incoming request.
	PublicURL string

	// RateRPS and RateBurst bound per-client request rates on the
	// forecast endpoints. A zero RateRPS disables rate limiting.
	RateRPS   float64
	RateBurst int
}

// DefaultConfig returns the standard agent server settings
func DefaultConfig() Config {
	return Config{
		Version:   "1.0.0",
		RateRPS:   10,
		RateBurst: 20,
	}
}

// Server handles forecast agent API requests
type Server struct {
	store     store.Store
	engine    *forecast.Engine
	logger    *logging.Logger
	config    Config
	limiter   *ratelimit.Limiter
	keys      *auth.KeyManager
	retention *Retention
	metrics   *Metrics
	methods   map[string]bool
	startedAt time.Time
}

// NewServer creates a new agent server
func NewServer(st store.Store, engine *forecast.Engine, logger *logging.Logger, config Config) *Server {
	if config.Version == "" {
		config.Version = DefaultConfig().Version
	}

	var limiter *ratelimit.Limiter
	if config.RateRPS > 0 {
		burst := config.RateBurst
		if burst <= 0 {
			burst = int(config.RateRPS)
		}
		limiter = ratelimit.NewLimiter(config.RateRPS, burst)
	}

	startedAt := time.Now()

	s := &Server{
		store:     st,
		engine:    engine,
		logger:    logger,
		config:    config,
		limiter:   limiter,
		metrics:   NewMetrics(st, startedAt),
		methods:   make(map[string]bool),
		startedAt: startedAt,
	}

	// The method table mirrors what the card advertises so discovery
	// and dispatch cannot drift apart.
	for _, m := range a2a.NewCard("", config.Version).CandidateMethods() {
		s.methods[m] = true
	}

	return s
}

// SetKeyManager enables the admin endpoints with the given keys
func (s *Server) SetKeyManager(keys *auth.KeyManager) {
	s.keys = keys
}

// SetRetention attaches a retention manager so /admin/prune can trigger
// immediate sweeps
func (s *Server) SetRetention(r *Retention) {
	s.retention = r
}

// Metrics returns the server's metrics recorder
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// RegisterRoutes registers all API routes
func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc(a2a.CardPath, s.AgentCard).Methods("GET")
	r.HandleFunc(a2a.InvokePath, s.Invoke).Methods("POST")
	r.HandleFunc("/health", s.Health).Methods("GET")
	r.HandleFunc("/ready", s.Ready).Methods("GET")
	r.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	// Admin routes (API-key protected)
	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireAPIKey)
	admin.HandleFunc("/prune", s.AdminPrune).Methods("POST")
	admin.HandleFunc("/stats", s.AdminStats).Methods("GET")

	// JSON-RPC lives at the root
	r.HandleFunc("/", s.RPC).Methods("POST")
}

// RateLimit returns middleware bounding per-client request rates on the
// forecast surface. Probe and metrics endpoints are exempt so launcher
// health checks are never throttled.
func (s *Server) RateLimit() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/health", "/ready", "/metrics":
				next.ServeHTTP(w, r)
				return
			}
			if s.limiter != nil && !s.limiter.Allow(ratelimit.IPKeyFunc(r)) {
				s.metrics.RecordThrottled()
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LogRequests returns middleware recording request latency and logging
// completed requests
func (s *Server) LogRequests() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			elapsed := time.Since(start)
			s.metrics.ObserveRequest(r.URL.Path, elapsed)
			s.logger.Debug("Request handled", map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rw.status,
				"duration_ms": elapsed.Milliseconds(),
				"remote":      r.RemoteAddr,
			})
		})
	}
}

// AgentCard serves the discovery document at the well-known path
func (s *Server) AgentCard(w http.ResponseWriter, r *http.Request) {
	base := s.config.PublicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	writeJSON(w, http.StatusOK, a2a.NewCard(strings.TrimRight(base, "/"), s.config.Version))
}

// Health reports liveness and dependency status
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	storeStatus := "ok"

	if err := s.store.HealthCheck(); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		storeStatus = err.Error()
	}

	writeJSON(w, code, map[string]interface{}{
		"status":         status,
		"store":          storeStatus,
		"version":        s.config.Version,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

// Ready reports whether the agent can serve forecasts. The launcher
// readiness gate polls this before releasing dependent processes.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"ready":  false,
			"reason": "forecast engine not configured",
		})
		return
	}
	if err := s.store.HealthCheck(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"ready":  false,
			"reason": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ready": true})
}

// writeJSON writes v as a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusRecorder wraps http.ResponseWriter to capture the status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
