package agent

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// requireAPIKey guards the admin routes. With no keys configured the
// routes are closed, not open.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.keys == nil || s.keys.Size() == 0 {
			http.Error(w, "Admin API disabled", http.StatusForbidden)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		apiKey := strings.TrimPrefix(authHeader, "Bearer ")
		if err := s.keys.Validate(apiKey); err != nil {
			s.logger.Warn("Admin request rejected", map[string]interface{}{
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			})
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// AdminPrune runs forecast retention immediately
func (s *Server) AdminPrune(w http.ResponseWriter, r *http.Request) {
	if s.retention == nil {
		http.Error(w, "Retention not configured", http.StatusServiceUnavailable)
		return
	}

	deleted, err := s.retention.PruneNow()
	if err != nil {
		http.Error(w, fmt.Sprintf("Prune failed: %v", err), http.StatusInternalServerError)
		return
	}

	s.logger.Info("Manual prune completed", map[string]interface{}{
		"deleted": deleted,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": deleted})
}

// AdminStats reports store contents and server counters
func (s *Server) AdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to collect stats: %v", err), http.StatusInternalServerError)
		return
	}

	out := map[string]interface{}{
		"tickers":             stats.Tickers,
		"quotes":              stats.Quotes,
		"forecasts":           stats.Forecasts,
		"forecasts_by_source": stats.ForecastsBySource,
		"version":             s.config.Version,
		"uptime_seconds":      int64(time.Since(s.startedAt).Seconds()),
	}
	if s.retention != nil {
		out["retention"] = s.retention.Stats()
	}
	if s.limiter != nil {
		out["rate_limit_clients"] = s.limiter.Size()
	}

	writeJSON(w, http.StatusOK, out)
}
