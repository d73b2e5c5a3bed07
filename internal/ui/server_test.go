package ui_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stocktrend/prediagent/internal/agent"
	"github.com/stocktrend/prediagent/internal/ui"
	"github.com/stocktrend/prediagent/pkg/forecast"
	"github.com/stocktrend/prediagent/pkg/logging"
	"github.com/stocktrend/prediagent/pkg/models"
	"github.com/stocktrend/prediagent/pkg/store"
)

// deadAgentURL points at a port nothing listens on, so probes fail fast
const deadAgentURL = "http://127.0.0.1:1"

// newUpstreamAgent spins a real agent backed by a memory store
func newUpstreamAgent(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()

	testStore := store.NewMemoryStore()
	logger := logging.NewLogger(logging.ERROR, false)
	engine := forecast.NewEngine(testStore, logger, forecast.DefaultConfig())

	srv := agent.NewServer(testStore, engine, logger, agent.Config{})
	router := mux.NewRouter()
	srv.RegisterRoutes(router)

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts, testStore
}

func newUIRouter(t *testing.T, agentURL string) *mux.Router {
	t.Helper()

	logger := logging.NewLogger(logging.ERROR, false)
	srv := ui.NewServer(ui.Config{AgentURL: agentURL, Version: "test"}, logger)

	router := mux.NewRouter()
	srv.RegisterRoutes(router)
	return router
}

func TestDashboardRenders(t *testing.T) {
	upstream, _ := newUpstreamAgent(t)
	router := newUIRouter(t, upstream.URL)

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	if !strings.Contains(body, "prediAgent") {
		t.Error("Expected page title in dashboard")
	}
	if !strings.Contains(body, "agent online") {
		t.Error("Expected online badge with reachable agent")
	}
	if strings.Contains(body, "Predicted close") {
		t.Error("Expected no forecast table without a ticker")
	}
}

func TestDashboardForecast(t *testing.T) {
	upstream, testStore := newUpstreamAgent(t)
	router := newUIRouter(t, upstream.URL)

	quotes := []models.Quote{
		{Ticker: "AAPL", Date: "2026-01-05", Close: 100},
		{Ticker: "AAPL", Date: "2026-01-06", Close: 102},
		{Ticker: "AAPL", Date: "2026-01-07", Close: 101},
	}
	if err := testStore.SaveQuotes(quotes); err != nil {
		t.Fatalf("Failed to seed quotes: %v", err)
	}

	req := httptest.NewRequest("GET", "/?ticker=aapl", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	if !strings.Contains(body, "AAPL") {
		t.Error("Expected normalized ticker on page")
	}
	if !strings.Contains(body, "Predicted close") {
		t.Error("Expected forecast table on page")
	}
}

func TestDashboardAgentOffline(t *testing.T) {
	router := newUIRouter(t, deadAgentURL)

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected dashboard to render despite dead agent, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "agent offline") {
		t.Error("Expected offline badge with unreachable agent")
	}
}

func TestAPIForecast(t *testing.T) {
	upstream, _ := newUpstreamAgent(t)
	router := newUIRouter(t, upstream.URL)

	t.Run("OK", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/forecast?ticker=msft&days=3", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d. Body: %s", w.Code, w.Body.String())
		}

		var resp struct {
			Ticker   string             `json:"ticker"`
			Horizon  int                `json:"horizon"`
			Forecast map[string]float64 `json:"forecast"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse response: %v", err)
		}
		if resp.Ticker != "MSFT" {
			t.Errorf("Expected normalized ticker MSFT, got %q", resp.Ticker)
		}
		if resp.Horizon != 3 || len(resp.Forecast) != 3 {
			t.Errorf("Expected 3 forecast days, got horizon=%d len=%d", resp.Horizon, len(resp.Forecast))
		}
	})

	t.Run("MissingTicker", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/forecast", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", w.Code)
		}
	})

	t.Run("BadDays", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/forecast?ticker=A&days=soon", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", w.Code)
		}
	})

	t.Run("AgentDown", func(t *testing.T) {
		deadRouter := newUIRouter(t, deadAgentURL)

		req := httptest.NewRequest("GET", "/api/forecast?ticker=msft", nil)
		w := httptest.NewRecorder()
		deadRouter.ServeHTTP(w, req)

		if w.Code != http.StatusBadGateway {
			t.Errorf("Expected status 502, got %d", w.Code)
		}
	})
}

func TestAgentHealthPassthrough(t *testing.T) {
	t.Run("Reachable", func(t *testing.T) {
		upstream, _ := newUpstreamAgent(t)
		router := newUIRouter(t, upstream.URL)

		req := httptest.NewRequest("GET", "/api/agent/health", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), "healthy") {
			t.Error("Expected agent health body to pass through")
		}
	})

	t.Run("Unreachable", func(t *testing.T) {
		router := newUIRouter(t, deadAgentURL)

		req := httptest.NewRequest("GET", "/api/agent/health", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusBadGateway {
			t.Fatalf("Expected status 502, got %d", w.Code)
		}

		var body map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("Failed to parse response: %v", err)
		}
		if body["status"] != "unreachable" {
			t.Errorf("Expected unreachable status, got %v", body["status"])
		}
	})
}

func TestHealthz(t *testing.T) {
	// Own readiness never depends on the agent
	router := newUIRouter(t, deadAgentURL)

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("Expected ok status, got %v", body["status"])
	}
}

func TestUIMetrics(t *testing.T) {
	upstream, _ := newUpstreamAgent(t)
	router := newUIRouter(t, upstream.URL)

	// One page view so the counter has a sample
	req := httptest.NewRequest("GET", "/", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "prediagent_ui_page_views_total") {
		t.Error("Expected page view counter in metrics output")
	}
}
