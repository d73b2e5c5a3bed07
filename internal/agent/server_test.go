package agent_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stocktrend/prediagent/internal/agent"
	"github.com/stocktrend/prediagent/pkg/a2a"
	"github.com/stocktrend/prediagent/pkg/auth"
	"github.com/stocktrend/prediagent/pkg/forecast"
	"github.com/stocktrend/prediagent/pkg/logging"
	"github.com/stocktrend/prediagent/pkg/models"
	"github.com/stocktrend/prediagent/pkg/store"
)

func newTestServer(t *testing.T, config agent.Config) (*agent.Server, *mux.Router, store.Store) {
	t.Helper()

	testStore := store.NewMemoryStore()
	logger := logging.NewLogger(logging.ERROR, false)
	engine := forecast.NewEngine(testStore, logger, forecast.DefaultConfig())

	srv := agent.NewServer(testStore, engine, logger, config)
	router := mux.NewRouter()
	router.Use(srv.RateLimit())
	srv.RegisterRoutes(router)

	return srv, router, testStore
}

func seedQuotes(t *testing.T, st store.Store, ticker string, closes ...float64) {
	t.Helper()

	day := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	quotes := make([]models.Quote, len(closes))
	for i, c := range closes {
		quotes[i] = models.Quote{
			Ticker: ticker,
			Date:   day.AddDate(0, 0, i).Format(models.DateLayout),
			Close:  c,
		}
	}
	if err := st.SaveQuotes(quotes); err != nil {
		t.Fatalf("Failed to seed quotes: %v", err)
	}
}

func rpcRequest(t *testing.T, router *mux.Router, body string) (*httptest.ResponseRecorder, a2a.Response) {
	t.Helper()

	req := httptest.NewRequest("POST", "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp a2a.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse JSON-RPC response: %v. Body: %s", err, w.Body.String())
	}
	return w, resp
}

func TestAgentCard(t *testing.T) {
	_, router, _ := newTestServer(t, agent.Config{Version: "2.3.4"})

	req := httptest.NewRequest("GET", a2a.CardPath, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var card a2a.AgentCard
	if err := json.Unmarshal(w.Body.Bytes(), &card); err != nil {
		t.Fatalf("Failed to parse card: %v", err)
	}

	if card.Name != a2a.AgentName {
		t.Errorf("Expected name %q, got %q", a2a.AgentName, card.Name)
	}
	if card.PreferredTransport != a2a.TransportJSONRPC {
		t.Errorf("Expected JSONRPC transport, got %q", card.PreferredTransport)
	}
	if card.Version != "2.3.4" {
		t.Errorf("Expected version 2.3.4, got %q", card.Version)
	}
	if len(card.Skills) != 1 || card.Skills[0].ID != a2a.SkillShortTermPredict {
		t.Errorf("Expected single skill %q, got %+v", a2a.SkillShortTermPredict, card.Skills)
	}
	if !strings.HasPrefix(card.URL, "http://") || !strings.HasSuffix(card.URL, "/") {
		t.Errorf("Expected derived root URL, got %q", card.URL)
	}
}

func TestRPCForecast(t *testing.T) {
	_, router, testStore := newTestServer(t, agent.Config{})
	seedQuotes(t, testStore, "AAPL", 100, 101, 102, 103, 104)

	body := `{"jsonrpc":"2.0","id":7,"method":"model","params":{"tool_inputs":{"short_term_predict":{"ticker":"aapl","days":3}}}}`
	w, resp := rpcRequest(t, router, body)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", w.Code, w.Body.String())
	}
	if resp.Error != nil {
		t.Fatalf("Unexpected RPC error: %v", resp.Error)
	}
	if resp.JSONRPC != a2a.Version {
		t.Errorf("Expected jsonrpc %q, got %q", a2a.Version, resp.JSONRPC)
	}
	if fmt.Sprintf("%v", resp.ID) != "7" {
		t.Errorf("Expected id 7 echoed, got %v", resp.ID)
	}

	var result map[string]float64
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("Failed to parse result: %v", err)
	}
	if len(result) != 3 {
		t.Errorf("Expected 3 forecast days, got %d", len(result))
	}
	for date, price := range result {
		if _, err := time.Parse(models.DateLayout, date); err != nil {
			t.Errorf("Bad forecast date %q: %v", date, err)
		}
		if price <= 0 {
			t.Errorf("Expected positive price for %s, got %f", date, price)
		}
	}
}

func TestRPCAcceptsAdvertisedMethods(t *testing.T) {
	_, router, _ := newTestServer(t, agent.Config{})

	for _, method := range []string{"model", a2a.AgentName, a2a.SkillShortTermPredict} {
		t.Run(method, func(t *testing.T) {
			body := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":%q,"params":{"ticker":"MSFT"}}`, method)
			w, resp := rpcRequest(t, router, body)

			if w.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d", w.Code)
			}
			if resp.Error != nil {
				t.Fatalf("Unexpected RPC error: %v", resp.Error)
			}
		})
	}
}

func TestRPCErrors(t *testing.T) {
	_, router, _ := newTestServer(t, agent.Config{})

	cases := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   int
	}{
		{"ParseError", `{not json`, http.StatusBadRequest, a2a.CodeParseError},
		{"InvalidRequest", `{"jsonrpc":"1.0","id":1,"method":"model"}`, http.StatusBadRequest, a2a.CodeInvalidRequest},
		{"MissingMethod", `{"jsonrpc":"2.0","id":1}`, http.StatusBadRequest, a2a.CodeInvalidRequest},
		{"MethodNotFound", `{"jsonrpc":"2.0","id":1,"method":"long_term_predict","params":{"ticker":"A"}}`, http.StatusNotFound, a2a.CodeMethodNotFound},
		{"MissingTicker", `{"jsonrpc":"2.0","id":1,"method":"model","params":{}}`, http.StatusBadRequest, a2a.CodeInvalidParams},
		{"BadParams", `{"jsonrpc":"2.0","id":1,"method":"model","params":{"tool_inputs":"nope"}}`, http.StatusBadRequest, a2a.CodeInvalidParams},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, resp := rpcRequest(t, router, tc.body)

			if w.Code != tc.wantStatus {
				t.Errorf("Expected status %d, got %d", tc.wantStatus, w.Code)
			}
			if resp.Error == nil {
				t.Fatalf("Expected RPC error, got %s", w.Body.String())
			}
			if resp.Error.Code != tc.wantCode {
				t.Errorf("Expected code %d, got %d", tc.wantCode, resp.Error.Code)
			}
		})
	}
}

func TestInvoke(t *testing.T) {
	_, router, _ := newTestServer(t, agent.Config{})

	post := func(body string) (*httptest.ResponseRecorder, a2a.InvokeResponse) {
		req := httptest.NewRequest("POST", a2a.InvokePath, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		var resp a2a.InvokeResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		return w, resp
	}

	t.Run("KnownAction", func(t *testing.T) {
		w, resp := post(`{"action":"short_term_predict","kwargs":{"ticker":"NVDA","days":2}}`)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		if !resp.OK {
			t.Fatalf("Expected ok response, got error %q", resp.Error)
		}
		if len(resp.Result) != 2 {
			t.Errorf("Expected 2 forecast days, got %d", len(resp.Result))
		}
	})

	t.Run("LegacyAlias", func(t *testing.T) {
		w, resp := post(`{"action":"short_term_prediction","kwargs":{"ticker":"NVDA"}}`)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		if !resp.OK {
			t.Errorf("Expected alias action accepted, got error %q", resp.Error)
		}
	})

	t.Run("UnknownAction", func(t *testing.T) {
		w, resp := post(`{"action":"buy_everything","kwargs":{"ticker":"NVDA"}}`)
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected status 404, got %d", w.Code)
		}
		if resp.OK {
			t.Error("Expected ok=false for unknown action")
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		w, _ := post(`{broken`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", w.Code)
		}
	})

	t.Run("MissingTicker", func(t *testing.T) {
		w, resp := post(`{"action":"short_term_predict","kwargs":{}}`)
		if w.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", w.Code)
		}
		if resp.OK {
			t.Error("Expected ok=false with missing ticker")
		}
	})
}

func TestHealthAndReady(t *testing.T) {
	_, router, _ := newTestServer(t, agent.Config{})

	t.Run("Health", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/health", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}

		var body map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("Failed to parse health response: %v", err)
		}
		if body["status"] != "healthy" {
			t.Errorf("Expected healthy status, got %v", body["status"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/ready", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}

		var body map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("Failed to parse ready response: %v", err)
		}
		if body["ready"] != true {
			t.Errorf("Expected ready=true, got %v", body["ready"])
		}
	})
}

func TestAdminEndpoints(t *testing.T) {
	srv, router, testStore := newTestServer(t, agent.Config{})

	t.Run("DisabledWithoutKeys", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/admin/stats", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusForbidden {
			t.Errorf("Expected status 403, got %d", w.Code)
		}
	})

	keys := auth.NewKeyManager()
	apiKey, err := keys.Generate("test admin key")
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	srv.SetKeyManager(keys)

	logger := logging.NewLogger(logging.ERROR, false)
	retention := agent.NewRetention(agent.DefaultRetentionConfig(), testStore, logger, nil)
	srv.SetRetention(retention)

	t.Run("MissingAuth", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/admin/stats", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("Expected status 401, got %d", w.Code)
		}
	})

	t.Run("InvalidKey", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/admin/stats", nil)
		req.Header.Set("Authorization", "Bearer pa_bogus_key")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("Expected status 401, got %d", w.Code)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		seedQuotes(t, testStore, "AAPL", 100, 101)

		req := httptest.NewRequest("GET", "/admin/stats", nil)
		req.Header.Set("Authorization", "Bearer "+apiKey)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d. Body: %s", w.Code, w.Body.String())
		}

		var stats map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
			t.Fatalf("Failed to parse stats: %v", err)
		}
		if stats["quotes"] != float64(2) {
			t.Errorf("Expected 2 quotes, got %v", stats["quotes"])
		}
	})

	t.Run("Prune", func(t *testing.T) {
		old := &models.Forecast{
			ID:        "stale",
			Ticker:    "AAPL",
			Source:    models.SourceDemo,
			CreatedAt: time.Now().Add(-30 * 24 * time.Hour),
			Points:    []models.ForecastPoint{{Date: "2026-01-06", Price: 101}},
		}
		if err := testStore.SaveForecast(old); err != nil {
			t.Fatalf("Failed to save forecast: %v", err)
		}

		req := httptest.NewRequest("POST", "/admin/prune", nil)
		req.Header.Set("Authorization", "Bearer "+apiKey)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d. Body: %s", w.Code, w.Body.String())
		}

		var body map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("Failed to parse prune response: %v", err)
		}
		if body["deleted"] != float64(1) {
			t.Errorf("Expected 1 deleted forecast, got %v", body["deleted"])
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	_, router, _ := newTestServer(t, agent.Config{})

	// Serve one forecast so counters have samples
	rpcRequest(t, router, `{"jsonrpc":"2.0","id":1,"method":"model","params":{"ticker":"AMD"}}`)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "prediagent_agent_forecast_requests_total") {
		t.Error("Expected forecast counter in metrics output")
	}
	if !strings.Contains(w.Body.String(), "prediagent_agent_uptime_seconds") {
		t.Error("Expected uptime gauge in metrics output")
	}
}

func TestRateLimitSparesProbes(t *testing.T) {
	_, router, _ := newTestServer(t, agent.Config{RateRPS: 1, RateBurst: 1})

	// Exhaust the forecast budget
	first := httptest.NewRequest("POST", a2a.InvokePath, strings.NewReader(`{"action":"short_term_predict","kwargs":{"ticker":"T"}}`))
	first.RemoteAddr = "10.1.1.1:4000"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, first)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected first request to pass, got %d", w.Code)
	}

	second := httptest.NewRequest("POST", a2a.InvokePath, strings.NewReader(`{"action":"short_term_predict","kwargs":{"ticker":"T"}}`))
	second.RemoteAddr = "10.1.1.1:4001"
	w = httptest.NewRecorder()
	router.ServeHTTP(w, second)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", w.Code)
	}

	// Probe endpoints stay reachable for the same client
	for i := 0; i < 5; i++ {
		probe := httptest.NewRequest("GET", "/health", nil)
		probe.RemoteAddr = "10.1.1.1:4002"
		w = httptest.NewRecorder()
		router.ServeHTTP(w, probe)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected health probe to bypass rate limit, got %d", w.Code)
		}
	}
}

// TestClientRoundTrip drives the full wire path: discovery, JSON-RPC
// probing and result decoding through the a2a client.
func TestClientRoundTrip(t *testing.T) {
	_, router, testStore := newTestServer(t, agent.Config{})
	seedQuotes(t, testStore, "AAPL", 100, 102, 101, 103, 104)

	ts := httptest.NewServer(router)
	defer ts.Close()

	logger := logging.NewLogger(logging.ERROR, false)
	client := a2a.NewClient(ts.URL, logger)

	result, err := client.Forecast(context.Background(), "aapl", 4)
	if err != nil {
		t.Fatalf("Client forecast failed: %v", err)
	}
	if len(result) != 4 {
		t.Errorf("Expected 4 forecast days, got %d", len(result))
	}

	card, err := client.FetchCard(context.Background())
	if err != nil {
		t.Fatalf("FetchCard failed: %v", err)
	}
	if card.Name != a2a.AgentName {
		t.Errorf("Expected card name %q, got %q", a2a.AgentName, card.Name)
	}
}
