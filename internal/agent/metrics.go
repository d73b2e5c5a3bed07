package agent

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stocktrend/prediagent/pkg/store"
)

// Metrics tracks agent request activity. Collectors live on a private
// registry so several servers in one process (tests) do not collide.
type Metrics struct {
	registry *prometheus.Registry

	forecastRequests *prometheus.CounterVec
	rpcErrors        *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	throttled        prometheus.Counter
	retentionRuns    prometheus.Counter
	retentionDeleted prometheus.Counter
}

// NewMetrics creates the agent collectors. Store gauges read their value
// at scrape time.
func NewMetrics(st store.Store, startedAt time.Time) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		forecastRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prediagent_agent_forecast_requests_total",
				Help: "Forecast requests by transport, predictor source and outcome",
			},
			[]string{"transport", "source", "outcome"},
		),
		rpcErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prediagent_agent_rpc_errors_total",
				Help: "JSON-RPC error responses by code",
			},
			[]string{"code"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prediagent_agent_request_duration_seconds",
				Help:    "Request latency by path",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
		throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prediagent_agent_throttled_requests_total",
			Help: "Requests rejected by the per-client rate limiter",
		}),
		retentionRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prediagent_agent_retention_runs_total",
			Help: "Forecast retention sweeps executed",
		}),
		retentionDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prediagent_agent_retention_deleted_total",
			Help: "Forecasts deleted by retention sweeps",
		}),
	}

	m.registry.MustRegister(
		m.forecastRequests,
		m.rpcErrors,
		m.requestDuration,
		m.throttled,
		m.retentionRuns,
		m.retentionDeleted,
	)

	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "prediagent_agent_uptime_seconds",
		Help: "Seconds since the agent started",
	}, func() float64 {
		return time.Since(startedAt).Seconds()
	}))

	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "prediagent_agent_store_quotes",
		Help: "Quote rows currently stored",
	}, func() float64 {
		stats, err := st.GetStats()
		if err != nil {
			return 0
		}
		return float64(stats.Quotes)
	}))

	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "prediagent_agent_store_forecasts",
		Help: "Forecasts currently stored",
	}, func() float64 {
		stats, err := st.GetStats()
		if err != nil {
			return 0
		}
		return float64(stats.Forecasts)
	}))

	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "prediagent_agent_store_tickers",
		Help: "Distinct tickers with stored quotes",
	}, func() float64 {
		stats, err := st.GetStats()
		if err != nil {
			return 0
		}
		return float64(stats.Tickers)
	}))

	return m
}

// Handler serves the registry in Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordForecast counts one forecast request
func (m *Metrics) RecordForecast(transport, source string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.forecastRequests.WithLabelValues(transport, source, outcome).Inc()
}

// RecordRPCError counts one JSON-RPC error response
func (m *Metrics) RecordRPCError(code int) {
	m.rpcErrors.WithLabelValues(strconv.Itoa(code)).Inc()
}

// RecordThrottled counts one rate-limited request
func (m *Metrics) RecordThrottled() {
	m.throttled.Inc()
}

// RecordPrune counts one retention sweep
func (m *Metrics) RecordPrune(deleted int) {
	m.retentionRuns.Inc()
	m.retentionDeleted.Add(float64(deleted))
}

// ObserveRequest records one request's latency
func (m *Metrics) ObserveRequest(path string, elapsed time.Duration) {
	m.requestDuration.WithLabelValues(path).Observe(elapsed.Seconds())
}
