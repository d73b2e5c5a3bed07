package ui

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks UI activity on a private registry
type Metrics struct {
	registry *prometheus.Registry

	pageViews     prometheus.Counter
	proxyRequests *prometheus.CounterVec
	proxyDuration prometheus.Histogram
}

// NewMetrics creates the UI collectors
func NewMetrics(startedAt time.Time) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pageViews: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prediagent_ui_page_views_total",
			Help: "Dashboard page renders",
		}),
		proxyRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prediagent_ui_proxy_requests_total",
				Help: "Forecast requests proxied to the agent, by outcome",
			},
			[]string{"outcome"},
		),
		proxyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediagent_ui_proxy_duration_seconds",
			Help:    "Latency of proxied forecast calls",
			Buckets: prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(m.pageViews, m.proxyRequests, m.proxyDuration)

	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "prediagent_ui_uptime_seconds",
		Help: "Seconds since the UI started",
	}, func() float64 {
		return time.Since(startedAt).Seconds()
	}))

	return m
}

// Handler serves the registry in Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordPageView counts one dashboard render
func (m *Metrics) RecordPageView() {
	m.pageViews.Inc()
}

// RecordProxy counts one proxied forecast call
func (m *Metrics) RecordProxy(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.proxyRequests.WithLabelValues(outcome).Inc()
}

// ObserveProxy records one proxied call's latency
func (m *Metrics) ObserveProxy(elapsed time.Duration) {
	m.proxyDuration.Observe(elapsed.Seconds())
}
