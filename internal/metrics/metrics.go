// Package metrics exports the process's Prometheus gauges/counters. This is
// ambient instrumentation the distilled spec treats as out of scope for
// behavior but that the teacher's domain stack (and the rest of the
// retrieval pack: oubliette, enchanted-proxy) always carries alongside
// logging and config.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric the core publishes.
type Registry struct {
	reg *prometheus.Registry

	rateLimitUsedPercent *prometheus.GaugeVec
	toolCallsTotal       *prometheus.CounterVec
	backgroundShells     *prometheus.GaugeVec
	wsFallbackTotal      prometheus.Counter
	activeConnections    prometheus.Gauge
}

// NewRegistry builds a fresh registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		rateLimitUsedPercent: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "codexcore",
			Name:      "rate_limit_used_percent",
			Help:      "Most recently observed rate-limit window utilization.",
		}, []string{"window"}),
		toolCallsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "codexcore",
			Name:      "tool_calls_total",
			Help:      "Tool invocations by terminal decision.",
		}, []string{"tool", "decision"}),
		backgroundShells: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "codexcore",
			Name:      "background_shells",
			Help:      "Background shells by status.",
		}, []string{"status"}),
		wsFallbackTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "codexcore",
			Name:      "websocket_fallback_total",
			Help:      "Times a client has permanently fallen back from WebSocket to SSE.",
		}),
		activeConnections: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "codexcore",
			Name:      "active_connections",
			Help:      "Currently connected transport clients.",
		}),
	}
	return r
}

func (r *Registry) SetRateLimitUsedPercent(window string, pct float64) {
	r.rateLimitUsedPercent.WithLabelValues(window).Set(pct)
}

func (r *Registry) IncToolCall(tool, decision string) {
	r.toolCallsTotal.WithLabelValues(tool, decision).Inc()
}

func (r *Registry) SetBackgroundShells(status string, n float64) {
	r.backgroundShells.WithLabelValues(status).Set(n)
}

func (r *Registry) IncWebSocketFallback() {
	r.wsFallbackTotal.Inc()
}

func (r *Registry) SetActiveConnections(n float64) {
	r.activeConnections.Set(n)
}

// Handler returns the /metrics HTTP handler, meant to be bound to loopback
// only (see SPEC_FULL.md §4.G).
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
