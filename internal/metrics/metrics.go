// Package metrics exposes pipeline counters and gauges via Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the instruments updated by the pipeline.
type Metrics struct {
	ReadingsProcessed *prometheus.CounterVec
	ReadingErrors     *prometheus.CounterVec
	AlertsEmitted     *prometheus.CounterVec
	AlertsDropped     prometheus.Counter
	RiskScore         *prometheus.GaugeVec
	WindowFill        *prometheus.GaugeVec
}

// New registers the instrument set on the given registry. A nil registry
// uses the default one.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ReadingsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cropsentinel",
			Name:      "readings_processed_total",
			Help:      "Readings fully processed through the pipeline.",
		}, []string{"crop"}),
		ReadingErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cropsentinel",
			Name:      "reading_errors_total",
			Help:      "Readings that degraded or failed during processing.",
		}, []string{"crop"}),
		AlertsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cropsentinel",
			Name:      "alerts_emitted_total",
			Help:      "Alerts emitted on rising edges into HIGH risk.",
		}, []string{"crop"}),
		AlertsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cropsentinel",
			Name:      "alerts_dropped_total",
			Help:      "Alerts dropped due to a full handoff queue.",
		}),
		RiskScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cropsentinel",
			Name:      "risk_score",
			Help:      "Most recent risk score per crop context.",
		}, []string{"crop"}),
		WindowFill: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cropsentinel",
			Name:      "window_fill",
			Help:      "Rolling window sample count per crop context and signal.",
		}, []string{"crop", "signal"}),
	}
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
