// Package telemetry exposes the engine's own operational counters.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine counters. One instance lives for the process.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal    prometheus.Counter
	RulesEvaluated prometheus.Counter
	Triggers       prometheus.Counter
	Recoveries     prometheus.Counter
	FetchErrors    prometheus.Counter
	DeviceDown     prometheus.Counter
	DeviceUp       prometheus.Counter
	ITAMIngested   prometheus.Counter
	ITAMMerges     prometheus.Counter
}

// New builds a metrics set on its own registry so tests can hold several.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "u360_alert_cycles_total",
			Help: "Alert evaluation cycles run.",
		}),
		RulesEvaluated: factory.NewCounter(prometheus.CounterOpts{
			Name: "u360_rules_evaluated_total",
			Help: "Rule evaluations dispatched.",
		}),
		Triggers: factory.NewCounter(prometheus.CounterOpts{
			Name: "u360_alert_triggers_total",
			Help: "Alert trigger edges emitted.",
		}),
		Recoveries: factory.NewCounter(prometheus.CounterOpts{
			Name: "u360_alert_recoveries_total",
			Help: "Alert recovery edges emitted.",
		}),
		FetchErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "u360_backend_fetch_errors_total",
			Help: "Metric backend fetch failures.",
		}),
		DeviceDown: factory.NewCounter(prometheus.CounterOpts{
			Name: "u360_device_down_total",
			Help: "Device DOWN transitions.",
		}),
		DeviceUp: factory.NewCounter(prometheus.CounterOpts{
			Name: "u360_device_up_total",
			Help: "Device UP transitions.",
		}),
		ITAMIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "u360_itam_records_ingested_total",
			Help: "Discovery records reconciled into assets.",
		}),
		ITAMMerges: factory.NewCounter(prometheus.CounterOpts{
			Name: "u360_itam_asset_merges_total",
			Help: "Duplicate assets merged.",
		}),
	}
}

// Handler serves the registry for the metrics listener.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
