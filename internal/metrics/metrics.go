// Package metrics exposes engine counters and histograms on a private
// Prometheus registry served by the ops HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"alpaca-signal-engine/internal/events"
)

// Collector owns every engine metric.
type Collector struct {
	registry *prometheus.Registry

	SymbolsProcessed     prometheus.Counter
	SymbolErrors         prometheus.Counter
	SignalsEmitted       *prometheus.CounterVec
	SignalsRejected      *prometheus.CounterVec
	LifecycleTransitions *prometheus.CounterVec
	TrailUpdates         prometheus.Counter
	PositionsOpened      *prometheus.CounterVec
	PositionsClosed      *prometheus.CounterVec
	ReconciliationIssues prometheus.Counter
	EngineErrors         prometheus.Counter
	JobDuration          *prometheus.HistogramVec
	CycleDuration        prometheus.Histogram
}

// NewCollector builds and registers every metric on a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		SymbolsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_symbols_processed_total",
			Help: "Symbols processed by the scheduler loop.",
		}),
		SymbolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_symbol_errors_total",
			Help: "Symbol iterations that failed and were skipped.",
		}),
		SignalsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_signals_emitted_total",
			Help: "Signals emitted, by pattern.",
		}, []string{"pattern"}),
		SignalsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_signals_rejected_total",
			Help: "Signals blocked by risk gates, by gate.",
		}, []string{"gate"}),
		LifecycleTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_lifecycle_transitions_total",
			Help: "Signal lifecycle transitions, by target status.",
		}, []string{"status"}),
		TrailUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_trail_updates_total",
			Help: "Runner-stop trail advances persisted.",
		}),
		PositionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_positions_opened_total",
			Help: "Positions opened, by trade type.",
		}, []string{"trade_type"}),
		PositionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_positions_closed_total",
			Help: "Positions closed, by trade type.",
		}, []string{"trade_type"}),
		ReconciliationIssues: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_reconciliation_critical_total",
			Help: "Critical issues surfaced by reconciliation runs.",
		}),
		EngineErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_errors_total",
			Help: "Unclassified engine errors.",
		}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "engine_job_duration_seconds",
			Help:    "Scheduled job durations.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"job"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_cycle_duration_seconds",
			Help:    "Full scheduler cycle durations.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}

	c.registry.MustRegister(
		c.SymbolsProcessed, c.SymbolErrors, c.SignalsEmitted, c.SignalsRejected,
		c.LifecycleTransitions, c.TrailUpdates, c.PositionsOpened,
		c.PositionsClosed, c.ReconciliationIssues, c.EngineErrors,
		c.JobDuration, c.CycleDuration,
	)
	return c
}

// Registry exposes the private registry for the /metrics handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Bind subscribes the collector to the event bus so published engine events
// update the counters without explicit plumbing at every call site.
func (c *Collector) Bind(bus *events.Bus) {
	bus.SubscribeAll(func(e events.Event) {
		switch e.Type {
		case events.EventSignalEmitted:
			c.SignalsEmitted.WithLabelValues(dataString(e, "pattern")).Inc()
		case events.EventSignalRejected:
			c.SignalsRejected.WithLabelValues(dataString(e, "gate")).Inc()
		case events.EventLifecycleTransition:
			c.LifecycleTransitions.WithLabelValues(dataString(e, "status")).Inc()
		case events.EventTrailUpdated:
			c.TrailUpdates.Inc()
		case events.EventPositionOpened:
			c.PositionsOpened.WithLabelValues(dataString(e, "trade_type")).Inc()
		case events.EventPositionClosed:
			c.PositionsClosed.WithLabelValues(dataString(e, "trade_type")).Inc()
		case events.EventReconciliationCompleted:
			if n, ok := e.Data["critical"].(int); ok {
				c.ReconciliationIssues.Add(float64(n))
			}
		case events.EventJobCompleted:
			if secs, ok := e.Data["seconds"].(float64); ok {
				c.JobDuration.WithLabelValues(dataString(e, "job")).Observe(secs)
			}
		case events.EventEngineError:
			c.EngineErrors.Inc()
		}
	})
}

func dataString(e events.Event, key string) string {
	if v, ok := e.Data[key].(string); ok {
		return v
	}
	return "unknown"
}
