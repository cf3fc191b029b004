package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/iho/cashflow/internal/domain"
)

// Metrics holds all Prometheus metrics. It implements usecase.Metrics.
type Metrics struct {
	// Materialization metrics
	RunsTotal       *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	OwnersProcessed *prometheus.CounterVec
	Materialized    prometheus.Counter
	SkippedPeriods  prometheus.Counter
	FailedPeriods   prometheus.Counter

	// Ledger metrics
	BalanceConflicts     prometheus.Counter
	OrphanedTransactions prometheus.Counter

	// Forecast and alert metrics
	ForecastCacheLookups *prometheus.CounterVec
	AlertsRaised         *prometheus.CounterVec

	// Outbox metrics
	EventsPublished *prometheus.CounterVec
	PublishErrors   prometheus.Counter

	// Database metrics
	DBConnections prometheus.Gauge
}

// New creates the metrics and registers them with reg, or with the default
// registerer when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashflow_materialization_runs_total",
				Help: "Total materialization runs by final status",
			},
			[]string{"status"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cashflow_materialization_run_duration_seconds",
				Help:    "Duration of materialization runs",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"status"},
		),
		OwnersProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashflow_materialization_owners_total",
				Help: "Owners processed by materialization runs",
			},
			[]string{"succeeded"},
		),
		Materialized: factory.NewCounter(prometheus.CounterOpts{
			Name: "cashflow_materialized_transactions_total",
			Help: "Transactions created by materialization",
		}),
		SkippedPeriods: factory.NewCounter(prometheus.CounterOpts{
			Name: "cashflow_materialization_skipped_total",
			Help: "Periods skipped because they were already materialized or not due",
		}),
		FailedPeriods: factory.NewCounter(prometheus.CounterOpts{
			Name: "cashflow_materialization_failed_total",
			Help: "Obligations that failed to materialize",
		}),

		BalanceConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "cashflow_balance_conflicts_total",
			Help: "Current-balance uniqueness conflicts that were retried",
		}),
		OrphanedTransactions: factory.NewCounter(prometheus.CounterOpts{
			Name: "cashflow_orphaned_transactions_total",
			Help: "Reversals that left a transaction beyond its obligation's counter",
		}),

		ForecastCacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashflow_forecast_cache_lookups_total",
				Help: "Forecast cache lookups by result",
			},
			[]string{"result"},
		),
		AlertsRaised: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashflow_alerts_raised_total",
				Help: "Alerts created by type and severity",
			},
			[]string{"type", "severity"},
		),

		EventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashflow_outbox_events_published_total",
				Help: "Outbox events published by type",
			},
			[]string{"event_type"},
		),
		PublishErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "cashflow_outbox_publish_errors_total",
			Help: "Outbox events that failed to publish",
		}),

		DBConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cashflow_db_connections",
			Help: "Current number of acquired database connections",
		}),
	}
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(status domain.RunStatus, duration time.Duration) {
	m.RunsTotal.WithLabelValues(string(status)).Inc()
	m.RunDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

// ObserveOwner records one owner's share of a run.
func (m *Metrics) ObserveOwner(result domain.OwnerResult) {
	m.OwnersProcessed.WithLabelValues(strconv.FormatBool(result.Succeeded())).Inc()
	m.Materialized.Add(float64(result.Materialized))
	m.SkippedPeriods.Add(float64(result.Skipped))
	m.FailedPeriods.Add(float64(result.Failed))
}

func (m *Metrics) AlertRaised(alertType domain.AlertType, severity domain.Severity) {
	m.AlertsRaised.WithLabelValues(string(alertType), string(severity)).Inc()
}

func (m *Metrics) ForecastCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.ForecastCacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) BalanceConflict() {
	m.BalanceConflicts.Inc()
}

func (m *Metrics) OrphanedTransaction() {
	m.OrphanedTransactions.Inc()
}

// EventPublished records a relayed outbox event.
func (m *Metrics) EventPublished(eventType string) {
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// PublishFailed records an outbox event that could not be relayed.
func (m *Metrics) PublishFailed() {
	m.PublishErrors.Inc()
}
