package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/usecase"
)

var _ usecase.Metrics = (*Metrics)(nil)

func TestNewRegistersMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveRun(domain.RunCompleted, 2*time.Second)

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestObserveOwner(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveOwner(domain.OwnerResult{OwnerID: "a", Materialized: 2, Skipped: 1})
	m.ObserveOwner(domain.OwnerResult{OwnerID: "b", Materialized: 1, Failed: 1})

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Materialized))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SkippedPeriods))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FailedPeriods))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OwnersProcessed.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OwnersProcessed.WithLabelValues("false")))
}

func TestCountersByLabel(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ForecastCacheLookup(true)
	m.ForecastCacheLookup(false)
	m.ForecastCacheLookup(false)
	m.AlertRaised(domain.AlertNegativeForecast, domain.SeverityCritical)
	m.BalanceConflict()
	m.OrphanedTransaction()
	m.EventPublished("transaction.materialized")
	m.PublishFailed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ForecastCacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ForecastCacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsRaised.WithLabelValues("negative_forecast", "critical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BalanceConflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrphanedTransactions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("transaction.materialized")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishErrors))
}
