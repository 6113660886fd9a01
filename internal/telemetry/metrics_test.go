package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUninitializedHolderIncrementsAreNoOps(t *testing.T) {
	m := &MetricsHolder{}
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.IncOrdersCreated(ctx)
		m.IncOrdersFilled(ctx)
		m.IncOrdersCanceled(ctx)
		m.IncOrdersRejected(ctx)
		m.IncOrdersExpired(ctx, 3)
		m.IncOrdersPruned(ctx, 2)
		m.IncAuditDrift(ctx, 1)
		m.ObserveTickLatency(ctx, 12.5)
	})
}

func TestGaugeSettersAreRaceSafe(t *testing.T) {
	m := &MetricsHolder{}
	m.SetOpenOrders(5)
	m.SetDispatcherQueueLen(2)

	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.Equal(t, int64(5), m.openOrders)
	assert.Equal(t, int64(2), m.dispatchQueue)
}

func TestGetGlobalMetricsReturnsSameInstance(t *testing.T) {
	a := GetGlobalMetrics()
	b := GetGlobalMetrics()
	assert.Same(t, a, b, "GetGlobalMetrics must return the same process-wide holder")
}
