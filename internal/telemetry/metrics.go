package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"
)

// Metric names, grounded on the teacher's pkg/telemetry/metrics.go naming
// convention (service-prefixed snake_case).
const (
	MetricOrdersCreatedTotal  = "mockexchange_orders_created_total"
	MetricOrdersFilledTotal   = "mockexchange_orders_filled_total"
	MetricOrdersCanceledTotal = "mockexchange_orders_canceled_total"
	MetricOrdersRejectedTotal = "mockexchange_orders_rejected_total"
	MetricOrdersExpiredTotal  = "mockexchange_orders_expired_total"
	MetricOrdersPrunedTotal   = "mockexchange_orders_pruned_total"
	MetricOrdersOpen          = "mockexchange_orders_open"
	MetricTickLatencyMS       = "mockexchange_tick_latency_ms"
	MetricAuditDriftTotal     = "mockexchange_audit_drift_total"
	MetricDispatcherQueueLen  = "mockexchange_dispatcher_queue_length"
)

// MetricsHolder holds the initialized OTel instruments used throughout the
// engine. Instruments are nil until Init has run; every recording method is
// a no-op on a nil instrument so tests can use a MetricsHolder without a
// configured MeterProvider.
type MetricsHolder struct {
	OrdersCreatedTotal  metric.Int64Counter
	OrdersFilledTotal   metric.Int64Counter
	OrdersCanceledTotal metric.Int64Counter
	OrdersRejectedTotal metric.Int64Counter
	OrdersExpiredTotal  metric.Int64Counter
	OrdersPrunedTotal   metric.Int64Counter
	AuditDriftTotal     metric.Int64Counter
	TickLatencyMS       metric.Float64Histogram

	mu            sync.RWMutex
	openOrders    int64
	dispatchQueue int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the process-wide metrics holder, creating it on
// first use. Init must still be called once a MeterProvider is available.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{}
	})
	return globalMetrics
}

// Init wires every instrument against meter. Safe to call once per process.
func (m *MetricsHolder) Init(meter metric.Meter) error {
	var err error

	if m.OrdersCreatedTotal, err = meter.Int64Counter(MetricOrdersCreatedTotal); err != nil {
		return err
	}
	if m.OrdersFilledTotal, err = meter.Int64Counter(MetricOrdersFilledTotal); err != nil {
		return err
	}
	if m.OrdersCanceledTotal, err = meter.Int64Counter(MetricOrdersCanceledTotal); err != nil {
		return err
	}
	if m.OrdersRejectedTotal, err = meter.Int64Counter(MetricOrdersRejectedTotal); err != nil {
		return err
	}
	if m.OrdersExpiredTotal, err = meter.Int64Counter(MetricOrdersExpiredTotal); err != nil {
		return err
	}
	if m.OrdersPrunedTotal, err = meter.Int64Counter(MetricOrdersPrunedTotal); err != nil {
		return err
	}
	if m.AuditDriftTotal, err = meter.Int64Counter(MetricAuditDriftTotal); err != nil {
		return err
	}
	if m.TickLatencyMS, err = meter.Float64Histogram(MetricTickLatencyMS); err != nil {
		return err
	}

	if _, err = meter.Int64ObservableGauge(MetricOrdersOpen,
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			o.Observe(m.openOrders)
			return nil
		})); err != nil {
		return err
	}
	if _, err = meter.Int64ObservableGauge(MetricDispatcherQueueLen,
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			o.Observe(m.dispatchQueue)
			return nil
		})); err != nil {
		return err
	}

	return nil
}

// SetOpenOrders updates the gauge backing MetricOrdersOpen.
func (m *MetricsHolder) SetOpenOrders(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openOrders = n
}

// SetDispatcherQueueLen updates the gauge backing MetricDispatcherQueueLen.
func (m *MetricsHolder) SetDispatcherQueueLen(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatchQueue = n
}

func (m *MetricsHolder) IncOrdersCreated(ctx context.Context) {
	if m.OrdersCreatedTotal != nil {
		m.OrdersCreatedTotal.Add(ctx, 1)
	}
}

func (m *MetricsHolder) IncOrdersFilled(ctx context.Context) {
	if m.OrdersFilledTotal != nil {
		m.OrdersFilledTotal.Add(ctx, 1)
	}
}

func (m *MetricsHolder) IncOrdersCanceled(ctx context.Context) {
	if m.OrdersCanceledTotal != nil {
		m.OrdersCanceledTotal.Add(ctx, 1)
	}
}

func (m *MetricsHolder) IncOrdersRejected(ctx context.Context) {
	if m.OrdersRejectedTotal != nil {
		m.OrdersRejectedTotal.Add(ctx, 1)
	}
}

func (m *MetricsHolder) IncOrdersExpired(ctx context.Context, n int64) {
	if m.OrdersExpiredTotal != nil {
		m.OrdersExpiredTotal.Add(ctx, n)
	}
}

func (m *MetricsHolder) IncOrdersPruned(ctx context.Context, n int64) {
	if m.OrdersPrunedTotal != nil {
		m.OrdersPrunedTotal.Add(ctx, n)
	}
}

func (m *MetricsHolder) IncAuditDrift(ctx context.Context, n int64) {
	if m.AuditDriftTotal != nil {
		m.AuditDriftTotal.Add(ctx, n)
	}
}

func (m *MetricsHolder) ObserveTickLatency(ctx context.Context, ms float64) {
	if m.TickLatencyMS != nil {
		m.TickLatencyMS.Record(ctx, ms)
	}
}
