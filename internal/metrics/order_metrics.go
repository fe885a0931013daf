package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Причины отказа в создании заказа (значения label reason).
const (
	RejectValidation        = "validation"
	RejectProductNotFound   = "product_not_found"
	RejectInsufficientStock = "insufficient_stock"
	RejectTxConflict        = "tx_conflict"
	RejectStore             = "store"
)

// OrderMetrics содержит метрики движка заказов.
type OrderMetrics struct {
	// Счётчики операций
	ordersCreated  prometheus.Counter
	ordersDeleted  prometheus.Counter
	ordersRejected *prometheus.CounterVec
	statusChanges  *prometheus.CounterVec

	// Движение остатков
	unitsReserved prometheus.Counter
	unitsRestored prometheus.Counter

	// Время выполнения операций
	operationDuration *prometheus.HistogramVec

	// Gauge для операций в работе
	inFlight prometheus.Gauge
}

// NewOrderMetrics создаёт метрики заказов в DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer создаёт метрики в указанном registerer (удобно для тестов).
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_orders_created_total",
			Help: "Total number of orders created",
		}),
		ordersDeleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_orders_deleted_total",
			Help: "Total number of orders deleted",
		}),
		ordersRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_orders_rejected_total",
			Help: "Total number of rejected order creations by reason",
		}, []string{"reason"}),
		statusChanges: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_order_status_changes_total",
			Help: "Total number of order status transitions by target status",
		}, []string{"status"}),
		unitsReserved: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_stock_units_reserved_total",
			Help: "Total number of stock units taken by created orders",
		}),
		unitsRestored: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_stock_units_restored_total",
			Help: "Total number of stock units returned by deleted orders",
		}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "oms_order_operation_duration_seconds",
			Help:    "Duration of order operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "oms_order_operations_in_flight",
			Help: "Number of order operations currently executing",
		}),
	}
}

// AuditMetrics — результаты последней проверки согласованности данных.
type AuditMetrics struct {
	violations *prometheus.GaugeVec
	lastRun    prometheus.Gauge
	runs       *prometheus.CounterVec
}

// NewAuditMetricsWithRegisterer создаёт метрики аудитора.
func NewAuditMetricsWithRegisterer(registerer prometheus.Registerer) *AuditMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &AuditMetrics{
		violations: registerGaugeVec(registerer, prometheus.GaugeOpts{
			Name: "oms_audit_violations",
			Help: "Number of consistency violations found by the last audit run",
		}, []string{"kind"}),
		lastRun: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "oms_audit_last_run_timestamp_seconds",
			Help: "Unix timestamp of the last completed audit run",
		}),
		runs: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_audit_runs_total",
			Help: "Total number of audit runs by result",
		}, []string{"result"}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerGaugeVec(registerer prometheus.Registerer, opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	collector := prometheus.NewGaugeVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.GaugeVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderCreated учитывает созданный заказ и списанные единицы товара.
func (m *OrderMetrics) RecordOrderCreated(units int) {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
	m.unitsReserved.Add(float64(units))
}

// RecordOrderDeleted учитывает удалённый заказ и возвращённые на склад единицы.
func (m *OrderMetrics) RecordOrderDeleted(restoredUnits int) {
	if m == nil {
		return
	}
	m.ordersDeleted.Inc()
	m.unitsRestored.Add(float64(restoredUnits))
}

// RecordOrderRejected учитывает отказ с указанной причиной.
func (m *OrderMetrics) RecordOrderRejected(reason string) {
	if m == nil {
		return
	}
	m.ordersRejected.WithLabelValues(reason).Inc()
}

// RecordStatusChange учитывает переход в новый статус.
func (m *OrderMetrics) RecordStatusChange(status string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(status).Inc()
}

// StartOperation отмечает начало операции; вызов возвращённой функции фиксирует длительность.
func (m *OrderMetrics) StartOperation(operation string) func() {
	if m == nil {
		return func() {}
	}
	started := time.Now()
	m.inFlight.Inc()
	return func() {
		m.inFlight.Dec()
		m.operationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	}
}

// RecordAudit публикует результаты прогона аудита.
func (m *AuditMetrics) RecordAudit(violations map[string]int, at time.Time) {
	if m == nil {
		return
	}
	m.violations.Reset()
	for kind, count := range violations {
		m.violations.WithLabelValues(kind).Set(float64(count))
	}
	m.lastRun.Set(float64(at.Unix()))
	m.runs.WithLabelValues("ok").Inc()
}

// RecordAuditFailure учитывает прогон, который не смог прочитать данные.
func (m *AuditMetrics) RecordAuditFailure() {
	if m == nil {
		return
	}
	m.runs.WithLabelValues("error").Inc()
}
