package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CartMetrics содержит метрики жизненного цикла корзины, купонов, доставки и очистки.
type CartMetrics struct {
	// Переходы статусов корзины
	transitions *prometheus.CounterVec
	// Операции, откатившиеся на границе транзакции
	operationFailures *prometheus.CounterVec

	couponOperations *prometheus.CounterVec

	deliveryDuration  prometheus.Histogram
	deliveryCallbacks *prometheus.CounterVec

	reaperDeleted       *prometheus.CounterVec
	reaperSkipped       prometheus.Counter
	reaperFailures      prometheus.Counter
	reaperSweepDuration prometheus.Histogram

	claimPurgeRuns *prometheus.CounterVec
	claimsPurged   prometheus.Counter

	// Gauge для корзин в checkout, ожидающих оплаты
	pendingCheckouts prometheus.Gauge
}

// NewCartMetrics создаёт метрики в DefaultRegisterer.
func NewCartMetrics() *CartMetrics {
	return NewCartMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCartMetricsWithRegisterer создаёт метрики в заданном реестре (используется в тестах).
func NewCartMetricsWithRegisterer(registerer prometheus.Registerer) *CartMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CartMetrics{
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "cart_status_transitions_total",
			Help: "Total number of cart status transitions by target status",
		}, []string{"status"}),
		operationFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "cart_operation_failures_total",
			Help: "Total number of cart operations rolled back at the transaction boundary",
		}, []string{"operation"}),
		couponOperations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "cart_coupon_operations_total",
			Help: "Total number of coupon operations by kind and outcome",
		}, []string{"operation", "result"}),
		deliveryDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "cart_delivery_duration_seconds",
			Help:    "Duration of cart delivery (enrollment grants + status change) in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		deliveryCallbacks: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "cart_delivery_callbacks_total",
			Help: "Total number of payment delivery callbacks by outcome",
		}, []string{"result"}),
		reaperDeleted: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "cart_reaper_deleted_total",
			Help: "Total number of expired carts deleted by sweep",
		}, []string{"sweep"}),
		reaperSkipped: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cart_reaper_skipped_total",
			Help: "Total number of expired carts preserved because a payment record exists",
		}),
		reaperFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cart_reaper_failures_total",
			Help: "Total number of expired carts that failed to delete",
		}),
		reaperSweepDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "cart_reaper_sweep_duration_seconds",
			Help:    "Duration of one reaper sweep in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		claimPurgeRuns: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "cart_delivery_claim_purge_runs_total",
			Help: "Total number of expired delivery claim purge runs by result",
		}, []string{"result"}),
		claimsPurged: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cart_delivery_claims_purged_total",
			Help: "Total number of expired delivery claims removed",
		}),
		pendingCheckouts: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "cart_pending_checkouts",
			Help: "Number of carts locked in checkout by this process and not yet delivered or canceled",
		}),
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

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordTransition увеличивает счётчик переходов в статус.
func (m *CartMetrics) RecordTransition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
	switch status {
	case "checkout":
		m.pendingCheckouts.Inc()
	case "delivered", "canceled":
		m.pendingCheckouts.Dec()
	}
}

// RecordOperationFailure фиксирует откат операции корзины.
func (m *CartMetrics) RecordOperationFailure(operation string) {
	if m == nil {
		return
	}
	m.operationFailures.WithLabelValues(operation).Inc()
}

// RecordCouponOperation фиксирует результат обращения к купонной системе.
func (m *CartMetrics) RecordCouponOperation(operation string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "rejected"
	}
	m.couponOperations.WithLabelValues(operation, result).Inc()
}

// RecordDeliveryDuration записывает время доставки корзины.
func (m *CartMetrics) RecordDeliveryDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.deliveryDuration.Observe(duration.Seconds())
}

// RecordDeliveryCallback фиксирует исход подтверждения оплаты (delivered, rejected, replayed, busy).
func (m *CartMetrics) RecordDeliveryCallback(result string) {
	if m == nil {
		return
	}
	m.deliveryCallbacks.WithLabelValues(result).Inc()
}

// RecordReaperDeleted увеличивает счётчик удалённых корзин для sweep.
func (m *CartMetrics) RecordReaperDeleted(sweep string) {
	if m == nil {
		return
	}
	m.reaperDeleted.WithLabelValues(sweep).Inc()
}

// RecordReaperSkipped увеличивает счётчик сохранённых корзин с платежом.
func (m *CartMetrics) RecordReaperSkipped() {
	if m == nil {
		return
	}
	m.reaperSkipped.Inc()
}

// RecordReaperFailure увеличивает счётчик неудачных удалений.
func (m *CartMetrics) RecordReaperFailure() {
	if m == nil {
		return
	}
	m.reaperFailures.Inc()
}

// RecordReaperSweepDuration записывает длительность sweep.
func (m *CartMetrics) RecordReaperSweepDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.reaperSweepDuration.Observe(duration.Seconds())
}

// RecordClaimPurge фиксирует прогон очистки подтверждений оплаты.
func (m *CartMetrics) RecordClaimPurge(purged int, err error) {
	if m == nil {
		return
	}
	m.claimsPurged.Add(float64(purged))
	if err != nil {
		m.claimPurgeRuns.WithLabelValues("error").Inc()
		return
	}
	m.claimPurgeRuns.WithLabelValues("ok").Inc()
}
