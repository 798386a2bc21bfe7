package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics содержит метрики финализации продаж.
type CheckoutMetrics struct {
	// Счётчики операций
	checkoutStarted   prometheus.Counter
	checkoutCompleted prometheus.Counter
	checkoutFailed    prometheus.Counter
	checkoutReplayed  prometheus.Counter

	// Гистограммы времени выполнения
	checkoutDuration prometheus.Histogram
	stepDuration     *prometheus.HistogramVec

	// Счётчики побочных эффектов
	stockLinesSkipped prometheus.Counter
	outboxEvents      prometheus.Counter
	walletCredits     prometheus.Counter

	// Gauge для активных финализаций
	activeCheckouts prometheus.Gauge
}

// NewCheckoutMetrics создаёт новый экземпляр метрик checkout.
func NewCheckoutMetrics() *CheckoutMetrics {
	return newCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		checkoutStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_checkout_started_total",
			Help: "Total number of checkout operations started",
		}),
		checkoutCompleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_checkout_completed_total",
			Help: "Total number of checkout operations completed successfully",
		}),
		checkoutFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_checkout_failed_total",
			Help: "Total number of checkout operations failed",
		}),
		checkoutReplayed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_checkout_replayed_total",
			Help: "Total number of checkouts answered from the finalize log",
		}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "pos_checkout_duration_seconds",
			Help:    "Duration of checkout operations in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "pos_checkout_step_duration_seconds",
			Help:    "Duration of individual checkout steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		stockLinesSkipped: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_checkout_stock_lines_skipped_total",
			Help: "Total number of bill lines skipped because the product was not found",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_checkout_outbox_events_total",
			Help: "Total number of outbox events enqueued by checkout",
		}),
		walletCredits: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_checkout_wallet_credits_total",
			Help: "Total number of premium wallet credits applied",
		}),
		activeCheckouts: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "pos_active_checkouts",
			Help: "Number of currently active checkout operations",
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

// RecordCheckoutStarted увеличивает счётчик начатых финализаций.
func (m *CheckoutMetrics) RecordCheckoutStarted() {
	m.checkoutStarted.Inc()
	m.activeCheckouts.Inc()
}

// RecordCheckoutFinished уменьшает количество активных финализаций.
func (m *CheckoutMetrics) RecordCheckoutFinished() {
	m.activeCheckouts.Dec()
}

// RecordCheckoutCompleted увеличивает счётчик успешных финализаций.
func (m *CheckoutMetrics) RecordCheckoutCompleted() {
	m.checkoutCompleted.Inc()
}

// RecordCheckoutFailed увеличивает счётчик неудачных финализаций.
func (m *CheckoutMetrics) RecordCheckoutFailed() {
	m.checkoutFailed.Inc()
}

// RecordCheckoutReplayed увеличивает счётчик идемпотентных повторов.
func (m *CheckoutMetrics) RecordCheckoutReplayed() {
	m.checkoutReplayed.Inc()
}

// RecordCheckoutDuration записывает время финализации.
func (m *CheckoutMetrics) RecordCheckoutDuration(duration time.Duration) {
	m.checkoutDuration.Observe(duration.Seconds())
}

// RecordStepDuration записывает время шага финализации.
func (m *CheckoutMetrics) RecordStepDuration(step string, duration time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordStockLineSkipped увеличивает счётчик пропущенных строк склада.
func (m *CheckoutMetrics) RecordStockLineSkipped() {
	m.stockLinesSkipped.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CheckoutMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// RecordWalletCredit увеличивает счётчик премиальных зачислений.
func (m *CheckoutMetrics) RecordWalletCredit() {
	m.walletCredits.Inc()
}
