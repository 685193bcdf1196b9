package observability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "merx"

// Metrics holds the shop's Prometheus collectors. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	registry        prometheus.Gatherer
	requests        *prometheus.HistogramVec
	cartMutations   *prometheus.CounterVec
	checkouts       *prometheus.CounterVec
	completions     *prometheus.CounterVec
	webhooks        *prometheus.CounterVec
	ordersFinalized prometheus.Counter
}

// NewMetrics registers the collectors on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegisterer(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsWithRegisterer registers the collectors on reg, reusing collectors that are already registered.
func NewMetricsWithRegisterer(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Metrics{
		registry: gatherer,
		requests: registerHistogram(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"})),
		cartMutations: registerCounter(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cart_mutations_total",
			Help:      "Cart mutations by operation and result.",
		}, []string{"operation", "result"})),
		checkouts: registerCounter(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "checkout_initializations_total",
			Help:      "Order initializations by gateway and result key.",
		}, []string{"gateway", "result"})),
		completions: registerCounter(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "payment_completions_total",
			Help:      "Payment completions by gateway and result key.",
		}, []string{"gateway", "result"})),
		webhooks: registerCounter(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "webhook_events_total",
			Help:      "Webhook deliveries by gateway and outcome.",
		}, []string{"gateway", "outcome"})),
		ordersFinalized: registerCounter(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "orders_finalized_total",
			Help:      "Orders persisted from staged orders.",
		}, nil)).WithLabelValues(),
	}
}

func registerCounter(reg prometheus.Registerer, counter *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(counter); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
		panic(err)
	}
	return counter
}

func registerHistogram(reg prometheus.Registerer, histogram *prometheus.HistogramVec) *prometheus.HistogramVec {
	if err := reg.Register(histogram); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing
			}
		}
		panic(err)
	}
	return histogram
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(latency.Seconds())
}

// CartMutation counts a cart operation.
func (m *Metrics) CartMutation(operation, result string) {
	if m == nil {
		return
	}
	m.cartMutations.WithLabelValues(operation, result).Inc()
}

// CheckoutInitialized counts an order initialization outcome.
func (m *Metrics) CheckoutInitialized(gateway, result string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(gateway, result).Inc()
}

// PaymentCompleted counts a payment completion outcome.
func (m *Metrics) PaymentCompleted(gateway, result string) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(gateway, result).Inc()
}

// WebhookReceived counts a webhook delivery outcome.
func (m *Metrics) WebhookReceived(gateway, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(gateway, outcome).Inc()
}

// OrderFinalized counts a newly persisted order.
func (m *Metrics) OrderFinalized() {
	if m == nil {
		return
	}
	m.ordersFinalized.Inc()
}
