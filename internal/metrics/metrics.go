package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives the counters and timings the api emits.
type Recorder interface {
	PaymentInitiated(method, outcome string)
	CallbackReconciled(method, outcome string)
	ObserveHTTP(route, method string, status int, elapsed time.Duration)
}

// Prometheus keeps metrics on a private registry exposed through Handler.
type Prometheus struct {
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	latencyMS *prometheus.HistogramVec
	payments  *prometheus.CounterVec
	callbacks *prometheus.CounterVec
}

func NewPrometheus(namespace string) *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		latencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_initiated_total",
			Help:      "Payment initiations by method and outcome.",
		}, []string{"method", "outcome"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_callbacks_total",
			Help:      "Provider callbacks by method and reconciliation result.",
		}, []string{"method", "outcome"}),
	}
	p.registry.MustRegister(
		p.requests, p.latencyMS, p.payments, p.callbacks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prometheus) PaymentInitiated(method, outcome string) {
	p.payments.WithLabelValues(method, outcome).Inc()
}

func (p *Prometheus) CallbackReconciled(method, outcome string) {
	p.callbacks.WithLabelValues(method, outcome).Inc()
}

func (p *Prometheus) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	p.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	p.latencyMS.WithLabelValues(route).Observe(float64(elapsed.Microseconds()) / 1000)
}

// Handler serves the registry in the text exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Nop discards everything.
type Nop struct{}

func (Nop) PaymentInitiated(string, string)                {}
func (Nop) CallbackReconciled(string, string)              {}
func (Nop) ObserveHTTP(string, string, int, time.Duration) {}

// Multi forwards to every recorder.
type Multi []Recorder

func (m Multi) PaymentInitiated(method, outcome string) {
	for _, r := range m {
		r.PaymentInitiated(method, outcome)
	}
}

func (m Multi) CallbackReconciled(method, outcome string) {
	for _, r := range m {
		r.CallbackReconciled(method, outcome)
	}
}

func (m Multi) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	for _, r := range m {
		r.ObserveHTTP(route, method, status, elapsed)
	}
}
