package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/models"
)

const namespace = "storefront"

// Checkout implements checkout.Metrics.
type Checkout struct {
	Attempts  *prometheus.CounterVec
	Results   *prometheus.CounterVec
	AttemptsN prometheus.Histogram
	LatencyMS prometheus.Histogram
}

func NewCheckout(reg prometheus.Registerer) *Checkout {
	m := &Checkout{
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "attempts_total",
			Help:      "Checkout transaction attempts by outcome.",
		}, []string{"outcome"}),
		Results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "results_total",
			Help:      "Finished checkouts by result code.",
		}, []string{"code"}),
		AttemptsN: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "attempts_per_checkout",
			Help:      "Attempts used by each finished checkout.",
			Buckets:   []float64{0, 1, 2, 3, 5},
		}),
		LatencyMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "duration_ms",
			Help:      "Checkout latency in milliseconds, retries included.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}),
	}
	reg.MustRegister(m.Attempts, m.Results, m.AttemptsN, m.LatencyMS)
	return m
}

func (m *Checkout) Attempt(outcome string) {
	m.Attempts.WithLabelValues(outcome).Inc()
}

func (m *Checkout) Finished(code models.ErrorCode, attempts int, elapsed time.Duration) {
	label := string(code)
	if label == "" {
		label = "OK"
	}
	m.Results.WithLabelValues(label).Inc()
	m.AttemptsN.Observe(float64(attempts))
	m.LatencyMS.Observe(float64(elapsed.Milliseconds()))
}

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	reg.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// Wrap records count and latency for next under the given handler name.
func (m *ServerMetrics) Wrap(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.Requests.WithLabelValues(name, strconv.Itoa(sw.status)).Inc()
		m.LatencyMS.WithLabelValues(name).Observe(float64(time.Since(start).Milliseconds()))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
