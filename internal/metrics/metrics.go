package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Predictions     *prometheus.CounterVec
	InferenceTime   prometheus.Histogram
	Feedback        *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			}, []string{"path", "method", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			}, []string{"path"},
		),
		Predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "classifier_predictions_total",
				Help: "Predictions served, by predicted class",
			}, []string{"class"},
		),
		InferenceTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "classifier_inference_seconds",
				Help:    "Time spent in preprocessing and model inference",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
			},
		),
		Feedback: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "classifier_feedback_total",
				Help: "Feedback votes received",
			}, []string{"vote"},
		),
	}
	m.registry.MustRegister(m.RequestCount, m.RequestDuration, m.Predictions, m.InferenceTime, m.Feedback)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObservePrediction(class string, d time.Duration) {
	m.Predictions.WithLabelValues(class).Inc()
	m.InferenceTime.Observe(d.Seconds())
}

func (m *Metrics) ObserveFeedback(vote string) {
	m.Feedback.WithLabelValues(vote).Inc()
}

// Middleware records request counts and latency keyed by route pattern, so
// unmatched paths don't create unbounded label values.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestCount.WithLabelValues(path, r.Method, strconv.Itoa(status)).Inc()
		m.RequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	})
}
