// Package metrics exposes Prometheus collectors for the dispatch service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsAcceptedTotal prometheus.Counter
	jobsRejectedTotal *prometheus.CounterVec
	jobRunning        prometheus.Gauge
	itemsTotal        *prometheus.CounterVec
	httpRequestsTotal *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsAcceptedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "wablast_jobs_accepted_total",
				Help: "Total number of accepted bulk-send jobs.",
			},
		)

		jobsRejectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wablast_jobs_rejected_total",
				Help: "Total number of rejected submissions, labeled by reason.",
			},
			[]string{"reason"},
		)

		jobRunning = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "wablast_job_running",
				Help: "Whether a bulk-send job currently holds the slot (0 or 1).",
			},
		)

		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wablast_items_total",
				Help: "Total number of dispatched items, labeled by terminal status.",
			},
			[]string{"status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wablast_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
	})
}

func JobAccepted() {
	Init()
	jobsAcceptedTotal.Inc()
}

func JobRejected(reason string) {
	Init()
	jobsRejectedTotal.WithLabelValues(reason).Inc()
}

func SetJobRunning(running bool) {
	Init()
	if running {
		jobRunning.Set(1)
	} else {
		jobRunning.Set(0)
	}
}

// ObserveItem counts one item reaching a terminal status.
func ObserveItem(status string) {
	Init()
	itemsTotal.WithLabelValues(status).Inc()
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// Middleware counts requests by method and response code.
func Middleware(next http.Handler) http.Handler {
	Init()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)
		httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(sw.code)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
