package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "vulntrex"

// Ingest sources.
const (
	sourceUpload = "upload"
	sourceScan   = "scan"
)

// metrics holds the server's collectors on a private registry so that
// several servers can coexist in one process.
type metrics struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	ingests         *prometheus.CounterVec
	attemptQueries  prometheus.Counter
	exports         *prometheus.CounterVec
	scans           *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of API requests by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		ingests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ingests_total",
			Help:      "Reports ingested by source and result.",
		}, []string{"source", "result"}),
		attemptQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "attempt_queries_total",
			Help:      "Attempt list queries served.",
		}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "exports_total",
			Help:      "CSV exports by result.",
		}, []string{"result"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "scans_started_total",
			Help:      "Scans started by provider.",
		}, []string{"provider"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestDuration,
		m.ingests,
		m.attemptQueries,
		m.exports,
		m.scans,
	)

	return m
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}

	return "ok"
}

func (m *metrics) observeIngest(source string, err error) {
	m.ingests.WithLabelValues(source, resultLabel(err)).Inc()
}

func (m *metrics) observeExport(err error) {
	m.exports.WithLabelValues(resultLabel(err)).Inc()
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// instrument records the duration of every request labelled with its
// chi route pattern.
func (m *metrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.requestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
