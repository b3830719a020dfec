package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/invoicely/invoicely/internal/documents/doctype"
)

// Metrics collects the Prometheus metrics of the API process.
type Metrics struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	mutations        *prometheus.CounterVec
	numberConflicts  *prometheus.CounterVec
	numberFallbacks  *prometheus.CounterVec
	cacheInvalidated *prometheus.CounterVec
}

// NewMetrics initialises the registry with HTTP, document and runtime metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invoicely_http_requests_total",
		Help: "HTTP requests partitioned by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "invoicely_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invoicely_document_mutations_total",
		Help: "Document mutations partitioned by action, type and outcome.",
	}, []string{"action", "type", "outcome"})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invoicely_document_number_conflicts_total",
		Help: "Document number collisions retried by the orchestrator.",
	}, []string{"type"})
	fallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invoicely_document_number_fallbacks_total",
		Help: "Number generations that fell back to sequence 1 after a lookup failure.",
	}, []string{"type"})
	invalidated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invoicely_view_invalidations_total",
		Help: "Cached view collections bumped after a confirmed write.",
	}, []string{"collection"})
	registry.MustRegister(
		requests, duration, mutations, conflicts, fallbacks, invalidated,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		mutations:        mutations,
		numberConflicts:  conflicts,
		numberFallbacks:  fallbacks,
		cacheInvalidated: invalidated,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records count and latency of every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObserveDocumentMutation implements documents.Metrics.
func (m *Metrics) ObserveDocumentMutation(action, docType, outcome string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(action, docType, outcome).Inc()
}

// IncNumberConflict implements documents.Metrics.
func (m *Metrics) IncNumberConflict(docType string) {
	if m == nil {
		return
	}
	m.numberConflicts.WithLabelValues(docType).Inc()
}

// IncNumberFallback counts numbering lookups that degraded to sequence 1.
// Its signature matches numbering.WithFallbackHook.
func (m *Metrics) IncNumberFallback(t doctype.Type) {
	if m == nil {
		return
	}
	m.numberFallbacks.WithLabelValues(string(t)).Inc()
}

// IncInvalidation counts a bumped view collection.
func (m *Metrics) IncInvalidation(collection string) {
	if m == nil {
		return
	}
	m.cacheInvalidated.WithLabelValues(collection).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
