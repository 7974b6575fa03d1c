package metrics

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a private registry so several engines can coexist in one
// process. A nil *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	objectsCreated  *prometheus.CounterVec
	renders         *prometheus.CounterVec
	renderDuration  prometheus.Histogram
	images          *prometheus.CounterVec
	dbOpen          prometheus.Gauge
	dbIdle          prometheus.Gauge
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statusflow_api_requests_total",
			Help: "Total number of API requests",
		}, []string{"method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "statusflow_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statusflow_transitions_total",
			Help: "Status transitions by object type and outcome",
		}, []string{"object_type", "outcome"}),
		objectsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statusflow_objects_created_total",
			Help: "Tracked objects created",
		}, []string{"object_type"}),
		renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statusflow_report_renders_total",
			Help: "Report renders by outcome",
		}, []string{"outcome"}),
		renderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "statusflow_report_render_duration_seconds",
			Help:    "Report render duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		images: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statusflow_report_images_total",
			Help: "Inlined report images by source and outcome",
		}, []string{"source", "outcome"}),
		dbOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "statusflow_database_connections_open",
			Help: "Open database connections",
		}),
		dbIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "statusflow_database_connections_idle",
			Help: "Idle database connections",
		}),
	}
	r.registry.MustRegister(
		r.requestsTotal, r.requestDuration, r.transitions, r.objectsCreated,
		r.renders, r.renderDuration, r.images, r.dbOpen, r.dbIdle,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveTransition counts one transition attempt. outcome is "ok" or an
// error class such as "illegal_transition".
func (r *Recorder) ObserveTransition(objectType, outcome string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(objectType, outcome).Inc()
}

func (r *Recorder) ObserveObjectCreated(objectType string) {
	if r == nil {
		return
	}
	r.objectsCreated.WithLabelValues(objectType).Inc()
}

func (r *Recorder) ObserveRender(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.renders.WithLabelValues(outcome).Inc()
	r.renderDuration.Observe(d.Seconds())
}

// ObserveImage counts one image; source is "data" or "remote".
func (r *Recorder) ObserveImage(source, outcome string) {
	if r == nil {
		return
	}
	r.images.WithLabelValues(source, outcome).Inc()
}

func (r *Recorder) ObserveRequest(method string, status int, d time.Duration) {
	if r == nil {
		return
	}
	r.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// UpdateDatabaseStats copies connection pool stats into gauges.
func (r *Recorder) UpdateDatabaseStats(db *sql.DB) {
	if r == nil || db == nil {
		return
	}
	stats := db.Stats()
	r.dbOpen.Set(float64(stats.OpenConnections))
	r.dbIdle.Set(float64(stats.Idle))
}

// Middleware records request count and latency.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, req)
		r.ObserveRequest(req.Method, sw.status, time.Since(start))
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
