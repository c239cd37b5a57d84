package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the video server.
// All methods are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	registry           *prometheus.Registry
	requestsTotal      prometheus.Counter
	errorsTotal        prometheus.Counter
	streamBytesTotal   *prometheus.CounterVec
	streamAbortsTotal  prometheus.Counter
	catalogScansTotal  *prometheus.CounterVec
	transcodeJobsTotal *prometheus.CounterVec
	transcodeJoined    prometheus.Counter
	activeTranscodes   prometheus.Gauge
	retainedJobs       prometheus.Gauge
	encodeDuration     prometheus.Histogram
	playbackSavesTotal prometheus.Counter
	playbackRecords    prometheus.Gauge
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vod_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vod_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		streamBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vod_stream_bytes_total",
			Help: "Bytes of media written to clients",
		}, []string{"kind"}), // "full", "partial"
		streamAbortsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vod_stream_aborts_total",
			Help: "Streams stopped before completion (client gone, write timeout, source failure)",
		}),
		catalogScansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vod_catalog_scans_total",
			Help: "Catalog directory scans by result",
		}, []string{"result"}), // "scanned", "cached", "error"
		transcodeJobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vod_transcode_jobs_total",
			Help: "Transcode jobs by final state",
		}, []string{"state"}),
		transcodeJoined: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vod_transcode_requests_joined_total",
			Help: "Transcode requests attached to an already running job",
		}),
		activeTranscodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vod_transcodes_active",
			Help: "Encode processes currently running",
		}),
		retainedJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vod_transcode_jobs_retained",
			Help: "Finished transcode jobs kept for status queries",
		}),
		encodeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vod_transcode_duration_seconds",
			Help:    "Wall time of encode processes",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		playbackSavesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vod_playback_saves_total",
			Help: "Accepted playback position saves",
		}),
		playbackRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vod_playback_records",
			Help: "Stored playback positions",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.streamBytesTotal,
		m.streamAbortsTotal,
		m.catalogScansTotal,
		m.transcodeJobsTotal,
		m.transcodeJoined,
		m.activeTranscodes,
		m.retainedJobs,
		m.encodeDuration,
		m.playbackSavesTotal,
		m.playbackRecords,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// AddStreamBytes adds n bytes written for a full or partial response.
func (m *Metrics) AddStreamBytes(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.streamBytesTotal.WithLabelValues(kind).Add(float64(n))
}

// IncStreamAborts counts a stream that stopped early.
func (m *Metrics) IncStreamAborts() {
	if m == nil {
		return
	}
	m.streamAbortsTotal.Inc()
}

// IncCatalogScans counts a catalog listing by result.
func (m *Metrics) IncCatalogScans(result string) {
	if m == nil {
		return
	}
	m.catalogScansTotal.WithLabelValues(result).Inc()
}

// IncTranscodeJobs counts a job reaching the given terminal state.
func (m *Metrics) IncTranscodeJobs(state string) {
	if m == nil {
		return
	}
	m.transcodeJobsTotal.WithLabelValues(state).Inc()
}

// IncTranscodeJoined counts a request deduplicated onto a live job.
func (m *Metrics) IncTranscodeJoined() {
	if m == nil {
		return
	}
	m.transcodeJoined.Inc()
}

// AddActiveTranscodes moves the running-encode gauge by delta.
func (m *Metrics) AddActiveTranscodes(delta float64) {
	if m == nil {
		return
	}
	m.activeTranscodes.Add(delta)
}

// SetRetainedJobs sets the retained-jobs gauge.
func (m *Metrics) SetRetainedJobs(n int) {
	if m == nil {
		return
	}
	m.retainedJobs.Set(float64(n))
}

// ObserveEncodeDuration records the wall time of one encode in seconds.
func (m *Metrics) ObserveEncodeDuration(seconds float64) {
	if m == nil {
		return
	}
	m.encodeDuration.Observe(seconds)
}

// IncPlaybackSaves counts an accepted playback save.
func (m *Metrics) IncPlaybackSaves() {
	if m == nil {
		return
	}
	m.playbackSavesTotal.Inc()
}

// SetPlaybackRecords sets the stored playback position gauge.
func (m *Metrics) SetPlaybackRecords(n int) {
	if m == nil {
		return
	}
	m.playbackRecords.Set(float64(n))
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
