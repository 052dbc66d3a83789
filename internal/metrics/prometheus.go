package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/slaclab/bldDecode/internal/validator"
)

// Metrics contains all Prometheus metrics for the BLD decoder.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Datagram metrics
	DatagramsReceived prometheus.Counter
	DatagramsValid    prometheus.Counter
	DatagramsRejected *prometheus.CounterVec
	DatagramsFiltered *prometheus.CounterVec
	DatagramSize      prometheus.Histogram
	ReadErrors        prometheus.Counter

	// Frame metrics
	FramesDecoded *prometheus.CounterVec

	// Report metrics
	ReportEntries prometheus.Gauge
	ReportDropped prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		DatagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "bld_datagrams_received_total",
			Help: "Total number of UDP datagrams received",
		}),
		DatagramsValid: factory.NewCounter(prometheus.CounterOpts{
			Name: "bld_datagrams_valid_total",
			Help: "Total number of datagrams whose every frame validated",
		}),
		DatagramsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bld_datagrams_rejected_total",
			Help: "Total number of datagrams rejected by the validator",
		}, []string{"reason"}),
		DatagramsFiltered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bld_datagrams_filtered_total",
			Help: "Total number of datagrams skipped by a filter",
		}, []string{"filter"}),
		DatagramSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bld_datagram_size_bytes",
			Help:    "Size of received datagrams in bytes",
			Buckets: prometheus.ExponentialBuckets(16, 2, 10), // 16B to 8KB
		}),
		ReadErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "bld_read_errors_total",
			Help: "Total number of socket read errors",
		}),

		FramesDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bld_frames_decoded_total",
			Help: "Total number of valid frames decoded",
		}, []string{"kind"}),

		ReportEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bld_report_entries",
			Help: "Current number of invalid datagrams retained in the report",
		}),
		ReportDropped: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bld_report_dropped",
			Help: "Number of report entries evicted by the retention bound",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bld_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bld_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bld_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordDatagramReceived counts a received datagram and observes its size
func (m *Metrics) RecordDatagramReceived(size int) {
	if m == nil {
		return
	}
	m.DatagramsReceived.Inc()
	m.DatagramSize.Observe(float64(size))
}

// RecordDatagramValid counts a fully valid datagram
func (m *Metrics) RecordDatagramValid() {
	if m == nil {
		return
	}
	m.DatagramsValid.Inc()
}

// RecordDatagramRejected counts a datagram rejected with the given kind
func (m *Metrics) RecordDatagramRejected(kind validator.ErrorKind) {
	if m == nil {
		return
	}
	m.DatagramsRejected.WithLabelValues(kind.Slug()).Inc()
}

// RecordDatagramFiltered counts a datagram skipped by the named filter
func (m *Metrics) RecordDatagramFiltered(filter string) {
	if m == nil {
		return
	}
	m.DatagramsFiltered.WithLabelValues(filter).Inc()
}

// RecordReadError counts a failed socket read
func (m *Metrics) RecordReadError() {
	if m == nil {
		return
	}
	m.ReadErrors.Inc()
}

// RecordFrame counts a valid frame
func (m *Metrics) RecordFrame(primary bool) {
	if m == nil {
		return
	}
	kind := "supplementary"
	if primary {
		kind = "primary"
	}
	m.FramesDecoded.WithLabelValues(kind).Inc()
}

// SetReportSize publishes the retained and evicted report entry counts
func (m *Metrics) SetReportSize(retained int, dropped uint64) {
	if m == nil {
		return
	}
	m.ReportEntries.Set(float64(retained))
	m.ReportDropped.Set(float64(dropped))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
