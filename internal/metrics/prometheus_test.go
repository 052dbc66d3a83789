package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/slaclab/bldDecode/internal/validator"
)

func TestDatagramMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordDatagramReceived(40)
	m.RecordDatagramReceived(92)
	m.RecordDatagramValid()
	m.RecordDatagramRejected(validator.BadTimestamp)
	m.RecordDatagramRejected(validator.BadTimestamp)
	m.RecordDatagramRejected(validator.BadHeader)
	m.RecordDatagramFiltered("version")
	m.RecordFrame(true)
	m.RecordFrame(false)
	m.RecordFrame(false)

	tests := []struct {
		name      string
		collector prometheus.Collector
		expected  float64
	}{
		{"received", m.DatagramsReceived, 2},
		{"valid", m.DatagramsValid, 1},
		{"rejected timestamp", m.DatagramsRejected.WithLabelValues("bad_timestamp"), 2},
		{"rejected header", m.DatagramsRejected.WithLabelValues("bad_header"), 1},
		{"filtered version", m.DatagramsFiltered.WithLabelValues("version"), 1},
		{"primary frames", m.FramesDecoded.WithLabelValues("primary"), 1},
		{"supplementary frames", m.FramesDecoded.WithLabelValues("supplementary"), 2},
	}

	for _, tt := range tests {
		if got := testutil.ToFloat64(tt.collector); got != tt.expected {
			t.Errorf("%s = %v, expected %v", tt.name, got, tt.expected)
		}
	}

	if count := testutil.CollectAndCount(m.DatagramSize); count != 1 {
		t.Errorf("expected one size histogram, got %d", count)
	}
}

func TestReportGauges(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.SetReportSize(12, 3)

	expected := `
# HELP bld_report_entries Current number of invalid datagrams retained in the report
# TYPE bld_report_entries gauge
bld_report_entries 12
`
	if err := testutil.CollectAndCompare(m.ReportEntries, strings.NewReader(expected), "bld_report_entries"); err != nil {
		t.Errorf("unexpected gauge output: %v", err)
	}
	if got := testutil.ToFloat64(m.ReportDropped); got != 3 {
		t.Errorf("report dropped = %v, expected 3", got)
	}
}

func TestHTTPMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordHTTPRequest("GET", "/stats", "200", 0.01)
	m.RecordHTTPError("GET", "/report", "client_error")

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/stats", "200")); got != 1 {
		t.Errorf("http requests = %v, expected 1", got)
	}
	if got := testutil.ToFloat64(m.HTTPErrors.WithLabelValues("GET", "/report", "client_error")); got != 1 {
		t.Errorf("http errors = %v, expected 1", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RecordDatagramReceived(10)
	m.RecordDatagramValid()
	m.RecordDatagramRejected(validator.BadEvent)
	m.RecordDatagramFiltered("severity")
	m.RecordReadError()
	m.RecordFrame(true)
	m.SetReportSize(1, 0)
	m.RecordHTTPRequest("GET", "/", "200", 0)
	m.RecordHTTPError("GET", "/", "server_error")
}

func TestRegistrationConflict(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	defer func() {
		if recover() == nil {
			t.Errorf("expected registering the same metrics twice to panic")
		}
	}()
	NewMetrics(reg)
}
