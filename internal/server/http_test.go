package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/slaclab/bldDecode/internal/config"
	"github.com/slaclab/bldDecode/internal/metrics"
	"github.com/slaclab/bldDecode/internal/pipeline"
	"github.com/slaclab/bldDecode/internal/report"
)

type apiFixture struct {
	server    *HTTPServer
	processor *pipeline.Processor
}

func newAPIFixture(t *testing.T, withReport bool) *apiFixture {
	t.Helper()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	var acc *report.Accumulator
	if withReport {
		acc = report.NewAccumulator(report.Config{RunID: "run-1"})
	}

	proc := pipeline.NewProcessor(testLogger(), pipeline.Options{
		Filter:  pipeline.Filter{Version: pipeline.AnyVersion},
		Report:  acc,
		Metrics: m,
	})

	cfg := config.Default()
	s := NewHTTPServer(cfg.HTTP, testLogger(), HTTPServerOptions{
		Config:    cfg,
		Processor: proc,
		Metrics:   m,
		Gatherer:  reg,
		RunID:     "run-1",
	})
	return &apiFixture{server: s, processor: proc}
}

func (f *apiFixture) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response: %v\n%s", err, rec.Body.String())
	}
	return body
}

func TestHandleHealth(t *testing.T) {
	f := newAPIFixture(t, false)

	body := decodeJSON(t, f.get(t, "/health"))
	if body["status"] != "waiting" {
		t.Errorf("status = %v before any datagram, expected waiting", body["status"])
	}
	if body["run"] != "run-1" {
		t.Errorf("run = %v", body["run"])
	}

	f.processor.Process(createTestDatagram(1))

	body = decodeJSON(t, f.get(t, "/health"))
	if body["status"] != "decoding" {
		t.Errorf("status = %v after a valid datagram, expected decoding", body["status"])
	}
	components := body["components"].(map[string]any)
	validatorState := components["validator"].(map[string]any)
	if validatorState["seeded"] != true {
		t.Errorf("validator not reported as seeded: %v", validatorState)
	}
	receiverState := components["receiver"].(map[string]any)
	if receiverState["status"] != "stopped" {
		t.Errorf("receiver status = %v without a receiver", receiverState["status"])
	}
}

func TestHandleStats(t *testing.T) {
	f := newAPIFixture(t, true)
	f.processor.Process(createTestDatagram(1))
	f.processor.Process([]byte{1, 2, 3})

	body := decodeJSON(t, f.get(t, "/stats"))

	p := body["pipeline"].(map[string]any)
	if p["received"] != float64(2) || p["valid"] != float64(1) || p["rejected"] != float64(1) {
		t.Errorf("unexpected pipeline counters: %v", p)
	}
	r := body["report"].(map[string]any)
	if r["recv"] != float64(2) || r["errors"] != float64(1) {
		t.Errorf("unexpected report counters: %v", r)
	}
	if _, ok := body["receiver"]; ok {
		t.Errorf("receiver counters reported without a receiver")
	}
}

func TestHandleReport(t *testing.T) {
	f := newAPIFixture(t, true)
	f.processor.Process(createTestDatagram(1))
	f.processor.Process([]byte{1, 2, 3})

	tests := []struct {
		name        string
		target      string
		status      int
		contentType string
	}{
		{"default format", "/report", http.StatusOK, "application/json"},
		{"json", "/report?format=json", http.StatusOK, "application/json"},
		{"cbor", "/report?format=cbor", http.StatusOK, "application/cbor"},
		{"unknown format", "/report?format=xml", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.get(t, tt.target)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, expected %d", rec.Code, tt.status)
			}
			if tt.contentType == "" {
				return
			}
			if ct := rec.Header().Get("Content-Type"); ct != tt.contentType {
				t.Errorf("Content-Type = %q, expected %q", ct, tt.contentType)
			}

			var doc report.Document
			var err error
			if tt.contentType == "application/cbor" {
				err = cbor.Unmarshal(rec.Body.Bytes(), &doc)
			} else {
				err = json.Unmarshal(rec.Body.Bytes(), &doc)
			}
			if err != nil {
				t.Fatalf("failed to decode report: %v", err)
			}
			if doc.Run != "run-1" || doc.Recv != 2 || doc.Errors != 1 || len(doc.ErrorPackets) != 1 {
				t.Errorf("unexpected document: %+v", doc)
			}
			if doc.ErrorPackets[0].Data != "AQID" {
				t.Errorf("data = %q, expected AQID", doc.ErrorPackets[0].Data)
			}
		})
	}
}

func TestHandleReportDisabled(t *testing.T) {
	f := newAPIFixture(t, false)
	if rec := f.get(t, "/report"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, expected 404", rec.Code)
	}
}

func TestHandleConfig(t *testing.T) {
	f := newAPIFixture(t, false)

	body := decodeJSON(t, f.get(t, "/config"))
	receiver := body["receiver"].(map[string]any)
	if receiver["address"] != "224.0.0.0" || receiver["port"] != float64(50000) {
		t.Errorf("unexpected receiver section: %v", receiver)
	}
	filter := body["filter"].(map[string]any)
	if filter["severity_mask"] != nil {
		t.Errorf("severity_mask = %v, expected null", filter["severity_mask"])
	}
	schema := body["schema"].(map[string]any)
	if schema["channels"] != float64(-1) {
		t.Errorf("channels = %v, expected derived (-1)", schema["channels"])
	}
}

func TestHandleMetrics(t *testing.T) {
	f := newAPIFixture(t, false)
	f.processor.Process(createTestDatagram(1))

	rec := f.get(t, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "bld_datagrams_received_total 1") {
		t.Errorf("metrics output missing received counter:\n%s", rec.Body.String())
	}
}

func TestHandleRoot(t *testing.T) {
	f := newAPIFixture(t, false)

	body := decodeJSON(t, f.get(t, "/"))
	if body["service"] != serviceName {
		t.Errorf("service = %v", body["service"])
	}

	if rec := f.get(t, "/unknown"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d, expected 404", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newAPIFixture(t, false)

	for _, path := range []string{"/health", "/stats", "/config"} {
		rec := httptest.NewRecorder()
		f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, bytes.NewReader(nil)))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s status = %d, expected 405", path, rec.Code)
		}
	}
}
