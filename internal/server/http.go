package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/slaclab/bldDecode/internal/config"
	"github.com/slaclab/bldDecode/internal/metrics"
	"github.com/slaclab/bldDecode/internal/pipeline"
	"github.com/slaclab/bldDecode/internal/report"
)

const serviceName = "blddecode"

// HTTPServer provides HTTP API endpoints for monitoring a decoding session
type HTTPServer struct {
	server    *http.Server
	logger    *slog.Logger
	config    *config.Config
	processor *pipeline.Processor
	receiver  *Receiver
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	runID     string
	startTime time.Time
}

// HTTPServerOptions carries the collaborators of the HTTP API
type HTTPServerOptions struct {
	Config    *config.Config
	Processor *pipeline.Processor
	Receiver  *Receiver
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer // nil serves the default registry
	RunID     string
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, opts HTTPServerOptions) *HTTPServer {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:    logger,
		config:    opts.Config,
		processor: opts.Processor,
		receiver:  opts.Receiver,
		metrics:   opts.Metrics,
		gatherer:  opts.Gatherer,
		runID:     opts.RunID,
		startTime: time.Now(),
	}

	h.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Address, fmt.Sprint(cfg.Port)),
		Handler:      h.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the API routes
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/report", h.withMetrics("/report", h.handleReport))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
	return mux
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprint(ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start binds the listen address and serves in the background
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP API server",
		slog.String("address", ln.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := "waiting"
	validatorState := map[string]any{"seeded": false}
	if baseline, seeded := h.processor.Baseline(); seeded {
		status = "decoding"
		validatorState = map[string]any{
			"seeded":   true,
			"baseline": baseline.UTC(),
		}
	}

	receiverState := map[string]any{"status": "stopped"}
	if h.receiver != nil {
		rs := h.receiver.GetStatistics()
		if rs.Running {
			receiverState["status"] = "running"
		}
		receiverState["address"] = h.receiver.LocalAddr().String()
	}

	writeJSON(w, map[string]any{
		"status":    status,
		"run":       h.runID,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service":   serviceName,
		"components": map[string]any{
			"receiver":  receiverState,
			"validator": validatorState,
		},
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"pipeline":  h.processor.GetStatistics(),
	}
	if h.receiver != nil {
		stats["receiver"] = h.receiver.GetStatistics()
	}
	if acc := h.processor.Report(); acc != nil {
		stats["report"] = acc.GetStatistics()
	}

	writeJSON(w, stats)
}

// handleReport implements the /report endpoint, serving the current report document
func (h *HTTPServer) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	acc := h.processor.Report()
	if acc == nil {
		http.Error(w, "Report generation is disabled", http.StatusNotFound)
		return
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "", report.FormatJSON:
		w.Header().Set("Content-Type", "application/json")
		format = report.FormatJSON
	case report.FormatCBOR:
		w.Header().Set("Content-Type", "application/cbor")
	default:
		http.Error(w, "Unknown report format", http.StatusBadRequest)
		return
	}

	if err := acc.Serialize(w, format); err != nil {
		h.logger.Error("Failed to serialize report", slog.String("error", err.Error()))
	}
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c := h.config
	var severity any
	if c.Filter.SeverityMask != nil {
		severity = fmt.Sprintf("0x%016X", *c.Filter.SeverityMask)
	}

	writeJSON(w, map[string]any{
		"receiver": map[string]any{
			"address":      c.Receiver.Address,
			"port":         c.Receiver.Port,
			"unicast":      c.Receiver.Unicast,
			"buffer_size":  c.Receiver.BufferSize,
			"idle_timeout": c.Receiver.IdleTimeout,
			"max_packets":  c.Receiver.MaxPackets,
		},
		"filter": map[string]any{
			"version":       c.Filter.Version,
			"severity_mask": severity,
			"channels":      c.Filter.Channels,
			"events":        c.Filter.Events,
		},
		"schema": map[string]any{
			"source":   c.Schema.Source,
			"name":     c.Schema.Name,
			"field":    c.Schema.Field,
			"formats":  c.Schema.Formats,
			"channels": h.processor.Schema().ChannelCount(),
		},
		"report": map[string]any{
			"enabled":     c.Report.Enabled,
			"output":      c.Report.Output,
			"format":      c.Report.Format,
			"max_entries": c.Report.MaxEntries,
		},
		"logging": map[string]any{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, map[string]any{
		"service": serviceName,
		"endpoints": map[string]any{
			"GET /":        "API documentation",
			"GET /health":  "Decoder health check",
			"GET /stats":   "Receiver, pipeline and report counters",
			"GET /report":  "Current error report (?format=json|cbor)",
			"GET /config":  "Effective configuration",
			"GET /metrics": "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
