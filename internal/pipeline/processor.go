package pipeline

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/slaclab/bldDecode/internal/decoder"
	"github.com/slaclab/bldDecode/internal/metrics"
	"github.com/slaclab/bldDecode/internal/protocol"
	"github.com/slaclab/bldDecode/internal/report"
	"github.com/slaclab/bldDecode/internal/schema"
	"github.com/slaclab/bldDecode/internal/validator"
)

// Outcome is the result of processing one datagram
type Outcome int

const (
	// Valid means every frame of the datagram validated
	Valid Outcome = iota
	// Rejected means the validator rejected a frame of the datagram
	Rejected
	// Filtered means a filter skipped the datagram before validation
	Filtered
)

// Accepted reports whether the datagram passed the filters. Only accepted
// datagrams count towards the report and the idle deadline.
func (o Outcome) Accepted() bool {
	return o != Filtered
}

func (o Outcome) String() string {
	switch o {
	case Valid:
		return "valid"
	case Rejected:
		return "rejected"
	case Filtered:
		return "filtered"
	default:
		return "unknown"
	}
}

// Consumer receives the frames of each accepted datagram in wire order
type Consumer interface {
	BeginDatagram(size int)
	Frame(f decoder.Frame)
	// EndDatagram is called once per accepted datagram. err is nil when
	// every frame validated.
	EndDatagram(err *decoder.Error)
}

// Filter selects which datagrams are processed. Datagrams shorter than the
// primary header are never filtered, so they always reach validation.
type Filter struct {
	Version       int64 // negative matches any version
	SeverityMask  uint64
	MatchSeverity bool
}

// AnyVersion disables the version filter
const AnyVersion = -1

// skip returns the name of the filter rejecting data, if any
func (f Filter) skip(data []byte) (string, bool) {
	if len(data) < protocol.PrimaryHeaderSize {
		return "", false
	}
	hdr, err := protocol.ParsePrimary(data, 0)
	if err != nil {
		return "", false
	}
	if f.Version >= 0 && int64(hdr.Version) != f.Version {
		return "version", true
	}
	if f.MatchSeverity && hdr.SeverityMask != f.SeverityMask {
		return "severity", true
	}
	return "", false
}

// Options configures a Processor
type Options struct {
	Schema   *schema.ChannelSchema // nil uses schema.Default()
	Filter   Filter
	Report   *report.Accumulator // nil disables report capture
	Consumer Consumer            // nil discards frames
	Metrics  *metrics.Metrics
}

// Statistics is a point-in-time view of the processor counters
type Statistics struct {
	Received  uint64    `json:"received"`
	Filtered  uint64    `json:"filtered"`
	Valid     uint64    `json:"valid"`
	Rejected  uint64    `json:"rejected"`
	Frames    uint64    `json:"frames"`
	LastValid time.Time `json:"last_valid"`
}

// Processor decodes, validates and dispatches datagrams. All per-datagram
// state (validator seed, report, counters, consumer calls) changes under one
// mutex, so a datagram is fully processed before the next one starts.
type Processor struct {
	mu        sync.Mutex
	schema    *schema.ChannelSchema
	validator *validator.Validator
	decoder   *decoder.Decoder
	filter    Filter
	report    *report.Accumulator
	consumer  Consumer
	metrics   *metrics.Metrics
	logger    *slog.Logger
	stats     Statistics
}

// NewProcessor creates a processor with a fresh, unseeded validator
func NewProcessor(logger *slog.Logger, opts Options) *Processor {
	if opts.Schema == nil {
		opts.Schema = schema.Default()
	}
	if opts.Consumer == nil {
		opts.Consumer = discard{}
	}

	v := validator.New()
	return &Processor{
		schema:    opts.Schema,
		validator: v,
		decoder:   decoder.New(v, opts.Schema.ChannelCount()),
		filter:    opts.Filter,
		report:    opts.Report,
		consumer:  opts.Consumer,
		metrics:   opts.Metrics,
		logger:    logger,
	}
}

// Process handles one datagram. The first invalid frame stops decoding and
// the whole datagram is captured in the report.
func (p *Processor) Process(data []byte) Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Received++
	p.metrics.RecordDatagramReceived(len(data))

	if name, skip := p.filter.skip(data); skip {
		p.stats.Filtered++
		p.metrics.RecordDatagramFiltered(name)
		p.logger.Debug("Datagram filtered",
			slog.String("filter", name),
			slog.Int("size", len(data)),
		)
		return Filtered
	}

	p.consumer.BeginDatagram(len(data))

	for frame, err := range p.decoder.Frames(data) {
		if err != nil {
			derr := asDecodeError(err, len(data))
			p.rejectLocked(data, derr)
			p.consumer.EndDatagram(derr)
			return Rejected
		}
		p.stats.Frames++
		p.metrics.RecordFrame(frame.IsPrimary())
		p.consumer.Frame(frame)
	}

	p.stats.Valid++
	p.stats.LastValid = time.Now()
	p.metrics.RecordDatagramValid()
	if p.report != nil {
		p.report.RecordSuccess()
	}
	p.consumer.EndDatagram(nil)
	return Valid
}

func (p *Processor) rejectLocked(data []byte, derr *decoder.Error) {
	p.stats.Rejected++
	p.metrics.RecordDatagramRejected(derr.Kind)

	p.logger.Warn("Invalid datagram received",
		slog.String("reason", derr.Kind.String()),
		slog.Int("event", derr.Event),
		slog.Int("length", derr.Length),
		slog.Int("size", len(data)),
	)

	if p.report != nil {
		p.report.RecordFailure(derr.Kind, data, len(data))
		rs := p.report.GetStatistics()
		p.metrics.SetReportSize(rs.Retained, rs.Dropped)
	}
}

func asDecodeError(err error, size int) *decoder.Error {
	var derr *decoder.Error
	if errors.As(err, &derr) {
		return derr
	}
	return &decoder.Error{Kind: validator.Unknown, Length: size}
}

// GetStatistics returns the current processor counters
func (p *Processor) GetStatistics() Statistics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Baseline returns the validator baseline timestamp and whether it is set
func (p *Processor) Baseline() (time.Time, bool) {
	return p.validator.Baseline()
}

// Schema returns the channel schema frames are decoded with
func (p *Processor) Schema() *schema.ChannelSchema {
	return p.schema
}

// Report returns the report accumulator, nil when capture is disabled
func (p *Processor) Report() *report.Accumulator {
	return p.report
}

type discard struct{}

func (discard) BeginDatagram(int)          {}
func (discard) Frame(decoder.Frame)        {}
func (discard) EndDatagram(*decoder.Error) {}
