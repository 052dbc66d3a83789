package report

import (
	"sync"
	"time"

	"github.com/slaclab/bldDecode/internal/validator"
)

// TimeLayout is the human-readable capture time format used in reports
const TimeLayout = "Mon Jan 02 2006 15:04:05.000000000"

// Entry is one captured invalid datagram. Entries are never modified after creation.
type Entry struct {
	Index      uint64
	Reason     validator.ErrorKind
	Data       []byte
	ReceivedAt time.Time
}

// Config contains accumulator settings
type Config struct {
	// MaxEntries bounds the number of retained entries. Zero keeps every
	// entry; otherwise the oldest entries are evicted first.
	MaxEntries int

	// RunID identifies the decoding session in the serialized document
	RunID string

	// Now overrides the wall clock, for tests
	Now func() time.Time
}

// Accumulator counts processed datagrams and keeps copies of invalid ones
type Accumulator struct {
	mu      sync.Mutex
	config  Config
	entries []Entry
	start   int // index of the oldest entry once the ring is full

	totalPackets uint64
	errorPackets uint64
	dropped      uint64
}

// Statistics is a point-in-time view of the accumulator counters
type Statistics struct {
	Received uint64 `json:"recv"`
	Errors   uint64 `json:"errors"`
	Retained int    `json:"retained"`
	Dropped  uint64 `json:"dropped"`
}

// NewAccumulator creates an empty accumulator
func NewAccumulator(cfg Config) *Accumulator {
	if cfg.MaxEntries < 0 {
		cfg.MaxEntries = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Accumulator{config: cfg}
}

// RecordSuccess counts a datagram that decoded without error
func (a *Accumulator) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalPackets++
}

// RecordFailure captures raw[:length] as an invalid datagram of the given kind.
// The entry index is the number of datagrams processed before this one.
func (a *Accumulator) RecordFailure(kind validator.ErrorKind, raw []byte, length int) {
	length = max(0, min(length, len(raw)))
	data := make([]byte, length)
	copy(data, raw[:length])

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := Entry{
		Index:      a.totalPackets,
		Reason:     kind,
		Data:       data,
		ReceivedAt: a.config.Now(),
	}

	switch {
	case a.config.MaxEntries == 0 || len(a.entries) < a.config.MaxEntries:
		a.entries = append(a.entries, entry)
	default:
		a.entries[a.start] = entry
		a.start = (a.start + 1) % len(a.entries)
		a.dropped++
	}

	a.errorPackets++
	a.totalPackets++
}

// Entries returns the retained entries in arrival order
func (a *Accumulator) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.orderedLocked()
}

func (a *Accumulator) orderedLocked() []Entry {
	out := make([]Entry, 0, len(a.entries))
	out = append(out, a.entries[a.start:]...)
	out = append(out, a.entries[:a.start]...)
	return out
}

// GetStatistics returns the current counters
func (a *Accumulator) GetStatistics() Statistics {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Statistics{
		Received: a.totalPackets,
		Errors:   a.errorPackets,
		Retained: len(a.entries),
		Dropped:  a.dropped,
	}
}
