package validator

import (
	"sync"
	"time"

	"github.com/slaclab/bldDecode/internal/protocol"
)

// TimestampEpsilon is how far a primary timestamp may fall behind the baseline
// before the frame is considered garbage
const TimestampEpsilon = 60 * time.Second

// ErrorKind classifies why a frame was rejected
type ErrorKind int

// Validation results
const (
	None ErrorKind = iota
	Unknown
	BadHeader    // header shorter than the fixed primary header
	BadTimestamp // timestamp more than TimestampEpsilon before the baseline
	BadEvent     // supplementary record too short or truncated
)

// String returns the reason text used in reports
func (k ErrorKind) String() string {
	switch k {
	case None:
		return "None"
	case BadHeader:
		return "Invalid header"
	case BadTimestamp:
		return "Invalid timestamp"
	case BadEvent:
		return "Invalid event"
	default:
		return "Unknown"
	}
}

// Slug returns a short machine-friendly name, used for metric labels
func (k ErrorKind) Slug() string {
	switch k {
	case None:
		return "none"
	case BadHeader:
		return "bad_header"
	case BadTimestamp:
		return "bad_timestamp"
	case BadEvent:
		return "bad_event"
	default:
		return "unknown"
	}
}

// State is the seeding state of a Validator
type State int

// Validator states
const (
	Unseeded State = iota
	Seeded
)

// String returns the state name
func (s State) String() string {
	if s == Seeded {
		return "seeded"
	}
	return "unseeded"
}

// Validator accepts or rejects BLD records across a datagram stream.
// The first structurally valid primary frame seeds the baseline timestamp;
// the baseline never moves afterwards.
type Validator struct {
	mu       sync.Mutex
	state    State
	baseline time.Time
}

// New creates an unseeded validator
func New() *Validator {
	return &Validator{}
}

// ValidatePrimary validates a primary record of declaredLength bytes held in buf
func (v *Validator) ValidatePrimary(buf []byte, declaredLength int) ErrorKind {
	if declaredLength < protocol.PrimaryHeaderSize {
		return BadHeader
	}

	ts, err := protocol.PeekTimestamp(buf)
	if err != nil {
		// declaredLength claimed more bytes than buf holds
		return BadHeader
	}
	packetTime := protocol.TimestampTime(ts)

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state == Unseeded {
		v.baseline = packetTime
		v.state = Seeded
		return None
	}

	if packetTime.Before(v.baseline.Add(-TimestampEpsilon)) {
		return BadTimestamp
	}
	return None
}

// ValidateSupplementary validates a supplementary record of declaredLength bytes.
// It must not be called before a primary frame has seeded the validator.
func (v *Validator) ValidateSupplementary(buf []byte, declaredLength int) ErrorKind {
	v.mu.Lock()
	seeded := v.state == Seeded
	v.mu.Unlock()

	if !seeded {
		panic("validator: supplementary record validated before any primary frame")
	}

	if declaredLength < protocol.SupplementaryHeaderSize || len(buf) < protocol.SupplementaryHeaderSize {
		return BadEvent
	}
	return None
}

// State returns the current seeding state
func (v *Validator) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Seeded reports whether a primary frame has set the baseline
func (v *Validator) Seeded() bool {
	return v.State() == Seeded
}

// Baseline returns the baseline timestamp and whether it has been set
func (v *Validator) Baseline() (time.Time, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.baseline, v.state == Seeded
}
