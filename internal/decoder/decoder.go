package decoder

import (
	"fmt"
	"iter"
	"time"

	"github.com/slaclab/bldDecode/internal/protocol"
	"github.com/slaclab/bldDecode/internal/validator"
)

// Frame is one decoded record of a datagram. Event 0 is the primary frame;
// events 1..N are supplementary frames, which also carry their primary.
type Frame struct {
	Event         int
	Primary       *protocol.PrimaryFrame
	Supplementary *protocol.SupplementaryFrame
}

// IsPrimary reports whether the frame is the primary record
func (f Frame) IsPrimary() bool {
	return f.Supplementary == nil
}

// Timestamp returns the absolute packed timestamp of the frame.
// Supplementary deltas are added to the packed primary value.
func (f Frame) Timestamp() uint64 {
	if f.Supplementary == nil {
		return f.Primary.Timestamp
	}
	return f.Primary.Timestamp + uint64(f.Supplementary.DeltaTimestamp)
}

// PulseID returns the absolute pulse id of the frame
func (f Frame) PulseID() uint64 {
	if f.Supplementary == nil {
		return f.Primary.PulseID
	}
	return f.Primary.PulseID + uint64(f.Supplementary.DeltaPulseID)
}

// SeverityMask returns the frame's own severity mask
func (f Frame) SeverityMask() uint64 {
	if f.Supplementary == nil {
		return f.Primary.SeverityMask
	}
	return f.Supplementary.SeverityMask
}

// Channels returns the frame's own channel words
func (f Frame) Channels() []uint32 {
	if f.Supplementary == nil {
		return f.Primary.Channels
	}
	return f.Supplementary.Channels
}

// Time returns the frame timestamp as a time.Time
func (f Frame) Time() time.Time {
	return protocol.TimestampTime(f.Timestamp())
}

// Error is a validation failure at a specific event of a datagram
type Error struct {
	Kind   validator.ErrorKind
	Event  int // 0 for the primary record
	Length int // bytes available for the failing record
}

func (e *Error) Error() string {
	if e.Event == 0 {
		return fmt.Sprintf("invalid packet: %s, len=%d", e.Kind, e.Length)
	}
	return fmt.Sprintf("invalid event %d: %s, len=%d", e.Event, e.Kind, e.Length)
}

// Decoder splits datagrams into frames, validating each record as it goes
type Decoder struct {
	validator    *validator.Validator
	channelCount int
}

// DeriveChannels makes the decoder take the channel count from each datagram's length
const DeriveChannels = -1

// New creates a decoder framing every datagram with channelCount channels.
// A negative channelCount (DeriveChannels) derives it per datagram instead.
func New(v *validator.Validator, channelCount int) *Decoder {
	if channelCount > protocol.MaxChannels {
		channelCount = protocol.MaxChannels
	}
	if channelCount < 0 {
		channelCount = DeriveChannels
	}
	return &Decoder{validator: v, channelCount: channelCount}
}

// ChannelCount returns the configured channel count, DeriveChannels when derived from length
func (d *Decoder) ChannelCount() int {
	return d.channelCount
}

// channelsFor returns the channel count used to frame a datagram of n bytes
func (d *Decoder) channelsFor(n int) int {
	if d.channelCount >= 0 {
		return d.channelCount
	}
	return protocol.NumChannels(n)
}

// Frames returns a single-pass sequence over the frames of buf. The primary
// frame comes first, followed by supplementary frames in wire order. On the
// first invalid record the sequence yields an *Error and ends; the rest of the
// datagram is not resynchronised.
func (d *Decoder) Frames(buf []byte) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		n := len(buf)

		if kind := d.validator.ValidatePrimary(buf, n); kind != validator.None {
			yield(Frame{}, &Error{Kind: kind, Length: n})
			return
		}

		channels := d.channelsFor(n)
		primary, err := protocol.ParsePrimary(buf, channels)
		if err != nil {
			yield(Frame{}, &Error{Kind: validator.BadHeader, Length: n})
			return
		}
		if !yield(Frame{Event: 0, Primary: primary}, nil) {
			return
		}

		// A primary truncated by a short datagram leaves nothing behind it
		offset := protocol.PrimarySize(channels)
		recordSize := protocol.SupplementarySize(channels)
		for event := 1; n-offset > 0; event++ {
			declared := min(n-offset, recordSize)
			record := buf[offset : offset+declared]

			kind := d.validator.ValidateSupplementary(record, declared)
			if kind == validator.None && declared < recordSize {
				kind = validator.BadEvent
			}
			if kind != validator.None {
				yield(Frame{}, &Error{Kind: kind, Event: event, Length: declared})
				return
			}

			suppl, err := protocol.ParseSupplementary(record, channels)
			if err != nil {
				yield(Frame{}, &Error{Kind: validator.BadEvent, Event: event, Length: declared})
				return
			}
			if !yield(Frame{Event: event, Primary: primary, Supplementary: suppl}, nil) {
				return
			}

			offset += recordSize
		}
	}
}

// Datagram is the fully collected result of decoding one buffer
type Datagram struct {
	Primary       *protocol.PrimaryFrame
	Supplementary []*protocol.SupplementaryFrame
}

// Decode collects every frame of buf. Frames decoded before a failure are
// returned alongside the error.
func (d *Decoder) Decode(buf []byte) (*Datagram, error) {
	var dg *Datagram
	for frame, err := range d.Frames(buf) {
		if err != nil {
			return dg, err
		}
		if frame.IsPrimary() {
			dg = &Datagram{Primary: frame.Primary}
			continue
		}
		dg.Supplementary = append(dg.Supplementary, frame.Supplementary)
	}
	return dg, nil
}
