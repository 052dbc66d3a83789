package decoder

import (
	"errors"
	"strings"
	"testing"

	"github.com/slaclab/bldDecode/internal/protocol"
	"github.com/slaclab/bldDecode/internal/validator"
)

// createTestDatagram builds a datagram with the given channel count and
// number of supplementary frames
func createTestDatagram(t *testing.T, sec uint32, channels, events int) []byte {
	t.Helper()

	primary := &protocol.PrimaryFrame{
		Timestamp:    protocol.JoinTimestamp(sec, 0),
		PulseID:      1000,
		Version:      0x10,
		SeverityMask: 0b01,
		Channels:     make([]uint32, channels),
	}
	for i := range primary.Channels {
		primary.Channels[i] = uint32(i + 1)
	}

	suppl := make([]*protocol.SupplementaryFrame, events)
	for i := range suppl {
		suppl[i] = &protocol.SupplementaryFrame{
			DeltaTimestamp: uint32(i + 1),
			DeltaPulseID:   uint32(i + 1),
			SeverityMask:   0b10,
			Channels:       make([]uint32, channels),
		}
	}
	return protocol.EncodeDatagram(primary, suppl...)
}

func collect(d *Decoder, buf []byte) ([]Frame, error) {
	var frames []Frame
	for frame, err := range d.Frames(buf) {
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

func TestDecodeDerivedChannelCount(t *testing.T) {
	for c := 0; c <= protocol.MaxChannels; c++ {
		d := New(validator.New(), DeriveChannels)
		buf := createTestDatagram(t, 100, c, 0)

		frames, err := collect(d, buf)
		if err != nil {
			t.Fatalf("channels=%d: unexpected error: %v", c, err)
		}
		if len(frames) != 1 || !frames[0].IsPrimary() {
			t.Fatalf("channels=%d: expected exactly one primary frame, got %d frames", c, len(frames))
		}
		if got := len(frames[0].Channels()); got != c {
			t.Errorf("channels=%d: decoded %d channels", c, got)
		}
	}
}

func TestDecodeDerivedCountAbsorbsSupplementary(t *testing.T) {
	// Without a fixed count, trailing records are read as primary channels
	frames, err := collect(New(validator.New(), DeriveChannels), createTestDatagram(t, 100, 2, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 || len(frames[0].Channels()) != 7 {
		t.Fatalf("expected one 7-channel primary, got %d frames", len(frames))
	}

	// 236 bytes derive 31 channels and leave 84 bytes, short of a 136-byte record
	_, err = collect(New(validator.New(), DeriveChannels), createTestDatagram(t, 100, 2, 10))
	var derr *Error
	if !errors.As(err, &derr) || derr.Kind != validator.BadEvent {
		t.Fatalf("expected BadEvent, got %v", err)
	}

	frames, err = collect(New(validator.New(), 2), createTestDatagram(t, 100, 2, 10))
	if err != nil || len(frames) != 11 {
		t.Errorf("fixed count: got %d frames, err %v", len(frames), err)
	}
}

func TestDecodeSupplementaryCount(t *testing.T) {
	tests := []struct {
		name     string
		channels int
		events   int
	}{
		{"no channels, no events", 0, 0},
		{"two channels, one event", 2, 1},
		{"four channels, five events", 4, 5},
		{"full channels, three events", protocol.MaxChannels, 3},
		{"no channels, ten events", 0, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(validator.New(), tt.channels)
			buf := createTestDatagram(t, 100, tt.channels, tt.events)

			expectedLen := 28 + tt.channels*4 + tt.events*(12+tt.channels*4)
			if len(buf) != expectedLen {
				t.Fatalf("datagram length = %d, expected %d", len(buf), expectedLen)
			}

			dg, err := d.Decode(buf)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if len(dg.Supplementary) != tt.events {
				t.Errorf("decoded %d supplementary frames, expected %d", len(dg.Supplementary), tt.events)
			}
			for i, s := range dg.Supplementary {
				if len(s.Channels) != len(dg.Primary.Channels) {
					t.Errorf("event %d has %d channels, primary has %d", i+1, len(s.Channels), len(dg.Primary.Channels))
				}
			}
		})
	}
}

func TestDecodeTruncatedHeader(t *testing.T) {
	buf := createTestDatagram(t, 100, 2, 1)

	for _, d := range []*Decoder{New(validator.New(), DeriveChannels), New(validator.New(), 2)} {
		frames, err := collect(d, buf[:27])
		if len(frames) != 0 {
			t.Errorf("expected no frames, got %d", len(frames))
		}

		var decErr *Error
		if !errors.As(err, &decErr) {
			t.Fatalf("expected *Error, got %v", err)
		}
		if decErr.Kind != validator.BadHeader || decErr.Event != 0 || decErr.Length != 27 {
			t.Errorf("unexpected error: %+v", decErr)
		}
	}
}

func TestDecodeTruncatedSupplementary(t *testing.T) {
	const channels = 2
	full := createTestDatagram(t, 100, channels, 3)
	primarySize := protocol.PrimarySize(channels)
	supplSize := protocol.SupplementarySize(channels)

	tests := []struct {
		name         string
		length       int
		expectFrames int
		expectEvent  int
		expectLength int
	}{
		{"second event cut to 11 bytes", primarySize + supplSize + 11, 2, 2, 11},
		{"first event cut to 11 bytes", primarySize + 11, 1, 1, 11},
		{"first event cut to 1 byte", primarySize + 1, 1, 1, 1},
		{"first event missing a channel", primarySize + supplSize - 4, 1, 1, supplSize - 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(validator.New(), channels)
			frames, err := collect(d, full[:tt.length])

			if len(frames) != tt.expectFrames {
				t.Errorf("got %d frames before the failure, expected %d", len(frames), tt.expectFrames)
			}

			var decErr *Error
			if !errors.As(err, &decErr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if decErr.Kind != validator.BadEvent {
				t.Errorf("Kind = %v, expected BadEvent", decErr.Kind)
			}
			if decErr.Event != tt.expectEvent {
				t.Errorf("Event = %d, expected %d", decErr.Event, tt.expectEvent)
			}
			if decErr.Length != tt.expectLength {
				t.Errorf("Length = %d, expected %d", decErr.Length, tt.expectLength)
			}
		})
	}
}

func TestDecodeStaleTimestamp(t *testing.T) {
	d := New(validator.New(), 2)

	if _, err := d.Decode(createTestDatagram(t, 1000, 2, 1)); err != nil {
		t.Fatalf("seed datagram: %v", err)
	}
	if _, err := d.Decode(createTestDatagram(t, 970, 2, 1)); err != nil {
		t.Fatalf("datagram within window: %v", err)
	}

	frames, err := collect(d, createTestDatagram(t, 910, 2, 1))
	if len(frames) != 0 {
		t.Errorf("expected no frames from stale datagram, got %d", len(frames))
	}
	var decErr *Error
	if !errors.As(err, &decErr) || decErr.Kind != validator.BadTimestamp {
		t.Errorf("expected BadTimestamp, got %v", err)
	}
}

func TestDecodeEndToEnd(t *testing.T) {
	primary := &protocol.PrimaryFrame{
		Timestamp: protocol.JoinTimestamp(100, 0),
		PulseID:   5000,
		Channels:  []uint32{0xAAAA, 0xBBBB},
	}
	suppl := &protocol.SupplementaryFrame{
		DeltaTimestamp: 5,
		DeltaPulseID:   3,
		Channels:       []uint32{0xCCCC, 0xDDDD},
	}
	buf := protocol.EncodeDatagram(primary, suppl)

	frames, err := collect(New(validator.New(), 2), buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}

	p, s := frames[0], frames[1]
	if sec, nsec := protocol.SplitTimestamp(p.Timestamp()); sec != 100 || nsec != 0 {
		t.Errorf("primary timestamp = %d.%09d, expected 100.000000000", sec, nsec)
	}

	// The delta is added to the packed timestamp (newTS = delta + timeStamp), so it
	// lands in the nanosecond half rather than the seconds: 100.000000005, not 105.
	sec, nsec := protocol.SplitTimestamp(s.Timestamp())
	if sec != 100 || nsec != 5 {
		t.Errorf("supplementary timestamp = %d.%09d, expected 100.000000005", sec, nsec)
	}
	if s.PulseID() != 5003 {
		t.Errorf("supplementary pulse id = %d, expected 5003", s.PulseID())
	}
	if s.Event != 1 || s.IsPrimary() {
		t.Errorf("unexpected supplementary frame metadata: %+v", s)
	}
	for _, f := range frames {
		if got := len(f.Channels()) * protocol.ChannelSize; got != 8 {
			t.Errorf("event %d channel payload = %d bytes, expected 8", f.Event, got)
		}
	}
	if s.Channels()[1] != 0xDDDD {
		t.Errorf("supplementary channel 1 = 0x%X, expected 0xDDDD", s.Channels()[1])
	}
}

func TestFramesStopsWhenConsumerBreaks(t *testing.T) {
	d := New(validator.New(), 1)
	buf := createTestDatagram(t, 100, 1, 4)

	seen := 0
	for range d.Frames(buf) {
		seen++
		if seen == 2 {
			break
		}
	}
	if seen != 2 {
		t.Errorf("expected to stop after 2 frames, saw %d", seen)
	}
}

func TestErrorMessage(t *testing.T) {
	primaryErr := &Error{Kind: validator.BadHeader, Length: 12}
	if msg := primaryErr.Error(); !strings.Contains(msg, "Invalid header") || !strings.Contains(msg, "len=12") {
		t.Errorf("unexpected message: %s", msg)
	}

	eventErr := &Error{Kind: validator.BadEvent, Event: 3, Length: 11}
	if msg := eventErr.Error(); !strings.Contains(msg, "event 3") || !strings.Contains(msg, "Invalid event") {
		t.Errorf("unexpected message: %s", msg)
	}
}
