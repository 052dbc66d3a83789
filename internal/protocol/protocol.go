package protocol

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Protocol constants for BLD multicast datagrams
const (
	// DefaultPort is the UDP port BLD sources publish on
	DefaultPort = 50000

	// MaxChannels is the number of channel slots a frame can carry
	MaxChannels = 31

	// Packet structure sizes
	ChannelSize             = 4             // One 32-bit word per channel
	PrimaryHeaderSize       = 8 + 8 + 4 + 8 // timeStamp + pulseID + version + severityMask
	SupplementaryHeaderSize = 4 + 8         // packed deltas + severityMask
	MaxPrimarySize          = PrimaryHeaderSize + MaxChannels*ChannelSize

	// Field offsets within the headers
	offTimestamp   = 0
	offPulseID     = 8
	offVersion     = 16
	offPrimarySevr = 20
	offDeltas      = 0
	offSupplSevr   = 4

	// Bit widths of the packed supplementary delta word
	DeltaTimestampBits = 20
	DeltaPulseIDBits   = 12
	deltaTimestampMask = 1<<DeltaTimestampBits - 1
	deltaPulseIDMask   = 1<<DeltaPulseIDBits - 1
)

// WireOrder reads and appends multi-byte fields
type WireOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// ByteOrder is the order multi-byte fields are stored in on the wire.
// Senders write their native layout and every BLD source is little-endian.
var ByteOrder WireOrder = binary.LittleEndian

// PrimaryFrame is the first record of a datagram
// Layout: [Timestamp:8][PulseID:8][Version:4][SeverityMask:8][Channels:4*N]
type PrimaryFrame struct {
	Timestamp    uint64   // seconds in the upper 32 bits, nanoseconds in the lower 32
	PulseID      uint64   // absolute pulse counter
	Version      uint32   // source/format version tag
	SeverityMask uint64   // 2 bits per channel
	Channels     []uint32 // raw channel words
}

// SupplementaryFrame is a trailing record holding deltas from the primary frame
// Layout: [DeltaTimestamp:20 | DeltaPulseID:12][SeverityMask:8][Channels:4*N]
type SupplementaryFrame struct {
	DeltaTimestamp uint32
	DeltaPulseID   uint32
	SeverityMask   uint64
	Channels       []uint32
}

// PrimarySize returns the on-wire size of a primary record with the given channel count
func PrimarySize(channels int) int {
	return PrimaryHeaderSize + channels*ChannelSize
}

// SupplementarySize returns the on-wire size of a supplementary record with the given channel count
func SupplementarySize(channels int) int {
	return SupplementaryHeaderSize + channels*ChannelSize
}

// NumChannels derives the channel count of a primary record from a datagram length.
// Lengths shorter than the header yield zero; the result never exceeds MaxChannels.
func NumChannels(length int) int {
	if length < PrimaryHeaderSize {
		return 0
	}
	n := (length - PrimaryHeaderSize) / ChannelSize
	if n > MaxChannels {
		n = MaxChannels
	}
	return n
}

// ParsePrimary parses a primary record carrying up to channels channel words.
// The channel block is clamped to the data actually present.
func ParsePrimary(data []byte, channels int) (*PrimaryFrame, error) {
	if len(data) < PrimaryHeaderSize {
		return nil, fmt.Errorf("primary header too short: expected %d bytes, got %d", PrimaryHeaderSize, len(data))
	}

	frame := &PrimaryFrame{
		Timestamp:    ByteOrder.Uint64(data[offTimestamp:]),
		PulseID:      ByteOrder.Uint64(data[offPulseID:]),
		Version:      ByteOrder.Uint32(data[offVersion:]),
		SeverityMask: ByteOrder.Uint64(data[offPrimarySevr:]),
		Channels:     readChannels(data[PrimaryHeaderSize:], channels),
	}

	return frame, nil
}

// ParseSupplementary parses a supplementary record carrying up to channels channel words
func ParseSupplementary(data []byte, channels int) (*SupplementaryFrame, error) {
	if len(data) < SupplementaryHeaderSize {
		return nil, fmt.Errorf("supplementary header too short: expected %d bytes, got %d",
			SupplementaryHeaderSize, len(data))
	}

	dts, dpid := UnpackDelta(ByteOrder.Uint32(data[offDeltas:]))
	frame := &SupplementaryFrame{
		DeltaTimestamp: dts,
		DeltaPulseID:   dpid,
		SeverityMask:   ByteOrder.Uint64(data[offSupplSevr:]),
		Channels:       readChannels(data[SupplementaryHeaderSize:], channels),
	}

	return frame, nil
}

// PeekTimestamp reads the primary timestamp without parsing the rest of the record
func PeekTimestamp(data []byte) (uint64, error) {
	if len(data) < offTimestamp+8 {
		return 0, fmt.Errorf("timestamp field too short: got %d bytes", len(data))
	}
	return ByteOrder.Uint64(data[offTimestamp:]), nil
}

// readChannels copies at most n channel words out of data
func readChannels(data []byte, n int) []uint32 {
	if avail := len(data) / ChannelSize; n > avail {
		n = avail
	}
	if n <= 0 {
		return []uint32{}
	}

	words := make([]uint32, n)
	for i := range words {
		words[i] = ByteOrder.Uint32(data[i*ChannelSize:])
	}
	return words
}

// UnpackDelta splits the packed supplementary word into its 20-bit timestamp
// delta (low bits) and 12-bit pulse id delta (high bits)
func UnpackDelta(word uint32) (deltaTimestamp, deltaPulseID uint32) {
	return word & deltaTimestampMask, (word >> DeltaTimestampBits) & deltaPulseIDMask
}

// PackDelta is the inverse of UnpackDelta. Out-of-range values are truncated to their field width.
func PackDelta(deltaTimestamp, deltaPulseID uint32) uint32 {
	return deltaTimestamp&deltaTimestampMask | (deltaPulseID&deltaPulseIDMask)<<DeltaTimestampBits
}

// SplitTimestamp decomposes a BLD timestamp into seconds and nanoseconds
func SplitTimestamp(ts uint64) (sec, nsec uint32) {
	return uint32(ts >> 32), uint32(ts & 0xFFFFFFFF)
}

// JoinTimestamp builds a BLD timestamp from seconds and nanoseconds
func JoinTimestamp(sec, nsec uint32) uint64 {
	return uint64(sec)<<32 | uint64(nsec)
}

// TimestampTime converts a BLD timestamp to a time.Time.
// Nanosecond fields of one second or more carry into the seconds.
func TimestampTime(ts uint64) time.Time {
	sec, nsec := SplitTimestamp(ts)
	return time.Unix(int64(sec), int64(nsec))
}

// EPICSEpochOffset is the number of seconds between the POSIX epoch and the
// EPICS epoch (1990-01-01 UTC) that BLD sources stamp frames against
const EPICSEpochOffset = 631152000

// EPICSTime converts a BLD timestamp counted from the EPICS epoch to a time.Time
func EPICSTime(ts uint64) time.Time {
	sec, nsec := SplitTimestamp(ts)
	return time.Unix(int64(sec)+EPICSEpochOffset, int64(nsec))
}

// String returns a human-readable representation of the primary frame
func (p *PrimaryFrame) String() string {
	sec, nsec := SplitTimestamp(p.Timestamp)
	return fmt.Sprintf("PrimaryFrame{Timestamp:%d.%09d, PulseID:0x%016X, Version:0x%08X, Severity:0x%016X, Channels:%d}",
		sec, nsec, p.PulseID, p.Version, p.SeverityMask, len(p.Channels))
}

// String returns a human-readable representation of the supplementary frame
func (s *SupplementaryFrame) String() string {
	return fmt.Sprintf("SupplementaryFrame{DeltaTimestamp:0x%X, DeltaPulseID:0x%X, Severity:0x%016X, Channels:%d}",
		s.DeltaTimestamp, s.DeltaPulseID, s.SeverityMask, len(s.Channels))
}
