package protocol

import "fmt"

// Severity is the 2-bit alarm status attached to each channel
type Severity uint8

// Severity codes
const (
	SeverityNone    Severity = 0
	SeverityMinor   Severity = 1
	SeverityMajor   Severity = 2
	SeverityInvalid Severity = 3
)

// ChannelSeverity extracts the severity of a channel from a severity mask.
// Channels outside 0..31 have no bits in the mask and report SeverityNone.
func ChannelSeverity(mask uint64, channel int) Severity {
	if channel < 0 || channel >= 32 {
		return SeverityNone
	}
	return Severity((mask >> (2 * uint(channel))) & 0x3)
}

// SetSeverity returns mask with the severity of channel replaced
func SetSeverity(mask uint64, channel int, sevr Severity) uint64 {
	if channel < 0 || channel >= 32 {
		return mask
	}
	shift := 2 * uint(channel)
	return mask&^(0x3<<shift) | uint64(sevr&0x3)<<shift
}

// String returns the EPICS name of the severity
func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "None"
	case SeverityMinor:
		return "Minor"
	case SeverityMajor:
		return "Major"
	case SeverityInvalid:
		return "Invalid"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}
