package schema

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrUnsupportedType is returned for channel types that do not fit a 32-bit word
var ErrUnsupportedType = errors.New("unsupported channel type")

// ChannelType is the semantic type of a channel word
type ChannelType int

// Channel types
const (
	UInt32 ChannelType = iota
	Int32
	Float32
	Int64
	UInt64
)

// ParseType parses a channel type name. Both the long names used by schema
// records ("float32", "int32", "uint32") and the single-letter format codes
// ("f", "i", "u") are accepted.
func ParseType(name string) (ChannelType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "u", "uint", "uint32":
		return UInt32, nil
	case "i", "int", "int32":
		return Int32, nil
	case "f", "float", "float32":
		return Float32, nil
	case "int64":
		return Int64, nil
	case "uint64":
		return UInt64, nil
	default:
		return 0, fmt.Errorf("unknown channel type %q", name)
	}
}

// Supported reports whether values of this type fit in a channel word
func (t ChannelType) Supported() bool {
	return t == UInt32 || t == Int32 || t == Float32
}

// String returns the type name
func (t ChannelType) String() string {
	switch t {
	case UInt32:
		return "uint32"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	case Int64:
		return "int64"
	case UInt64:
		return "uint64"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Format renders a raw channel word according to the type
func (t ChannelType) Format(raw uint32) string {
	switch t {
	case Float32:
		return fmt.Sprintf("float=%g", math.Float32frombits(raw))
	case Int32:
		return fmt.Sprintf("int32=%d", int32(raw))
	case UInt32:
		return fmt.Sprintf("uint32=%d", raw)
	default:
		return fmt.Sprintf("%s not supported", t)
	}
}
