package schema

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/slaclab/bldDecode/internal/decoder"
	"github.com/slaclab/bldDecode/internal/protocol"
)

// DefaultField is the sub-structure of a schema record that lists the channels
const DefaultField = "BldPayload"

// ErrNoSchema marks every failure to obtain a usable schema. It is a
// configuration error, never a decode error.
var ErrNoSchema = errors.New("no schema available")

// absent marks an external channel index with no physical slot
const absent = -1

// Channel describes one physical channel slot
type Channel struct {
	Label string
	Type  ChannelType
}

// ChannelSchema holds channel typing, labels and the external-to-physical
// channel remap. It is built once before decoding starts and never modified.
type ChannelSchema struct {
	name     string
	channels []Channel
	remap    [protocol.MaxChannels]int
	fixed    bool
}

// Default returns the schema used when no description is available: the
// channel count follows each datagram, every channel is uint32, and the
// remap is the identity.
func Default() *ChannelSchema {
	s := &ChannelSchema{}
	for i := range s.remap {
		s.remap[i] = i
	}
	return s
}

// FromFormats builds a schema from a format list such as "f,u,i".
// The number of entries fixes the channel count.
func FromFormats(formats string) (*ChannelSchema, error) {
	fields := strings.FieldsFunc(formats, func(r rune) bool { return r == ',' || r == ' ' })
	if len(fields) > protocol.MaxChannels {
		return nil, fmt.Errorf("too many channel formats: %d (max %d)", len(fields), protocol.MaxChannels)
	}

	s := Default()
	s.fixed = true
	for i, f := range fields {
		t, err := ParseType(f[:1])
		if err != nil || !t.Supported() {
			return nil, fmt.Errorf("unknown format '%c', valid types are 'f', 'i' and 'u'", f[0])
		}
		s.channels = append(s.channels, Channel{Label: defaultLabel(i), Type: t})
	}
	return s, nil
}

// Build constructs a schema from a looked-up record. The record must be a
// structure containing the named sub-structure whose children declare the
// channels in physical order.
func Build(name string, rec *Record, field string) (*ChannelSchema, error) {
	if rec == nil || !strings.EqualFold(rec.Type, "struct") {
		kind := "<nil>"
		if rec != nil {
			kind = rec.Type
		}
		return nil, fmt.Errorf("%w: %s is not of the expected type 'struct' (got %q)", ErrNoSchema, name, kind)
	}

	if field == "" {
		field = DefaultField
	}
	payload := rec.Field(field)
	if payload == nil {
		return nil, fmt.Errorf("%w: %s contains no '%s' field", ErrNoSchema, name, field)
	}
	if len(payload.Fields) > protocol.MaxChannels {
		return nil, fmt.Errorf("%w: %s declares %d channels (max %d)", ErrNoSchema, name, len(payload.Fields), protocol.MaxChannels)
	}

	s := &ChannelSchema{name: name, fixed: true}
	for i := range s.remap {
		s.remap[i] = absent
	}

	for slot, child := range payload.Fields {
		t, err := ParseType(child.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: channel %q: %w", ErrNoSchema, child.Name, err)
		}
		if !t.Supported() {
			return nil, fmt.Errorf("%w: channel %q: %w: %s", ErrNoSchema, child.Name, ErrUnsupportedType, t)
		}

		external := slot
		if child.Channel != nil {
			external = *child.Channel
		}
		if external < 0 || external >= protocol.MaxChannels {
			return nil, fmt.Errorf("%w: channel %q: index %d out of range", ErrNoSchema, child.Name, external)
		}
		if s.remap[external] != absent {
			return nil, fmt.Errorf("%w: channel %q: index %d declared twice", ErrNoSchema, child.Name, external)
		}
		s.remap[external] = slot

		label := child.Name
		if label == "" {
			label = defaultLabel(slot)
		}
		s.channels = append(s.channels, Channel{Label: label, Type: t})
	}

	return s, nil
}

// Name returns the schema source name, empty for the default schema
func (s *ChannelSchema) Name() string {
	return s.name
}

// Fixed reports whether the schema fixes the channel count
func (s *ChannelSchema) Fixed() bool {
	return s.fixed
}

// ChannelCount returns the number of declared channels, or
// decoder.DeriveChannels when the count follows the datagram length
func (s *ChannelSchema) ChannelCount() int {
	if !s.fixed {
		return decoder.DeriveChannels
	}
	return len(s.channels)
}

// Channel returns the description of a physical slot. Slots beyond the
// declared channels are uint32 with a generated label.
func (s *ChannelSchema) Channel(slot int) Channel {
	if slot >= 0 && slot < len(s.channels) {
		return s.channels[slot]
	}
	return Channel{Label: defaultLabel(slot), Type: UInt32}
}

// Channels returns a copy of the declared channels
func (s *ChannelSchema) Channels() []Channel {
	return slices.Clone(s.channels)
}

// Remap translates an external channel index into its physical slot
func (s *ChannelSchema) Remap(external int) (int, error) {
	if external < 0 || external >= protocol.MaxChannels {
		return 0, fmt.Errorf("invalid channel index %d", external)
	}
	slot := s.remap[external]
	if slot == absent {
		return 0, fmt.Errorf("channel %d is not present in schema %s", external, s.name)
	}
	return slot, nil
}

// TranslateFilter translates a user channel selection, expressed in external
// numbering, into sorted physical slots
func (s *ChannelSchema) TranslateFilter(external []int) ([]int, error) {
	slots := make([]int, 0, len(external))
	for _, c := range external {
		slot, err := s.Remap(c)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	slices.Sort(slots)
	return slices.Compact(slots), nil
}

func defaultLabel(slot int) string {
	return fmt.Sprintf("ch%02d", slot)
}
