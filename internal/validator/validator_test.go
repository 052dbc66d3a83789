package validator

import (
	"testing"

	"github.com/slaclab/bldDecode/internal/protocol"
)

func primaryAt(sec, nsec uint32) []byte {
	return protocol.EncodeDatagram(&protocol.PrimaryFrame{
		Timestamp: protocol.JoinTimestamp(sec, nsec),
		Channels:  []uint32{1, 2},
	})
}

func TestValidatePrimary(t *testing.T) {
	const t0 = 1700000000

	tests := []struct {
		name     string
		buf      []byte
		length   int
		expected ErrorKind
	}{
		{"seeds baseline", primaryAt(t0, 0), 36, None},
		{"within window", primaryAt(t0-30, 0), 36, None},
		{"exactly at floor", primaryAt(t0-60, 0), 36, None},
		{"just past floor", primaryAt(t0-61, 999999999), 36, BadTimestamp},
		{"far past floor", primaryAt(t0-90, 0), 36, BadTimestamp},
		{"future frame", primaryAt(t0+3600, 0), 36, None},
		{"short header", primaryAt(t0, 0)[:27], 27, BadHeader},
		{"length larger than buffer", primaryAt(t0, 0)[:4], 28, BadHeader},
		{"hours later old frame still checked against first baseline", primaryAt(t0-59, 0), 36, None},
	}

	v := New()
	for _, tt := range tests {
		if got := v.ValidatePrimary(tt.buf, tt.length); got != tt.expected {
			t.Errorf("%s: ValidatePrimary = %v, expected %v", tt.name, got, tt.expected)
		}
	}

	baseline, ok := v.Baseline()
	if !ok {
		t.Fatal("Expected validator to be seeded")
	}
	if baseline.Unix() != t0 {
		t.Errorf("Baseline = %d, expected %d", baseline.Unix(), t0)
	}
}

func TestBadHeaderDoesNotSeed(t *testing.T) {
	v := New()

	if got := v.ValidatePrimary(make([]byte, 27), 27); got != BadHeader {
		t.Fatalf("Expected BadHeader, got %v", got)
	}
	if v.State() != Unseeded {
		t.Errorf("Expected validator to stay unseeded after BadHeader")
	}

	// The first structurally valid frame seeds, however old it is
	if got := v.ValidatePrimary(primaryAt(10, 0), 36); got != None {
		t.Errorf("Expected first frame to seed, got %v", got)
	}
	if v.State() != Seeded || !v.Seeded() {
		t.Errorf("Expected validator to be seeded")
	}
}

func TestValidateSupplementary(t *testing.T) {
	v := New()
	v.ValidatePrimary(primaryAt(100, 0), 36)

	tests := []struct {
		name     string
		length   int
		expected ErrorKind
	}{
		{"header only", 12, None},
		{"header and channels", 20, None},
		{"truncated header", 11, BadEvent},
		{"empty", 0, BadEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, tt.length)
			if got := v.ValidateSupplementary(buf, tt.length); got != tt.expected {
				t.Errorf("ValidateSupplementary(%d) = %v, expected %v", tt.length, got, tt.expected)
			}
		})
	}
}

func TestValidateSupplementaryBeforeSeedPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("Expected panic when validating a supplementary record on an unseeded validator")
		}
	}()

	New().ValidateSupplementary(make([]byte, 12), 12)
}

func TestErrorKindString(t *testing.T) {
	tests := []struct {
		kind     ErrorKind
		expected string
		slug     string
	}{
		{None, "None", "none"},
		{Unknown, "Unknown", "unknown"},
		{BadHeader, "Invalid header", "bad_header"},
		{BadTimestamp, "Invalid timestamp", "bad_timestamp"},
		{BadEvent, "Invalid event", "bad_event"},
		{ErrorKind(42), "Unknown", "unknown"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.expected {
			t.Errorf("ErrorKind(%d).String() = %q, expected %q", tt.kind, got, tt.expected)
		}
		if got := tt.kind.Slug(); got != tt.slug {
			t.Errorf("ErrorKind(%d).Slug() = %q, expected %q", tt.kind, got, tt.slug)
		}
	}
}
