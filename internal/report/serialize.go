package report

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/slaclab/bldDecode/internal/protocol"
)

// Output formats
const (
	FormatJSON = "json"
	FormatCBOR = "cbor"
)

// Document is the serialized form of a report
type Document struct {
	Run          string         `json:"run,omitempty"`
	Recv         uint64         `json:"recv"`
	Errors       uint64         `json:"errors"`
	Dropped      uint64         `json:"dropped,omitempty"`
	ErrorPackets []PacketRecord `json:"errorPackets"`
}

// PacketRecord is the serialized form of one entry
type PacketRecord struct {
	Index   uint64      `json:"index"`
	Size    int         `json:"size"`
	Reason  string      `json:"reason"`
	Time    string      `json:"time"`
	TimeRaw json.Number `json:"time_raw"` // seconds past the EPICS epoch, nanosecond precision
	Data    string      `json:"data"`
}

// Snapshot builds the report document from the current state
func (a *Accumulator) Snapshot() Document {
	a.mu.Lock()
	defer a.mu.Unlock()

	doc := Document{
		Run:          a.config.RunID,
		Recv:         a.totalPackets,
		Errors:       a.errorPackets,
		Dropped:      a.dropped,
		ErrorPackets: make([]PacketRecord, 0, len(a.entries)),
	}

	for _, e := range a.orderedLocked() {
		doc.ErrorPackets = append(doc.ErrorPackets, PacketRecord{
			Index:   e.Index,
			Size:    len(e.Data),
			Reason:  e.Reason.String(),
			Time:    e.ReceivedAt.Format(TimeLayout),
			TimeRaw: rawTime(e.ReceivedAt),
			Data:    EncodeGroups(e.Data),
		})
	}

	return doc
}

// rawTime formats t as seconds past the EPICS epoch with nine fractional digits
func rawTime(t time.Time) json.Number {
	return json.Number(fmt.Sprintf("%d.%09d", t.Unix()-protocol.EPICSEpochOffset, t.Nanosecond()))
}

// Serialize writes the report in the given format
func (a *Accumulator) Serialize(w io.Writer, format string) error {
	doc := a.Snapshot()

	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "\t")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode JSON report: %w", err)
		}
	case FormatCBOR:
		if err := cbor.NewEncoder(w).Encode(doc); err != nil {
			return fmt.Errorf("failed to encode CBOR report: %w", err)
		}
	default:
		return fmt.Errorf("unknown report format: %q", format)
	}

	return nil
}

// WriteFile serializes the report to path. Paths ending in ".zst" are zstd compressed.
func (a *Accumulator) WriteFile(path, format string) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file %s: %w", path, err)
	}
	defer func() {
		if closeErr := file.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("failed to close report file %s: %w", path, closeErr)
		}
	}()

	if !strings.HasSuffix(path, ".zst") {
		return a.Serialize(file, format)
	}

	zw, err := zstd.NewWriter(file)
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	if err := a.Serialize(zw, format); err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to flush zstd stream: %w", err)
	}
	return nil
}

// EncodeGroups encodes data as Base64 in 4-character groups using the standard
// alphabet. A trailing partial group is zero-padded before encoding, so the
// output length is always a multiple of 4 and never contains '='.
func EncodeGroups(data []byte) string {
	if rem := len(data) % 3; rem != 0 {
		padded := make([]byte, len(data)+3-rem)
		copy(padded, data)
		data = padded
	}
	return base64.StdEncoding.EncodeToString(data)
}
