package console

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/slaclab/bldDecode/internal/decoder"
	"github.com/slaclab/bldDecode/internal/protocol"
	"github.com/slaclab/bldDecode/internal/schema"
)

// DisplayLayout formats frame timestamps on the console
const DisplayLayout = "2006:01:02 15:04:05"

// Options controls what the Printer shows
type Options struct {
	Schema *schema.ChannelSchema // nil uses schema.Default()

	// Events lists the event indices to display, 0 being the primary frame.
	// Empty shows every event.
	Events []int

	// Channels lists the physical channel slots to display. Empty shows all.
	Channels []int

	ShowData bool // print channel values
	Quiet    bool // suppress per-datagram output
	Verbose  bool // print framing details, overrides Quiet

	Location *time.Location // nil uses time.Local
}

// Printer is a pipeline consumer writing frames in human-readable form
type Printer struct {
	w           io.Writer
	opts        Options
	showPrimary bool
	showData    bool
}

// NewPrinter creates a Printer writing to w
func NewPrinter(w io.Writer, opts Options) *Printer {
	if opts.Schema == nil {
		opts.Schema = schema.Default()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	opts.Channels = slices.Clone(opts.Channels)
	slices.Sort(opts.Channels)

	return &Printer{
		w:           w,
		opts:        opts,
		showPrimary: len(opts.Events) == 0 || slices.Contains(opts.Events, 0),
		showData:    opts.ShowData && !opts.Quiet,
	}
}

func (p *Printer) printf(format string, args ...any) {
	if p.opts.Quiet && !p.opts.Verbose {
		return
	}
	fmt.Fprintf(p.w, format, args...)
}

func (p *Printer) verbosef(format string, args ...any) {
	if p.opts.Verbose {
		fmt.Fprintf(p.w, format, args...)
	}
}

// BeginDatagram announces a new datagram
func (p *Printer) BeginDatagram(size int) {
	p.printf("====== new packet size %d ======\n", size)
	p.verbosef("Received size: %d\n", size)
}

// Frame prints one valid frame, subject to the event filter
func (p *Printer) Frame(f decoder.Frame) {
	if f.IsPrimary() {
		if p.showPrimary {
			p.printPrimary(f.Primary)
		}
		return
	}

	if len(p.opts.Events) == 0 || slices.Contains(p.opts.Events, f.Event) {
		p.printSupplementary(f)
	}
}

// EndDatagram closes a datagram. Validation failures are always shown.
func (p *Printer) EndDatagram(err *decoder.Error) {
	switch {
	case err == nil:
		p.printf("====== Packet finished ======\n")
	case err.Event == 0:
		fmt.Fprintf(p.w, "Invalid packet received: %s, len=%d\n", err.Kind, err.Length)
	default:
		fmt.Fprintf(p.w, "Invalid event received: %s, len=%d\n", err.Kind, err.Length)
	}
}

func (p *Printer) printPrimary(pf *protocol.PrimaryFrame) {
	sec, nsec := protocol.SplitTimestamp(pf.Timestamp)

	p.printf("Num channels : %d\n", len(pf.Channels))
	p.printf("timeStamp    : 0x%016X %d sec, %d nsec (%s)\n", pf.Timestamp, sec, nsec, p.formatTime(pf.Timestamp))
	p.printf("pulseID      : 0x%016X\n", pf.PulseID)
	p.printf("severityMask : 0x%016X\n", pf.SeverityMask)
	p.printf("version      : 0x%08X\n", pf.Version)

	if p.showData {
		p.printData(pf.Channels, pf.SeverityMask)
	}
}

func (p *Printer) printSupplementary(f decoder.Frame) {
	ts := f.Timestamp()
	sec, nsec := protocol.SplitTimestamp(ts)
	s := f.Supplementary

	p.printf("===> event %d\n", f.Event)
	p.printf("Timestamp     : 0x%016X %d sec, %d nsec (%s) delta 0x%X\n", ts, sec, nsec, p.formatTime(ts), s.DeltaTimestamp)
	p.printf("Pulse ID      : 0x%016X delta 0x%X\n", f.PulseID(), s.DeltaPulseID)
	p.printf("severity mask : 0x%016X\n", s.SeverityMask)

	if p.showData {
		p.printData(s.Channels, s.SeverityMask)
	}
}

func (p *Printer) printData(channels []uint32, sevrMask uint64) {
	fmt.Fprintf(p.w, "Data payload:\n")

	if len(p.opts.Channels) == 0 {
		for slot, raw := range channels {
			p.printChannel(slot, raw, sevrMask)
		}
		return
	}

	for _, slot := range p.opts.Channels {
		if slot < 0 || slot >= len(channels) {
			continue
		}
		p.printChannel(slot, channels[slot], sevrMask)
	}
}

func (p *Printer) printChannel(slot int, raw uint32, sevrMask uint64) {
	ch := p.opts.Schema.Channel(slot)
	fmt.Fprintf(p.w, "  %s raw=0x%08X, %s, sevr=%s\n",
		ch.Label, raw, ch.Type.Format(raw), protocol.ChannelSeverity(sevrMask, slot))
}

func (p *Printer) formatTime(ts uint64) string {
	return protocol.EPICSTime(ts).In(p.opts.Location).Format(DisplayLayout)
}
