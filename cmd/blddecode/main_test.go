package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/slaclab/bldDecode/internal/config"
	"github.com/slaclab/bldDecode/internal/console"
	"github.com/slaclab/bldDecode/internal/decoder"
	"github.com/slaclab/bldDecode/internal/protocol"
	"github.com/slaclab/bldDecode/internal/schema"
	"github.com/slaclab/bldDecode/internal/validator"
)

func TestPrinterOptionsReportMode(t *testing.T) {
	tests := []struct {
		name       string
		modify     func(c *config.Config)
		showFrames bool
	}{
		{
			name:       "default display",
			modify:     func(c *config.Config) {},
			showFrames: true,
		},
		{
			name:       "report mode",
			modify:     func(c *config.Config) { c.Report.Enabled = true },
			showFrames: false,
		},
		{
			name: "report mode with verbose",
			modify: func(c *config.Config) {
				c.Report.Enabled = true
				c.Display.Verbose = true
			},
			showFrames: true,
		},
	}

	frame := decoder.Frame{Primary: &protocol.PrimaryFrame{
		Timestamp: protocol.JoinTimestamp(100, 0),
		PulseID:   1,
		Channels:  []uint32{1, 2},
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Display.ShowData = true
			tt.modify(cfg)

			var out bytes.Buffer
			p := console.NewPrinter(&out, printerOptions(cfg, schema.Default(), nil))

			p.BeginDatagram(protocol.PrimarySize(2))
			p.Frame(frame)
			p.EndDatagram(nil)

			got := out.String()
			if shown := strings.Contains(got, "====== new packet size"); shown != tt.showFrames {
				t.Errorf("packet header shown = %v, expected %v:\n%s", shown, tt.showFrames, got)
			}
			if cfg.Report.Enabled && strings.Contains(got, "Data payload:") {
				t.Errorf("channel data printed in report mode:\n%s", got)
			}

			out.Reset()
			p.BeginDatagram(5)
			p.EndDatagram(&decoder.Error{Kind: validator.BadHeader, Length: 5})
			if !strings.Contains(out.String(), "Invalid packet received: Invalid header, len=5") {
				t.Errorf("invalid packet line missing:\n%s", out.String())
			}
		})
	}
}
