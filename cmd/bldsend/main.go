// Command bldsend publishes synthetic BLD datagrams for exercising decoders
// and packet dissectors.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/slaclab/bldDecode/internal/protocol"
)

type options struct {
	address       string
	port          int
	severity      uint64
	version       uint32
	beamFrequency uint64
	interval      time.Duration
	channels      int
	complementary int
}

func main() {
	if err := run(os.Args[1:]); err != nil && !errors.Is(err, pflag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "bldsend: %v\n", err)
		os.Exit(1)
	}
}

func parseOptions(args []string) (*options, error) {
	fs := pflag.NewFlagSet("bldsend", pflag.ContinueOnError)
	fs.SortFlags = false

	address := fs.StringP("address", "a", "", "IP address to send multicast over")
	port := fs.IntP("port", "p", protocol.DefaultPort, "Port to use")
	severity := fs.StringP("severity", "s", "0", "Severity mask to use (hex)")
	version := fs.StringP("version", "v", "0", "Version to use (hex)")
	beamFrequency := fs.Uint64P("frequency", "f", 1000, "Beam frequency (in Hz)")
	intervalMs := fs.Float64P("interval", "i", 1000, "Interval to send BLD packets at, in ms")
	channels := fs.IntP("channels", "c", 0, "Number of channels in output, 0-31")
	complementary := fs.IntP("complementary", "e", 0, "Number of complementary frames to send")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *address == "" {
		return nil, errors.New("you must provide an IP address (-a)")
	}
	if *channels < 0 || *channels > protocol.MaxChannels {
		return nil, fmt.Errorf("too many channels, %d is the max", protocol.MaxChannels)
	}
	if *complementary < 0 {
		return nil, fmt.Errorf("invalid complementary frame count %d", *complementary)
	}
	if *intervalMs <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %g", *intervalMs)
	}

	sevr, err := parseHex(*severity, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid severity mask: %w", err)
	}
	ver, err := parseHex(*version, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid version: %w", err)
	}

	return &options{
		address:       *address,
		port:          *port,
		severity:      sevr,
		version:       uint32(ver),
		beamFrequency: *beamFrequency,
		interval:      time.Duration(*intervalMs * float64(time.Millisecond)),
		channels:      *channels,
		complementary: *complementary,
	}, nil
}

// parseHex parses a hexadecimal value with or without a 0x prefix
func parseHex(s string, bits int) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, bits)
}

func run(args []string) error {
	opts, err := parseOptions(args)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	raddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(opts.address, strconv.Itoa(opts.port)))
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", opts.address, err)
	}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return fmt.Errorf("socket open failed: %w", err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Beam running at %d Hz, BLD interval %g seconds\n", opts.beamFrequency, opts.interval.Seconds())

	start := time.Now()
	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	for {
		data := buildDatagram(opts, time.Now(), start)
		if _, err := conn.Write(data); err != nil {
			logger.Error("Send failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// buildDatagram stamps a datagram with the current EPICS time and a pulse id
// derived from the beam frequency
func buildDatagram(opts *options, now, start time.Time) []byte {
	elapsed := now.Sub(start).Seconds()

	primary := &protocol.PrimaryFrame{
		Timestamp:    protocol.JoinTimestamp(uint32(now.Unix()-protocol.EPICSEpochOffset), uint32(now.Nanosecond())),
		PulseID:      uint64(elapsed * float64(opts.beamFrequency)),
		Version:      opts.version,
		SeverityMask: opts.severity,
		Channels:     fill(opts.channels, 1),
	}

	supplementary := make([]*protocol.SupplementaryFrame, opts.complementary)
	for i := range supplementary {
		supplementary[i] = &protocol.SupplementaryFrame{
			DeltaTimestamp: rand.Uint32N(1 << 10),
			DeltaPulseID:   rand.Uint32N(1 << protocol.DeltaPulseIDBits),
			SeverityMask:   opts.severity,
			Channels:       fill(opts.channels, 2),
		}
	}

	return protocol.EncodeDatagram(primary, supplementary...)
}

func fill(n int, v uint32) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = v
	}
	return out
}
