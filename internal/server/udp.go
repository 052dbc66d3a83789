package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/slaclab/bldDecode/internal/config"
	"github.com/slaclab/bldDecode/internal/metrics"
	"github.com/slaclab/bldDecode/internal/pipeline"
)

// MaxDatagramSize is the largest datagram the receiver reads in one call
const MaxDatagramSize = 9000

// ErrIdleTimeout is returned by Run when no accepted datagram arrived within the idle timeout
var ErrIdleTimeout = errors.New("timeout exceeded")

// Processor handles one datagram at a time
type Processor interface {
	Process(data []byte) pipeline.Outcome
}

// ReceiverOptions controls the receive loop
type ReceiverOptions struct {
	PollInterval time.Duration // read deadline granularity, for cancellation checks
	IdleTimeout  time.Duration // zero disables the idle timeout
	MaxPackets   int64         // zero is unlimited
}

// Receiver reads BLD datagrams from a socket and hands each one to a processor.
// One datagram is fully processed before the next is read.
type Receiver struct {
	conn      net.PacketConn
	opts      ReceiverOptions
	processor Processor
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu              sync.RWMutex
	running         bool
	packetsReceived uint64
	packetsAccepted uint64
	readErrors      uint64
	lastAccepted    time.Time
}

// Listen opens the socket described by cfg. Unless unicast is set, the socket
// joins the multicast group on the default interface; it still receives
// unicast datagrams sent to the port.
func Listen(cfg *config.ReceiverConfig, logger *slog.Logger) (*net.UDPConn, error) {
	var conn *net.UDPConn

	if cfg.Unicast {
		addr, err := net.ResolveUDPAddr("udp4", cfg.ListenAddress())
		if err != nil {
			return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
		}
		conn, err = net.ListenUDP("udp4", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on UDP: %w", err)
		}
	} else {
		group := &net.UDPAddr{IP: net.ParseIP(cfg.Address), Port: cfg.Port}
		if group.IP == nil {
			return nil, fmt.Errorf("invalid multicast address %q", cfg.Address)
		}
		var err error
		conn, err = net.ListenMulticastUDP("udp4", nil, group)
		if err != nil {
			return nil, fmt.Errorf("failed to opt into multicast group %s: %w", cfg.Address, err)
		}
	}

	if err := conn.SetReadBuffer(cfg.BufferSize); err != nil {
		logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", cfg.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	logger.Info("Listening for BLD packets",
		slog.String("address", conn.LocalAddr().String()),
		slog.String("group", cfg.Address),
		slog.Bool("unicast", cfg.Unicast),
		slog.Int("buffer_size", cfg.BufferSize),
	)

	return conn, nil
}

// NewReceiver creates a receiver reading from conn
func NewReceiver(conn net.PacketConn, processor Processor, opts ReceiverOptions, logger *slog.Logger, m *metrics.Metrics) *Receiver {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Receiver{
		conn:      conn,
		opts:      opts,
		processor: processor,
		logger:    logger,
		metrics:   m,
	}
}

// Run receives datagrams until ctx is cancelled, the packet limit is reached,
// or the idle timeout expires. Cancellation and the packet limit end the loop
// with a nil error; the idle timeout returns ErrIdleTimeout. A datagram being
// processed when ctx is cancelled is always finished.
func (r *Receiver) Run(ctx context.Context) error {
	r.setRunning(true)
	defer r.setRunning(false)

	buffer := make([]byte, MaxDatagramSize)

	var idleDeadline time.Time
	if r.opts.IdleTimeout > 0 {
		idleDeadline = time.Now().Add(r.opts.IdleTimeout)
	}

	var received int64
	for {
		if ctx.Err() != nil {
			r.logger.Info("Receive loop stopping due to context cancellation")
			return nil
		}

		if r.opts.MaxPackets > 0 && received >= r.opts.MaxPackets {
			r.logger.Info("Packet limit reached", slog.Int64("max_packets", r.opts.MaxPackets))
			return nil
		}

		// Set read deadline to check for cancellation and idle expiry periodically
		deadline := time.Now().Add(r.opts.PollInterval)
		if !idleDeadline.IsZero() && idleDeadline.Before(deadline) {
			deadline = idleDeadline
		}
		if err := r.conn.SetReadDeadline(deadline); err != nil {
			return fmt.Errorf("failed to set read deadline: %w", err)
		}

		n, remoteAddr, err := r.conn.ReadFrom(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if !idleDeadline.IsZero() && !time.Now().Before(idleDeadline) {
					return ErrIdleTimeout
				}
				continue
			}

			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("receive socket closed: %w", err)
			}

			r.recordReadError()
			r.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
			continue
		}

		received++
		outcome := r.processor.Process(buffer[:n])

		r.logger.Debug("Datagram processed",
			slog.String("remote_addr", remoteAddr.String()),
			slog.Int("size", n),
			slog.String("outcome", outcome.String()),
		)

		r.recordDatagram(outcome.Accepted())
		if outcome.Accepted() && r.opts.IdleTimeout > 0 {
			idleDeadline = time.Now().Add(r.opts.IdleTimeout)
		}
	}
}

func (r *Receiver) setRunning(running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = running
}

func (r *Receiver) recordDatagram(accepted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packetsReceived++
	if accepted {
		r.packetsAccepted++
		r.lastAccepted = time.Now()
	}
}

func (r *Receiver) recordReadError() {
	r.metrics.RecordReadError()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readErrors++
}

// LocalAddr returns the address the receiver reads from
func (r *Receiver) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}

// GetStatistics returns current receiver statistics
func (r *Receiver) GetStatistics() ReceiverStatistics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return ReceiverStatistics{
		Running:         r.running,
		PacketsReceived: r.packetsReceived,
		PacketsAccepted: r.packetsAccepted,
		ReadErrors:      r.readErrors,
		LastAccepted:    r.lastAccepted,
	}
}

// ReceiverStatistics represents receive loop counters
type ReceiverStatistics struct {
	Running         bool      `json:"running"`
	PacketsReceived uint64    `json:"packets_received"`
	PacketsAccepted uint64    `json:"packets_accepted"`
	ReadErrors      uint64    `json:"read_errors"`
	LastAccepted    time.Time `json:"last_accepted"`
}
