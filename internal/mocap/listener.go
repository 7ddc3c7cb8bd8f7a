package mocap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/mocap.flight/internal/monitoring"
	"github.com/banshee-data/mocap.flight/internal/timeutil"
)

// ListenerConfig configures a UDP frame Listener.
type ListenerConfig struct {
	Address     string
	RcvBuf      int
	FramePeriod time.Duration // nominal mocap frame period, drives the watchdog
	LogInterval time.Duration
	Clock       timeutil.Clock
	Stats       *Stats
}

// Listener receives 6-DOF frames over UDP and dispatches them to
// subscribers. It embeds the Dispatcher so it is itself a Feed.
type Listener struct {
	*Dispatcher

	address     string
	rcvBuf      int
	framePeriod time.Duration
	logInterval time.Duration
	clock       timeutil.Clock

	mu   sync.Mutex
	conn *net.UDPConn
}

// NewListener returns a Listener with defaults for unset fields.
func NewListener(cfg ListenerConfig) *Listener {
	framePeriod := cfg.FramePeriod
	if framePeriod <= 0 {
		framePeriod = 10 * time.Millisecond
	}
	logInterval := cfg.LogInterval
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	rcvBuf := cfg.RcvBuf
	if rcvBuf <= 0 {
		rcvBuf = 1 << 20
	}
	return &Listener{
		Dispatcher:  NewDispatcher("udp://"+cfg.Address, cfg.Stats),
		address:     cfg.Address,
		rcvBuf:      rcvBuf,
		framePeriod: framePeriod,
		logInterval: logInterval,
		clock:       clock,
	}
}

// Listen binds the UDP socket. Start calls it if it has not been called.
func (l *Listener) Listen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return nil
	}
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
		monitoring.Logf("Warning: Failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
	}
	l.conn = conn
	return nil
}

// LocalAddr returns the bound address, or nil before Listen.
func (l *Listener) LocalAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Start receives frames until ctx is done.
func (l *Listener) Start(ctx context.Context) error {
	if err := l.Listen(); err != nil {
		return err
	}
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	defer l.Close()

	monitoring.Logf("Mocap listener started on %s, frame period %v", conn.LocalAddr(), l.framePeriod)

	go l.Watch(ctx, l.clock, l.framePeriod)
	go l.statsLoop(ctx)

	buffer := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("Mocap listener stopping due to context cancellation")
			return ctx.Err()
		default:
		}

		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, addr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			monitoring.Logf("Mocap UDP read error: %v", err)
			continue
		}
		if err := l.HandlePacket(buffer[:n]); err != nil {
			monitoring.Logf("Error handling mocap frame from %v: %v", addr, err)
		}
	}
}

func (l *Listener) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Stats().LogStats()
		}
	}
}

// Close releases the socket.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}
