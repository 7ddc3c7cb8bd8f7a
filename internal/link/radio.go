package link

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/mocap.flight/internal/monitoring"
)

// telemetryBuffer is the number of samples a telemetry consumer may lag.
const telemetryBuffer = 16

// lineBus is the part of a Bridge a radioLink depends on.
type lineBus interface {
	Subscribe() (string, chan string)
	Unsubscribe(id string)
	SendCommand(cmd string) error
}

// radioLink is one vehicle addressed on a shared Bridge.
type radioLink struct {
	bus  lineBus
	addr string

	subID string
	lines chan string

	connected chan struct{}
	connOnce  sync.Once
	done      chan struct{}

	mu      sync.Mutex
	streams map[string]chan Sample
	closed  bool

	closeOnce sync.Once
	closeErr  error
}

func newRadioLink(bus lineBus, addr string) *radioLink {
	id, lines := bus.Subscribe()
	l := &radioLink{
		bus:       bus,
		addr:      addr,
		subID:     id,
		lines:     lines,
		connected: make(chan struct{}),
		done:      make(chan struct{}),
		streams:   make(map[string]chan Sample),
	}
	go l.route()
	return l
}

// wireBlock makes a log block name safe for the whitespace separated protocol.
func wireBlock(block string) string {
	return strings.ReplaceAll(strings.TrimSpace(block), " ", "_")
}

func (l *radioLink) route() {
	defer close(l.done)
	defer l.closeStreams()

	for raw := range l.lines {
		line := ParseLine(raw)
		if line.Addr != l.addr {
			continue
		}
		switch line.Kind {
		case KindConnected:
			l.connOnce.Do(func() { close(l.connected) })
		case KindLog:
			s, err := ParseSample(line.Rest)
			if err != nil {
				monitoring.Logf("radio %s: %v", l.addr, err)
				continue
			}
			l.deliver(s)
		case KindError:
			monitoring.Logf("radio %s: vehicle reported error: %s", l.addr, line.Rest)
		}
	}
}

func (l *radioLink) deliver(s Sample) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.streams[s.Block]
	if !ok {
		return
	}
	select {
	case ch <- s:
	default:
		monitoring.Logf("radio %s: telemetry consumer for %s is behind, dropping sample", l.addr, s.Block)
	}
}

func (l *radioLink) closeStreams() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	for block, ch := range l.streams {
		close(ch)
		delete(l.streams, block)
	}
}

func (l *radioLink) connect(ctx context.Context, timeout time.Duration) error {
	if err := l.send("connect"); err != nil {
		return fmt.Errorf("failed to send connect to %s: %w", l.addr, err)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-l.connected:
		return nil
	case <-l.done:
		return fmt.Errorf("connecting to %s: %w", l.addr, ErrClosed)
	case <-timer.C:
		return fmt.Errorf("connecting to %s after %v: %w", l.addr, timeout, ErrConnectTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release detaches the link from the bridge and waits for the router.
func (l *radioLink) release() {
	l.bus.Unsubscribe(l.subID)
	<-l.done
}

func (l *radioLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *radioLink) send(verb string, args ...string) error {
	if l.isClosed() {
		return ErrClosed
	}
	return l.bus.SendCommand(command(l.addr, verb, args...))
}

func (l *radioLink) SetParam(name string, value float64) error {
	return l.send("param", name, formatFloat(value))
}

func (l *radioLink) SendPositionSetpoint(x, y, z, yaw float64) error {
	return l.send("pos", floats(x, y, z, yaw)...)
}

func (l *radioLink) SendHoverSetpoint(vx, vy, yawRate, height float64) error {
	return l.send("hover", floats(vx, vy, yawRate, height)...)
}

func (l *radioLink) SendStopSetpoint() error {
	return l.send("stop")
}

func (l *radioLink) SendExtendedPose(x, y, z, qx, qy, qz, qw float64) error {
	return l.send("extpose", floats(x, y, z, qx, qy, qz, qw)...)
}

func (l *radioLink) SendExternalPosition(x, y, z float64) error {
	return l.send("extpos", floats(x, y, z)...)
}

func (l *radioLink) StartTelemetry(ctx context.Context, block string, period time.Duration, vars []string) (<-chan Sample, error) {
	if len(vars) == 0 {
		return nil, fmt.Errorf("log block %q has no variables", block)
	}
	wire := wireBlock(block)
	if wire == "" {
		return nil, fmt.Errorf("log block name is empty")
	}

	ch := make(chan Sample, telemetryBuffer)
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	if _, exists := l.streams[wire]; exists {
		l.mu.Unlock()
		return nil, fmt.Errorf("log block %q already started", block)
	}
	l.streams[wire] = ch
	l.mu.Unlock()

	ms := strconv.FormatInt(period.Milliseconds(), 10)
	if err := l.send("log", "start", wire, ms, strings.Join(vars, ",")); err != nil {
		l.stopStream(wire)
		return nil, fmt.Errorf("failed to start log block %q: %w", block, err)
	}

	go func() {
		select {
		case <-ctx.Done():
			if l.stopStream(wire) {
				if err := l.send("log", "stop", wire); err != nil {
					monitoring.Logf("radio %s: failed to stop log block %s: %v", l.addr, wire, err)
				}
			}
		case <-l.done:
		}
	}()
	return ch, nil
}

// stopStream removes and closes a stream, reporting whether it was still open.
func (l *radioLink) stopStream(wire string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.streams[wire]
	if !ok {
		return false
	}
	close(ch)
	delete(l.streams, wire)
	return true
}

// Close disconnects the vehicle and closes every telemetry stream. It is
// safe to call more than once.
func (l *radioLink) Close() error {
	l.closeOnce.Do(func() {
		if err := l.send("disconnect"); err != nil && !errors.Is(err, ErrClosed) {
			l.closeErr = fmt.Errorf("failed to disconnect %s: %w", l.addr, err)
		}
		l.release()
	})
	return l.closeErr
}
