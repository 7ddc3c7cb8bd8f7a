package link

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// DefaultConnectTimeout bounds the connect handshake with a vehicle.
const DefaultConnectTimeout = 3 * time.Second

// subscriberBuffer is the number of lines a subscriber may lag before
// lines are dropped for it.
const subscriberBuffer = 64

// BridgeOptions tune a Bridge.
type BridgeOptions struct {
	ConnectTimeout time.Duration
}

// Bridge multiplexes several vehicles over one radio dongle. Every line read
// from the port is fanned out to all subscribers; commands from concurrent
// callers are serialised onto the port.
type Bridge[T Port] struct {
	port           T
	connectTimeout time.Duration

	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// NewBridge wraps port. Monitor must be running for Open to complete.
func NewBridge[T Port](port T, opts BridgeOptions) *Bridge[T] {
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	return &Bridge[T]{
		port:           port,
		connectTimeout: timeout,
		subscribers:    make(map[string]chan string),
	}
}

func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe returns a channel receiving every line read from the port and
// the ID used to Unsubscribe it. A subscribe after Close returns a closed
// channel.
func (b *Bridge[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, subscriberBuffer)

	b.closingMu.Lock()
	closing := b.closing
	b.closingMu.Unlock()
	if closing {
		close(ch)
		return id, ch
	}

	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe closes and removes the subscriber with id.
func (b *Bridge[T]) Unsubscribe(id string) {
	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// SendCommand writes one command line to the port.
func (b *Bridge[T]) SendCommand(cmd string) error {
	b.closingMu.Lock()
	closing := b.closing
	b.closingMu.Unlock()
	if closing {
		return ErrClosed
	}

	b.commandMu.Lock()
	defer b.commandMu.Unlock()
	if !strings.HasSuffix(cmd, "\n") {
		cmd += "\n"
	}
	n, err := b.port.Write([]byte(cmd))
	if err != nil {
		return err
	}
	if n != len(cmd) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads lines from the port and fans them out until ctx is done,
// the port reaches EOF or the bridge is closed.
func (b *Bridge[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(b.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking Scan runs on its own goroutine so the loop below can
	// still observe cancellation.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					return err
				default:
					return nil
				}
			}
			b.closingMu.Lock()
			if b.closing {
				b.closingMu.Unlock()
				return nil
			}
			b.closingMu.Unlock()

			b.subscriberMu.Lock()
			for _, ch := range b.subscribers {
				select {
				case ch <- line:
				default:
					// slow subscriber, drop rather than stall the radio
				}
			}
			b.subscriberMu.Unlock()
		}
	}
}

// Close closes every subscriber channel and the port.
func (b *Bridge[T]) Close() error {
	b.closingMu.Lock()
	if b.closing {
		b.closingMu.Unlock()
		return nil
	}
	b.closing = true
	b.closingMu.Unlock()

	b.subscriberMu.Lock()
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	b.subscriberMu.Unlock()
	return b.port.Close()
}

// Open connects to the vehicle at uri and returns its Link. It fails with
// ErrConnectTimeout if the vehicle does not acknowledge within the
// bridge's connect timeout.
func (b *Bridge[T]) Open(ctx context.Context, uri string) (Link, error) {
	addr, err := Address(uri)
	if err != nil {
		return nil, err
	}
	rl := newRadioLink(b, addr)
	if err := rl.connect(ctx, b.connectTimeout); err != nil {
		rl.release()
		return nil, err
	}
	return rl, nil
}
