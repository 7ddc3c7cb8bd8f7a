package link

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// TestPort is an in-memory Port. Lines passed to Inject are read back by
// the bridge; every write is recorded and may be answered by Respond.
type TestPort struct {
	mu      sync.Mutex
	written bytes.Buffer
	closed  bool

	// Respond, if set, is called for every command line written and its
	// result is injected as replies.
	Respond func(cmd string) []string
	// WriteError is returned by Write when set.
	WriteError error
	// ShortWrite makes Write report one byte fewer than requested.
	ShortWrite bool

	r      *io.PipeReader
	w      *io.PipeWriter
	inject chan string
	done   chan struct{}
}

// NewTestPort returns an open TestPort.
func NewTestPort() *TestPort {
	r, w := io.Pipe()
	p := &TestPort{
		r:      r,
		w:      w,
		inject: make(chan string, 256),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		for line := range p.inject {
			if _, err := io.WriteString(p.w, line+"\n"); err != nil {
				return
			}
		}
	}()
	return p
}

// AckConnect is a Respond func that acknowledges every connect.
func AckConnect(cmd string) []string {
	if addr, ok := strings.CutSuffix(cmd, " connect"); ok {
		return []string{addr + " connected"}
	}
	return nil
}

// Inject queues a line to be read from the port.
func (p *TestPort) Inject(lines ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	for _, l := range lines {
		p.inject <- l
	}
}

func (p *TestPort) Read(buf []byte) (int, error) {
	return p.r.Read(buf)
}

func (p *TestPort) Write(data []byte) (int, error) {
	p.mu.Lock()
	if p.WriteError != nil {
		err := p.WriteError
		p.mu.Unlock()
		return 0, err
	}
	if p.closed {
		p.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	n := len(data)
	if p.ShortWrite && n > 0 {
		n--
	}
	p.written.Write(data[:n])
	respond := p.Respond
	p.mu.Unlock()

	if respond != nil {
		for _, cmd := range strings.Split(strings.TrimSpace(string(data[:n])), "\n") {
			p.Inject(respond(cmd)...)
		}
	}
	return n, nil
}

// Close ends the read stream with EOF. Lines not yet read are dropped.
func (p *TestPort) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.inject)
	p.mu.Unlock()
	return p.w.Close()
}

// Written returns every command line written so far.
func (p *TestPort) Written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := strings.TrimSpace(p.written.String())
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
