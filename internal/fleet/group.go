// Package fleet supervises a group of vehicle sessions: ordered bring-up
// with unwind on failure, joint safety checks, and the control loop that
// lands every airborne vehicle on any exit.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/mocap.flight/internal/monitoring"
	"github.com/banshee-data/mocap.flight/internal/vehicle"
)

// BringUpError reports the session that failed to open.
type BringUpError struct {
	Body string
	Err  error
}

func (e *BringUpError) Error() string {
	return fmt.Sprintf("bring-up of %s failed: %v", e.Body, e.Err)
}

func (e *BringUpError) Unwrap() error { return e.Err }

// Group is an ordered set of sessions. Sessions never reference the group.
type Group struct {
	sessions []*vehicle.Session

	mu     sync.Mutex
	opened []*vehicle.Session
}

// NewGroup returns a group over sessions in the given order.
func NewGroup(sessions ...*vehicle.Session) *Group {
	return &Group{sessions: append([]*vehicle.Session(nil), sessions...)}
}

// Sessions returns the sessions in order.
func (g *Group) Sessions() []*vehicle.Session {
	return append([]*vehicle.Session(nil), g.sessions...)
}

// Open opens every session in order. If one fails, the sessions already
// opened are closed in reverse order and a *BringUpError is returned.
func (g *Group) Open(ctx context.Context) error {
	for _, s := range g.sessions {
		if err := s.Open(ctx); err != nil {
			if cerr := g.Close(); cerr != nil {
				monitoring.Logf("closing group after failed bring-up: %v", cerr)
			}
			return &BringUpError{Body: s.Body(), Err: err}
		}
		g.mu.Lock()
		g.opened = append(g.opened, s)
		g.mu.Unlock()
	}
	return nil
}

// Close closes every opened session in reverse order and joins their
// errors. It is safe to call more than once.
func (g *Group) Close() error {
	g.mu.Lock()
	opened := g.opened
	g.opened = nil
	g.mu.Unlock()

	var errs []error
	for i := len(opened) - 1; i >= 0; i-- {
		if err := opened[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", opened[i].Body(), err))
		}
	}
	return errors.Join(errs...)
}

// AllSafe reports whether every session passes its safety gate. Every
// session is evaluated so each one logs its own transitions.
func (g *Group) AllSafe() bool {
	safe := true
	for _, s := range g.sessions {
		if !s.IsSafe() {
			safe = false
		}
	}
	return safe
}

// Status returns the status of every session in order.
func (g *Group) Status() []vehicle.Status {
	out := make([]vehicle.Status, 0, len(g.sessions))
	for _, s := range g.sessions {
		out = append(out, s.Status())
	}
	return out
}

// LandAll lands every airborne session concurrently and waits.
func (g *Group) LandAll() {
	var wg sync.WaitGroup
	for _, s := range g.sessions {
		wg.Add(1)
		go func(s *vehicle.Session) {
			defer wg.Done()
			s.Land()
		}(s)
	}
	wg.Wait()
}

// With opens a group over sessions, runs fn and closes the group on every
// exit path.
func With(ctx context.Context, sessions []*vehicle.Session, fn func(ctx context.Context, g *Group) error) (err error) {
	g := NewGroup(sessions...)
	if err := g.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if cerr := g.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn(ctx, g)
}
