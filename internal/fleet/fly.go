package fleet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/mocap.flight/internal/monitoring"
	"github.com/banshee-data/mocap.flight/internal/timeutil"
	"github.com/banshee-data/mocap.flight/internal/vehicle"
)

// ErrAborted is returned by Fly when a vehicle fails its safety gate.
var ErrAborted = errors.New("flight aborted")

// Choreography issues one round of setpoints per tick. Step returns true
// once the choreography has finished.
type Choreography interface {
	Step(ctx context.Context, elapsed time.Duration, sessions []*vehicle.Session) (done bool)
}

// ChoreographyFunc adapts a function to Choreography.
type ChoreographyFunc func(ctx context.Context, elapsed time.Duration, sessions []*vehicle.Session) bool

func (f ChoreographyFunc) Step(ctx context.Context, elapsed time.Duration, sessions []*vehicle.Session) bool {
	return f(ctx, elapsed, sessions)
}

// FlyOptions tune the control loop.
type FlyOptions struct {
	Tick  time.Duration
	Clock timeutil.Clock
}

// Fly runs c on the group every tick until ctx is done, a vehicle is
// unsafe or c finishes. Every airborne vehicle lands before Fly returns,
// including when c panics; the panic is re-raised after landing.
func Fly(ctx context.Context, g *Group, c Choreography, opts FlyOptions) (err error) {
	tick := opts.Tick
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	defer func() {
		r := recover()
		if r != nil {
			monitoring.Logf("choreography panicked, landing: %v", r)
		}
		g.LandAll()
		if r != nil {
			panic(r)
		}
	}()

	monitoring.Logf("Beginning maneuvers...")
	ticker := clock.NewTicker(tick)
	defer ticker.Stop()
	start := clock.Now()
	sessions := g.Sessions()

	for {
		if err := ctx.Err(); err != nil {
			monitoring.Logf("Flight cancelled: %v", err)
			return err
		}
		if !g.AllSafe() {
			return fmt.Errorf("%w: %s", ErrAborted, unsafeSummary(sessions))
		}
		if c.Step(ctx, clock.Since(start), sessions) {
			monitoring.Logf("Maneuvers complete.")
			return nil
		}
		select {
		case <-ctx.Done():
			monitoring.Logf("Flight cancelled: %v", ctx.Err())
			return ctx.Err()
		case <-ticker.C():
		}
	}
}

func unsafeSummary(sessions []*vehicle.Session) string {
	var parts []string
	for _, s := range sessions {
		if v := s.Verdict(); !v.Safe {
			parts = append(parts, fmt.Sprintf("%s %s", s.Body(), v.Reason))
		}
	}
	if len(parts) == 0 {
		return "safety gate failed"
	}
	return strings.Join(parts, ", ")
}
