// Package choreo holds the stock multi-vehicle choreographies flown by
// fleet.Fly.
package choreo

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/mocap.flight/internal/fleet"
	"github.com/banshee-data/mocap.flight/internal/geom"
	"github.com/banshee-data/mocap.flight/internal/vehicle"
)

// Stock timings of the circle choreography.
const (
	DefaultCentre  = 3 * time.Second
	DefaultOrbit   = 27 * time.Second
	DefaultReturn  = 3 * time.Second
	DefaultRadius  = 0.6
	DefaultRate    = 90.0 // degrees per second
	DefaultHover   = 10 * time.Second
	DefaultLiftoff = 5 * time.Second
	liftoffStep    = 1.0 // metres, capped per tick by the session
)

// LineX returns the X coordinate of vehicle idx of n spread evenly across
// the middle half of the volume. A lone vehicle takes the centre.
func LineX(vol geom.Volume, idx, n int) float64 {
	if n <= 1 {
		return vol.Origin.X
	}
	lo := vol.Origin.X - vol.Expanse/2
	hi := vol.Origin.X + vol.Expanse/2
	return lo + (hi-lo)*float64(idx)/float64(n-1)
}

// Hover lifts every vehicle straight up for Liftoff, then holds them in a
// line along X at an altitude of the volume expanse until Duration.
type Hover struct {
	Volume   geom.Volume
	Liftoff  time.Duration // zero skips the vertical climb
	Duration time.Duration
}

func (h Hover) Step(ctx context.Context, elapsed time.Duration, sessions []*vehicle.Session) bool {
	duration := h.Duration
	if duration <= 0 {
		duration = DefaultHover
	}
	if elapsed >= duration {
		return true
	}
	for idx, s := range sessions {
		if elapsed < h.Liftoff {
			s.Ascend(liftoffStep)
			continue
		}
		s.SafePositionSetpoint(geom.NewPose(LineX(h.Volume, idx, len(sessions)), h.Volume.Origin.Y, h.Volume.Expanse))
	}
	return false
}

// Circle takes off to a line across the centre, orbits the Z axis with the
// vehicles spaced evenly around the circle and stacked in altitude, then
// returns to the line.
type Circle struct {
	Volume geom.Volume
	Radius float64       // metres
	Rate   float64       // degrees per second
	Centre time.Duration // time spent lining up
	Orbit  time.Duration
	Return time.Duration
}

// NewCircle returns the stock circle on vol with its orbit stretched to
// fill total, or the stock 33 s when total is too short.
func NewCircle(vol geom.Volume, radius, rate float64, total time.Duration) Circle {
	c := Circle{Volume: vol, Radius: radius, Rate: rate, Centre: DefaultCentre, Orbit: DefaultOrbit, Return: DefaultReturn}
	if orbit := total - c.Centre - c.Return; orbit > 0 {
		c.Orbit = orbit
	}
	return c
}

func (c Circle) withDefaults() Circle {
	if c.Radius <= 0 {
		c.Radius = DefaultRadius
	}
	if c.Rate == 0 {
		c.Rate = DefaultRate
	}
	if c.Centre <= 0 {
		c.Centre = DefaultCentre
	}
	if c.Orbit <= 0 {
		c.Orbit = DefaultOrbit
	}
	if c.Return <= 0 {
		c.Return = DefaultReturn
	}
	return c
}

// Target returns where vehicle idx of n should be at elapsed, and false
// once the choreography is over.
func (c Circle) Target(elapsed time.Duration, idx, n int) (geom.Pose, bool) {
	c = c.withDefaults()
	vol := c.Volume
	stacked := vol.Expanse * float64(idx+1) * 0.5
	switch {
	case elapsed < c.Centre:
		return geom.NewPose(LineX(vol, idx, n), vol.Origin.Y, vol.Expanse), true
	case elapsed < c.Centre+c.Orbit:
		phi := math.Mod(elapsed.Seconds()*c.Rate, 360) + 360*float64(idx)/float64(n)
		x, y := geom.PolarToCartesian(c.Radius, phi)
		return geom.NewPose(vol.Origin.X+x, vol.Origin.Y+y, stacked), true
	case elapsed < c.Centre+c.Orbit+c.Return:
		return geom.NewPose(LineX(vol, idx, n), vol.Origin.Y, stacked), true
	default:
		return geom.Pose{}, false
	}
}

func (c Circle) Step(ctx context.Context, elapsed time.Duration, sessions []*vehicle.Session) bool {
	for idx, s := range sessions {
		target, ok := c.Target(elapsed, idx, len(sessions))
		if !ok {
			return true
		}
		s.SafePositionSetpoint(target)
	}
	return len(sessions) == 0
}

// New returns the choreography called name.
func New(name string, vol geom.Volume, duration time.Duration, radius, rate float64) (fleet.Choreography, error) {
	switch name {
	case "hover":
		return Hover{Volume: vol, Duration: duration}, nil
	case "liftoff":
		return Hover{Volume: vol, Liftoff: DefaultLiftoff, Duration: duration}, nil
	case "circle":
		return NewCircle(vol, radius, rate, duration), nil
	default:
		return nil, fmt.Errorf("unknown choreography %q", name)
	}
}
