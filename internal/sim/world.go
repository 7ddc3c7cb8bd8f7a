// Package sim is an in-process stand-in for the radio bridge and the
// mocap feed, used to rehearse choreographies without hardware.
//
// A World holds simulated vehicles. It implements link.Opener for their
// radio URIs and publishes their positions as mocap frames to a Dispatcher
// each Step. Vehicles fly first-order toward their setpoints at the speed
// limit written to them, and their estimator variance settles once external
// poses arrive.
package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/mocap.flight/internal/geom"
	"github.com/banshee-data/mocap.flight/internal/link"
	"github.com/banshee-data/mocap.flight/internal/mocap"
	"github.com/banshee-data/mocap.flight/internal/monitoring"
	"github.com/banshee-data/mocap.flight/internal/timeutil"
)

// GroundZ is the height at which a parked vehicle's markers are seen.
const GroundZ = 0.02

// DefaultStep is the physics and frame period used by Run.
const DefaultStep = 10 * time.Millisecond

// World is a set of simulated vehicles sharing one mocap feed.
type World struct {
	clock timeutil.Clock
	feed  *mocap.Dispatcher

	mu       sync.Mutex
	vehicles map[string]*Vehicle // by radio address
	frame    uint32
}

// NewWorld returns an empty World publishing to feed.
func NewWorld(clock timeutil.Clock, feed *mocap.Dispatcher) *World {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &World{clock: clock, feed: feed, vehicles: make(map[string]*Vehicle)}
}

// Feed returns the dispatcher the world publishes to.
func (w *World) Feed() *mocap.Dispatcher { return w.feed }

// AddVehicle parks a vehicle for body at the radio address of uri.
func (w *World) AddVehicle(body, uri string, x, y float64) (*Vehicle, error) {
	addr, err := link.Address(uri)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.vehicles[addr]; ok {
		return nil, fmt.Errorf("vehicle %s already added", addr)
	}
	v := newVehicle(w.clock, body, addr, geom.NewPose(x, y, GroundZ))
	w.vehicles[addr] = v
	return v, nil
}

// Vehicle returns the simulated vehicle of body, or nil.
func (w *World) Vehicle(body string) *Vehicle {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, v := range w.vehicles {
		if v.body == body {
			return v
		}
	}
	return nil
}

// Open connects to the simulated vehicle at uri. An unknown address never
// acknowledges, as on the real radio.
func (w *World) Open(ctx context.Context, uri string) (link.Link, error) {
	addr, err := link.Address(uri)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	v, ok := w.vehicles[addr]
	w.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", link.ErrConnectTimeout, addr)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return v.connect(), nil
}

func (w *World) sorted() []*Vehicle {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*Vehicle, 0, len(w.vehicles))
	for _, v := range w.vehicles {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].body < out[j].body })
	return out
}

// Step advances every vehicle by dt and publishes one frame.
func (w *World) Step(dt time.Duration) mocap.Frame {
	vehicles := w.sorted()
	w.mu.Lock()
	w.frame++
	f := mocap.Frame{Number: w.frame, Bodies: make([]mocap.Body, 0, len(vehicles))}
	w.mu.Unlock()

	for _, v := range vehicles {
		f.Bodies = append(f.Bodies, v.step(dt))
	}
	if w.feed != nil {
		w.feed.Dispatch(f)
	}
	return f
}

// Run steps the world every period until ctx is done.
func (w *World) Run(ctx context.Context, period time.Duration) error {
	if period <= 0 {
		period = DefaultStep
	}
	monitoring.Logf("[sim] running %d vehicles at %v", len(w.sorted()), period)
	ticker := w.clock.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			w.Step(period)
		}
	}
}
