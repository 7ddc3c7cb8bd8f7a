package mocap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/mocap.flight/internal/timeutil"
)

// ErrEmptyBody is returned when subscribing without a body name.
var ErrEmptyBody = errors.New("rigid body name is empty")

// Dispatcher routes decoded frames to the Handlers subscribed by body name.
// It implements Feed and is shared by the UDP listener and pcap replay.
type Dispatcher struct {
	source string
	stats  *Stats

	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	frames uint64
}

// NewDispatcher returns a Dispatcher. source names the feed in Addr.
func NewDispatcher(source string, stats *Stats) *Dispatcher {
	if stats == nil {
		stats = NewStats()
	}
	return &Dispatcher{
		source: source,
		stats:  stats,
		subs:   make(map[string]map[*subscription]struct{}),
	}
}

type subscription struct {
	d       *Dispatcher
	body    string
	markers []int
	h       Handler
	once    sync.Once
}

func (s *subscription) Addr() string {
	return fmt.Sprintf("%s#%s", s.d.source, s.body)
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.d.mu.Lock()
		defer s.d.mu.Unlock()
		if set, ok := s.d.subs[s.body]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.d.subs, s.body)
			}
		}
	})
	return nil
}

// Subscribe registers h for body. Marker IDs are carried for the caller's
// benefit; the frame stream identifies bodies by name.
func (d *Dispatcher) Subscribe(body string, markers []int, h Handler) (Subscription, error) {
	if body == "" {
		return nil, ErrEmptyBody
	}
	if h == nil {
		return nil, fmt.Errorf("nil handler for body %q", body)
	}
	s := &subscription{d: d, body: body, markers: append([]int(nil), markers...), h: h}

	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.subs[body]
	if !ok {
		set = make(map[*subscription]struct{})
		d.subs[body] = set
	}
	set[s] = struct{}{}
	return s, nil
}

// HandlePacket decodes one datagram and dispatches it.
func (d *Dispatcher) HandlePacket(b []byte) error {
	f, err := DecodeFrame(b)
	if err != nil {
		d.stats.addDecodeError()
		return err
	}
	d.Dispatch(f)
	return nil
}

// Dispatch delivers f. A body reported untracked, or a subscribed body absent
// from the frame, is a tracking loss.
func (d *Dispatcher) Dispatch(f Frame) {
	seen := make(map[string]bool, len(f.Bodies))
	lost := 0

	d.mu.Lock()
	d.frames++
	handlers := d.snapshotLocked()
	d.mu.Unlock()

	for _, b := range f.Bodies {
		seen[b.Name] = true
		if !b.Tracked {
			lost++
		}
		for _, h := range handlers[b.Name] {
			if b.Tracked {
				h.OnPose(b.Pose)
			} else {
				h.OnTrackingLoss()
			}
		}
	}
	for body, hs := range handlers {
		if seen[body] {
			continue
		}
		for _, h := range hs {
			h.OnTrackingLoss()
		}
	}
	d.stats.addFrame(len(f.Bodies), lost)
}

// Lapse signals a tracking loss to every subscriber. The watchdog calls it
// for each frame period in which nothing arrived.
func (d *Dispatcher) Lapse() {
	d.mu.RLock()
	handlers := d.snapshotLocked()
	d.mu.RUnlock()

	for _, hs := range handlers {
		for _, h := range hs {
			h.OnTrackingLoss()
		}
	}
	d.stats.addLapse()
}

// Watch calls Lapse for every period in which no frame was dispatched,
// until ctx is done. A silent feed therefore drives every loss count up.
func (d *Dispatcher) Watch(ctx context.Context, clock timeutil.Clock, period time.Duration) {
	ticker := clock.NewTicker(period)
	defer ticker.Stop()
	last := d.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			cur := d.Frames()
			if cur == last {
				d.Lapse()
			}
			last = cur
		}
	}
}

// Frames returns the number of frames dispatched so far.
func (d *Dispatcher) Frames() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.frames
}

// Stats returns the dispatcher's counters.
func (d *Dispatcher) Stats() *Stats {
	return d.stats
}

func (d *Dispatcher) snapshotLocked() map[string][]Handler {
	out := make(map[string][]Handler, len(d.subs))
	for body, set := range d.subs {
		for s := range set {
			out[body] = append(out[body], s.h)
		}
	}
	return out
}
