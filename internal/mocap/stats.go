package mocap

import (
	"sync"
	"time"

	"github.com/banshee-data/mocap.flight/internal/monitoring"
)

// Stats counts feed traffic between log reports.
type Stats struct {
	mu           sync.Mutex
	frames       int64
	bodies       int64
	lost         int64
	decodeErrors int64
	lapses       int64
	lastReset    time.Time
}

// NewStats returns zeroed Stats.
func NewStats() *Stats {
	return &Stats{lastReset: time.Now()}
}

func (s *Stats) addFrame(bodies, lost int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	s.bodies += int64(bodies)
	s.lost += int64(lost)
}

func (s *Stats) addDecodeError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decodeErrors++
}

func (s *Stats) addLapse() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lapses++
}

// StatsReport is the set of counters returned by GetAndReset.
type StatsReport struct {
	Frames, Bodies, Lost, DecodeErrors, Lapses int64
	Duration                                   time.Duration
}

// GetAndReset returns the counters and resets them.
func (s *Stats) GetAndReset() StatsReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	r := StatsReport{
		Frames:       s.frames,
		Bodies:       s.bodies,
		Lost:         s.lost,
		DecodeErrors: s.decodeErrors,
		Lapses:       s.lapses,
		Duration:     now.Sub(s.lastReset),
	}
	s.frames, s.bodies, s.lost, s.decodeErrors, s.lapses = 0, 0, 0, 0, 0
	s.lastReset = now
	return r
}

// LogStats logs and resets the counters.
func (s *Stats) LogStats() {
	r := s.GetAndReset()
	if r.Frames == 0 && r.DecodeErrors == 0 && r.Lapses == 0 {
		return
	}
	secs := r.Duration.Seconds()
	msg := "Mocap stats (/sec): %.1f frames, %.1f bodies"
	args := []interface{}{float64(r.Frames) / secs, float64(r.Bodies) / secs}
	if r.Lost > 0 {
		msg += ", %d untracked"
		args = append(args, r.Lost)
	}
	if r.DecodeErrors > 0 {
		msg += ", %d decode errors"
		args = append(args, r.DecodeErrors)
	}
	if r.Lapses > 0 {
		msg += ", %d silent periods"
		args = append(args, r.Lapses)
	}
	monitoring.Logf(msg, args...)
}
