package link

import (
	"context"
	"sync"
	"time"
)

// Call is one recorded Link invocation.
type Call struct {
	Method string
	Name   string // parameter or log block name
	Args   []float64
}

// Recorder is a Link that records every call. It is used by the tests of
// the packages that drive links.
type Recorder struct {
	mu     sync.Mutex
	calls  []Call
	closed bool

	// Err is returned by every command when set.
	Err error
	// Telemetry, if set, serves StartTelemetry. Otherwise the returned
	// channel stays empty and closes when ctx is done.
	Telemetry func(ctx context.Context, block string, period time.Duration, vars []string) (<-chan Sample, error)
}

var _ Link = (*Recorder)(nil)

func (r *Recorder) record(c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	if r.closed {
		return ErrClosed
	}
	return r.Err
}

// Calls returns a copy of every call so far.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Count returns the number of calls to method.
func (r *Recorder) Count(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Last returns the most recent call to method.
func (r *Recorder) Last(method string) (Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.calls) - 1; i >= 0; i-- {
		if r.calls[i].Method == method {
			return r.calls[i], true
		}
	}
	return Call{}, false
}

// Reset forgets every recorded call.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Recorder) SetParam(name string, value float64) error {
	return r.record(Call{Method: "SetParam", Name: name, Args: []float64{value}})
}

func (r *Recorder) SendPositionSetpoint(x, y, z, yaw float64) error {
	return r.record(Call{Method: "SendPositionSetpoint", Args: []float64{x, y, z, yaw}})
}

func (r *Recorder) SendHoverSetpoint(vx, vy, yawRate, height float64) error {
	return r.record(Call{Method: "SendHoverSetpoint", Args: []float64{vx, vy, yawRate, height}})
}

func (r *Recorder) SendStopSetpoint() error {
	return r.record(Call{Method: "SendStopSetpoint"})
}

func (r *Recorder) SendExtendedPose(x, y, z, qx, qy, qz, qw float64) error {
	return r.record(Call{Method: "SendExtendedPose", Args: []float64{x, y, z, qx, qy, qz, qw}})
}

func (r *Recorder) SendExternalPosition(x, y, z float64) error {
	return r.record(Call{Method: "SendExternalPosition", Args: []float64{x, y, z}})
}

func (r *Recorder) StartTelemetry(ctx context.Context, block string, period time.Duration, vars []string) (<-chan Sample, error) {
	if err := r.record(Call{Method: "StartTelemetry", Name: block, Args: []float64{period.Seconds()}}); err != nil {
		return nil, err
	}
	r.mu.Lock()
	serve := r.Telemetry
	r.mu.Unlock()
	if serve != nil {
		return serve(ctx, block, period, vars)
	}
	ch := make(chan Sample)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Method: "Close"})
	r.closed = true
	return nil
}

// SteadyTelemetry returns a Recorder.Telemetry func that streams values on
// every block until ctx is done.
func SteadyTelemetry(values map[string]float64) func(ctx context.Context, block string, period time.Duration, vars []string) (<-chan Sample, error) {
	return func(ctx context.Context, block string, period time.Duration, vars []string) (<-chan Sample, error) {
		ch := make(chan Sample)
		go func() {
			defer close(ch)
			for {
				s := Sample{Block: block, Values: make(map[string]float64, len(values))}
				for k, v := range values {
					s.Values[k] = v
				}
				select {
				case ch <- s:
				case <-ctx.Done():
					return
				}
			}
		}()
		return ch, nil
	}
}
