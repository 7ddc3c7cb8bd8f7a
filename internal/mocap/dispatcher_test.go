package mocap

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mocap.flight/internal/geom"
	"github.com/banshee-data/mocap.flight/internal/timeutil"
)

type recordingHandler struct {
	mu     sync.Mutex
	poses  []geom.Pose
	losses int
}

func (h *recordingHandler) OnPose(p geom.Pose) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.poses = append(h.poses, p)
}

func (h *recordingHandler) OnTrackingLoss() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.losses++
}

func (h *recordingHandler) counts() (poses, losses int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.poses), h.losses
}

func TestDispatcherRoutesByBody(t *testing.T) {
	d := NewDispatcher("test", nil)
	h1, h2, h3 := &recordingHandler{}, &recordingHandler{}, &recordingHandler{}
	_, err := d.Subscribe("cf1", []int{1, 2, 3, 4}, h1)
	require.NoError(t, err)
	_, err = d.Subscribe("cf2", nil, h2)
	require.NoError(t, err)
	sub3, err := d.Subscribe("cf3", nil, h3)
	require.NoError(t, err)
	assert.Equal(t, "test#cf3", sub3.Addr())

	d.Dispatch(Frame{Number: 1, Bodies: []Body{
		{Name: "cf1", Tracked: true, Pose: geom.NewPose(1, 0, 0)},
		{Name: "cf2", Tracked: false},
		{Name: "other", Tracked: true, Pose: geom.NewPose(9, 9, 9)},
	}})

	poses, losses := h1.counts()
	assert.Equal(t, 1, poses)
	assert.Zero(t, losses)

	poses, losses = h2.counts()
	assert.Zero(t, poses)
	assert.Equal(t, 1, losses, "untracked body is a loss")

	poses, losses = h3.counts()
	assert.Zero(t, poses)
	assert.Equal(t, 1, losses, "absent body is a loss")

	require.NoError(t, sub3.Close())
	require.NoError(t, sub3.Close())
	d.Dispatch(Frame{Number: 2})
	_, losses = h3.counts()
	assert.Equal(t, 1, losses, "closed subscription receives nothing")
}

func TestDispatcherSubscribeValidation(t *testing.T) {
	d := NewDispatcher("test", nil)
	_, err := d.Subscribe("", nil, &recordingHandler{})
	assert.ErrorIs(t, err, ErrEmptyBody)
	_, err = d.Subscribe("cf1", nil, nil)
	assert.Error(t, err)
}

func TestDispatcherHandlePacketCountsErrors(t *testing.T) {
	stats := NewStats()
	d := NewDispatcher("test", stats)
	assert.Error(t, d.HandlePacket([]byte("garbage")))

	b, err := EncodeFrame(Frame{Number: 7, Bodies: []Body{{Name: "cf1", Tracked: true, Pose: geom.NewPose(0, 0, 0)}}})
	require.NoError(t, err)
	require.NoError(t, d.HandlePacket(b))

	r := stats.GetAndReset()
	assert.Equal(t, int64(1), r.Frames)
	assert.Equal(t, int64(1), r.Bodies)
	assert.Equal(t, int64(1), r.DecodeErrors)
	assert.Zero(t, stats.GetAndReset().Frames, "counters reset")
}

func TestWatchSignalsLossOnSilence(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	d := NewDispatcher("test", nil)
	tr := NewTracker(clock)
	_, err := d.Subscribe("cf1", nil, tr)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Watch(ctx, clock, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		clock.Advance(10 * time.Millisecond)
		return tr.Snapshot().TrackingLoss >= 6
	}, time.Second, time.Millisecond, "a silent feed drives the loss count up")
}
