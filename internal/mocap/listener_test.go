package mocap

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mocap.flight/internal/geom"
)

func TestListenerReceivesFrames(t *testing.T) {
	l := NewListener(ListenerConfig{Address: "127.0.0.1:0", FramePeriod: time.Hour})
	require.NoError(t, l.Listen())

	tr := NewTracker(nil)
	_, err := l.Subscribe("cf1", nil, tr)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Start(ctx) }()

	conn, err := net.Dial("udp", l.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	b, err := EncodeFrame(Frame{Number: 1, Bodies: []Body{
		{Name: "cf1", Tracked: true, Pose: geom.NewPose(0.25, 0.5, 0.75).WithRotation(geom.Identity())},
	}})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		conn.Write(b)
		return tr.Snapshot().Pose.IsValid()
	}, 2*time.Second, 20*time.Millisecond)

	snap := tr.Snapshot()
	assert.InDelta(t, 0.25, snap.Pose.X, 1e-6)
	assert.InDelta(t, 0.75, snap.Pose.Z, 1e-6)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestListenerBadAddress(t *testing.T) {
	l := NewListener(ListenerConfig{Address: "not an address"})
	assert.Error(t, l.Start(context.Background()))
}
