package link

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLink(t *testing.T) (Link, *TestPort) {
	t.Helper()
	b, port := startBridge(t, AckConnect)
	l, err := b.Open(context.Background(), testURI)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, port
}

func TestRadioLinkCommands(t *testing.T) {
	l, port := openTestLink(t)

	require.NoError(t, l.SetParam("stabilizer.estimator", 2))
	require.NoError(t, l.SendPositionSetpoint(1, -0.5, 0.25, 90))
	require.NoError(t, l.SendHoverSetpoint(0, 0, 0, 0.4))
	require.NoError(t, l.SendExtendedPose(0.1, 0.2, 0.3, 0, 0, 0, 1))
	require.NoError(t, l.SendExternalPosition(0.1, 0.2, 0.3))
	require.NoError(t, l.SendStopSetpoint())

	assert.Equal(t, []string{
		"@E7E7E7E711 connect",
		"@E7E7E7E711 param stabilizer.estimator 2",
		"@E7E7E7E711 pos 1 -0.5 0.25 90",
		"@E7E7E7E711 hover 0 0 0 0.4",
		"@E7E7E7E711 extpose 0.1 0.2 0.3 0 0 0 1",
		"@E7E7E7E711 extpos 0.1 0.2 0.3",
		"@E7E7E7E711 stop",
	}, port.Written())
}

func TestRadioLinkTelemetry(t *testing.T) {
	l, port := openTestLink(t)

	ctx, cancel := context.WithCancel(context.Background())
	samples, err := l.StartTelemetry(ctx, "Kalman Variance", 500*time.Millisecond, []string{"kalman.varPX", "kalman.varPY"})
	require.NoError(t, err)
	assert.Contains(t, port.Written(), "@E7E7E7E711 log start Kalman_Variance 500 kalman.varPX,kalman.varPY")

	port.Inject(
		"@E7E7E7E7FF log Kalman_Variance 1000 kalman.varPX=9",
		"@E7E7E7E711 log Other 1000 kalman.varPX=9",
		"@E7E7E7E711 log Kalman_Variance 1500 kalman.varPX=0.5 kalman.varPY=0.25",
	)

	select {
	case s := <-samples:
		assert.Equal(t, 1500*time.Millisecond, s.Timestamp)
		assert.Equal(t, 0.5, s.Values["kalman.varPX"])
		assert.Equal(t, 0.25, s.Values["kalman.varPY"])
	case <-time.After(time.Second):
		t.Fatal("no telemetry sample")
	}

	_, err = l.StartTelemetry(ctx, "Kalman Variance", time.Second, []string{"x"})
	assert.Error(t, err, "duplicate block")

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-samples:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		for _, w := range port.Written() {
			if w == "@E7E7E7E711 log stop Kalman_Variance" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestRadioLinkCloseEndsTelemetry(t *testing.T) {
	l, _ := openTestLink(t)

	samples, err := l.StartTelemetry(context.Background(), "kv", 100*time.Millisecond, []string{"a"})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	select {
	case _, ok := <-samples:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("telemetry channel not closed by Close")
	}

	_, err = l.StartTelemetry(context.Background(), "kv2", time.Second, []string{"a"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRadioLinkTelemetryValidation(t *testing.T) {
	l, _ := openTestLink(t)
	_, err := l.StartTelemetry(context.Background(), "kv", time.Second, nil)
	assert.Error(t, err)
	_, err = l.StartTelemetry(context.Background(), "  ", time.Second, []string{"a"})
	assert.Error(t, err)
}
