package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flight.json")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := EmptyFlightConfig()

	vol, err := cfg.GetVolume()
	require.NoError(t, err)
	assert.Equal(t, 0.0, vol.Origin.X)
	assert.Equal(t, 1.0, vol.Origin.Z)
	assert.Equal(t, 1.0, vol.Expanse)

	assert.Equal(t, 100*time.Millisecond, cfg.GetTick())
	assert.Equal(t, 30*time.Second, cfg.GetEstimator().Timeout)
	assert.Equal(t, 3*time.Second, cfg.GetConnectTimeout())
	assert.Equal(t, ":7001", cfg.GetMocapListen())
	assert.Equal(t, 10*time.Millisecond, cfg.GetFramePeriod())
	assert.True(t, cfg.GetPCAPRealtime())
	assert.Equal(t, "hover", cfg.GetChoreography())
	assert.Equal(t, 0.5, cfg.GetRadius())
	assert.Equal(t, 90.0, cfg.GetRate())
	assert.Equal(t, DefaultRadioPort, cfg.GetRadioPort())
	assert.Empty(t, cfg.GetMocapPCAP())
	assert.Zero(t, cfg.GetRcvBuf())

	_, err = cfg.VehicleConfigs()
	assert.Error(t, err, "no vehicles")
}

func TestDefaultFlightConfigValidates(t *testing.T) {
	cfg := DefaultFlightConfig()
	require.NoError(t, cfg.Validate())

	vcs, err := cfg.VehicleConfigs()
	require.NoError(t, err)
	require.Len(t, vcs, 1)
	assert.Equal(t, []int{101, 102, 103, 104}, vcs[0].Markers)
	assert.Equal(t, 200, vcs[0].Limits.MaxTrackingLoss)
	assert.Equal(t, 1.0, vcs[0].Limits.MaxVelocity)
}

func TestLoadFlightConfig(t *testing.T) {
	path := writeConfig(t, `{
  "world": {"origin": [0.5, -0.5, 1.2], "expanse": 0.8},
  "vehicles": [
    {"body": "cf1", "uri": "radio://0/80/2M/E7E7E7E711"},
    {"body": "cf2", "uri": "radio://0/80/2M/E7E7E7E731", "markers": [5, 6, 7, 8], "max_tracking_loss": 20, "max_velocity": 0.5}
  ],
  "tick": "50ms",
  "estimator": {"timeout": "0s", "threshold": 0.002},
  "mocap": {"listen": "127.0.0.1:9000", "pcap_realtime": false},
  "choreography": {"name": "circle", "duration": "33s", "radius": 0.6}
}`)

	cfg, err := LoadFlightConfig(path)
	require.NoError(t, err)

	vol, err := cfg.GetVolume()
	require.NoError(t, err)
	assert.Equal(t, 0.5, vol.Origin.X)
	assert.Equal(t, 1.2, vol.Origin.Z)
	assert.Equal(t, 0.8, vol.Expanse)

	assert.Equal(t, 50*time.Millisecond, cfg.GetTick())
	est := cfg.GetEstimator()
	assert.Equal(t, time.Duration(0), est.Timeout, "zero timeout waits forever")
	assert.Equal(t, 0.002, est.Threshold)
	assert.Equal(t, 10, est.WindowSize)
	assert.Equal(t, "127.0.0.1:9000", cfg.GetMocapListen())
	assert.False(t, cfg.GetPCAPRealtime())
	assert.Equal(t, "circle", cfg.GetChoreography())
	assert.Equal(t, 33*time.Second, cfg.GetChoreographyDuration())

	vcs, err := cfg.VehicleConfigs()
	require.NoError(t, err)
	require.Len(t, vcs, 2)
	assert.Equal(t, DefaultMarkers, vcs[0].Markers)
	assert.Equal(t, 200, vcs[0].Limits.MaxTrackingLoss)
	assert.Equal(t, []int{5, 6, 7, 8}, vcs[1].Markers)
	assert.Equal(t, 20, vcs[1].Limits.MaxTrackingLoss)
	assert.Equal(t, 0.5, vcs[1].Limits.MaxVelocity)
	assert.Equal(t, 50*time.Millisecond, vcs[1].Tick)
	assert.Equal(t, vol, vcs[1].Volume)
}

func TestLoadFlightConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad json", `{`, "parse"},
		{"zero expanse", `{"world": {"expanse": 0}}`, "expanse"},
		{"bad tick", `{"tick": "soon"}`, "tick"},
		{"zero tick", `{"tick": "0s"}`, "tick"},
		{"missing body", `{"vehicles": [{"uri": "radio://0/80/2M/E7"}]}`, "body"},
		{"duplicate body", `{"vehicles": [{"body": "a", "uri": "E1"}, {"body": "a", "uri": "E2"}]}`, "duplicate"},
		{"bad uri", `{"vehicles": [{"body": "a", "uri": "usb://0"}]}`, "scheme"},
		{"three markers", `{"vehicles": [{"body": "a", "uri": "E1", "markers": [1, 2, 3]}]}`, "marker"},
		{"negative velocity", `{"vehicles": [{"body": "a", "uri": "E1", "max_velocity": -1}]}`, "max_velocity"},
		{"bad parity", `{"radio": {"options": {"parity": "X"}}}`, "parity"},
		{"window", `{"estimator": {"window_size": 0}}`, "window_size"},
		{"unknown choreography", `{"choreography": {"name": "loop"}}`, "choreography"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFlightConfig(writeConfig(t, tt.body))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadFlightConfigFileChecks(t *testing.T) {
	_, err := LoadFlightConfig(filepath.Join(t.TempDir(), "flight.yaml"))
	assert.ErrorContains(t, err, ".json")

	_, err = LoadFlightConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "stat")

	big := filepath.Join(t.TempDir(), "big.json")
	require.NoError(t, os.WriteFile(big, make([]byte, 1024*1024+1), 0644))
	_, err = LoadFlightConfig(big)
	assert.ErrorContains(t, err, "too large")
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	vcs, err := cfg.VehicleConfigs()
	require.NoError(t, err)
	assert.Len(t, vcs, 2)
	assert.Equal(t, "circle", cfg.GetChoreography())
}
