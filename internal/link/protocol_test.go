package link

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand(t *testing.T) {
	assert.Equal(t, "@E7E7E7E711 pos 1 -0.25 0.5 0", command("E7E7E7E711", "pos", floats(1, -0.25, 0.5, 0)...))
	assert.Equal(t, "@E7E7E7E711 stop", command("E7E7E7E711", "stop"))
	assert.Equal(t, "0.001", formatFloat(0.001))
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		raw  string
		want Line
	}{
		{"@e7e7e7e711 connected", Line{Addr: "E7E7E7E711", Kind: KindConnected}},
		{"@E7E7E7E711 log kv 10 a=1\r", Line{Addr: "E7E7E7E711", Kind: KindLog, Rest: "kv 10 a=1"}},
		{"@E7E7E7E711 err no such param", Line{Addr: "E7E7E7E711", Kind: KindError, Rest: "no such param"}},
		{"@E7E7E7E711 hello", Line{Addr: "E7E7E7E711", Kind: KindUnknown}},
		{"bridge v1.2 ready", Line{Kind: KindUnknown, Rest: "bridge v1.2 ready"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, ParseLine(tt.raw)); diff != "" {
			t.Errorf("ParseLine(%q) mismatch (-want +got):\n%s", tt.raw, diff)
		}
	}
}

func TestParseSample(t *testing.T) {
	s, err := ParseSample("Kalman_Variance 1500 kalman.varPX=0.5 kalman.varPY=1e-4")
	require.NoError(t, err)
	assert.Equal(t, "Kalman_Variance", s.Block)
	assert.Equal(t, 1500*time.Millisecond, s.Timestamp)
	assert.Equal(t, map[string]float64{"kalman.varPX": 0.5, "kalman.varPY": 1e-4}, s.Values)

	for _, bad := range []string{"", "block", "block x", "block 1 a", "block 1 =1", "block 1 a=x"} {
		_, err := ParseSample(bad)
		assert.Error(t, err, "ParseSample(%q)", bad)
	}
}

func TestFormatSampleRoundTrip(t *testing.T) {
	in := Sample{Block: "kv", Timestamp: 2 * time.Second, Values: map[string]float64{"a": 1.5, "b": -2}}
	line := ParseLine(FormatSample("E7", in, []string{"a", "b", "missing"}))
	require.Equal(t, KindLog, line.Kind)

	out, err := ParseSample(line.Rest)
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
