package mocap

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mocap.flight/internal/geom"
	"github.com/banshee-data/mocap.flight/internal/timeutil"
)

// writeCapture writes payloads as UDP datagrams to port, one every gap.
func writeCapture(t *testing.T, port uint16, gap time.Duration, payloads ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	ts := time.Unix(1700000000, 0)
	for _, p := range payloads {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
			DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IP{192, 168, 1, 10},
			DstIP:    net.IP{192, 168, 1, 20},
		}
		udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(port)}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(p)))
		data := buf.Bytes()
		require.NoError(t, w.WritePacket(gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(data), Length: len(data)}, data))
		ts = ts.Add(gap)
	}
	return path
}

func frameBytes(t *testing.T, n uint32, x float64) []byte {
	t.Helper()
	b, err := EncodeFrame(Frame{Number: n, Bodies: []Body{{Name: "cf1", Tracked: true, Pose: geom.NewPose(x, 0, 1)}}})
	require.NoError(t, err)
	return b
}

func TestReplayPCAP(t *testing.T) {
	path := writeCapture(t, 7000, 10*time.Millisecond,
		frameBytes(t, 1, 0.1), frameBytes(t, 2, 0.2), frameBytes(t, 3, 0.3))

	d := NewDispatcher("pcap", nil)
	h := &recordingHandler{}
	_, err := d.Subscribe("cf1", nil, h)
	require.NoError(t, err)

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	err = ReplayPCAP(context.Background(), path, d, ReplayOptions{Port: 7000, Realtime: true, Clock: clock})
	require.NoError(t, err)

	poses, _ := h.counts()
	assert.Equal(t, 3, poses)
	assert.InDelta(t, 0.3, h.poses[2].X, 1e-6)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 10 * time.Millisecond}, clock.Sleeps(), "paced by capture timestamps")
}

func TestReplayPCAPFiltersPort(t *testing.T) {
	path := writeCapture(t, 9999, time.Millisecond, frameBytes(t, 1, 0.1))

	d := NewDispatcher("pcap", nil)
	h := &recordingHandler{}
	_, err := d.Subscribe("cf1", nil, h)
	require.NoError(t, err)

	require.NoError(t, ReplayPCAP(context.Background(), path, d, ReplayOptions{Port: 7000}))
	poses, _ := h.counts()
	assert.Zero(t, poses)
}

func TestReplayPCAPMissingFile(t *testing.T) {
	err := ReplayPCAP(context.Background(), filepath.Join(t.TempDir(), "nope.pcap"), NewDispatcher("pcap", nil), ReplayOptions{})
	assert.Error(t, err)
}
