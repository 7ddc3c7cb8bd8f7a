package mocap

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/mocap.flight/internal/monitoring"
	"github.com/banshee-data/mocap.flight/internal/timeutil"
)

// PacketHandler consumes raw 6-DOF datagrams.
type PacketHandler interface {
	HandlePacket(b []byte) error
}

// ReplayOptions configure ReplayPCAP.
type ReplayOptions struct {
	// Port keeps only UDP datagrams sent to this port; 0 keeps every one.
	Port int
	// Realtime paces delivery by the capture timestamps.
	Realtime bool
	Clock    timeutil.Clock
}

// ReplayPCAP feeds the UDP payloads of a pcap capture to h. It reads the
// file with the pure-Go pcapgo reader so no libpcap is needed.
func ReplayPCAP(ctx context.Context, path string, h PacketHandler, opts ReplayOptions) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to read PCAP header of %s: %w", path, err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	source := gopacket.NewPacketSource(r, r.LinkType())
	packets := source.Packets()

	var (
		count, delivered int
		prev             time.Time
		start            = time.Now()
	)
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("PCAP replay stopping due to context cancellation (replayed %d frames)", delivered)
			return ctx.Err()
		case packet, ok := <-packets:
			if !ok || packet == nil {
				monitoring.Logf("PCAP replay complete: %d packets, %d frames in %v", count, delivered, time.Since(start))
				return nil
			}
			count++

			udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
			if !ok || len(udp.Payload) == 0 {
				continue
			}
			if opts.Port != 0 && int(udp.DstPort) != opts.Port {
				continue
			}

			if opts.Realtime {
				ts := packet.Metadata().Timestamp
				if !prev.IsZero() && ts.After(prev) {
					clock.Sleep(ts.Sub(prev))
				}
				prev = ts
			}

			if err := h.HandlePacket(udp.Payload); err != nil {
				monitoring.Logf("Error handling PCAP packet %d: %v", count, err)
				continue
			}
			delivered++
		}
	}
}
