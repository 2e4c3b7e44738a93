// Package network reads LiDAR UDP traffic from capture files.
package network

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/frameplay/internal/monitoring"
)

const progressEvery = 10000

// pcapng section header block type, identical in either byte order.
const pcapngMagic = 0x0A0D0D0A

// PayloadHandler is called for every UDP payload addressed to the
// requested port. Returning an error stops the read.
type PayloadHandler func(payload []byte, captured time.Time) error

// Stats summarises a capture read.
type Stats struct {
	Packets int // packets read from the file, including non-UDP
	Matched int // UDP payloads passed to the handler
	Elapsed time.Duration
}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// ReadPCAPFile reads a pcap or pcapng capture at path and hands every
// non-empty UDP payload with destination port udpPort to handler. At most
// maxPackets packets are read when maxPackets is positive.
func ReadPCAPFile(ctx context.Context, path string, udpPort, maxPackets int, handler PayloadHandler) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()
	return ReadPCAP(ctx, f, udpPort, maxPackets, handler)
}

// ReadPCAP is ReadPCAPFile over an already open capture stream.
func ReadPCAP(ctx context.Context, r io.Reader, udpPort, maxPackets int, handler PayloadHandler) (Stats, error) {
	src, err := newPacketReader(r)
	if err != nil {
		return Stats{}, err
	}
	monitoring.Diagf("[pcap] link type %s, filtering udp dst port %d", src.LinkType(), udpPort)

	var stats Stats
	start := time.Now()
	decodeOpts := gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	for maxPackets <= 0 || stats.Packets < maxPackets {
		if err := ctx.Err(); err != nil {
			monitoring.Diagf("[pcap] reader stopping due to context cancellation (processed %d packets)", stats.Packets)
			stats.Elapsed = time.Since(start)
			return stats, err
		}

		data, ci, err := src.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			stats.Elapsed = time.Since(start)
			return stats, fmt.Errorf("read packet %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		packet := gopacket.NewPacket(data, src.LinkType(), decodeOpts)
		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if ok && int(udp.DstPort) == udpPort && len(udp.Payload) > 0 {
			stats.Matched++
			if err := handler(udp.Payload, ci.Timestamp); err != nil {
				stats.Elapsed = time.Since(start)
				return stats, err
			}
		}

		if stats.Packets%progressEvery == 0 {
			elapsed := time.Since(start)
			monitoring.Diagf("[pcap] progress: %d packets processed in %v (%.0f pkt/s)",
				stats.Packets, elapsed, float64(stats.Packets)/elapsed.Seconds())
		}
	}

	stats.Elapsed = time.Since(start)
	monitoring.Diagf("[pcap] reading complete: %d packets, %d matched in %v", stats.Packets, stats.Matched, stats.Elapsed)
	return stats, nil
}

func newPacketReader(r io.Reader) (packetReader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read capture header: %w", err)
	}
	if binary.LittleEndian.Uint32(head) == pcapngMagic {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("open pcapng reader: %w", err)
		}
		return ng, nil
	}
	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("open pcap reader: %w", err)
	}
	return pr, nil
}
