// Package vlp16 decodes Velodyne VLP-16 data packets.
//
// A data packet carries 12 firing blocks of 100 bytes each. Every block
// starts with the 0xEEFF flag and a 2-byte azimuth in hundredths of a
// degree, followed by 32 channel returns of 3 bytes (2-byte distance in
// 2 mm units, 1-byte reflectivity). The trailing 6 bytes hold the
// timestamp and factory bytes and are not decoded.
package vlp16

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	DefaultPort       = 2368
	PacketSize        = 1206
	BlocksPerPacket   = 12
	BlockSize         = 100
	ChannelsPerBlock  = 32
	BytesPerChannel   = 3
	BlockFlag         = 0xEEFF
	DistanceUnit      = 0.002 // metres per distance count
	azimuthResolution = 100.0
	blockHeaderSize   = 4
)

// VerticalAngles are the laser elevations in degrees, indexed by channel % 16.
var VerticalAngles = [16]float64{-15, 1, -13, -3, -11, 5, -9, 7, -7, 9, -5, 11, -3, 13, -1, 15}

// ErrPacketSize is returned for payloads that are not exactly PacketSize bytes.
var ErrPacketSize = errors.New("vlp16: unexpected packet size")

// Point is a single return in sensor coordinates (metres).
type Point struct {
	X, Y, Z   float64
	Intensity uint8
	Channel   int
}

// Block is one firing block: the azimuth it was fired at and the
// non-zero returns it produced.
type Block struct {
	Azimuth float64
	Points  []Point
}

// Parser turns raw UDP payloads into blocks of Cartesian points.
type Parser struct {
	cosVert [16]float64
	sinVert [16]float64

	packets int
	skipped int
}

// NewParser precomputes the per-laser trigonometry.
func NewParser() *Parser {
	p := &Parser{}
	for i, deg := range VerticalAngles {
		rad := deg * math.Pi / 180
		p.sinVert[i], p.cosVert[i] = math.Sincos(rad)
	}
	return p
}

// ParsePacket decodes a data packet payload. Blocks whose flag is not
// BlockFlag are omitted; returns with a zero distance are dropped.
func (p *Parser) ParsePacket(payload []byte) ([]Block, error) {
	if len(payload) != PacketSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrPacketSize, len(payload), PacketSize)
	}
	p.packets++

	blocks := make([]Block, 0, BlocksPerPacket)
	for b := 0; b < BlocksPerPacket; b++ {
		base := b * BlockSize
		if binary.LittleEndian.Uint16(payload[base:]) != BlockFlag {
			p.skipped++
			continue
		}
		azimuth := float64(binary.LittleEndian.Uint16(payload[base+2:])) / azimuthResolution
		sinAz, cosAz := math.Sincos(azimuth * math.Pi / 180)

		pts := make([]Point, 0, ChannelsPerBlock)
		for ch := 0; ch < ChannelsPerBlock; ch++ {
			off := base + blockHeaderSize + ch*BytesPerChannel
			raw := binary.LittleEndian.Uint16(payload[off:])
			if raw == 0 {
				continue
			}
			d := float64(raw) * DistanceUnit
			laser := ch % 16
			xy := d * p.cosVert[laser]
			pts = append(pts, Point{
				X:         xy * sinAz,
				Y:         xy * cosAz,
				Z:         d * p.sinVert[laser],
				Intensity: payload[off+2],
				Channel:   ch,
			})
		}
		blocks = append(blocks, Block{Azimuth: azimuth, Points: pts})
	}
	return blocks, nil
}

// Stats reports how many packets were decoded and how many blocks were
// rejected for a bad flag.
func (p *Parser) Stats() (packets, skippedBlocks int) {
	return p.packets, p.skipped
}

// EncodeBlock writes block b of payload from an azimuth in degrees and
// raw per-channel distance counts. Used to build synthetic captures.
func EncodeBlock(payload []byte, b int, azimuth float64, distances [ChannelsPerBlock]uint16, reflectivity [ChannelsPerBlock]uint8) {
	base := b * BlockSize
	binary.LittleEndian.PutUint16(payload[base:], BlockFlag)
	binary.LittleEndian.PutUint16(payload[base+2:], uint16(math.Round(azimuth*azimuthResolution)))
	for ch := 0; ch < ChannelsPerBlock; ch++ {
		off := base + blockHeaderSize + ch*BytesPerChannel
		binary.LittleEndian.PutUint16(payload[off:], distances[ch])
		payload[off+2] = reflectivity[ch]
	}
}
