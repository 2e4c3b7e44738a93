// Command pcap-frames splits a Velodyne VLP-16 capture into one point
// cloud file per sensor rotation, ready for frameplay.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/banshee-data/frameplay/internal/cloud/frameio"
	"github.com/banshee-data/frameplay/internal/fsutil"
	"github.com/banshee-data/frameplay/internal/lidar/l2frames"
	"github.com/banshee-data/frameplay/internal/lidar/network"
	"github.com/banshee-data/frameplay/internal/lidar/vlp16"
	"github.com/banshee-data/frameplay/internal/monitoring"
	"github.com/banshee-data/frameplay/internal/security"
	"github.com/banshee-data/frameplay/internal/version"
)

const defaultMaxPackets = 10000

// Config holds the conversion parameters.
type Config struct {
	PCAPFile   string
	OutputDir  string
	UDPPort    int
	MaxPackets int
	Format     string // "ply" or "pcd"
	Intensity  bool
}

// Result summarises a conversion.
type Result struct {
	Packets   int
	Payloads  int
	Rejected  int // payloads of the wrong size
	BadBlocks int
	Frames    int
	Duration  time.Duration
}

func convert(ctx context.Context, cfg Config, fsys fsutil.FileSystem) (Result, error) {
	var res Result
	if cfg.Format != "ply" && cfg.Format != "pcd" {
		return res, fmt.Errorf("unsupported output format %q", cfg.Format)
	}

	if err := security.ValidateRemovableDir(cfg.OutputDir); err != nil {
		return res, fmt.Errorf("refusing to recreate output dir: %w", err)
	}
	if err := fsys.RemoveAll(cfg.OutputDir); err != nil {
		return res, fmt.Errorf("clear output dir: %w", err)
	}
	if err := fsys.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return res, fmt.Errorf("create output dir: %w", err)
	}

	parser := vlp16.NewParser()
	builder := l2frames.NewRotationBuilder(func(f l2frames.Frame) error {
		path := filepath.Join(cfg.OutputDir, fmt.Sprintf("frame_%04d.%s", f.Index, cfg.Format))
		if err := frameio.Save(fsys, path, f.Cloud); err != nil {
			return err
		}
		monitoring.Tracef("[pcap] wrote %s (%d points)", path, f.Cloud.Len())
		return nil
	}, cfg.Intensity)

	start := time.Now()
	stats, err := network.ReadPCAPFile(ctx, cfg.PCAPFile, cfg.UDPPort, cfg.MaxPackets, func(payload []byte, _ time.Time) error {
		blocks, err := parser.ParsePacket(payload)
		if errors.Is(err, vlp16.ErrPacketSize) {
			res.Rejected++
			return nil
		}
		if err != nil {
			return err
		}
		return builder.AddBlocks(blocks)
	})
	res.Packets = stats.Packets
	res.Payloads = stats.Matched
	if err != nil {
		res.Frames = builder.Frames()
		return res, err
	}
	if err := builder.Flush(); err != nil {
		res.Frames = builder.Frames()
		return res, err
	}

	_, res.BadBlocks = parser.Stats()
	res.Frames = builder.Frames()
	res.Duration = time.Since(start)
	return res, nil
}

func main() {
	var cfg Config
	flag.StringVar(&cfg.PCAPFile, "pcap", "", "Path to a VLP-16 pcap or pcapng capture (required)")
	flag.StringVar(&cfg.OutputDir, "out", "frames", "Output directory; recreated on every run")
	flag.IntVar(&cfg.UDPPort, "port", vlp16.DefaultPort, "UDP destination port of the data packets")
	flag.IntVar(&cfg.MaxPackets, "max-packets", defaultMaxPackets, "Stop after this many packets (0 reads the whole file)")
	flag.StringVar(&cfg.Format, "format", "ply", "Output format: ply or pcd")
	flag.BoolVar(&cfg.Intensity, "intensity", false, "Keep per-point reflectivity as intensity")
	logLevel := flag.String("log-level", "diag", "Log level: ops, diag, trace or off")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("pcap-frames"))
		return
	}
	if cfg.PCAPFile == "" {
		log.Fatal("pcap-frames: -pcap is required")
	}
	monitoring.SetLogWriters(monitoring.WritersForLevel(*logLevel, os.Stderr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := convert(ctx, cfg, fsutil.OSFileSystem{})
	if err != nil {
		stop()
		log.Fatalf("pcap-frames: %v", err)
	}
	log.Printf("pcap-frames: wrote %d frames to %s (%d packets, %d payloads, %d rejected, %d bad blocks) in %s",
		res.Frames, cfg.OutputDir, res.Packets, res.Payloads, res.Rejected, res.BadBlocks, res.Duration.Round(time.Millisecond))
}
