// Command frameplay-viewer connects to a frameplay gRPC surface and prints
// a one-line summary of every frame it receives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/frameplay/internal/cloud"
	"github.com/banshee-data/frameplay/internal/monitoring"
	"github.com/banshee-data/frameplay/internal/surface/grpcsurface"
	"github.com/banshee-data/frameplay/internal/version"
)

var errLimitReached = errors.New("frame limit reached")

type frameStream interface {
	Stream(ctx context.Context, fn func(grpcsurface.Frame) error) error
}

func summarize(f grpcsurface.Frame) string {
	pc := &cloud.PointCloud{Points: f.Points}
	if pc.Len() == 0 {
		return fmt.Sprintf("frame %d gen %d: empty", f.ID, f.Generation)
	}
	b := pc.Bounds()
	c := pc.Centroid()
	return fmt.Sprintf("frame %d gen %d: %d points, centroid (%.2f, %.2f, %.2f), extent x[%.2f, %.2f] y[%.2f, %.2f] z[%.2f, %.2f]",
		f.ID, f.Generation, pc.Len(), c.X, c.Y, c.Z, b.Min.X, b.Max.X, b.Min.Y, b.Max.Y, b.Min.Z, b.Max.Z)
}

// view prints frames until the stream ends or limit frames were seen
// (limit <= 0 means no limit).
func view(ctx context.Context, s frameStream, out io.Writer, limit int) (int, error) {
	seen := 0
	err := s.Stream(ctx, func(f grpcsurface.Frame) error {
		seen++
		if _, err := fmt.Fprintln(out, summarize(f)); err != nil {
			return err
		}
		if limit > 0 && seen >= limit {
			return errLimitReached
		}
		return nil
	})
	if errors.Is(err, errLimitReached) {
		err = nil
	}
	return seen, err
}

func main() {
	addr := flag.String("addr", grpcsurface.DefaultConfig().ListenAddr, "Address of the frameplay gRPC surface")
	limit := flag.Int("count", 0, "Exit after this many frames (0 streams until the player stops)")
	logLevel := flag.String("log-level", "ops", "Log level: ops, diag, trace or off")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("frameplay-viewer"))
		return
	}
	monitoring.SetLogWriters(monitoring.WritersForLevel(*logLevel, os.Stderr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := grpcsurface.Dial(*addr)
	if err != nil {
		log.Fatalf("frameplay-viewer: %v", err)
	}
	defer client.Close()

	monitoring.Diagf("[grpc] streaming frames from %s", *addr)
	n, err := view(ctx, client, os.Stdout, *limit)
	if err != nil && ctx.Err() == nil {
		client.Close()
		log.Fatalf("frameplay-viewer: after %d frames: %v", n, err)
	}
	monitoring.Opsf("[grpc] received %d frames", n)
}
