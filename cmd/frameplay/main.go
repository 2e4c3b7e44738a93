package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/frameplay/internal/catalog"
	"github.com/banshee-data/frameplay/internal/config"
	"github.com/banshee-data/frameplay/internal/fsutil"
	"github.com/banshee-data/frameplay/internal/monitoring"
	"github.com/banshee-data/frameplay/internal/player"
	"github.com/banshee-data/frameplay/internal/surface"
	"github.com/banshee-data/frameplay/internal/surface/grpcsurface"
	"github.com/banshee-data/frameplay/internal/surface/plotsurface"
	"github.com/banshee-data/frameplay/internal/surface/terminal"
	"github.com/banshee-data/frameplay/internal/timeutil"
	"github.com/banshee-data/frameplay/internal/version"
)

type options struct {
	configPath  string
	showVersion bool
	overrides   *config.PlaybackConfig
}

// parseFlags only records flags that were set on the command line, so
// unset flags never shadow config file values.
func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("frameplay", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configPath  = fs.String("config", "", "Path to a playback config JSON (defaults to "+config.DefaultConfigPath+" when present)")
		showVersion = fs.Bool("version", false, "Print version and exit")
		source      = fs.String("source", "", "Directory or glob of .ply/.pcd frames")
		delay       = fs.String("delay", "", "Pause between frames, e.g. 50ms")
		surf        = fs.String("surface", "", "Render surface: none, terminal, png or grpc")
		onError     = fs.String("on-error", "", "Frame load failure policy: abort or skip")
		prefetch    = fs.Int("prefetch", 0, "Frames to decode ahead of display (0-2)")
		grpcAddr    = fs.String("grpc-addr", "", "Listen address for the grpc surface")
		pngDir      = fs.String("png-dir", "", "Output directory for the png surface")
		dbPath      = fs.String("db", "", "SQLite playback journal path (empty disables)")
		debugAddr   = fs.String("debug-addr", "", "Listen address for the debug HTTP server (requires -db)")
		logLevel    = fs.String("log-level", "", "Log level: ops, diag, trace or off")
	)
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	o := config.EmptyPlaybackConfig()
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "source":
			o.Source = source
		case "delay":
			o.Delay = delay
		case "surface":
			o.Surface = surf
		case "on-error":
			o.OnError = onError
		case "prefetch":
			o.Prefetch = prefetch
		case "grpc-addr":
			o.GRPCAddr = grpcAddr
		case "png-dir":
			o.PNGDir = pngDir
		case "db":
			o.DBPath = dbPath
		case "debug-addr":
			o.DebugAddr = debugAddr
		case "log-level":
			o.LogLevel = logLevel
		}
	})
	return options{configPath: *configPath, showVersion: *showVersion, overrides: o}, nil
}

// loadConfig layers the config file (explicit or the canonical defaults
// file if present) under the command-line overrides.
func loadConfig(opts options) (*config.PlaybackConfig, error) {
	var osfs fsutil.OSFileSystem
	cfg := config.EmptyPlaybackConfig()
	path := opts.configPath
	if path == "" && osfs.Exists(config.DefaultConfigPath) {
		path = config.DefaultConfigPath
	}
	if path != "" {
		fileCfg, err := config.LoadPlaybackConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	cfg.Merge(opts.overrides)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newSurface builds the configured render surface.
func newSurface(cfg *config.PlaybackConfig, fsys fsutil.FileSystem) (surface.Surface, error) {
	switch cfg.GetSurface() {
	case "none":
		return &surface.Recorder{CountOnly: true}, nil
	case "terminal":
		return terminal.New(terminal.Config{Out: os.Stdout, In: os.Stdin}), nil
	case "png":
		return plotsurface.New(plotsurface.DefaultConfig(cfg.GetPNGDir()), fsys), nil
	case "grpc":
		gc := grpcsurface.DefaultConfig()
		gc.ListenAddr = cfg.GetGRPCAddr()
		return grpcsurface.New(gc), nil
	default:
		return nil, fmt.Errorf("unknown surface %q", cfg.GetSurface())
	}
}

// run plays the configured source to completion. A user closing the
// surface or cancelling ctx is not an error.
func run(ctx context.Context, cfg *config.PlaybackConfig, fsys fsutil.FileSystem) (player.Stats, error) {
	pcfg, err := cfg.PlayerConfig()
	if err != nil {
		return player.Stats{}, err
	}
	surf, err := newSurface(cfg, fsys)
	if err != nil {
		return player.Stats{}, err
	}

	var opts []player.Option
	if path := cfg.GetDBPath(); path != "" {
		db, err := catalog.Open(path)
		if err != nil {
			return player.Stats{}, fmt.Errorf("open playback journal: %w", err)
		}
		defer db.Close()

		journal := catalog.NewJournal(db, timeutil.RealClock{})
		opts = append(opts, player.WithObserver(journal))
		defer func() {
			if jerr := journal.Err(); jerr != nil {
				monitoring.Opsf("[catalog] journal incomplete for run %s: %v", journal.RunID(), jerr)
			}
		}()

		if addr := cfg.GetDebugAddr(); addr != "" {
			stop, err := serveDebug(addr, db)
			if err != nil {
				return player.Stats{}, err
			}
			defer stop()
		}
	} else if cfg.GetDebugAddr() != "" {
		monitoring.Opsf("[debug] server needs a playback journal, ignoring -debug-addr %s", cfg.GetDebugAddr())
	}

	p, err := player.New(pcfg, fsys, surf, opts...)
	if err != nil {
		return player.Stats{}, err
	}
	return p.Run(ctx)
}

// serveDebug exposes the journal admin routes until the returned stop
// function is called.
func serveDebug(addr string, db *catalog.DB) (func(), error) {
	mux := http.NewServeMux()
	if err := db.AttachAdminRoutes(mux); err != nil {
		return nil, fmt.Errorf("attach admin routes: %w", err)
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			monitoring.Opsf("[debug] server: %v", err)
		}
	}()
	monitoring.Opsf("[debug] server listening on %s", addr)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Opsf("[debug] server shutdown: %v", err)
		}
	}, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("frameplay: %v", err)
	}
	if opts.showVersion {
		fmt.Println(version.String("frameplay"))
		return
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		log.Fatalf("frameplay: %v", err)
	}
	monitoring.SetLogWriters(monitoring.WritersForLevel(cfg.GetLogLevel(), os.Stderr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, err := run(ctx, cfg, fsutil.OSFileSystem{})
	if err != nil {
		stop()
		log.Fatalf("frameplay: %v", err)
	}
	log.Printf("frameplay: %s after %d/%d frames (%d skipped) in %s",
		stats.Reason, stats.Shown, stats.Frames, stats.Skipped, stats.Elapsed.Round(time.Millisecond))
}
