package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/frameplay/internal/player"
)

// DefaultConfigPath is the path to the canonical playback defaults file.
const DefaultConfigPath = "config/playback.defaults.json"

// Surfaces lists the accepted values of the surface field.
var Surfaces = []string{"none", "terminal", "png", "grpc"}

// LogLevels lists the accepted values of the log_level field.
var LogLevels = []string{"ops", "diag", "trace", "off"}

// PlaybackConfig is the JSON configuration of a playback run. Fields left
// out of the file fall back to the Get* defaults, so partial configs are
// safe. Command-line flags override file values.
type PlaybackConfig struct {
	Source   *string `json:"source,omitempty"`
	Delay    *string `json:"delay,omitempty"` // duration string like "50ms"
	Surface  *string `json:"surface,omitempty"`
	OnError  *string `json:"on_error,omitempty"`
	Prefetch *int    `json:"prefetch,omitempty"`

	// Surface params
	GRPCAddr *string `json:"grpc_addr,omitempty"`
	PNGDir   *string `json:"png_dir,omitempty"`

	// Journal and debug server
	DBPath    *string `json:"db_path,omitempty"`
	DebugAddr *string `json:"debug_addr,omitempty"`
	LogLevel  *string `json:"log_level,omitempty"`
}

func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyPlaybackConfig returns a PlaybackConfig with all fields set to nil.
func EmptyPlaybackConfig() *PlaybackConfig {
	return &PlaybackConfig{}
}

// DefaultPlaybackConfig returns a config with every field set to its default.
func DefaultPlaybackConfig() *PlaybackConfig {
	c := EmptyPlaybackConfig()
	return &PlaybackConfig{
		Source:    ptrString(c.GetSource()),
		Delay:     ptrString(c.GetDelay().String()),
		Surface:   ptrString(c.GetSurface()),
		OnError:   ptrString(c.GetOnError()),
		Prefetch:  ptrInt(c.GetPrefetch()),
		GRPCAddr:  ptrString(c.GetGRPCAddr()),
		PNGDir:    ptrString(c.GetPNGDir()),
		DBPath:    ptrString(c.GetDBPath()),
		DebugAddr: ptrString(c.GetDebugAddr()),
		LogLevel:  ptrString(c.GetLogLevel()),
	}
}

// LoadPlaybackConfig loads a PlaybackConfig from a JSON file.
// The file must have a .json extension and be at most 1 MiB.
func LoadPlaybackConfig(path string) (*PlaybackConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPlaybackConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded, intended
// for test setup.
func MustLoadDefaultConfig() *PlaybackConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadPlaybackConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Validate checks that the configuration values are valid.
func (c *PlaybackConfig) Validate() error {
	if c.Delay != nil && *c.Delay != "" {
		d, err := time.ParseDuration(*c.Delay)
		if err != nil {
			return fmt.Errorf("invalid delay '%s': %w", *c.Delay, err)
		}
		if d < 0 {
			return fmt.Errorf("delay must be non-negative, got %s", d)
		}
	}
	if c.Surface != nil && !oneOf(*c.Surface, Surfaces) {
		return fmt.Errorf("surface must be one of %v, got %q", Surfaces, *c.Surface)
	}
	if c.OnError != nil {
		if _, err := player.ParseFailurePolicy(*c.OnError); err != nil {
			return err
		}
	}
	if c.Prefetch != nil && (*c.Prefetch < 0 || *c.Prefetch > player.MaxPrefetch) {
		return fmt.Errorf("prefetch must be between 0 and %d, got %d", player.MaxPrefetch, *c.Prefetch)
	}
	if c.LogLevel != nil && !oneOf(*c.LogLevel, LogLevels) {
		return fmt.Errorf("log_level must be one of %v, got %q", LogLevels, *c.LogLevel)
	}
	return nil
}

// Merge copies every non-nil field of o into c.
func (c *PlaybackConfig) Merge(o *PlaybackConfig) {
	if o == nil {
		return
	}
	if o.Source != nil {
		c.Source = o.Source
	}
	if o.Delay != nil {
		c.Delay = o.Delay
	}
	if o.Surface != nil {
		c.Surface = o.Surface
	}
	if o.OnError != nil {
		c.OnError = o.OnError
	}
	if o.Prefetch != nil {
		c.Prefetch = o.Prefetch
	}
	if o.GRPCAddr != nil {
		c.GRPCAddr = o.GRPCAddr
	}
	if o.PNGDir != nil {
		c.PNGDir = o.PNGDir
	}
	if o.DBPath != nil {
		c.DBPath = o.DBPath
	}
	if o.DebugAddr != nil {
		c.DebugAddr = o.DebugAddr
	}
	if o.LogLevel != nil {
		c.LogLevel = o.LogLevel
	}
}

// PlayerConfig converts the playback fields into a player.Config.
func (c *PlaybackConfig) PlayerConfig() (player.Config, error) {
	policy, err := player.ParseFailurePolicy(c.GetOnError())
	if err != nil {
		return player.Config{}, err
	}
	pc := player.Config{
		Source:   c.GetSource(),
		Delay:    c.GetDelay(),
		OnError:  policy,
		Prefetch: c.GetPrefetch(),
	}
	return pc, pc.Validate()
}

// GetSource returns the source value or the default.
func (c *PlaybackConfig) GetSource() string {
	if c.Source == nil {
		return "frames"
	}
	return *c.Source
}

// GetDelay parses and returns the Delay as a time.Duration.
func (c *PlaybackConfig) GetDelay() time.Duration {
	if c.Delay == nil || *c.Delay == "" {
		return player.DefaultDelay
	}
	d, err := time.ParseDuration(*c.Delay)
	if err != nil {
		return player.DefaultDelay // default on parse error
	}
	return d
}

// GetSurface returns the surface value or the default.
func (c *PlaybackConfig) GetSurface() string {
	if c.Surface == nil {
		return "terminal"
	}
	return *c.Surface
}

// GetOnError returns the on_error value or the default.
func (c *PlaybackConfig) GetOnError() string {
	if c.OnError == nil {
		return "abort"
	}
	return *c.OnError
}

// GetPrefetch returns the prefetch value or the default.
func (c *PlaybackConfig) GetPrefetch() int {
	if c.Prefetch == nil {
		return 0
	}
	return *c.Prefetch
}

// GetGRPCAddr returns the grpc_addr value or the default.
func (c *PlaybackConfig) GetGRPCAddr() string {
	if c.GRPCAddr == nil {
		return "localhost:50061"
	}
	return *c.GRPCAddr
}

// GetPNGDir returns the png_dir value or the default.
func (c *PlaybackConfig) GetPNGDir() string {
	if c.PNGDir == nil {
		return "frames-png"
	}
	return *c.PNGDir
}

// GetDBPath returns the db_path value. Empty disables the journal.
func (c *PlaybackConfig) GetDBPath() string {
	if c.DBPath == nil {
		return ""
	}
	return *c.DBPath
}

// GetDebugAddr returns the debug_addr value. Empty disables the debug server.
func (c *PlaybackConfig) GetDebugAddr() string {
	if c.DebugAddr == nil {
		return ""
	}
	return *c.DebugAddr
}

// GetLogLevel returns the log_level value or the default.
func (c *PlaybackConfig) GetLogLevel() string {
	if c.LogLevel == nil {
		return "ops"
	}
	return *c.LogLevel
}
