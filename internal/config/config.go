package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Capture   CaptureConfig   `yaml:"capture"`
	Storage   StorageConfig   `yaml:"storage"`
	Browser   BrowserConfig   `yaml:"browser"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Privacy   PrivacyConfig   `yaml:"privacy"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxConnections int      `yaml:"max_connections"`
}

type CaptureConfig struct {
	MaxSteps           int           `yaml:"max_steps"`
	MaxWorkingWidth    int           `yaml:"max_working_width"`
	ThumbnailWidth     int           `yaml:"thumbnail_width"`
	ThumbnailQuality   int           `yaml:"thumbnail_quality"`
	GeneralDebounce    time.Duration `yaml:"general_debounce"`
	NavigationDebounce time.Duration `yaml:"navigation_debounce"`
	PrecaptureMaxAge   time.Duration `yaml:"precapture_max_age"`
	SettleMaxWait      time.Duration `yaml:"settle_max_wait"`
	SettleQuiet        time.Duration `yaml:"settle_quiet"`
	RedactSensitive    bool          `yaml:"redact_sensitive"`
}

type StorageConfig struct {
	// Driver is one of file, sqlite or memory.
	Driver             string        `yaml:"driver"`
	Dir                string        `yaml:"dir"`
	FullImageRetention int           `yaml:"full_image_retention"`
	MaxAge             time.Duration `yaml:"max_age"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
}

type BrowserConfig struct {
	Enabled   bool   `yaml:"enabled"`
	RemoteURL string `yaml:"remote_url"`
	Headless  bool   `yaml:"headless"`
	Stealth   bool   `yaml:"stealth"`
	StartURL  string `yaml:"start_url"`
}

type BroadcastConfig struct {
	Throttle         time.Duration `yaml:"throttle"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// PrivacyConfig controls what leaves the process over the WebSocket feed.
type PrivacyConfig struct {
	MaskValues  bool `yaml:"mask_values"`
	StripImages bool `yaml:"strip_images"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8765,
			Host:           "127.0.0.1",
			MaxConnections: 16,
		},
		Capture: CaptureConfig{
			MaxSteps:           100,
			MaxWorkingWidth:    1920,
			ThumbnailWidth:     320,
			ThumbnailQuality:   70,
			GeneralDebounce:    300 * time.Millisecond,
			NavigationDebounce: 2 * time.Second,
			PrecaptureMaxAge:   2 * time.Second,
			SettleMaxWait:      time.Second,
			SettleQuiet:        150 * time.Millisecond,
			RedactSensitive:    true,
		},
		Storage: StorageConfig{
			Driver:             "file",
			FullImageRetention: 20,
			MaxAge:             24 * time.Hour,
			SweepInterval:      time.Hour,
		},
		Browser: BrowserConfig{
			Enabled:  true,
			Headless: true,
			Stealth:  true,
		},
		Broadcast: BroadcastConfig{
			Throttle:         100 * time.Millisecond,
			SnapshotInterval: 5 * time.Second,
		},
		Privacy: PrivacyConfig{
			MaskValues:  true,
			StripImages: true,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
// An empty path also yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

func (c *Config) Validate() error {
	switch {
	case c.Server.Port < 0 || c.Server.Port > 65535:
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	case c.Capture.MaxSteps <= 0:
		return errors.New("config: capture.max_steps must be positive")
	case c.Capture.MaxWorkingWidth <= 0:
		return errors.New("config: capture.max_working_width must be positive")
	case c.Capture.ThumbnailWidth <= 0:
		return errors.New("config: capture.thumbnail_width must be positive")
	case c.Capture.ThumbnailQuality < 1 || c.Capture.ThumbnailQuality > 100:
		return fmt.Errorf("config: capture.thumbnail_quality %d not in 1..100", c.Capture.ThumbnailQuality)
	case c.Capture.GeneralDebounce <= 0 || c.Capture.NavigationDebounce <= 0:
		return errors.New("config: capture debounce windows must be positive")
	case c.Capture.PrecaptureMaxAge <= 0:
		return errors.New("config: capture.precapture_max_age must be positive")
	case c.Storage.FullImageRetention <= 0:
		return errors.New("config: storage.full_image_retention must be positive")
	case c.Storage.MaxAge <= 0:
		return errors.New("config: storage.max_age must be positive")
	}
	switch c.Storage.Driver {
	case "file", "sqlite", "memory":
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
