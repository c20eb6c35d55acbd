package config

import (
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	BLE             BLEConfig       `yaml:"ble"`
	Scheduler       SchedulerConfig `yaml:"scheduler"`
	Geo             GeoConfig       `yaml:"geo"`
	Paths           PathsConfig     `yaml:"paths"`
	Log             LogConfig       `yaml:"log"`
	Instance        InstanceConfig  `yaml:"instance"`
	EventBus        EventBusConfig  `yaml:"eventbus"`
	ShutdownTimeout Duration        `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// BLEConfig contains connection supervisor settings
type BLEConfig struct {
	DeviceName string `yaml:"device_name"` // Display name to rescan by, overrides the remembered one

	ConnectTimeout     Duration `yaml:"connect_timeout"`      // Per-attempt connect timeout (default: 15s)
	RetryDelay         Duration `yaml:"retry_delay"`          // Delay between connect attempts (default: 1s)
	MaxConnectAttempts int      `yaml:"max_connect_attempts"` // Attempts before rescanning by name (default: 3)
	ScanTimeout        Duration `yaml:"scan_timeout"`         // One-shot discovery scan window (default: 12s)
	RescanTimeout      Duration `yaml:"rescan_timeout"`       // Scan window during address recovery (default: 15s)
	RescanDelay        Duration `yaml:"rescan_delay"`         // Delay before retrying a failed rescan (default: 5s)
	LoopTick           Duration `yaml:"loop_tick"`            // Supervisor loop granularity (default: 500ms)
	PingInterval       Duration `yaml:"ping_interval"`        // Keep-alive interval (default: 20s)
	InactivityWindow   Duration `yaml:"inactivity_window"`    // Quick-detect window after user activity (default: 5s)
	MinSendInterval    Duration `yaml:"min_send_interval"`    // Command channel rate limit (default: 50ms)
}

// SchedulerConfig contains schedule evaluation settings
type SchedulerConfig struct {
	Interval     Duration `yaml:"interval"`      // Evaluation cadence (default: 30s)
	StartupDelay Duration `yaml:"startup_delay"` // Delay before the first evaluation (default: 2s)
}

// GeoConfig contains location settings for sunrise/sunset triggers
type GeoConfig struct {
	// Lat/Lon pin the position and skip IP geolocation entirely.
	Lat         float64  `yaml:"lat,omitempty"`
	Lon         float64  `yaml:"lon,omitempty"`
	Timezone    string   `yaml:"timezone"`     // Override for local-time conversion (default: system zone)
	HTTPTimeout Duration `yaml:"http_timeout"` // Per-provider timeout for IP geolocation (default: 10s)
}

// Pinned reports whether an explicit position was configured.
func (g *GeoConfig) Pinned() bool {
	return g.Lat != 0 || g.Lon != 0
}

// PathsConfig contains state file locations
type PathsConfig struct {
	StateDir string `yaml:"state_dir"` // Directory holding profiles, settings and custom colors
}

// Profiles returns the schedule profiles file path.
func (p *PathsConfig) Profiles() string { return filepath.Join(p.StateDir, "profiles.json") }

// LegacySchedule returns the pre-profile flat schedule file path.
func (p *PathsConfig) LegacySchedule() string { return filepath.Join(p.StateDir, "schedule.json") }

// Settings returns the application settings file path.
func (p *PathsConfig) Settings() string { return filepath.Join(p.StateDir, "settings.json") }

// Colors returns the custom colors file path.
func (p *PathsConfig) Colors() string { return filepath.Join(p.StateDir, "colors.json") }

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
}

// InstanceConfig contains single-instance guard settings
type InstanceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Socket  string `yaml:"socket"` // Override for the per-user socket path
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{Instance: InstanceConfig{Enabled: true}}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields with production defaults.
func (cfg *Config) ApplyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Paths.StateDir == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			cfg.Paths.StateDir = filepath.Join(dir, "lampd")
		} else {
			cfg.Paths.StateDir = "."
		}
	}

	// Supervisor defaults
	if cfg.BLE.ConnectTimeout == 0 {
		cfg.BLE.ConnectTimeout = Duration(15 * time.Second)
	}
	if cfg.BLE.RetryDelay == 0 {
		cfg.BLE.RetryDelay = Duration(1 * time.Second)
	}
	if cfg.BLE.MaxConnectAttempts == 0 {
		cfg.BLE.MaxConnectAttempts = 3
	}
	if cfg.BLE.ScanTimeout == 0 {
		cfg.BLE.ScanTimeout = Duration(12 * time.Second)
	}
	if cfg.BLE.RescanTimeout == 0 {
		cfg.BLE.RescanTimeout = Duration(15 * time.Second)
	}
	if cfg.BLE.RescanDelay == 0 {
		cfg.BLE.RescanDelay = Duration(5 * time.Second)
	}
	if cfg.BLE.LoopTick == 0 {
		cfg.BLE.LoopTick = Duration(500 * time.Millisecond)
	}
	if cfg.BLE.PingInterval == 0 {
		cfg.BLE.PingInterval = Duration(20 * time.Second)
	}
	if cfg.BLE.InactivityWindow == 0 {
		cfg.BLE.InactivityWindow = Duration(5 * time.Second)
	}
	if cfg.BLE.MinSendInterval == 0 {
		cfg.BLE.MinSendInterval = Duration(50 * time.Millisecond)
	}

	// Scheduler defaults
	if cfg.Scheduler.Interval == 0 {
		cfg.Scheduler.Interval = Duration(30 * time.Second)
	}
	if cfg.Scheduler.StartupDelay == 0 {
		cfg.Scheduler.StartupDelay = Duration(2 * time.Second)
	}

	// Geo defaults
	if cfg.Geo.HTTPTimeout == 0 {
		cfg.Geo.HTTPTimeout = Duration(10 * time.Second)
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
