package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.bug.st/serial"

	"github.com/vjranagit/benchdaq/internal/logging"
	"github.com/vjranagit/benchdaq/pkg/ingest"
	"github.com/vjranagit/benchdaq/pkg/render"
	"github.com/vjranagit/benchdaq/pkg/storage"
	"github.com/vjranagit/benchdaq/pkg/transport"
)

// Config holds the application configuration
type Config struct {
	Serial  SerialConfig  `toml:"serial" json:"serial"`
	Session SessionConfig `toml:"session" json:"session"`
	Storage StorageConfig `toml:"storage" json:"storage"`
	Render  RenderConfig  `toml:"render" json:"render"`
	Server  ServerConfig  `toml:"server" json:"server"`
	Log     LogConfig     `toml:"log" json:"log"`
}

// SerialConfig holds serial link configuration
type SerialConfig struct {
	// Port is the device to open. Empty means ask the user.
	Port          string   `toml:"port" json:"port"`
	BaudRate      int      `toml:"baud_rate" json:"baud_rate"`
	Framing       string   `toml:"framing" json:"framing"`
	ReadTimeout   Duration `toml:"read_timeout" json:"read_timeout"`
	MaxDrainBytes int      `toml:"max_drain_bytes" json:"max_drain_bytes"`
}

// SessionConfig holds acquisition loop configuration
type SessionConfig struct {
	Interval       Duration `toml:"interval" json:"interval"`
	SettleDelay    Duration `toml:"settle_delay" json:"settle_delay"`
	SelectAttempts int      `toml:"select_attempts" json:"select_attempts"`
	LineEnding     string   `toml:"line_ending" json:"line_ending"`
}

// StorageConfig holds series store and diagnostics configuration
type StorageConfig struct {
	MaxSamples       int      `toml:"max_samples" json:"max_samples"`
	JournalTTL       Duration `toml:"journal_ttl" json:"journal_ttl"`
	CompressionLevel int      `toml:"compression_level" json:"compression_level"`
}

// RenderConfig holds chart configuration
type RenderConfig struct {
	Title          string   `toml:"title" json:"title"`
	Width          int      `toml:"width" json:"width"`
	Height         int      `toml:"height" json:"height"`
	XAxis          string   `toml:"x_axis" json:"x_axis"`
	TerminalWidth  int      `toml:"terminal_width" json:"terminal_width"`
	TerminalHeight int      `toml:"terminal_height" json:"terminal_height"`
	TerminalTail   int      `toml:"terminal_tail" json:"terminal_tail"`
	CacheSize      int      `toml:"cache_size" json:"cache_size"`
	CacheTTL       Duration `toml:"cache_ttl" json:"cache_ttl"`
}

// ServerConfig holds HTTP API configuration
type ServerConfig struct {
	// ListenAddr enables the HTTP API when set
	ListenAddr string   `toml:"listen_addr" json:"listen_addr"`
	Timeout    Duration `toml:"timeout" json:"timeout"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `toml:"level" json:"level"`
}

// Duration is a time.Duration written as "500ms" or "1s" in config files
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:          getEnv("DAQ_PORT", ""),
			BaudRate:      getEnvInt("DAQ_BAUD", 9600),
			Framing:       getEnv("DAQ_FRAMING", "8N1"),
			ReadTimeout:   Duration{getEnvDuration("DAQ_READ_TIMEOUT", 50*time.Millisecond)},
			MaxDrainBytes: getEnvInt("DAQ_MAX_DRAIN_BYTES", 64<<10),
		},
		Session: SessionConfig{
			Interval:       Duration{getEnvDuration("DAQ_INTERVAL", time.Second)},
			SettleDelay:    Duration{getEnvDuration("DAQ_SETTLE_DELAY", 500*time.Millisecond)},
			SelectAttempts: getEnvInt("DAQ_SELECT_ATTEMPTS", 5),
			LineEnding:     "\n",
		},
		Storage: StorageConfig{
			MaxSamples:       getEnvInt("DAQ_MAX_SAMPLES", 0),
			JournalTTL:       Duration{getEnvDuration("DAQ_JOURNAL_TTL", 10*time.Minute)},
			CompressionLevel: getEnvInt("DAQ_COMPRESSION_LEVEL", 3),
		},
		Render: RenderConfig{
			Title:          getEnv("DAQ_CHART_TITLE", "Live Data"),
			Width:          1024,
			Height:         480,
			XAxis:          getEnv("DAQ_X_AXIS", string(render.XAxisIndex)),
			TerminalWidth:  100,
			TerminalHeight: 20,
			TerminalTail:   200,
			CacheSize:      16,
			CacheTTL:       Duration{time.Minute},
		},
		Server: ServerConfig{
			ListenAddr: getEnv("DAQ_LISTEN", ""),
			Timeout:    Duration{30 * time.Second},
		},
		Log: LogConfig{
			Level: getEnv("DAQ_LOG_LEVEL", "info"),
		},
	}
}

// Load returns the defaults overlaid with the TOML file at path. Unknown
// keys in the file are rejected. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// ToStoreConfig converts to storage.Config
func (c *Config) ToStoreConfig() *storage.Config {
	return &storage.Config{
		MaxSamples: c.Storage.MaxSamples,
	}
}

// ToSerialConfig converts to transport.Config
func (c *Config) ToSerialConfig() *transport.Config {
	return &transport.Config{
		Port:          c.Serial.Port,
		BaudRate:      c.Serial.BaudRate,
		Framing:       c.Serial.Framing,
		ReadTimeout:   c.Serial.ReadTimeout.Duration,
		MaxDrainBytes: c.Serial.MaxDrainBytes,
	}
}

// ToIngestConfig converts to ingest.Config
func (c *Config) ToIngestConfig() *ingest.Config {
	return &ingest.Config{
		SettleDelay: c.Session.SettleDelay.Duration,
		LineEnding:  c.Session.LineEnding,
	}
}

// ChartOptions returns the PNG chart options
func (c *Config) ChartOptions() render.ChartOptions {
	mode, _ := render.ParseXAxisMode(c.Render.XAxis)
	return render.ChartOptions{
		Title:  c.Render.Title,
		Width:  c.Render.Width,
		Height: c.Render.Height,
		XAxis:  mode,
	}
}

// TerminalOptions returns the console chart options
func (c *Config) TerminalOptions() render.TerminalOptions {
	return render.TerminalOptions{
		Width:  c.Render.TerminalWidth,
		Height: c.Render.TerminalHeight,
		Tail:   c.Render.TerminalTail,
	}
}

// LogLevel returns the configured log level
func (c *Config) LogLevel() logging.Level {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return logging.LevelInfo
	}
	return level
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Serial.BaudRate <= 0 {
		return fmt.Errorf("baud rate must be positive")
	}

	if err := transport.ParseFraming(c.Serial.Framing, &serial.Mode{}); err != nil {
		return err
	}

	if c.Serial.ReadTimeout.Duration <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}

	if c.Serial.MaxDrainBytes <= 0 {
		return fmt.Errorf("max drain bytes must be positive")
	}

	if c.Session.Interval.Duration <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}

	if c.Session.SettleDelay.Duration < 0 {
		return fmt.Errorf("settle delay cannot be negative")
	}

	if c.Session.SelectAttempts < 1 {
		return fmt.Errorf("select attempts must be at least 1")
	}

	if c.Session.LineEnding == "" {
		return fmt.Errorf("line ending is required")
	}

	if c.Storage.MaxSamples < 0 {
		return fmt.Errorf("max samples cannot be negative")
	}

	if c.Storage.CompressionLevel < 1 || c.Storage.CompressionLevel > 4 {
		return fmt.Errorf("compression level must be between 1 and 4")
	}

	if _, err := render.ParseXAxisMode(c.Render.XAxis); err != nil {
		return err
	}

	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		return fmt.Errorf("chart size must be positive")
	}

	if c.Render.CacheSize < 1 {
		return fmt.Errorf("chart cache size must be at least 1")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}

	return nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
