package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the arc-cli tool
type Config struct {
	Client  ClientConfig
	Spool   SpoolConfig
	Breaker BreakerConfig
	MQTT    MQTTConfig
	Watch   WatchConfig
	Log     LogConfig
}

type ClientConfig struct {
	URL            string
	Token          string
	Database       string
	TimeoutMS      int    // Request timeout in milliseconds
	BatchSize      int    // Rows per write request
	MaxConcurrency int    // Concurrent write requests per batch (default: CPU-scaled)
	Compression    string // Payload compression: gzip or none
	Precision      string // Line protocol timestamp precision: ns, us, ms, s
	ValidateLines  bool   // Parse lines locally before sending
}

type SpoolConfig struct {
	Enabled               bool   // Spool failed writes to disk for replay (default: false)
	Directory             string // Spool directory (default: ./data/spool)
	SyncMode              string // Sync mode: fsync, fdatasync, async (default: fdatasync)
	MaxSizeBytes          int64  // Stop spooling when the directory reaches this size
	ReplayIntervalSeconds int    // How often to retry spooled payloads (default: 30)
}

type BreakerConfig struct {
	Enabled         bool // Trip writes after repeated failures (default: false)
	Threshold       int  // Consecutive failures before opening (default: 5)
	CooldownSeconds int  // Seconds before a half-open probe (default: 30)
}

type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      int
	Username string
	Password string
}

// WatchConfig drives the watch subcommand, which re-runs a query, gap-fills
// the result and writes it back on a cron schedule.
type WatchConfig struct {
	Measurement string // Source measurement the generated query reads
	Schedule    string // Cron spec, @every syntax supported
}

type LogConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment and config file
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Environment variables
	v.SetEnvPrefix("ARC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file (optional)
	v.SetConfigName("arc-cli")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/arc/")
	v.AddConfigPath("$HOME/.arc/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	spoolMaxSize, err := ParseSize(v.GetString("spool.max_size"))
	if err != nil {
		return nil, fmt.Errorf("invalid spool.max_size: %w", err)
	}

	cfg := &Config{
		Client: ClientConfig{
			URL:            v.GetString("client.url"),
			Token:          v.GetString("client.token"),
			Database:       v.GetString("client.database"),
			TimeoutMS:      v.GetInt("client.timeout_ms"),
			BatchSize:      v.GetInt("client.batch_size"),
			MaxConcurrency: v.GetInt("client.max_concurrency"),
			Compression:    v.GetString("client.compression"),
			Precision:      v.GetString("client.precision"),
			ValidateLines:  v.GetBool("client.validate_lines"),
		},
		Spool: SpoolConfig{
			Enabled:               v.GetBool("spool.enabled"),
			Directory:             v.GetString("spool.directory"),
			SyncMode:              v.GetString("spool.sync_mode"),
			MaxSizeBytes:          spoolMaxSize,
			ReplayIntervalSeconds: v.GetInt("spool.replay_interval_seconds"),
		},
		Breaker: BreakerConfig{
			Enabled:         v.GetBool("breaker.enabled"),
			Threshold:       v.GetInt("breaker.threshold"),
			CooldownSeconds: v.GetInt("breaker.cooldown_seconds"),
		},
		MQTT: MQTTConfig{
			Broker:   v.GetString("mqtt.broker"),
			ClientID: v.GetString("mqtt.client_id"),
			Topic:    v.GetString("mqtt.topic"),
			QoS:      v.GetInt("mqtt.qos"),
			Username: v.GetString("mqtt.username"),
			Password: v.GetString("mqtt.password"),
		},
		Watch: WatchConfig{
			Measurement: v.GetString("watch.measurement"),
			Schedule:    v.GetString("watch.schedule"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Client defaults
	v.SetDefault("client.url", "http://localhost:8000")
	v.SetDefault("client.token", "")
	v.SetDefault("client.database", "default")
	v.SetDefault("client.timeout_ms", 30000)
	v.SetDefault("client.batch_size", 1000)
	v.SetDefault("client.max_concurrency", getDefaultMaxConcurrency())
	v.SetDefault("client.compression", "gzip")
	v.SetDefault("client.precision", "ns")
	v.SetDefault("client.validate_lines", false)

	// Spool defaults
	v.SetDefault("spool.enabled", false)
	v.SetDefault("spool.directory", "./data/spool")
	v.SetDefault("spool.sync_mode", "fdatasync")
	v.SetDefault("spool.max_size", "100MB")
	v.SetDefault("spool.replay_interval_seconds", 30)

	// Breaker defaults
	v.SetDefault("breaker.enabled", false)
	v.SetDefault("breaker.threshold", 5)
	v.SetDefault("breaker.cooldown_seconds", 30)

	// MQTT defaults
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "arc-cli")
	v.SetDefault("mqtt.topic", "arc/metrics")
	v.SetDefault("mqtt.qos", 1)

	// Watch defaults
	v.SetDefault("watch.measurement", "system")
	v.SetDefault("watch.schedule", "@every 10s")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

func getDefaultMaxConcurrency() int {
	// Scale concurrent write requests with CPU cores. Writes are
	// independent POSTs, so parallelism is bounded only by the server.
	cores := runtime.NumCPU()
	conc := cores / 2
	if conc < 1 {
		return 1
	}
	if conc > 8 {
		return 8
	}
	return conc
}

// Validate checks client settings before a connection is attempted.
func (cfg *ClientConfig) Validate() error {
	if cfg.URL == "" {
		return fmt.Errorf("client.url is required")
	}
	if !strings.HasPrefix(cfg.URL, "http://") && !strings.HasPrefix(cfg.URL, "https://") {
		return fmt.Errorf("client.url must start with http:// or https://: %s", cfg.URL)
	}
	if cfg.TimeoutMS <= 0 {
		return fmt.Errorf("client.timeout_ms must be positive, got %d", cfg.TimeoutMS)
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("client.batch_size must be positive, got %d", cfg.BatchSize)
	}
	switch cfg.Compression {
	case "gzip", "none":
	default:
		return fmt.Errorf("client.compression must be gzip or none, got %s", cfg.Compression)
	}
	switch cfg.Precision {
	case "ns", "us", "ms", "s":
	default:
		return fmt.Errorf("client.precision must be one of ns, us, ms, s, got %s", cfg.Precision)
	}
	return nil
}

// ParseSize parses a human-readable size string (e.g., "1GB", "500MB", "100KB") to bytes.
// Supports: B, KB, MB, GB (case-insensitive).
// Returns the size in bytes or an error if the format is invalid.
func ParseSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(strings.ToUpper(sizeStr))
	if sizeStr == "" {
		return 0, fmt.Errorf("empty size string")
	}

	// Define multipliers (order matters: check longer suffixes first)
	type unitInfo struct {
		suffix     string
		multiplier int64
	}
	units := []unitInfo{
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	}

	// Try each suffix from longest to shortest
	for _, unit := range units {
		if strings.HasSuffix(sizeStr, unit.suffix) {
			numStr := strings.TrimSuffix(sizeStr, unit.suffix)
			numStr = strings.TrimSpace(numStr)

			// Ensure the remaining string is a valid number (no trailing non-numeric chars)
			var num float64
			var trailing string
			n, _ := fmt.Sscanf(numStr, "%f%s", &num, &trailing)
			if n == 0 {
				return 0, fmt.Errorf("invalid size number: %s", numStr)
			}
			if trailing != "" {
				// There's extra text after the number - likely an unrecognized unit like "T" in "1TB"
				return 0, fmt.Errorf("invalid size format: %s (use e.g., '1GB', '500MB', '100KB')", sizeStr)
			}
			if num < 0 {
				return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
			}
			return int64(num * float64(unit.multiplier)), nil
		}
	}

	// Try parsing as plain number (bytes)
	var num int64
	var trailing string
	n, _ := fmt.Sscanf(sizeStr, "%d%s", &num, &trailing)
	if n == 0 || trailing != "" {
		return 0, fmt.Errorf("invalid size format: %s (use e.g., '1GB', '500MB', '100KB')", sizeStr)
	}
	if num < 0 {
		return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
	}
	return num, nil
}
