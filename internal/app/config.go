package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-yaml"

	"github.com/i-melnichenko/raftlog/internal/raftlog"
	"github.com/i-melnichenko/raftlog/internal/workload"
)

// Config contains runtime settings for the raftlogd process.
type Config struct {
	LogLevel string `yaml:"log_level" toml:"log_level"`

	// GRPCAddr serves the gRPC health service.
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
	// HTTPAddr serves /status and /metrics. Empty disables the HTTP server.
	HTTPAddr     string `yaml:"http_addr" toml:"http_addr"`
	PprofEnabled bool   `yaml:"pprof_enabled" toml:"pprof_enabled"`

	HealthInterval time.Duration `yaml:"health_interval" toml:"health_interval"`

	TracingEnabled     bool   `yaml:"tracing_enabled" toml:"tracing_enabled"`
	TracingEndpoint    string `yaml:"tracing_endpoint" toml:"tracing_endpoint"`
	TracingServiceName string `yaml:"tracing_service_name" toml:"tracing_service_name"`

	Log      LogConfig      `yaml:"log" toml:"log"`
	Workload WorkloadConfig `yaml:"workload" toml:"workload"`
}

// LogConfig configures the raft log opened by the process.
type LogConfig struct {
	Name            string `yaml:"name" toml:"name"`
	Directory       string `yaml:"directory" toml:"directory"`
	RotateAtSize    int64  `yaml:"rotate_at_size" toml:"rotate_at_size"`
	EntryCacheSize  int    `yaml:"entry_cache_size" toml:"entry_cache_size"`
	PruningStrategy string `yaml:"pruning_strategy" toml:"pruning_strategy"`
	// Compression stores entry payloads zstd-compressed.
	Compression bool `yaml:"compression" toml:"compression"`
}

// RaftLogConfig converts to the log package configuration.
func (c LogConfig) RaftLogConfig() raftlog.Config {
	return raftlog.Config{
		Name:            c.Name,
		Directory:       c.Directory,
		RotateAtSize:    c.RotateAtSize,
		EntryCacheSize:  c.EntryCacheSize,
		PruningStrategy: c.PruningStrategy,
	}
}

// WorkloadConfig configures the synthetic load generator.
type WorkloadConfig struct {
	Enabled       bool          `yaml:"enabled" toml:"enabled"`
	Interval      time.Duration `yaml:"interval" toml:"interval"`
	BatchSize     int           `yaml:"batch_size" toml:"batch_size"`
	PayloadBytes  int           `yaml:"payload_bytes" toml:"payload_bytes"`
	TermEvery     int           `yaml:"term_every" toml:"term_every"`
	TruncateEvery int           `yaml:"truncate_every" toml:"truncate_every"`
	TruncateDepth int           `yaml:"truncate_depth" toml:"truncate_depth"`
	SkipEvery     int           `yaml:"skip_every" toml:"skip_every"`
	SkipDistance  int64         `yaml:"skip_distance" toml:"skip_distance"`
	PruneEvery    int           `yaml:"prune_every" toml:"prune_every"`
	CommitLag     int64         `yaml:"commit_lag" toml:"commit_lag"`
	Seed          uint64        `yaml:"seed" toml:"seed"`
}

// DriverConfig converts to the workload package configuration.
func (c WorkloadConfig) DriverConfig() workload.Config {
	return workload.Config{
		Interval:      c.Interval,
		BatchSize:     c.BatchSize,
		PayloadBytes:  c.PayloadBytes,
		TermEvery:     c.TermEvery,
		TruncateEvery: c.TruncateEvery,
		TruncateDepth: c.TruncateDepth,
		SkipEvery:     c.SkipEvery,
		SkipDistance:  c.SkipDistance,
		PruneEvery:    c.PruneEvery,
		CommitLag:     c.CommitLag,
		Seed:          c.Seed,
	}
}

// DefaultConfig returns a local-development configuration.
func DefaultConfig() Config {
	lc := raftlog.DefaultConfig()
	wc := workload.DefaultConfig()
	return Config{
		LogLevel:           "info",
		GRPCAddr:           ":9090",
		HTTPAddr:           ":8080",
		HealthInterval:     time.Second,
		TracingEndpoint:    "localhost:4317",
		TracingServiceName: "raftlogd",
		Log: LogConfig{
			Name:            lc.Name,
			Directory:       lc.Directory,
			RotateAtSize:    lc.RotateAtSize,
			EntryCacheSize:  lc.EntryCacheSize,
			PruningStrategy: lc.PruningStrategy,
		},
		Workload: WorkloadConfig{
			Enabled:       true,
			Interval:      wc.Interval,
			BatchSize:     wc.BatchSize,
			PayloadBytes:  wc.PayloadBytes,
			TermEvery:     wc.TermEvery,
			TruncateEvery: wc.TruncateEvery,
			TruncateDepth: wc.TruncateDepth,
			SkipEvery:     wc.SkipEvery,
			SkipDistance:  wc.SkipDistance,
			PruneEvery:    wc.PruneEvery,
			CommitLag:     wc.CommitLag,
			Seed:          wc.Seed,
		},
	}
}

// LoadConfig loads config from an optional file and environment variables.
//
// APP_CONFIG_FILE names a .yaml/.yml or .toml file applied over the defaults.
// Environment variables are applied last:
// - APP_LOG_LEVEL (debug|info|warn|error)
// - APP_GRPC_ADDR
// - APP_HTTP_ADDR ("off" disables)
// - APP_PPROF_ENABLED
// - APP_HEALTH_INTERVAL (duration)
// - APP_TRACING_ENABLED, APP_TRACING_ENDPOINT, APP_TRACING_SERVICE_NAME
// - APP_LOG_NAME
// - APP_DATA_DIR
// - APP_ROTATE_AT_SIZE (bytes)
// - APP_ENTRY_CACHE_SIZE (entries, 0 = disabled)
// - APP_PRUNING_STRATEGY (e.g. "keep_none", "10 files", "512m size")
// - APP_COMPRESSION
// - APP_WORKLOAD_ENABLED, APP_WORKLOAD_INTERVAL, APP_WORKLOAD_BATCH_SIZE, APP_WORKLOAD_PAYLOAD_BYTES
func LoadConfig() (Config, error) {
	return loadConfig(os.Getenv)
}

func loadConfig(getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()

	if path := strings.TrimSpace(getenv("APP_CONFIG_FILE")); path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("app: read config file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("app: parse yaml config %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("app: parse toml config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("app: unsupported config file extension %q", filepath.Ext(path))
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	env := envReader{getenv: getenv}

	env.str("APP_LOG_LEVEL", &cfg.LogLevel)
	if v := strings.TrimSpace(cfg.LogLevel); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	env.str("APP_GRPC_ADDR", &cfg.GRPCAddr)
	env.str("APP_HTTP_ADDR", &cfg.HTTPAddr)
	if strings.EqualFold(cfg.HTTPAddr, "off") {
		cfg.HTTPAddr = ""
	}
	env.boolean("APP_PPROF_ENABLED", &cfg.PprofEnabled)
	env.duration("APP_HEALTH_INTERVAL", &cfg.HealthInterval)
	env.boolean("APP_TRACING_ENABLED", &cfg.TracingEnabled)
	env.str("APP_TRACING_ENDPOINT", &cfg.TracingEndpoint)
	env.str("APP_TRACING_SERVICE_NAME", &cfg.TracingServiceName)

	env.str("APP_LOG_NAME", &cfg.Log.Name)
	env.str("APP_DATA_DIR", &cfg.Log.Directory)
	env.int64("APP_ROTATE_AT_SIZE", &cfg.Log.RotateAtSize)
	env.integer("APP_ENTRY_CACHE_SIZE", &cfg.Log.EntryCacheSize)
	env.str("APP_PRUNING_STRATEGY", &cfg.Log.PruningStrategy)
	env.boolean("APP_COMPRESSION", &cfg.Log.Compression)

	env.boolean("APP_WORKLOAD_ENABLED", &cfg.Workload.Enabled)
	env.duration("APP_WORKLOAD_INTERVAL", &cfg.Workload.Interval)
	env.integer("APP_WORKLOAD_BATCH_SIZE", &cfg.Workload.BatchSize)
	env.integer("APP_WORKLOAD_PAYLOAD_BYTES", &cfg.Workload.PayloadBytes)

	return env.err
}

// envReader applies set variables and keeps the first parse error.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) lookup(key string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v := strings.TrimSpace(e.getenv(key))
	return v, v != ""
}

func (e *envReader) fail(key, v string, err error) {
	e.err = fmt.Errorf("app: invalid %s %q: %w", key, v, err)
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int64(key string, dst *int64) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}

// Validate checks that required settings are present and supported.
func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app: unsupported log level %q", c.LogLevel)
	}
	if strings.TrimSpace(c.GRPCAddr) == "" {
		return fmt.Errorf("app: grpc addr is required")
	}
	if c.HealthInterval <= 0 {
		return fmt.Errorf("app: health interval must be > 0")
	}
	if c.TracingEnabled {
		if strings.TrimSpace(c.TracingEndpoint) == "" {
			return fmt.Errorf("app: tracing endpoint is required when tracing is enabled")
		}
		if strings.TrimSpace(c.TracingServiceName) == "" {
			return fmt.Errorf("app: tracing service name is required when tracing is enabled")
		}
	}
	if err := c.Log.RaftLogConfig().Validate(); err != nil {
		return fmt.Errorf("app: log: %w", err)
	}
	if c.Workload.Enabled {
		if err := c.Workload.DriverConfig().Validate(); err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}
	return nil
}
