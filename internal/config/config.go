package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"strand/internal/observability"
)

// Duration wraps time.Duration so YAML values like "30s" parse directly.
type Duration time.Duration

// UnmarshalYAML parses either a Go duration string or an integer number of
// seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, perr := time.ParseDuration(raw)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs int64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// MarshalYAML renders the duration in Go syntax.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full server runtime configuration.
type Config struct {
	Server        ServerConfig         `yaml:"server"`
	Runs          RunsConfig           `yaml:"runs"`
	Postgres      PostgresConfig       `yaml:"postgres"`
	Observability observability.Config `yaml:"observability"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	Environment    string   `yaml:"environment"` // development, production
	AllowedOrigins []string `yaml:"allowed_origins"`
	ReadTimeout    Duration `yaml:"read_timeout"`
	// WriteTimeout stays zero so long-lived SSE streams are not cut off.
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	SSEPingInterval Duration `yaml:"sse_ping_interval"`
}

// RunsConfig tunes run execution and event buffering.
type RunsConfig struct {
	EventBufferTTL  Duration `yaml:"event_buffer_ttl"`
	ReaperInterval  Duration `yaml:"reaper_interval"`
	WebhookTimeout  Duration `yaml:"webhook_timeout"`
	ThreadCacheSize int      `yaml:"thread_cache_size"`
	ThreadCacheTTL  Duration `yaml:"thread_cache_ttl"`
}

// PostgresConfig points the thread search fast path at the checkpoint
// database. Optional; the checkpointer scan fallback covers deployments
// without it.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// Default returns the configuration used when no file overrides exist.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8123,
			Environment:     "development",
			AllowedOrigins:  []string{"*"},
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    0,
			ShutdownTimeout: Duration(10 * time.Second),
			SSEPingInterval: Duration(30 * time.Second),
		},
		Runs: RunsConfig{
			EventBufferTTL:  Duration(time.Hour),
			ReaperInterval:  Duration(5 * time.Minute),
			WebhookTimeout:  Duration(10 * time.Second),
			ThreadCacheSize: 1024,
			ThreadCacheTTL:  Duration(2 * time.Second),
		},
		Observability: observability.DefaultConfig(),
	}
}

// Load reads a YAML config file and merges it over the defaults. A missing
// file is not an error; defaults are returned as-is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, ".strand", "config.yaml")
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	mergeServer(&cfg.Server, fileCfg.Server)
	mergeRuns(&cfg.Runs, fileCfg.Runs)
	if fileCfg.Postgres.DSN != "" {
		cfg.Postgres.DSN = fileCfg.Postgres.DSN
	}
	mergeObservability(&cfg.Observability, fileCfg.Observability)

	return cfg, nil
}

func mergeServer(dst *ServerConfig, src ServerConfig) {
	if src.Host != "" {
		dst.Host = src.Host
	}
	if src.Port > 0 {
		dst.Port = src.Port
	}
	if src.Environment != "" {
		dst.Environment = src.Environment
	}
	if len(src.AllowedOrigins) > 0 {
		dst.AllowedOrigins = src.AllowedOrigins
	}
	if src.ReadTimeout > 0 {
		dst.ReadTimeout = src.ReadTimeout
	}
	if src.WriteTimeout > 0 {
		dst.WriteTimeout = src.WriteTimeout
	}
	if src.ShutdownTimeout > 0 {
		dst.ShutdownTimeout = src.ShutdownTimeout
	}
	if src.SSEPingInterval > 0 {
		dst.SSEPingInterval = src.SSEPingInterval
	}
}

func mergeRuns(dst *RunsConfig, src RunsConfig) {
	if src.EventBufferTTL > 0 {
		dst.EventBufferTTL = src.EventBufferTTL
	}
	if src.ReaperInterval > 0 {
		dst.ReaperInterval = src.ReaperInterval
	}
	if src.WebhookTimeout > 0 {
		dst.WebhookTimeout = src.WebhookTimeout
	}
	if src.ThreadCacheSize > 0 {
		dst.ThreadCacheSize = src.ThreadCacheSize
	}
	if src.ThreadCacheTTL > 0 {
		dst.ThreadCacheTTL = src.ThreadCacheTTL
	}
}

func mergeObservability(dst *observability.Config, src observability.Config) {
	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		dst.Logging.Format = src.Logging.Format
	}
	dst.Metrics.Enabled = src.Metrics.Enabled
	dst.Tracing.Enabled = src.Tracing.Enabled
	if src.Tracing.Exporter != "" {
		dst.Tracing.Exporter = src.Tracing.Exporter
	}
	if src.Tracing.OTLPEndpoint != "" {
		dst.Tracing.OTLPEndpoint = src.Tracing.OTLPEndpoint
	}
	if src.Tracing.ZipkinEndpoint != "" {
		dst.Tracing.ZipkinEndpoint = src.Tracing.ZipkinEndpoint
	}
	if src.Tracing.SampleRate > 0 && src.Tracing.SampleRate <= 1.0 {
		dst.Tracing.SampleRate = src.Tracing.SampleRate
	}
	if src.Tracing.ServiceName != "" {
		dst.Tracing.ServiceName = src.Tracing.ServiceName
	}
	if src.Tracing.ServiceVersion != "" {
		dst.Tracing.ServiceVersion = src.Tracing.ServiceVersion
	}
}
