package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds sepsis service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Model   ModelConfig   `yaml:"model"`
	Cache   CacheConfig   `yaml:"cache"`
	Logging LoggingConfig `yaml:"logging"`
	Audit   AuditConfig   `yaml:"audit"`
}

type ServerConfig struct {
	Addr                string        `yaml:"addr"` // HTTP listen address, e.g. "0.0.0.0:7860"
	MaxRequestBodyBytes int64         `yaml:"max_request_body_bytes"`
	MaxInFlightRequests int           `yaml:"max_in_flight_requests"`
	ReadHeaderTimeout   time.Duration `yaml:"read_header_timeout"`
	ReadTimeout         time.Duration `yaml:"read_timeout"`
	WriteTimeout        time.Duration `yaml:"write_timeout"`
	IdleTimeout         time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
	ResultHistorySize   int           `yaml:"result_history_size"`
	ResultHistoryTTL    time.Duration `yaml:"result_history_ttl"`
}

type ModelConfig struct {
	BundleDir             string `yaml:"bundle_dir"`
	ONNXSharedLibraryPath string `yaml:"onnx_shared_library_path"`
	VerifyManifest        *bool  `yaml:"verify_manifest"`
	Watch                 bool   `yaml:"watch"` // log when bundle files change on disk
}

// ShouldVerifyManifest reports whether manifest.json is checked at load; defaults to true.
func (m ModelConfig) ShouldVerifyManifest() bool {
	return m.VerifyManifest == nil || *m.VerifyManifest
}

type CacheConfig struct {
	Size int `yaml:"size"` // 0 disables the prediction memo cache
}

type LoggingConfig struct {
	Level      string `yaml:"level"`  // debug | info | warn | error
	Format     string `yaml:"format"` // json | console
	File       string `yaml:"file"`   // empty logs to stderr
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	LogRecords bool   `yaml:"log_records"` // debug-log every assembled record
}

type AuditConfig struct {
	QueueSize       int               `yaml:"queue_size"`
	Workers         int               `yaml:"workers"`
	ShutdownTimeout time.Duration     `yaml:"shutdown_timeout"`
	IncludeFeatures bool              `yaml:"include_features"`
	Sinks           []AuditSinkConfig `yaml:"sinks"`
}

type AuditSinkConfig struct {
	Type    string            `yaml:"type"` // file_jsonl | webhook | sqlite
	Path    string            `yaml:"path"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
	DSN     string            `yaml:"dsn"`
}

// Load reads configuration from a YAML file.
// If the file doesn't exist, it returns a default config and no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "0.0.0.0:7860"
	}
	if cfg.Server.MaxRequestBodyBytes <= 0 {
		cfg.Server.MaxRequestBodyBytes = 64 << 10
	}
	if cfg.Server.MaxInFlightRequests <= 0 {
		cfg.Server.MaxInFlightRequests = 256
	}
	if cfg.Server.ReadHeaderTimeout <= 0 {
		cfg.Server.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.IdleTimeout <= 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 5 * time.Second
	}
	if cfg.Server.ResultHistorySize == 0 {
		cfg.Server.ResultHistorySize = 1024
	}
	if cfg.Server.ResultHistoryTTL <= 0 {
		cfg.Server.ResultHistoryTTL = 15 * time.Minute
	}

	if cfg.Model.BundleDir == "" {
		cfg.Model.BundleDir = "models/sepsis"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.MaxSizeMB <= 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups <= 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays <= 0 {
		cfg.Logging.MaxAgeDays = 28
	}

	if cfg.Audit.QueueSize <= 0 {
		cfg.Audit.QueueSize = 1000
	}
	if cfg.Audit.Workers <= 0 {
		cfg.Audit.Workers = 1
	}
	if cfg.Audit.ShutdownTimeout <= 0 {
		cfg.Audit.ShutdownTimeout = 2 * time.Second
	}
	for i := range cfg.Audit.Sinks {
		if cfg.Audit.Sinks[i].Timeout <= 0 {
			cfg.Audit.Sinks[i].Timeout = 2 * time.Second
		}
	}
}
