package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Validate checks the loaded config for required fields and safe values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return errors.New("server.addr must be set")
	}
	if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		return fmt.Errorf("server.addr %q must be host:port: %w", cfg.Server.Addr, err)
	}
	if cfg.Server.MaxRequestBodyBytes <= 0 {
		return errors.New("server.max_request_body_bytes must be positive")
	}
	if cfg.Server.MaxInFlightRequests <= 0 {
		return errors.New("server.max_in_flight_requests must be positive")
	}
	if cfg.Server.ResultHistorySize < 0 {
		return errors.New("server.result_history_size must not be negative")
	}

	if strings.TrimSpace(cfg.Model.BundleDir) == "" {
		return errors.New("model.bundle_dir must be set")
	}

	if cfg.Cache.Size < 0 {
		return errors.New("cache.size must not be negative")
	}

	if err := validateLoggingConfig(cfg.Logging); err != nil {
		return err
	}

	if err := validateAuditConfig(cfg.Audit); err != nil {
		return err
	}

	return nil
}

func validateLoggingConfig(l LoggingConfig) error {
	if _, err := zapcore.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("logging.level %q is invalid: %w", l.Level, err)
	}
	switch strings.ToLower(strings.TrimSpace(l.Format)) {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", l.Format)
	}
	return nil
}

func validateAuditConfig(a AuditConfig) error {
	if len(a.Sinks) == 0 {
		return nil
	}
	for i, s := range a.Sinks {
		switch strings.ToLower(strings.TrimSpace(s.Type)) {
		case "file_jsonl":
			if strings.TrimSpace(s.Path) == "" {
				return fmt.Errorf("audit sink %d (file_jsonl) missing path", i)
			}
		case "webhook":
			if strings.TrimSpace(s.URL) == "" {
				return fmt.Errorf("audit sink %d (webhook) missing url", i)
			}
			u, err := url.Parse(s.URL)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("audit sink %d (webhook) has invalid url", i)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return fmt.Errorf("audit sink %d (webhook) url must be http or https", i)
			}
		case "sqlite":
			if strings.TrimSpace(s.DSN) == "" && strings.TrimSpace(s.Path) == "" {
				return fmt.Errorf("audit sink %d (sqlite) missing dsn or path", i)
			}
		default:
			return fmt.Errorf("audit sink %d has unknown type %q", i, s.Type)
		}
	}
	return nil
}
