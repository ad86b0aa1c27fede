// Package logging builds the process logger from config.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sepsis-api/sepsis/internal/config"
)

// New returns a zap logger writing to stderr, or to a rotating file when cfg.File is set.
// The returned func flushes and closes the underlying sink.
func New(cfg config.LoggingConfig) (*zap.Logger, func(), error) {
	var out zapcore.WriteSyncer
	var closer io.Closer
	if strings.TrimSpace(cfg.File) != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		out = zapcore.AddSync(lj)
		closer = lj
	} else {
		out = zapcore.Lock(os.Stderr)
	}
	return NewWithWriter(cfg, out, closer)
}

// NewWithWriter builds a logger over an explicit sink.
func NewWithWriter(cfg config.LoggingConfig, out zapcore.WriteSyncer, closer io.Closer) (*zap.Logger, func(), error) {
	level, err := zapcore.ParseLevel(orDefault(cfg.Level, "info"))
	if err != nil {
		return nil, nil, fmt.Errorf("parse log level: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch strings.ToLower(orDefault(cfg.Format, "json")) {
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	logger := zap.New(zapcore.NewCore(enc, out, level), zap.AddCaller())
	undo := zap.RedirectStdLog(logger)

	cleanup := func() {
		_ = logger.Sync()
		undo()
		if closer != nil {
			_ = closer.Close()
		}
	}
	return logger, cleanup, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}
