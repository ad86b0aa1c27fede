package logging

import (
	"bytes"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/sepsis-api/sepsis/internal/config"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Sync() error { return nil }

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestJSONLoggerRespectsLevel(t *testing.T) {
	buf := &syncBuffer{}
	logger, cleanup, err := NewWithWriter(config.LoggingConfig{Level: "warn", Format: "json"}, zapcore.AddSync(buf), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer cleanup()

	logger.Info("dropped")
	logger.Warn("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected exactly one line, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if entry["msg"] != "kept" || entry["level"] != "warn" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestStdLogRedirected(t *testing.T) {
	buf := &syncBuffer{}
	_, cleanup, err := NewWithWriter(config.LoggingConfig{Level: "info", Format: "console"}, zapcore.AddSync(buf), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Print("from std log")
	cleanup()

	if !strings.Contains(buf.String(), "from std log") {
		t.Fatalf("std log output not captured: %q", buf.String())
	}
}

func TestInvalidConfig(t *testing.T) {
	if _, _, err := NewWithWriter(config.LoggingConfig{Level: "loud"}, zapcore.AddSync(&syncBuffer{}), nil); err == nil {
		t.Fatalf("expected invalid level to fail")
	}
	if _, _, err := NewWithWriter(config.LoggingConfig{Format: "xml"}, zapcore.AddSync(&syncBuffer{}), nil); err == nil {
		t.Fatalf("expected invalid format to fail")
	}
}

func TestRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sepsis.log")
	logger, cleanup, err := New(config.LoggingConfig{Level: "info", Format: "json", File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Info("written to file")
	cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Fatalf("log file missing entry: %q", data)
	}
}
