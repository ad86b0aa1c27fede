package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/sepsis-api/sepsis/internal/config"
)

// NewSinks builds sinks from config. On error every sink opened so far is closed.
func NewSinks(cfgs []config.AuditSinkConfig) ([]Sink, error) {
	sinks := make([]Sink, 0, len(cfgs))
	for i, c := range cfgs {
		s, err := newSink(c)
		if err != nil {
			for _, opened := range sinks {
				_ = opened.Close(context.Background())
			}
			return nil, fmt.Errorf("audit sink %d: %w", i, err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func newSink(c config.AuditSinkConfig) (Sink, error) {
	switch strings.ToLower(strings.TrimSpace(c.Type)) {
	case "file_jsonl":
		return NewFileSink(c.Path)
	case "webhook":
		return NewWebhookSink(c.URL, c.Headers, c.Timeout)
	case "sqlite":
		dsn := c.DSN
		if strings.TrimSpace(dsn) == "" {
			dsn = c.Path
		}
		return NewSQLiteSink(dsn)
	default:
		return nil, fmt.Errorf("unknown sink type %q", c.Type)
	}
}
