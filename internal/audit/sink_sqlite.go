package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const createPredictionsTable = `
CREATE TABLE IF NOT EXISTS predictions (
	request_id     TEXT PRIMARY KEY,
	ts             TEXT NOT NULL,
	model_name     TEXT NOT NULL,
	model_version  TEXT NOT NULL,
	outcome        TEXT NOT NULL,
	verdict        TEXT,
	label          INTEGER,
	features       TEXT,
	invalid_fields TEXT,
	latency_ms     REAL NOT NULL
)`

const insertPrediction = `
INSERT OR REPLACE INTO predictions
	(request_id, ts, model_name, model_version, outcome, verdict, label, features, invalid_fields, latency_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SQLiteSink stores audit events in a local sqlite database.
type SQLiteSink struct {
	name string
	db   *sql.DB
}

// NewSQLiteSink opens dsn (or a plain file path) and creates the predictions table.
func NewSQLiteSink(dsn string) (*SQLiteSink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn is empty")
	}
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, createPredictionsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create predictions table: %w", err)
	}

	return &SQLiteSink{name: "sqlite:" + dsn, db: db}, nil
}

func (s *SQLiteSink) Name() string { return s.name }

func (s *SQLiteSink) Deliver(ctx context.Context, ev *Event) error {
	if ev == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var features, invalid sql.NullString
	if len(ev.Features) > 0 {
		b, err := json.Marshal(ev.Features)
		if err != nil {
			return fmt.Errorf("encode features: %w", err)
		}
		features = sql.NullString{String: string(b), Valid: true}
	}
	if len(ev.InvalidFields) > 0 {
		invalid = sql.NullString{String: strings.Join(ev.InvalidFields, ","), Valid: true}
	}
	var verdict sql.NullString
	if ev.Verdict != "" {
		verdict = sql.NullString{String: string(ev.Verdict), Valid: true}
	}
	var label sql.NullInt64
	if ev.Label != nil {
		label = sql.NullInt64{Int64: *ev.Label, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, insertPrediction,
		ev.RequestID,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		ev.Model.Name,
		ev.Model.Version,
		string(ev.Outcome),
		verdict,
		label,
		features,
		invalid,
		ev.LatencyMs,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *SQLiteSink) Close(context.Context) error {
	return s.db.Close()
}
