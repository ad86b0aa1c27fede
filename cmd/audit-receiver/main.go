// Command audit-receiver accepts audit webhook deliveries and persists them locally.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/sepsis-api/sepsis/internal/audit"
	"github.com/sepsis-api/sepsis/internal/config"
	"github.com/sepsis-api/sepsis/internal/logging"
)

const (
	maxEventBytes = 64 << 10
	// seenKeys bounds the idempotency keys remembered for duplicate suppression.
	seenKeys = 4096
)

func main() {
	addr := flag.String("addr", ":8099", "listen address for audit receiver")
	jsonl := flag.String("jsonl", "", "append received events to this JSONL file")
	sqlitePath := flag.String("sqlite", "", "store received events in this sqlite database")
	flag.Parse()

	logger, closeLogs, err := logging.New(config.LoggingConfig{Level: "info", Format: "console"})
	if err != nil {
		log.Fatalf("init logging: %v", err)
	}
	defer closeLogs()

	var sinkCfgs []config.AuditSinkConfig
	if *jsonl != "" {
		sinkCfgs = append(sinkCfgs, config.AuditSinkConfig{Type: "file_jsonl", Path: *jsonl})
	}
	if *sqlitePath != "" {
		sinkCfgs = append(sinkCfgs, config.AuditSinkConfig{Type: "sqlite", Path: *sqlitePath})
	}
	sinks, err := audit.NewSinks(sinkCfgs)
	if err != nil {
		logger.Fatal("open sinks", zap.Error(err))
	}
	defer func() {
		for _, s := range sinks {
			_ = s.Close(context.Background())
		}
	}()

	mux := http.NewServeMux()
	h := newHandler(logger, sinks)
	mux.Handle("/audit", h)
	mux.Handle("/", h)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("audit receiver listening (POST JSON to /audit)", zap.String("addr", *addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("receiver error", zap.Error(err))
	}
}

func newHandler(logger *zap.Logger, sinks []audit.Sink) http.Handler {
	seen, _ := lru.New[string, struct{}](seenKeys)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
		_ = r.Body.Close()
		if err != nil {
			http.Error(w, "could not read body", http.StatusRequestEntityTooLarge)
			return
		}

		var ev audit.Event
		if err := json.Unmarshal(body, &ev); err != nil || ev.RequestID == "" {
			http.Error(w, "invalid audit event", http.StatusBadRequest)
			return
		}

		key := r.Header.Get(audit.HeaderIdempotencyKey)
		if key != "" && seen.Contains(key) {
			logger.Debug("duplicate audit delivery", zap.String("idempotency_key", key))
			writeOK(w)
			return
		}

		logger.Info("received audit event",
			zap.String("request_id", ev.RequestID),
			zap.String("outcome", string(ev.Outcome)),
			zap.String("verdict", string(ev.Verdict)),
			zap.String("model", ev.Model.Name+"@"+ev.Model.Version),
		)
		for _, s := range sinks {
			if err := s.Deliver(r.Context(), &ev); err != nil {
				logger.Error("store audit event", zap.String("sink", s.Name()), zap.Error(err))
				http.Error(w, "store failed", http.StatusInternalServerError)
				return
			}
		}

		if key != "" {
			seen.Add(key, struct{}{})
		}
		writeOK(w)
	})
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, `{"status":"ok"}`+"\n")
}
