package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sepsis-api/sepsis/internal/audit"
	"github.com/sepsis-api/sepsis/internal/inference"
)

func TestReceiverPersistsWebhookDeliveries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "received.jsonl")
	fileSink, err := audit.NewFileSink(path)
	if err != nil {
		t.Fatalf("file sink: %v", err)
	}

	srv := httptest.NewServer(newHandler(zap.NewNop(), []audit.Sink{fileSink}))
	defer srv.Close()

	webhook, err := audit.NewWebhookSink(srv.URL+"/audit", nil, time.Second)
	if err != nil {
		t.Fatalf("webhook sink: %v", err)
	}
	ev := audit.NewEvent("req-42", audit.ModelRef{Name: "sepsis-logreg", Version: "1"}).WithPrediction(inference.Prediction{
		Verdict: inference.VerdictNotPredicted,
		Label:   0,
		Message: inference.MessageNotPredicted,
	})
	if err := webhook.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := fileSink.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"request_id":"req-42"`) || !strings.Contains(string(data), `"not_predicted"`) {
		t.Fatalf("event not persisted: %s", data)
	}
}

func TestReceiverRejectsBadInput(t *testing.T) {
	h := newHandler(zap.NewNop(), nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/audit", strings.NewReader(`{"outcome":"predicted"}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for event without request id, got %d", rr.Code)
	}
}

func TestReceiverSuppressesDuplicateDeliveries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dedupe.jsonl")
	fileSink, err := audit.NewFileSink(path)
	if err != nil {
		t.Fatalf("file sink: %v", err)
	}
	h := newHandler(zap.NewNop(), []audit.Sink{fileSink})

	body := `{"version":"1","request_id":"req-dup","outcome":"invalid","model":{"name":"m","version":"1"}}`
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/audit", strings.NewReader(body))
		req.Header.Set(audit.HeaderIdempotencyKey, "req-dup")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i, rr.Code)
		}
	}
	if err := fileSink.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n := strings.Count(strings.TrimSpace(string(data)), "\n") + 1; n != 1 {
		t.Fatalf("expected one stored event, got %d: %s", n, data)
	}
}
