package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sepsis-api/sepsis/internal/bundle"
)

const shippedBundle = "../../models/sepsis"

func noEnv(string) string { return "" }

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sepsis.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunFailsBeforeListeningWhenBundleMissing(t *testing.T) {
	listened := false
	listen := func(addr string) (net.Listener, error) {
		listened = true
		return nil, errors.New("unexpected listen")
	}

	cfg := writeConfig(t, "logging:\n  level: error\n")
	err := run(context.Background(), []string{"-config", cfg, "-bundle", filepath.Join(t.TempDir(), "absent")}, noEnv, listen, nil)
	if !errors.Is(err, bundle.ErrBundleNotFound) {
		t.Fatalf("expected ErrBundleNotFound, got %v", err)
	}
	if listened {
		t.Fatalf("process must not listen without a model bundle")
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := writeConfig(t, "logging:\n  format: xml\n")
	err := run(context.Background(), []string{"-config", cfg}, noEnv, listenTCP, nil)
	if err == nil || !strings.Contains(err.Error(), "logging.format") {
		t.Fatalf("expected config validation error, got %v", err)
	}
}

func TestRunServesShippedBundle(t *testing.T) {
	cfg := writeConfig(t, "logging:\n  level: error\nserver:\n  shutdown_timeout: 1s\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, []string{"-config", cfg, "-addr", "127.0.0.1:0", "-bundle", shippedBundle}, noEnv, listenTCP, ready)
	}()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not start")
	}

	cases := []struct {
		body    string
		verdict string
	}{
		{`{"PRG":10,"PL":190,"BP":70,"SK":20,"TS":80,"BMI":45.0,"BD2":0.5,"Age":60}`, "sepsis_predicted"},
		{`{"PRG":0,"PL":80,"BP":70,"SK":20,"TS":80,"BMI":20.0,"BD2":0.2,"Age":21}`, "not_predicted"},
	}
	for _, tc := range cases {
		resp, err := http.Post("http://"+addr+"/predict", "application/json", strings.NewReader(tc.body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		var out struct {
			Verdict string `json:"verdict"`
			Model   struct {
				Name string `json:"name"`
			} `json:"model"`
		}
		err = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.StatusCode != http.StatusOK || out.Verdict != tc.verdict {
			t.Fatalf("status %d verdict %q, want %q", resp.StatusCode, out.Verdict, tc.verdict)
		}
		if out.Model.Name != "sepsis-logreg" {
			t.Fatalf("unexpected model %q", out.Model.Name)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v after shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "b", "c"); got != "b" {
		t.Fatalf("got %q", got)
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Fatalf("got %q", got)
	}
}
