package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReportsChanges(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "scaler.json")
	if err := os.WriteFile(target, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	changes := make(chan Change, 8)
	w, err := New(dir, nil, func(c Change) {
		select {
		case changes <- c:
		default:
		}
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := os.WriteFile(target, []byte(`{"type":"standard"}`), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case c := <-changes:
		if filepath.Base(c.Path) != "scaler.json" {
			t.Fatalf("unexpected change path %q", c.Path)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for change notification")
	}
	if w.Changes() == 0 {
		t.Fatalf("expected change counter to increase")
	}
}

func TestWatcherStopsOnCancel(t *testing.T) {
	w, err := New(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	cancel()

	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestCloseWaitsForRun(t *testing.T) {
	dir := t.TempDir()
	seen := make(chan struct{}, 1)
	w, err := New(dir, nil, func(Change) {
		select {
		case seen <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	go w.Run(context.Background())
	if err := os.WriteFile(filepath.Join(dir, "bundle.yaml"), []byte("name: x\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-seen:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for change notification")
	}

	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-w.done:
	default:
		t.Fatalf("Close returned while Run was still running")
	}
}

func TestCloseWithoutRun(t *testing.T) {
	w, err := New(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	closed := make(chan error, 1)
	go func() { closed <- w.Close() }()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("Close blocked without a running loop")
	}
}

func TestNewRejectsMissingDir(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "absent"), nil, nil); err == nil {
		t.Fatalf("expected missing dir to fail")
	}
}
