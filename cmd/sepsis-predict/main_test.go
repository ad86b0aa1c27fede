package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const shippedBundle = "../../models/sepsis"

func TestRunPredictsFromStdin(t *testing.T) {
	var stdout, stderr bytes.Buffer
	in := strings.NewReader(`{"PRG":10,"PL":190,"BP":70,"SK":20,"TS":80,"BMI":45.0,"BD2":0.5,"Age":60}`)

	code := run([]string{"-bundle", shippedBundle}, in, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	var out output
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if out.Verdict != "sepsis_predicted" || out.Model != "sepsis-logreg@1" {
		t.Fatalf("unexpected output %+v", out)
	}
}

func TestRunPredictsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "record.json")
	if err := os.WriteFile(path, []byte(`{"PRG":"0","PL":"80","BP":"70","SK":"20","TS":"80","BMI":"20.0","BD2":"0.2","Age":"21"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var stdout, stderr bytes.Buffer
	code := run([]string{"-bundle", shippedBundle, "-input", path}, strings.NewReader(""), &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), `"not_predicted"`) {
		t.Fatalf("unexpected output %s", stdout.String())
	}
}

func TestRunInvalidRecord(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"-bundle", shippedBundle}, strings.NewReader(`{"PRG":1}`), &stdout, &stderr)
	if code != exitInvalid {
		t.Fatalf("expected exit %d, got %d", exitInvalid, code)
	}
	if !strings.Contains(stderr.String(), "value_error.missing") {
		t.Fatalf("expected validation detail, got %s", stderr.String())
	}
	if stdout.Len() != 0 {
		t.Fatalf("nothing should be written to stdout on invalid input")
	}
}

func TestRunMissingBundle(t *testing.T) {
	var stdout, stderr bytes.Buffer
	in := strings.NewReader(`{"PRG":1,"PL":1,"BP":1,"SK":1,"TS":1,"BMI":1,"BD2":1,"Age":1}`)
	code := run([]string{"-bundle", filepath.Join(t.TempDir(), "absent")}, in, &stdout, &stderr)
	if code != exitFailure {
		t.Fatalf("expected exit %d, got %d", exitFailure, code)
	}
	if !strings.Contains(stderr.String(), "load model bundle") {
		t.Fatalf("unexpected stderr %s", stderr.String())
	}
}
