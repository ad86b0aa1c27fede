// Command sepsis-predict classifies a single record offline with a model bundle.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sepsis-api/sepsis/internal/bundle"
	"github.com/sepsis-api/sepsis/internal/inference"
	"github.com/sepsis-api/sepsis/internal/pipeline"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitInvalid = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type output struct {
	Verdict inference.Verdict `json:"verdict"`
	Label   int64             `json:"label"`
	Message string            `json:"message"`
	Model   string            `json:"model"`
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sepsis-predict", flag.ContinueOnError)
	fs.SetOutput(stderr)
	bundleDir := fs.String("bundle", "models/sepsis", "model bundle directory")
	input := fs.String("input", "-", "JSON record file, or - for stdin")
	verify := fs.Bool("verify", true, "verify manifest.json when present")
	onnxLib := fs.String("onnx-lib", "", "onnxruntime shared library path")
	if err := fs.Parse(args); err != nil {
		return exitInvalid
	}

	var src io.Reader = stdin
	if *input != "-" {
		f, err := os.Open(*input)
		if err != nil {
			fmt.Fprintf(stderr, "open input: %v\n", err)
			return exitFailure
		}
		defer f.Close()
		src = f
	}
	body, err := io.ReadAll(src)
	if err != nil {
		fmt.Fprintf(stderr, "read input: %v\n", err)
		return exitFailure
	}

	rec, err := inference.DecodeRecord(body)
	if err != nil {
		var verr *inference.ValidationError
		if errors.As(err, &verr) {
			enc := json.NewEncoder(stderr)
			enc.SetIndent("", "  ")
			_ = enc.Encode(map[string]any{"detail": verr.Issues})
			return exitInvalid
		}
		fmt.Fprintf(stderr, "decode input: %v\n", err)
		return exitInvalid
	}

	b, err := bundle.Load(*bundleDir, bundle.LoadOptions{SharedLibraryPath: *onnxLib, VerifyManifest: *verify})
	if err != nil {
		fmt.Fprintf(stderr, "load model bundle: %v\n", err)
		return exitFailure
	}
	defer b.Close()

	p, err := pipeline.FromBundle(b)
	if err != nil {
		fmt.Fprintf(stderr, "build pipeline: %v\n", err)
		return exitFailure
	}
	pred, err := p.Predict(context.Background(), rec)
	if err != nil {
		fmt.Fprintf(stderr, "prediction failed: %v\n", err)
		return exitFailure
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(output{
		Verdict: pred.Verdict,
		Label:   pred.Label,
		Message: pred.Message,
		Model:   b.Descriptor.Name + "@" + b.Descriptor.Version,
	}); err != nil {
		fmt.Fprintf(stderr, "write output: %v\n", err)
		return exitFailure
	}
	return exitOK
}
