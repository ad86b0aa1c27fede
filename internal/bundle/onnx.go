package bundle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/sepsis-api/sepsis/internal/inference"
)

// ONNXClassifier runs an exported classifier (e.g. skl2onnx) through onnxruntime.
// The session owns pre-bound tensors, so runs are serialized.
type ONNXClassifier struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[int64]

	mu sync.Mutex
}

// NewONNXClassifier initializes onnxruntime and binds a [1, 8] float input and a
// [1] int64 label output.
func NewONNXClassifier(modelPath, inputName, outputName, libPath, bundleDir string) (*ONNXClassifier, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file missing at %s: %w", modelPath, err)
	}

	if libPath == "" {
		libPath = resolveSharedLibraryPath(bundleDir)
	}
	if libPath == "" {
		return nil, errors.New("onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH or install the runtime")
	}
	if !ort.IsInitialized() {
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(inference.FeatureCount)))
	if err != nil {
		return nil, fmt.Errorf("allocate input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[int64](ort.NewShape(1))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("allocate output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{inputName},
		[]string{outputName},
		[]ort.Value{input},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &ONNXClassifier{
		session: session,
		input:   input,
		output:  output,
	}, nil
}

func (c *ONNXClassifier) Predict(x []float64) (int64, error) {
	if c == nil || c.session == nil {
		return 0, errors.New("onnx classifier not initialized")
	}
	if len(x) != inference.FeatureCount {
		return 0, fmt.Errorf("%w: got %d columns, want %d", ErrShape, len(x), inference.FeatureCount)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	in := c.input.GetData()
	for i, v := range x {
		in[i] = float32(v)
	}
	if err := c.session.Run(); err != nil {
		return 0, fmt.Errorf("onnx run: %w", err)
	}
	out := c.output.GetData()
	if len(out) == 0 {
		return 0, errors.New("onnx run produced no label")
	}
	return out[0], nil
}

// Close destroys the session and its tensors.
func (c *ONNXClassifier) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.session != nil {
		errs = append(errs, c.session.Destroy())
		c.session = nil
	}
	if c.input != nil {
		errs = append(errs, c.input.Destroy())
		c.input = nil
	}
	if c.output != nil {
		errs = append(errs, c.output.Destroy())
		c.output = nil
	}
	return errors.Join(errs...)
}

// resolveSharedLibraryPath attempts to locate a platform-specific onnxruntime shared library.
// If ONNXRUNTIME_SHARED_LIBRARY_PATH is set, it wins; otherwise common names and locations are checked in order.
func resolveSharedLibraryPath(bundleDir string) string {
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}

	names := []string{
		"libonnxruntime.dylib",
		"onnxruntime.dylib",
		"libonnxruntime.so",
		"onnxruntime.so",
		"onnxruntime.dll",
	}
	dirs := []string{
		bundleDir,
		filepath.Join(bundleDir, "lib"),
		".",
		"/opt/homebrew/lib",
		"/usr/local/lib",
		"/usr/lib",
	}

	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}
