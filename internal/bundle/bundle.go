package bundle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sepsis-api/sepsis/internal/inference"
)

// DescriptorFile is the bundle descriptor expected at the root of a bundle dir.
const DescriptorFile = "bundle.yaml"

// ErrBundleNotFound is returned when the bundle directory or descriptor is missing.
var ErrBundleNotFound = errors.New("model bundle not found")

// ErrFeatureOrder is returned when the descriptor's feature list differs from the
// order records are assembled in.
var ErrFeatureOrder = errors.New("bundle feature order mismatch")

// Scaler applies a pre-fitted transform to one feature row.
type Scaler interface {
	Transform(x []float64) ([]float64, error)
}

// Classifier maps one scaled feature row to a raw label.
type Classifier interface {
	Predict(x []float64) (int64, error)
}

// ClassifierConfig selects and locates the classifier implementation.
type ClassifierConfig struct {
	Type       string `yaml:"type"` // logistic_regression | decision_tree | onnx
	Path       string `yaml:"path"`
	InputName  string `yaml:"input_name"`
	OutputName string `yaml:"output_name"`
}

// Descriptor mirrors bundle.yaml.
type Descriptor struct {
	Name         string           `yaml:"name"`
	Version      string           `yaml:"version"`
	Features     []string         `yaml:"features"`
	Scaler       string           `yaml:"scaler"`
	LabelEncoder string           `yaml:"label_encoder"`
	Classifier   ClassifierConfig `yaml:"classifier"`
}

// LoadOptions tune bundle loading.
type LoadOptions struct {
	// SharedLibraryPath points at the onnxruntime library; only used by onnx classifiers.
	SharedLibraryPath string
	// VerifyManifest checks manifest.json hashes when the file is present.
	VerifyManifest bool
}

// Bundle is the immutable set of fitted artifacts served by the process.
type Bundle struct {
	Dir          string
	Descriptor   Descriptor
	Scaler       Scaler
	LabelEncoder *LabelEncoder
	Classifier   Classifier
}

// Load reads and validates a bundle directory. Any error means the bundle
// must not be served.
func Load(dir string, opts LoadOptions) (*Bundle, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("bundle dir is empty")
	}
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrBundleNotFound, dir)
		}
		return nil, fmt.Errorf("stat bundle dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("bundle path %s is not a directory", dir)
	}

	desc, err := loadDescriptor(dir)
	if err != nil {
		return nil, err
	}

	if opts.VerifyManifest {
		if err := VerifyManifest(dir); err != nil && !errors.Is(err, ErrManifestNotFound) {
			return nil, fmt.Errorf("verify bundle: %w", err)
		}
	}

	scalerPath, err := resolveBundlePath(dir, desc.Scaler)
	if err != nil {
		return nil, fmt.Errorf("scaler path: %w", err)
	}
	scaler, err := loadScaler(scalerPath)
	if err != nil {
		return nil, fmt.Errorf("load scaler: %w", err)
	}

	labelsPath, err := resolveBundlePath(dir, desc.LabelEncoder)
	if err != nil {
		return nil, fmt.Errorf("label encoder path: %w", err)
	}
	labels, err := loadLabels(labelsPath)
	if err != nil {
		return nil, fmt.Errorf("load label encoder: %w", err)
	}

	classifier, err := loadClassifier(dir, desc.Classifier, opts)
	if err != nil {
		return nil, fmt.Errorf("load classifier: %w", err)
	}

	return &Bundle{
		Dir:          dir,
		Descriptor:   desc,
		Scaler:       scaler,
		LabelEncoder: &LabelEncoder{Classes: labels},
		Classifier:   classifier,
	}, nil
}

// Close releases native resources held by the classifier.
func (b *Bundle) Close() error {
	if b == nil || b.Classifier == nil {
		return nil
	}
	if c, ok := b.Classifier.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func loadDescriptor(dir string) (Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(dir, DescriptorFile))
	if err != nil {
		if os.IsNotExist(err) {
			return Descriptor{}, fmt.Errorf("%w: %s missing in %s", ErrBundleNotFound, DescriptorFile, dir)
		}
		return Descriptor{}, fmt.Errorf("read descriptor: %w", err)
	}

	var desc Descriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return Descriptor{}, fmt.Errorf("decode descriptor: %w", err)
	}
	applyDescriptorDefaults(&desc)

	if err := checkFeatureOrder(desc.Features); err != nil {
		return Descriptor{}, err
	}
	return desc, nil
}

func applyDescriptorDefaults(d *Descriptor) {
	if d.Scaler == "" {
		d.Scaler = "scaler.json"
	}
	if d.LabelEncoder == "" {
		d.LabelEncoder = "label_encoder.json"
	}
	d.Classifier.Type = strings.ToLower(strings.TrimSpace(d.Classifier.Type))
	if d.Classifier.Path == "" {
		if d.Classifier.Type == ClassifierONNX {
			d.Classifier.Path = "model.onnx"
		} else {
			d.Classifier.Path = "classifier.json"
		}
	}
	if d.Classifier.InputName == "" {
		d.Classifier.InputName = "float_input"
	}
	if d.Classifier.OutputName == "" {
		d.Classifier.OutputName = "output_label"
	}
}

func checkFeatureOrder(features []string) error {
	if len(features) != len(inference.FeatureNames) {
		return fmt.Errorf("%w: expected %d features, got %d", ErrFeatureOrder, len(inference.FeatureNames), len(features))
	}
	for i, name := range inference.FeatureNames {
		if features[i] != name {
			return fmt.Errorf("%w: column %d is %q, expected %q", ErrFeatureOrder, i, features[i], name)
		}
	}
	return nil
}

// resolveBundlePath joins rel onto dir and rejects anything escaping dir.
func resolveBundlePath(dir, rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return "", errors.New("empty path")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute path %q not allowed", rel)
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes bundle dir", rel)
	}
	return filepath.Join(dir, clean), nil
}
