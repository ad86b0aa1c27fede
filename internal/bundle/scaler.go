package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sepsis-api/sepsis/internal/inference"
)

const (
	ScalerStandard = "standard"
	ScalerMinMax   = "minmax"
)

// ErrShape is returned when a row does not have the expected number of columns.
var ErrShape = errors.New("unexpected feature vector shape")

type scalerFile struct {
	Type    string    `json:"type"`
	Mean    []float64 `json:"mean"`
	Scale   []float64 `json:"scale"`
	DataMin []float64 `json:"data_min"`
	DataMax []float64 `json:"data_max"`
}

// StandardScaler standardizes with the mean and scale captured at fit time.
type StandardScaler struct {
	mean  []float64
	scale []float64
}

// NewStandardScaler validates parameter lengths. A zero scale is treated as 1.
func NewStandardScaler(mean, scale []float64) (*StandardScaler, error) {
	if len(mean) != inference.FeatureCount || len(scale) != inference.FeatureCount {
		return nil, fmt.Errorf("%w: standard scaler expects %d means and scales, got %d/%d", ErrShape, inference.FeatureCount, len(mean), len(scale))
	}
	s := &StandardScaler{
		mean:  append([]float64(nil), mean...),
		scale: append([]float64(nil), scale...),
	}
	for i, v := range s.scale {
		if v == 0 {
			s.scale[i] = 1
		}
	}
	return s, nil
}

func (s *StandardScaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.mean) {
		return nil, fmt.Errorf("%w: got %d columns, want %d", ErrShape, len(x), len(s.mean))
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (v - s.mean[i]) / s.scale[i]
	}
	return out, nil
}

// MinMaxScaler maps each column onto [0, 1] using the fitted range.
type MinMaxScaler struct {
	mins []float64
	maxs []float64
}

func NewMinMaxScaler(mins, maxs []float64) (*MinMaxScaler, error) {
	if len(mins) != inference.FeatureCount || len(maxs) != inference.FeatureCount {
		return nil, fmt.Errorf("%w: minmax scaler expects %d mins and maxs, got %d/%d", ErrShape, inference.FeatureCount, len(mins), len(maxs))
	}
	for i := range mins {
		if maxs[i] < mins[i] {
			return nil, fmt.Errorf("minmax scaler column %d has max %v below min %v", i, maxs[i], mins[i])
		}
	}
	return &MinMaxScaler{
		mins: append([]float64(nil), mins...),
		maxs: append([]float64(nil), maxs...),
	}, nil
}

func (s *MinMaxScaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.mins) {
		return nil, fmt.Errorf("%w: got %d columns, want %d", ErrShape, len(x), len(s.mins))
	}
	out := make([]float64, len(x))
	for i, v := range x {
		span := s.maxs[i] - s.mins[i]
		if span == 0 {
			out[i] = 0
			continue
		}
		out[i] = (v - s.mins[i]) / span
	}
	return out, nil
}

func loadScaler(path string) (Scaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f scalerFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode scaler: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(f.Type)) {
	case "", ScalerStandard:
		return NewStandardScaler(f.Mean, f.Scale)
	case ScalerMinMax:
		return NewMinMaxScaler(f.DataMin, f.DataMax)
	default:
		return nil, fmt.Errorf("unsupported scaler type %q", f.Type)
	}
}
