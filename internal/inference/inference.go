package inference

import (
	"errors"
	"fmt"
)

// FeatureNames is the column order the scaler and classifier were fitted with.
// Record.Vector always emits values in this order.
var FeatureNames = []string{"PRG", "PL", "BP", "SK", "TS", "BMI", "BD2", "Age"}

// FeatureCount is the width of an assembled feature vector.
const FeatureCount = 8

// Record is one clinical observation submitted for prediction.
type Record struct {
	PRG int64   `json:"PRG"` // plasma glucose
	PL  int64   `json:"PL"`  // blood work result 1 (mu U/ml)
	BP  int64   `json:"BP"`  // blood pressure (mmHg)
	SK  int64   `json:"SK"`  // blood work result 2 (mm)
	TS  int64   `json:"TS"`  // blood work result 3 (mu U/ml)
	BMI float64 `json:"BMI"` // body mass index
	BD2 float64 `json:"BD2"` // blood work result 4 (mu U/ml)
	Age int64   `json:"Age"` // years
}

// Vector projects the record into a single row in FeatureNames order.
func (r Record) Vector() []float64 {
	return []float64{
		float64(r.PRG),
		float64(r.PL),
		float64(r.BP),
		float64(r.SK),
		float64(r.TS),
		r.BMI,
		r.BD2,
		float64(r.Age),
	}
}

// Fields returns the record keyed by feature name, for logs and audit payloads.
func (r Record) Fields() map[string]float64 {
	vec := r.Vector()
	out := make(map[string]float64, len(FeatureNames))
	for i, name := range FeatureNames {
		out[name] = vec[i]
	}
	return out
}

// Verdict is the domain outcome of a prediction.
type Verdict string

const (
	VerdictSepsisPredicted Verdict = "sepsis_predicted"
	VerdictNotPredicted    Verdict = "not_predicted"
)

const (
	MessageSepsisPredicted = "The patient is predicted to develop Sepsis"
	MessageNotPredicted    = "The patient is not predicted to develop Sepsis"
)

// Raw classifier labels.
const (
	LabelNegative int64 = 0
	LabelPositive int64 = 1
)

// ErrLabelOutOfDomain is returned when the classifier emits a label other than 0 or 1.
var ErrLabelOutOfDomain = errors.New("classifier label out of domain")

// Message returns the human readable text for the verdict.
func (v Verdict) Message() string {
	switch v {
	case VerdictSepsisPredicted:
		return MessageSepsisPredicted
	case VerdictNotPredicted:
		return MessageNotPredicted
	default:
		return ""
	}
}

// VerdictFromLabel maps a raw classifier label onto a verdict.
func VerdictFromLabel(label int64) (Verdict, error) {
	switch label {
	case LabelPositive:
		return VerdictSepsisPredicted, nil
	case LabelNegative:
		return VerdictNotPredicted, nil
	default:
		return "", fmt.Errorf("%w: %d", ErrLabelOutOfDomain, label)
	}
}

// Prediction is the result of running one record through the pipeline.
type Prediction struct {
	Verdict Verdict
	Label   int64
	Message string
}

// NewPrediction builds a Prediction from a raw label.
func NewPrediction(label int64) (Prediction, error) {
	v, err := VerdictFromLabel(label)
	if err != nil {
		return Prediction{}, err
	}
	return Prediction{
		Verdict: v,
		Label:   label,
		Message: v.Message(),
	}, nil
}
