package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/sepsis-api/sepsis/internal/inference"
)

const (
	ClassifierLogisticRegression = "logistic_regression"
	ClassifierDecisionTree       = "decision_tree"
	ClassifierONNX               = "onnx"
)

// LogisticRegression is a fitted binary linear classifier.
type LogisticRegression struct {
	coef      []float64
	intercept float64
	classes   [2]int64
}

type logisticRegressionFile struct {
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
	Classes   []int64   `json:"classes"`
}

// NewLogisticRegression validates the coefficient width. classes defaults to [0, 1].
func NewLogisticRegression(coef []float64, intercept float64, classes []int64) (*LogisticRegression, error) {
	if len(coef) != inference.FeatureCount {
		return nil, fmt.Errorf("%w: logistic regression expects %d coefficients, got %d", ErrShape, inference.FeatureCount, len(coef))
	}
	lr := &LogisticRegression{
		coef:      append([]float64(nil), coef...),
		intercept: intercept,
		classes:   [2]int64{inference.LabelNegative, inference.LabelPositive},
	}
	switch len(classes) {
	case 0:
	case 2:
		lr.classes = [2]int64{classes[0], classes[1]}
	default:
		return nil, fmt.Errorf("logistic regression expects 2 classes, got %d", len(classes))
	}
	return lr, nil
}

// Predict returns classes[1] when the decision function is positive.
func (m *LogisticRegression) Predict(x []float64) (int64, error) {
	if len(x) != len(m.coef) {
		return 0, fmt.Errorf("%w: got %d columns, want %d", ErrShape, len(x), len(m.coef))
	}
	z := m.intercept
	for i, v := range x {
		z += m.coef[i] * v
	}
	if z > 0 {
		return m.classes[1], nil
	}
	return m.classes[0], nil
}

// TreeNode is one node of a flattened decision tree.
type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	ClassLabel int64   `json:"class_label"`
	IsLeaf     bool    `json:"is_leaf"`
}

// DecisionTree walks a flattened tree; x[feature] <= threshold goes left.
type DecisionTree struct {
	nodes []TreeNode
}

type decisionTreeFile struct {
	Nodes []TreeNode `json:"nodes"`
}

// NewDecisionTree checks that every split references a valid feature and child.
func NewDecisionTree(nodes []TreeNode) (*DecisionTree, error) {
	if len(nodes) == 0 {
		return nil, errors.New("decision tree has no nodes")
	}
	for i, n := range nodes {
		if n.IsLeaf {
			continue
		}
		if n.FeatureIdx < 0 || n.FeatureIdx >= inference.FeatureCount {
			return nil, fmt.Errorf("node %d: feature index %d out of range", i, n.FeatureIdx)
		}
		// children must point forward so traversal always terminates
		if n.LeftChild <= i || n.LeftChild >= len(nodes) || n.RightChild <= i || n.RightChild >= len(nodes) {
			return nil, fmt.Errorf("node %d: invalid children %d/%d", i, n.LeftChild, n.RightChild)
		}
	}
	return &DecisionTree{nodes: append([]TreeNode(nil), nodes...)}, nil
}

func (dt *DecisionTree) Predict(x []float64) (int64, error) {
	if len(x) != inference.FeatureCount {
		return 0, fmt.Errorf("%w: got %d columns, want %d", ErrShape, len(x), inference.FeatureCount)
	}
	idx := 0
	for {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return node.ClassLabel, nil
		}
		if x[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
	}
}

func loadClassifier(dir string, cfg ClassifierConfig, opts LoadOptions) (Classifier, error) {
	path, err := resolveBundlePath(dir, cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("classifier path: %w", err)
	}

	switch cfg.Type {
	case ClassifierLogisticRegression:
		var f logisticRegressionFile
		if err := readJSON(path, &f); err != nil {
			return nil, err
		}
		return NewLogisticRegression(f.Coef, f.Intercept, f.Classes)
	case ClassifierDecisionTree:
		var f decisionTreeFile
		if err := readJSON(path, &f); err != nil {
			return nil, err
		}
		return NewDecisionTree(f.Nodes)
	case ClassifierONNX:
		return NewONNXClassifier(path, cfg.InputName, cfg.OutputName, opts.SharedLibraryPath, dir)
	case "":
		return nil, errors.New("classifier type is empty")
	default:
		return nil, fmt.Errorf("unsupported classifier type %q", cfg.Type)
	}
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
