// Package pipeline runs a validated record through the fitted scaler and classifier.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/sepsis-api/sepsis/internal/bundle"
	"github.com/sepsis-api/sepsis/internal/inference"
)

var (
	// ErrScale wraps scaler failures.
	ErrScale = errors.New("scale features")
	// ErrClassify wraps classifier failures.
	ErrClassify = errors.New("classify features")
)

// Pipeline is safe for concurrent use; the scaler and classifier are never mutated.
type Pipeline struct {
	scaler     bundle.Scaler
	classifier bundle.Classifier
	logger     *zap.Logger
	logRecords bool
	cache      *lru.Cache[inference.Record, inference.Prediction]
	cacheSize  int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithRecordLogging logs every assembled record at debug level.
func WithRecordLogging(enabled bool) Option {
	return func(p *Pipeline) { p.logRecords = enabled }
}

// WithCache memoizes up to size predictions keyed by record. size <= 0 disables it.
func WithCache(size int) Option {
	return func(p *Pipeline) { p.cacheSize = size }
}

// New builds a pipeline over a loaded bundle's scaler and classifier.
func New(scaler bundle.Scaler, classifier bundle.Classifier, opts ...Option) (*Pipeline, error) {
	if scaler == nil {
		return nil, errors.New("scaler is nil")
	}
	if classifier == nil {
		return nil, errors.New("classifier is nil")
	}
	p := &Pipeline{
		scaler:     scaler,
		classifier: classifier,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cacheSize > 0 {
		c, err := lru.New[inference.Record, inference.Prediction](p.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create prediction cache: %w", err)
		}
		p.cache = c
	}
	return p, nil
}

// FromBundle is shorthand for New(b.Scaler, b.Classifier, opts...).
func FromBundle(b *bundle.Bundle, opts ...Option) (*Pipeline, error) {
	if b == nil {
		return nil, errors.New("bundle is nil")
	}
	return New(b.Scaler, b.Classifier, opts...)
}

// Predict assembles, scales and classifies one record.
func (p *Pipeline) Predict(ctx context.Context, rec inference.Record) (inference.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return inference.Prediction{}, err
	}
	if p.cache != nil {
		if pred, ok := p.cache.Get(rec); ok {
			return pred, nil
		}
	}

	vec := rec.Vector()
	if p.logRecords {
		p.logger.Debug("assembled record",
			zap.Any("record", rec.Fields()),
			zap.Int64("age", rec.Age),
		)
	}

	scaled, err := p.scaler.Transform(vec)
	if err != nil {
		return inference.Prediction{}, fmt.Errorf("%w: %w", ErrScale, err)
	}
	if len(scaled) != inference.FeatureCount {
		return inference.Prediction{}, fmt.Errorf("%w: %w: scaler returned %d columns", ErrScale, bundle.ErrShape, len(scaled))
	}

	label, err := p.classifier.Predict(scaled)
	if err != nil {
		return inference.Prediction{}, fmt.Errorf("%w: %w", ErrClassify, err)
	}

	pred, err := inference.NewPrediction(label)
	if err != nil {
		return inference.Prediction{}, err
	}
	if p.cache != nil {
		p.cache.Add(rec, pred)
	}
	return pred, nil
}
