package pipeline

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/sepsis-api/sepsis/internal/inference"
)

// identityScaler records every row it is asked to transform.
type identityScaler struct {
	mu    sync.Mutex
	calls [][]float64
}

func (s *identityScaler) Transform(x []float64) ([]float64, error) {
	s.mu.Lock()
	s.calls = append(s.calls, append([]float64(nil), x...))
	s.mu.Unlock()
	return append([]float64(nil), x...), nil
}

func (s *identityScaler) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// ageClassifier predicts 1 when Age (last column) is strictly greater than 50.
type ageClassifier struct {
	mu    sync.Mutex
	calls int
}

func (c *ageClassifier) Predict(x []float64) (int64, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if x[7] > 50 {
		return 1, nil
	}
	return 0, nil
}

type fixedClassifier struct {
	label int64
	err   error
}

func (c fixedClassifier) Predict([]float64) (int64, error) { return c.label, c.err }

type failingScaler struct{ err error }

func (s failingScaler) Transform([]float64) ([]float64, error) { return nil, s.err }

type shortScaler struct{}

func (shortScaler) Transform(x []float64) ([]float64, error) { return x[:4], nil }

func baseRecord(age int64) inference.Record {
	return inference.Record{PRG: 2, PL: 120, BP: 70, SK: 20, TS: 80, BMI: 28.5, BD2: 0.5, Age: age}
}

func TestPredictStubScenario(t *testing.T) {
	p, err := New(&identityScaler{}, &ageClassifier{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	cases := []struct {
		age  int64
		want inference.Verdict
	}{
		{60, inference.VerdictSepsisPredicted},
		{30, inference.VerdictNotPredicted},
		{50, inference.VerdictNotPredicted}, // strict > at the threshold
		{51, inference.VerdictSepsisPredicted},
	}
	for _, tc := range cases {
		pred, err := p.Predict(context.Background(), baseRecord(tc.age))
		if err != nil {
			t.Fatalf("age %d: %v", tc.age, err)
		}
		if pred.Verdict != tc.want {
			t.Fatalf("age %d: got %s want %s", tc.age, pred.Verdict, tc.want)
		}
		if pred.Message != tc.want.Message() {
			t.Fatalf("age %d: unexpected message %q", tc.age, pred.Message)
		}
	}
}

func TestPredictFeedsScalerInDeclaredOrder(t *testing.T) {
	scaler := &identityScaler{}
	p, err := New(scaler, &ageClassifier{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	rec := inference.Record{PRG: 11, PL: 22, BP: 33, SK: 44, TS: 55, BMI: 66.5, BD2: 77.25, Age: 88}
	if _, err := p.Predict(context.Background(), rec); err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(scaler.calls) != 1 {
		t.Fatalf("expected 1 scaler call, got %d", len(scaler.calls))
	}
	want := []float64{11, 22, 33, 44, 55, 66.5, 77.25, 88}
	if !reflect.DeepEqual(scaler.calls[0], want) {
		t.Fatalf("scaler received %v, want %v", scaler.calls[0], want)
	}
}

func TestPredictDeterministic(t *testing.T) {
	p, err := New(&identityScaler{}, &ageClassifier{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	first, err := p.Predict(context.Background(), baseRecord(60))
	if err != nil {
		t.Fatalf("predict: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := p.Predict(context.Background(), baseRecord(60))
			if err != nil {
				t.Errorf("predict: %v", err)
				return
			}
			if got != first {
				t.Errorf("got %+v, want %+v", got, first)
			}
		}()
	}
	wg.Wait()
}

func TestPredictOutOfDomainLabel(t *testing.T) {
	p, err := New(&identityScaler{}, fixedClassifier{label: 2})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = p.Predict(context.Background(), baseRecord(60))
	if !errors.Is(err, inference.ErrLabelOutOfDomain) {
		t.Fatalf("expected ErrLabelOutOfDomain, got %v", err)
	}
}

func TestPredictErrors(t *testing.T) {
	boom := errors.New("boom")

	p, _ := New(failingScaler{err: boom}, &ageClassifier{})
	if _, err := p.Predict(context.Background(), baseRecord(60)); !errors.Is(err, ErrScale) || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped scale error, got %v", err)
	}

	p, _ = New(shortScaler{}, &ageClassifier{})
	if _, err := p.Predict(context.Background(), baseRecord(60)); !errors.Is(err, ErrScale) {
		t.Fatalf("expected shape error from short scaler, got %v", err)
	}

	p, _ = New(&identityScaler{}, fixedClassifier{err: boom})
	if _, err := p.Predict(context.Background(), baseRecord(60)); !errors.Is(err, ErrClassify) || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped classify error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Predict(ctx, baseRecord(60)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewRejectsNil(t *testing.T) {
	if _, err := New(nil, &ageClassifier{}); err == nil {
		t.Fatalf("expected nil scaler to be rejected")
	}
	if _, err := New(&identityScaler{}, nil); err == nil {
		t.Fatalf("expected nil classifier to be rejected")
	}
	if _, err := FromBundle(nil); err == nil {
		t.Fatalf("expected nil bundle to be rejected")
	}
}

func TestPredictCache(t *testing.T) {
	scaler := &identityScaler{}
	classifier := &ageClassifier{}
	p, err := New(scaler, classifier, WithCache(8))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	for i := 0; i < 3; i++ {
		pred, err := p.Predict(context.Background(), baseRecord(60))
		if err != nil {
			t.Fatalf("predict: %v", err)
		}
		if pred.Verdict != inference.VerdictSepsisPredicted {
			t.Fatalf("unexpected verdict %s", pred.Verdict)
		}
	}
	if scaler.Calls() != 1 || classifier.calls != 1 {
		t.Fatalf("expected one pipeline run, got scaler=%d classifier=%d", scaler.Calls(), classifier.calls)
	}

	if _, err := p.Predict(context.Background(), baseRecord(30)); err != nil {
		t.Fatalf("predict: %v", err)
	}
	if scaler.Calls() != 2 {
		t.Fatalf("expected a distinct record to miss the cache")
	}
}

func TestPredictCacheSkipsFailures(t *testing.T) {
	scaler := &identityScaler{}
	p, err := New(scaler, fixedClassifier{label: 5}, WithCache(8))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := p.Predict(context.Background(), baseRecord(60)); err == nil {
			t.Fatalf("expected error")
		}
	}
	if scaler.Calls() != 2 {
		t.Fatalf("failed predictions must not be cached, scaler calls=%d", scaler.Calls())
	}
}
