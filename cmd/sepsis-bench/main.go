// Command sepsis-bench measures in-process prediction latency for a model bundle.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/sepsis-api/sepsis/internal/bundle"
	"github.com/sepsis-api/sepsis/internal/config"
	"github.com/sepsis-api/sepsis/internal/inference"
	"github.com/sepsis-api/sepsis/internal/pipeline"
	"github.com/sepsis-api/sepsis/internal/server"
)

const defaultRecord = `{"PRG":6,"PL":148,"BP":72,"SK":35,"TS":0,"BMI":33.6,"BD2":0.627,"Age":50}`

type result struct {
	N   int
	Avg time.Duration
	P50 time.Duration
	P95 time.Duration
}

func main() {
	cfgPath := flag.String("config", "sepsis.yaml", "path to config yaml")
	n := flag.Int("n", 1000, "number of iterations")
	record := flag.String("record", defaultRecord, "JSON record to evaluate")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	b, err := bundle.Load(cfg.Model.BundleDir, bundle.LoadOptions{
		SharedLibraryPath: cfg.Model.ONNXSharedLibraryPath,
		VerifyManifest:    cfg.Model.ShouldVerifyManifest(),
	})
	if err != nil {
		log.Fatalf("load model bundle: %v", err)
	}
	defer b.Close()

	// No memo cache: every iteration runs the full scale + classify path.
	p, err := pipeline.FromBundle(b)
	if err != nil {
		log.Fatalf("build pipeline: %v", err)
	}

	rec, err := inference.DecodeRecord([]byte(*record))
	if err != nil {
		log.Fatalf("invalid record: %v", err)
	}

	res, err := bench(p, rec, *n)
	if err != nil {
		log.Fatalf("bench: %v", err)
	}

	info := server.ModelInfoFromBundle(b)
	fmt.Printf("bench: n=%d avg_ms=%.3f p50_ms=%.3f p95_ms=%.3f model=%s@%s classifier=%s\n",
		res.N,
		ms(res.Avg),
		ms(res.P50),
		ms(res.P95),
		info.Name,
		info.Version,
		info.Classifier,
	)
}

func bench(p server.Predictor, rec inference.Record, n int) (result, error) {
	ctx := context.Background()

	// Warmup
	for i := 0; i < 5; i++ {
		if _, err := p.Predict(ctx, rec); err != nil {
			return result{}, fmt.Errorf("warmup: %w", err)
		}
	}

	if n <= 0 {
		n = 1
	}

	durations := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		start := time.Now()
		if _, err := p.Predict(ctx, rec); err != nil {
			return result{}, fmt.Errorf("predict: %w", err)
		}
		durations = append(durations, time.Since(start))
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var total time.Duration
	for _, d := range durations {
		total += d
	}

	return result{
		N:   len(durations),
		Avg: total / time.Duration(len(durations)),
		P50: durations[len(durations)/2],
		P95: durations[int(float64(len(durations))*0.95)],
	}, nil
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
