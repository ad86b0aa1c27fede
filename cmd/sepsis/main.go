package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/sepsis-api/sepsis/internal/audit"
	"github.com/sepsis-api/sepsis/internal/bundle"
	"github.com/sepsis-api/sepsis/internal/config"
	"github.com/sepsis-api/sepsis/internal/logging"
	"github.com/sepsis-api/sepsis/internal/pipeline"
	"github.com/sepsis-api/sepsis/internal/redact"
	"github.com/sepsis-api/sepsis/internal/server"
	"github.com/sepsis-api/sepsis/internal/watch"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Getenv, listenTCP, nil); err != nil {
		log.Fatalf("sepsis: %v", err)
	}
}

type envFn func(string) string
type listenFn func(addr string) (net.Listener, error)

func listenTCP(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// run loads config and the model bundle, then serves until ctx is done.
// ready, when non-nil, receives the bound address once the listener is up.
func run(ctx context.Context, args []string, getenv envFn, listen listenFn, ready chan<- string) error {
	fs := flag.NewFlagSet("sepsis", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file (default sepsis.yaml)")
	addrFlag := fs.String("addr", "", "HTTP listen address (overrides config)")
	bundleFlag := fs.String("bundle", "", "model bundle directory (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfgFile := firstNonEmpty(*configPath, getenv("SEPSIS_CONFIG"), "sepsis.yaml")
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgFile, err)
	}
	cfg.Server.Addr = firstNonEmpty(*addrFlag, getenv("SEPSIS_ADDR"), cfg.Server.Addr)
	cfg.Model.BundleDir = firstNonEmpty(*bundleFlag, getenv("SEPSIS_BUNDLE_DIR"), cfg.Model.BundleDir)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, closeLogs, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer closeLogs()

	b, err := bundle.Load(cfg.Model.BundleDir, bundle.LoadOptions{
		SharedLibraryPath: cfg.Model.ONNXSharedLibraryPath,
		VerifyManifest:    cfg.Model.ShouldVerifyManifest(),
	})
	if err != nil {
		return fmt.Errorf("load model bundle: %w", err)
	}
	defer b.Close()
	logger.Info("model bundle loaded",
		zap.String("dir", b.Dir),
		zap.String("name", b.Descriptor.Name),
		zap.String("version", b.Descriptor.Version),
		zap.String("classifier", b.Descriptor.Classifier.Type),
	)

	pipe, err := pipeline.FromBundle(b,
		pipeline.WithLogger(logger.Named("pipeline")),
		pipeline.WithRecordLogging(cfg.Logging.LogRecords),
		pipeline.WithCache(cfg.Cache.Size),
	)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	var emitter *audit.Emitter
	if len(cfg.Audit.Sinks) > 0 {
		sinks, err := audit.NewSinks(cfg.Audit.Sinks)
		if err != nil {
			return fmt.Errorf("audit sinks: %w", err)
		}
		emitter = audit.NewEmitter(audit.EmitterConfig{
			QueueSize:       cfg.Audit.QueueSize,
			Workers:         cfg.Audit.Workers,
			ShutdownTimeout: cfg.Audit.ShutdownTimeout,
			Logger:          logger,
		}, sinks)
		defer func() {
			emitter.Close(context.Background())
			st := emitter.Stats()
			logger.Info("audit emitter stopped",
				zap.Uint64("predicted", st.Accepted[audit.OutcomePredicted]),
				zap.Uint64("invalid", st.Accepted[audit.OutcomeInvalid]),
				zap.Uint64("error", st.Accepted[audit.OutcomeError]),
				zap.Uint64("dropped", st.Dropped),
				zap.Uint64("abandoned", st.Abandoned),
			)
		}()
		for _, s := range sinks {
			logger.Info("audit sink enabled", zap.String("sink", redact.String(s.Name())))
		}
	}

	if cfg.Model.Watch {
		w, err := watch.New(b.Dir, logger, nil)
		if err != nil {
			logger.Warn("bundle watcher disabled", zap.Error(err))
		} else {
			defer w.Close()
			go w.Run(ctx)
		}
	}

	srv := server.New(cfg, pipe, server.Options{
		Logger:          logger,
		Audit:           emitter,
		Model:           server.ModelInfoFromBundle(b),
		IncludeFeatures: cfg.Audit.IncludeFeatures,
	})

	ln, err := listen(cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}
	if ready != nil {
		ready <- ln.Addr().String()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
