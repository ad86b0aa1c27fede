package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sepsis-api/sepsis/internal/redact"
)

// Sink consumes audit events (file, webhook, sqlite).
type Sink interface {
	Name() string
	Deliver(context.Context, *Event) error
	Close(context.Context) error
}

// Stats is a point-in-time copy of the emitter counters.
type Stats struct {
	// Accepted counts queued events per request outcome.
	Accepted  map[Outcome]uint64
	Dropped   uint64
	Abandoned uint64 // queued but skipped because shutdown ran out of time
	Delivered map[string]uint64
	Failed    map[string]uint64
}

// EmitterConfig controls worker and queue sizing.
type EmitterConfig struct {
	QueueSize       int
	Workers         int
	ShutdownTimeout time.Duration
	Logger          *zap.Logger
}

// Emitter hands events to sinks from a bounded queue so /predict never waits on them.
type Emitter struct {
	events          chan *Event
	sinks           []Sink
	shutdownTimeout time.Duration
	logger          *zap.Logger

	// deliverCtx is cancelled when Close gives up waiting; sinks observe it.
	deliverCtx    context.Context
	cancelDeliver context.CancelFunc

	closeMu sync.RWMutex
	closed  bool
	workers sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats
}

// NewEmitter starts cfg.Workers goroutines delivering to sinks.
func NewEmitter(cfg EmitterConfig, sinks []Sink) *Emitter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Emitter{
		events:          make(chan *Event, cfg.QueueSize),
		sinks:           sinks,
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          cfg.Logger.Named("audit"),
		deliverCtx:      ctx,
		cancelDeliver:   cancel,
		stats: Stats{
			Accepted:  make(map[Outcome]uint64, 3),
			Delivered: make(map[string]uint64, len(sinks)),
			Failed:    make(map[string]uint64, len(sinks)),
		},
	}
	for i := 0; i < cfg.Workers; i++ {
		e.workers.Add(1)
		go e.run()
	}
	return e
}

// Emit queues ev; when the queue is full or the emitter is closed the event is dropped.
func (e *Emitter) Emit(ev *Event) {
	if e == nil || ev == nil {
		return
	}
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()

	accepted := false
	if !e.closed {
		select {
		case e.events <- ev:
			accepted = true
		default:
		}
	}

	e.statsMu.Lock()
	if accepted {
		e.stats.Accepted[ev.Outcome]++
	} else {
		e.stats.Dropped++
	}
	e.statsMu.Unlock()
}

// Close stops intake and drains the queue for at most the shutdown timeout.
// Sinks are closed only after every worker has returned.
func (e *Emitter) Close(ctx context.Context) {
	if e == nil {
		return
	}
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return
	}
	e.closed = true
	close(e.events)
	e.closeMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	drained := make(chan struct{})
	go func() {
		e.workers.Wait()
		close(drained)
	}()

	timer := time.NewTimer(e.shutdownTimeout)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		e.abandon("shutdown timeout")
		<-drained
	case <-ctx.Done():
		e.abandon("shutdown cancelled")
		<-drained
	}
	e.cancelDeliver()

	for _, s := range e.sinks {
		if err := s.Close(context.Background()); err != nil {
			e.logger.Warn("sink close error",
				zap.String("sink", redact.String(s.Name())),
				zap.String("error", redact.String(err.Error())),
			)
		}
	}
}

func (e *Emitter) abandon(reason string) {
	e.logger.Warn("audit queue not drained", zap.String("reason", reason), zap.Int("pending", len(e.events)))
	e.cancelDeliver()
}

// Stats copies the current counters.
func (e *Emitter) Stats() Stats {
	if e == nil {
		return Stats{}
	}
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	out := Stats{
		Accepted:  make(map[Outcome]uint64, len(e.stats.Accepted)),
		Dropped:   e.stats.Dropped,
		Abandoned: e.stats.Abandoned,
		Delivered: make(map[string]uint64, len(e.stats.Delivered)),
		Failed:    make(map[string]uint64, len(e.stats.Failed)),
	}
	for k, v := range e.stats.Accepted {
		out.Accepted[k] = v
	}
	for k, v := range e.stats.Delivered {
		out.Delivered[k] = v
	}
	for k, v := range e.stats.Failed {
		out.Failed[k] = v
	}
	return out
}

func (e *Emitter) run() {
	defer e.workers.Done()
	for ev := range e.events {
		if e.deliverCtx.Err() != nil {
			e.statsMu.Lock()
			e.stats.Abandoned++
			e.statsMu.Unlock()
			continue
		}
		for _, s := range e.sinks {
			e.deliverTo(s, ev)
		}
	}
}

func (e *Emitter) deliverTo(s Sink, ev *Event) {
	err := s.Deliver(e.deliverCtx, ev)

	e.statsMu.Lock()
	if err != nil {
		e.stats.Failed[s.Name()]++
	} else {
		e.stats.Delivered[s.Name()]++
	}
	e.statsMu.Unlock()

	if err != nil {
		e.logger.Warn("sink delivery failed",
			zap.String("sink", redact.String(s.Name())),
			zap.String("request_id", ev.RequestID),
			zap.String("outcome", string(ev.Outcome)),
			zap.String("error", redact.String(err.Error())),
		)
	}
}
