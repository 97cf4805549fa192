// Package orchestrator wires the configuration registry, processor
// registry, payload optimizer, batch scheduler, result cache, durable
// broker and fallback in-memory queue into one processing surface. It is
// the single entry point callers use to create queues, enqueue jobs and
// observe outcomes.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/queueforge/queueforge/internal/batch"
	"github.com/queueforge/queueforge/internal/broker"
	"github.com/queueforge/queueforge/internal/cache"
	"github.com/queueforge/queueforge/internal/config"
	"github.com/queueforge/queueforge/internal/domain"
	"github.com/queueforge/queueforge/internal/health"
	"github.com/queueforge/queueforge/internal/memqueue"
	"github.com/queueforge/queueforge/internal/postgres"
	"github.com/queueforge/queueforge/internal/processor"
	"github.com/queueforge/queueforge/pkg/telemetry"
)

type queueMode int

const (
	modeBroker queueMode = iota
	modeFallback
)

// queueState tracks one created queue's consumer lifecycle.
type queueState struct {
	mode          queueMode
	paused        bool
	consumeCancel context.CancelFunc
	consumeDone   chan struct{}
}

// DeadLetterer is implemented by brokers that keep a dead-letter topic.
type DeadLetterer interface {
	PublishDeadLetter(ctx context.Context, job *domain.Job) error
}

// Options carry the orchestrator's outbound collaborators. Broker, Cache,
// Archive and Engine are all optional; a nil Broker runs every queue on
// the fallback in-memory queue from the start.
type Options struct {
	Broker  broker.Broker
	Cache   cache.Store
	Archive postgres.JobRepository
	Engine  *health.Engine
	Logger  *slog.Logger

	// FallbackOptions tune the in-memory queue used when the broker is
	// unreachable.
	FallbackOptions memqueue.Options
	// ProbeInterval is how often a degraded orchestrator pings the broker
	// looking for recovery. Default 15s.
	ProbeInterval time.Duration
}

// Orchestrator coordinates the full job pipeline. Safe for concurrent use.
type Orchestrator struct {
	configs    *config.Registry
	processors *processor.Registry
	batches    *batch.Scheduler
	fallback   *memqueue.Queue

	broker  broker.Broker
	cache   cache.Store
	archive postgres.JobRepository
	engine  *health.Engine
	logger  *slog.Logger

	probeInterval time.Duration

	mu           sync.Mutex
	queues       map[string]*queueState
	observers    []domain.Observer
	closed       bool
	probeStarted bool

	rootCtx    context.Context
	rootCancel context.CancelFunc
	probeWG    sync.WaitGroup
}

// New builds an Orchestrator around the two registries.
func New(configs *config.Registry, processors *processor.Registry, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 15 * time.Second
	}
	opts.FallbackOptions.Logger = opts.Logger

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		configs:       configs,
		processors:    processors,
		broker:        opts.Broker,
		cache:         opts.Cache,
		archive:       opts.Archive,
		engine:        opts.Engine,
		logger:        opts.Logger.With("component", "orchestrator"),
		probeInterval: opts.ProbeInterval,
		queues:        make(map[string]*queueState),
		fallback:      memqueue.New(opts.FallbackOptions),
		rootCtx:       ctx,
		rootCancel:    cancel,
	}
	o.batches = batch.NewScheduler(o.flushBatch, nil, opts.Logger)
	return o
}

// Subscribe registers a lifecycle-event observer.
func (o *Orchestrator) Subscribe(obs domain.Observer) {
	o.mu.Lock()
	o.observers = append(o.observers, obs)
	o.mu.Unlock()
}

func (o *Orchestrator) emit(ev domain.Event) {
	o.mu.Lock()
	observers := make([]domain.Observer, len(o.observers))
	copy(observers, o.observers)
	o.mu.Unlock()
	for _, obs := range observers {
		obs.Notify(ev)
	}
}

// CreateQueue validates and stores the queue's configuration, then starts
// consuming. When the broker is missing or unreachable the queue starts
// degraded on the fallback in-memory queue.
func (o *Orchestrator) CreateQueue(ctx context.Context, cfg *config.QueueTypeConfig) error {
	if err := o.configs.Update(cfg); err != nil {
		return err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return errors.New("orchestrator is shut down")
	}
	if _, exists := o.queues[cfg.QueueType]; exists {
		o.mu.Unlock()
		return nil // idempotent
	}
	q := &queueState{}
	o.queues[cfg.QueueType] = q
	o.mu.Unlock()

	// The fallback handler is registered up front so a mid-flight broker
	// outage can swap queues over without racing handler registration.
	o.fallback.RegisterHandler(cfg.QueueType, o.fallbackHandler)

	if o.broker == nil || o.broker.Ping(ctx) != nil {
		o.activateFallback(cfg.QueueType, q)
		return nil
	}

	// Zero mode is modeBroker.
	o.startConsumer(cfg.QueueType, q, cfg.Concurrency)
	o.logger.Info("queue created", "queue_type", cfg.QueueType, "concurrency", cfg.Concurrency)
	return nil
}

// startConsumer launches the broker consume loop for a queue. Caller must
// hold no lock that Consume's worker function needs.
func (o *Orchestrator) startConsumer(queueType string, q *queueState, concurrency int) {
	ctx, cancel := context.WithCancel(o.rootCtx)
	done := make(chan struct{})
	o.mu.Lock()
	q.consumeCancel = cancel
	q.consumeDone = done
	o.mu.Unlock()

	go func() {
		defer close(done)
		err := o.broker.Consume(ctx, queueType, concurrency, o.handleDelivery)
		if err != nil && ctx.Err() == nil {
			o.logger.Error("consumer stopped with error", "queue_type", queueType, "error", err)
			var unavailable *domain.BrokerUnavailableError
			if errors.As(err, &unavailable) {
				o.mu.Lock()
				state, ok := o.queues[queueType]
				stillBroker := ok && state.mode == modeBroker
				o.mu.Unlock()
				if stillBroker {
					o.activateFallback(queueType, state)
				}
			}
		}
	}()
}

func (o *Orchestrator) stopConsumer(q *queueState) {
	o.mu.Lock()
	cancel, done := q.consumeCancel, q.consumeDone
	q.consumeCancel, q.consumeDone = nil, nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// activateFallback flips the queue to the in-memory path and makes sure
// the recovery probe is running. The broker consumer is retired
// asynchronously: this can be called from inside the consumer itself.
func (o *Orchestrator) activateFallback(queueType string, q *queueState) {
	o.mu.Lock()
	if q.mode == modeFallback {
		o.mu.Unlock()
		return
	}
	q.mode = modeFallback
	o.mu.Unlock()

	go o.stopConsumer(q)

	telemetry.FallbackActivations.Inc()
	o.logger.Warn("broker unreachable, queue degraded to in-memory fallback", "queue_type", queueType)
	o.ensureProbeLoop()
}

// ensureProbeLoop starts the broker-recovery probe goroutine. One loop per
// orchestrator lifetime; it idles once every queue is back on the broker.
func (o *Orchestrator) ensureProbeLoop() {
	if o.broker == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.probeStarted {
		return
	}
	o.probeStarted = true
	o.probeWG.Add(1)
	go o.probeLoop()
}

func (o *Orchestrator) probeLoop() {
	defer o.probeWG.Done()
	ticker := time.NewTicker(o.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.rootCtx.Done():
			return
		case <-ticker.C:
			o.tryRecover()
		}
	}
}

// tryRecover moves every degraded queue back onto the broker once a ping
// succeeds. Jobs already accepted by the fallback queue drain locally.
func (o *Orchestrator) tryRecover() {
	ctx, cancel := context.WithTimeout(o.rootCtx, 5*time.Second)
	defer cancel()
	if err := o.broker.Ping(ctx); err != nil {
		return
	}

	o.mu.Lock()
	var degraded []string
	for qt, q := range o.queues {
		if q.mode == modeFallback {
			degraded = append(degraded, qt)
		}
	}
	o.mu.Unlock()

	for _, qt := range degraded {
		cfg := o.configs.Get(qt)
		o.mu.Lock()
		q, ok := o.queues[qt]
		if !ok || q.mode != modeFallback {
			o.mu.Unlock()
			continue
		}
		q.mode = modeBroker
		paused := q.paused
		o.mu.Unlock()

		if !paused {
			o.startConsumer(qt, q, cfg.Concurrency)
		}
		o.logger.Info("broker recovered, queue restored", "queue_type", qt)
	}
}

// Pause stops delivery for the queue. In-flight jobs finish normally.
func (o *Orchestrator) Pause(queueType string) error {
	o.mu.Lock()
	q, ok := o.queues[queueType]
	if !ok {
		o.mu.Unlock()
		return errors.New("queue not created: " + queueType)
	}
	if q.paused {
		o.mu.Unlock()
		return nil
	}
	q.paused = true
	mode := q.mode
	o.mu.Unlock()

	if mode == modeBroker {
		o.stopConsumer(q)
	} else {
		o.fallback.Pause()
	}
	o.logger.Info("queue paused", "queue_type", queueType)
	return nil
}

// Resume restarts delivery after a Pause.
func (o *Orchestrator) Resume(queueType string) error {
	o.mu.Lock()
	q, ok := o.queues[queueType]
	if !ok {
		o.mu.Unlock()
		return errors.New("queue not created: " + queueType)
	}
	if !q.paused {
		o.mu.Unlock()
		return nil
	}
	q.paused = false
	mode := q.mode
	o.mu.Unlock()

	if mode == modeBroker {
		cfg := o.configs.Get(queueType)
		o.startConsumer(queueType, q, cfg.Concurrency)
	} else {
		o.fallback.Resume()
	}
	o.logger.Info("queue resumed", "queue_type", queueType)
	return nil
}

// Clear drops jobs held by the fallback queue. Broker-resident jobs are
// durable by design and cannot be cleared here.
func (o *Orchestrator) Clear(queueType string) error {
	o.mu.Lock()
	_, ok := o.queues[queueType]
	o.mu.Unlock()
	if !ok {
		return errors.New("queue not created: " + queueType)
	}
	o.fallback.Clear()
	o.logger.Info("queue cleared", "queue_type", queueType)
	return nil
}

// Shutdown stops consumers, drains pending batches and the fallback queue,
// then releases the probe loop. Safe to call once.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	queues := make([]*queueState, 0, len(o.queues))
	for _, q := range o.queues {
		queues = append(queues, q)
	}
	o.mu.Unlock()

	for _, q := range queues {
		o.stopConsumer(q)
	}

	o.batches.Drain(ctx)

	timeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	o.fallback.Shutdown(timeout)

	o.rootCancel()
	o.probeWG.Wait()
	o.logger.Info("orchestrator shut down")
	return nil
}
