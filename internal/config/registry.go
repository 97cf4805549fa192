package config

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/queueforge/queueforge/internal/domain"
)

// Registry holds the validated configuration for every known queue type.
// All accessors return defensive copies so callers can never mutate shared
// state. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	configs   map[string]*QueueTypeConfig
	observers []domain.Observer
	logger    *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		configs: make(map[string]*QueueTypeConfig),
		logger:  logger,
	}
}

// Get returns a copy of the config for queueType. Unknown types resolve to
// the built-in defaults without being registered.
func (r *Registry) Get(queueType string) *QueueTypeConfig {
	r.mu.RLock()
	cfg, ok := r.configs[queueType]
	r.mu.RUnlock()
	if !ok {
		return Default(queueType)
	}
	return cfg.Clone()
}

// GetAll returns copies of every registered config, keyed by queue type.
func (r *Registry) GetAll() map[string]*QueueTypeConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*QueueTypeConfig, len(r.configs))
	for k, v := range r.configs {
		out[k] = v.Clone()
	}
	return out
}

// Update re-validates and stores cfg under its queue type, then notifies
// observers. Returns *domain.ConfigValidationError on bad fields.
func (r *Registry) Update(cfg *QueueTypeConfig) error {
	if err := Validate(cfg); err != nil {
		return err
	}

	r.mu.Lock()
	r.configs[cfg.QueueType] = cfg.Clone()
	observers := make([]domain.Observer, len(r.observers))
	copy(observers, r.observers)
	r.mu.Unlock()

	r.logger.Info("queue configuration updated",
		slog.String("queue_type", cfg.QueueType),
		slog.Int("concurrency", cfg.Concurrency),
		slog.Bool("batching", cfg.Batch.Enabled),
		slog.Bool("caching", cfg.Cache.Enabled),
	)

	ev := domain.Event{Kind: domain.EventConfigChanged, QueueType: cfg.QueueType, At: time.Now().UTC()}
	for _, o := range observers {
		o.Notify(ev)
	}
	return nil
}

// Subscribe registers an observer for config-change events.
func (r *Registry) Subscribe(o domain.Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Source supplies externally-updated configs for hot reload. No concrete
// external source is mandated here; the CLI wires a viper-backed one.
type Source func(ctx context.Context) ([]*QueueTypeConfig, error)

// StartReloadLoop polls source at the given interval and applies any config
// that differs from the stored one. Invalid configs are logged and skipped,
// never applied. Blocks until ctx is cancelled.
func (r *Registry) StartReloadLoop(ctx context.Context, source Source, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reload(ctx, source)
		}
	}
}

func (r *Registry) reload(ctx context.Context, source Source) {
	configs, err := source(ctx)
	if err != nil {
		r.logger.Error("config reload source failed", slog.String("error", err.Error()))
		return
	}
	for _, cfg := range configs {
		if r.unchanged(cfg) {
			continue
		}
		if err := r.Update(cfg); err != nil {
			r.logger.Error("rejected reloaded config",
				slog.String("queue_type", cfg.QueueType),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (r *Registry) unchanged(cfg *QueueTypeConfig) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	current, ok := r.configs[cfg.QueueType]
	return ok && *current == *cfg
}
