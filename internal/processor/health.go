package processor

import (
	"context"
	"log/slog"
	"time"

	"github.com/queueforge/queueforge/internal/domain"
)

// Subscribe registers an observer for processor health events.
func (r *Registry) Subscribe(o domain.Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// StartHealthLoop probes every registered processor at the given interval.
// A probe error or non-response within probeTimeout flags the processor
// unhealthy and emits a notification event; it never aborts the loop.
// Processors without a health probe stay healthy. Blocks until ctx is
// cancelled.
func (r *Registry) StartHealthLoop(ctx context.Context, interval, probeTimeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run once immediately before waiting for the first tick.
	r.checkAll(ctx, probeTimeout)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.checkAll(ctx, probeTimeout)
		}
	}
}

func (r *Registry) checkAll(ctx context.Context, probeTimeout time.Duration) {
	r.mu.RLock()
	procs := make([]Processor, 0, len(r.byID))
	for _, p := range r.byID {
		procs = append(procs, p)
	}
	observers := make([]domain.Observer, len(r.observers))
	copy(observers, r.observers)
	r.mu.RUnlock()

	now := time.Now().UTC()
	for _, p := range procs {
		healthy := r.probe(ctx, p, probeTimeout)

		r.mu.RLock()
		stats := r.stats[p.ID()]
		r.mu.RUnlock()
		if stats == nil {
			continue // unregistered mid-check
		}

		stats.mu.Lock()
		wasHealthy := stats.healthy
		stats.healthy = healthy
		stats.lastHealthCheck = now
		stats.mu.Unlock()

		if wasHealthy && !healthy {
			r.logger.Warn("processor flagged unhealthy", slog.String("processor_id", p.ID()))
			ev := domain.Event{Kind: domain.EventProcessorUnhealthy, ProcessorID: p.ID(), At: now}
			for _, o := range observers {
				o.Notify(ev)
			}
		}
	}
}

// probe runs the processor's health check bounded by probeTimeout. A
// timeout counts as unhealthy, not as a crash.
func (r *Registry) probe(ctx context.Context, p Processor, probeTimeout time.Duration) bool {
	hc, ok := p.(HealthChecker)
	if !ok {
		return true
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- hc.HealthCheck(probeCtx) }()

	select {
	case err := <-done:
		if err != nil {
			r.logger.Warn("processor health probe failed",
				slog.String("processor_id", p.ID()),
				slog.String("error", err.Error()),
			)
			return false
		}
		return true
	case <-probeCtx.Done():
		timeoutErr := &domain.ComponentTimeoutError{Component: "processor:" + p.ID(), Timeout: probeTimeout}
		r.logger.Warn("processor health probe timed out", slog.String("error", timeoutErr.Error()))
		return false
	}
}
