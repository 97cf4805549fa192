package config

import "time"

// Builder assembles a QueueTypeConfig field by field, starting from the
// defaults for the queue type. Build validates the result; an invalid
// config is never returned.
type Builder struct {
	cfg *QueueTypeConfig
}

// NewBuilder starts a builder seeded with Default(queueType).
func NewBuilder(queueType string) *Builder {
	return &Builder{cfg: Default(queueType)}
}

func (b *Builder) Concurrency(n int) *Builder {
	b.cfg.Concurrency = n
	return b
}

func (b *Builder) Priority(enabled bool) *Builder {
	b.cfg.Priority = enabled
	return b
}

func (b *Builder) Retry(maxAttempts int, backoffBase time.Duration, strategy RetryStrategy) *Builder {
	b.cfg.Retry = RetryPolicy{MaxAttempts: maxAttempts, BackoffBase: backoffBase, Strategy: strategy}
	return b
}

func (b *Builder) Cleanup(retention, sweepInterval time.Duration) *Builder {
	b.cfg.Cleanup = CleanupConfig{RetentionWindow: retention, SweepInterval: sweepInterval}
	return b
}

func (b *Builder) CompressionThreshold(bytes int) *Builder {
	b.cfg.Performance.CompressionThresholdBytes = bytes
	return b
}

func (b *Builder) MemoryLimitMB(mb int) *Builder {
	b.cfg.Performance.MemoryLimitMB = mb
	return b
}

func (b *Builder) Batching(maxSize int, timeout time.Duration) *Builder {
	b.cfg.Batch = BatchConfig{Enabled: true, MaxSize: maxSize, Timeout: timeout}
	return b
}

func (b *Builder) Caching(resultTTL time.Duration, deduplicate bool) *Builder {
	b.cfg.Cache = CacheConfig{Enabled: true, ResultTTL: resultTTL, Deduplicate: deduplicate}
	return b
}

// Build validates and returns the assembled config. Returns a
// *domain.ConfigValidationError if any field is outside its range.
func (b *Builder) Build() (*QueueTypeConfig, error) {
	if err := Validate(b.cfg); err != nil {
		return nil, err
	}
	return b.cfg.Clone(), nil
}
