package config

import (
	"fmt"
	"time"

	"github.com/queueforge/queueforge/internal/domain"
)

// RetryStrategy selects the backoff growth curve between attempts.
type RetryStrategy string

const (
	RetryExponential RetryStrategy = "exponential"
	RetryLinear      RetryStrategy = "linear"
)

// RetryPolicy bounds how often and how fast a failed job is retried.
type RetryPolicy struct {
	MaxAttempts int           `mapstructure:"max_attempts" json:"max_attempts"`
	BackoffBase time.Duration `mapstructure:"backoff_base" json:"backoff_base"`
	Strategy    RetryStrategy `mapstructure:"strategy" json:"strategy"`
}

// PerformanceConfig carries payload-optimization knobs.
type PerformanceConfig struct {
	CompressionThresholdBytes int `mapstructure:"compression_threshold_bytes" json:"compression_threshold_bytes"`
	MemoryLimitMB             int `mapstructure:"memory_limit_mb" json:"memory_limit_mb"`
}

// BatchConfig controls time/size-bounded batch accumulation.
type BatchConfig struct {
	Enabled bool          `mapstructure:"enabled" json:"enabled"`
	MaxSize int           `mapstructure:"max_size" json:"max_size"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// CacheConfig controls job-result caching.
type CacheConfig struct {
	Enabled     bool          `mapstructure:"enabled" json:"enabled"`
	ResultTTL   time.Duration `mapstructure:"result_ttl" json:"result_ttl"`
	Deduplicate bool          `mapstructure:"deduplicate" json:"deduplicate"`
}

// CleanupConfig controls removal of aged terminal jobs.
type CleanupConfig struct {
	RetentionWindow time.Duration `mapstructure:"retention_window" json:"retention_window"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval" json:"sweep_interval"`
}

// QueueTypeConfig is the validated, per-queue-type configuration record.
// Instances handed out by the Registry are defensive copies; callers may
// mutate them freely without affecting shared state.
type QueueTypeConfig struct {
	QueueType   string            `mapstructure:"queue_type" json:"queue_type"`
	Concurrency int               `mapstructure:"concurrency" json:"concurrency"`
	Priority    bool              `mapstructure:"priority" json:"priority"`
	Retry       RetryPolicy       `mapstructure:"retry" json:"retry"`
	Cleanup     CleanupConfig     `mapstructure:"cleanup" json:"cleanup"`
	Performance PerformanceConfig `mapstructure:"performance" json:"performance"`
	Batch       BatchConfig       `mapstructure:"batch" json:"batch"`
	Cache       CacheConfig       `mapstructure:"cache" json:"cache"`
}

// Clone returns an independent copy.
func (c *QueueTypeConfig) Clone() *QueueTypeConfig {
	cp := *c
	return &cp
}

// Declared field ranges. Validation is closed-interval on every numeric
// field; a value outside its range is fatal at build/update time.
const (
	MinConcurrency = 1
	MaxConcurrency = 100

	MinAttempts = 1
	MaxAttempts = 10

	MinBackoffBase = 100 * time.Millisecond
	MaxBackoffBase = 5 * time.Minute

	MinCompressionThreshold = 256
	MaxCompressionThreshold = 10 << 20 // 10 MB

	MinMemoryLimitMB = 16
	MaxMemoryLimitMB = 8192

	MinBatchSize = 1
	MaxBatchSize = 1000

	MinBatchTimeout = 10 * time.Millisecond
	MaxBatchTimeout = 10 * time.Minute

	MinResultTTL = time.Second
	MaxResultTTL = 24 * time.Hour

	MinRetention = time.Minute
	MaxRetention = 7 * 24 * time.Hour
)

// Validate checks every field against its declared range. A nil return
// means the config is safe to use.
func Validate(c *QueueTypeConfig) error {
	var fields []string

	add := func(format string, args ...any) {
		fields = append(fields, fmt.Sprintf(format, args...))
	}

	if c.QueueType == "" {
		add("queue_type must not be empty")
	}
	if c.Concurrency < MinConcurrency || c.Concurrency > MaxConcurrency {
		add("concurrency %d outside [%d,%d]", c.Concurrency, MinConcurrency, MaxConcurrency)
	}
	if c.Retry.MaxAttempts < MinAttempts || c.Retry.MaxAttempts > MaxAttempts {
		add("retry.max_attempts %d outside [%d,%d]", c.Retry.MaxAttempts, MinAttempts, MaxAttempts)
	}
	if c.Retry.BackoffBase < MinBackoffBase || c.Retry.BackoffBase > MaxBackoffBase {
		add("retry.backoff_base %s outside [%s,%s]", c.Retry.BackoffBase, MinBackoffBase, MaxBackoffBase)
	}
	if c.Retry.Strategy != RetryExponential && c.Retry.Strategy != RetryLinear {
		add("retry.strategy %q must be exponential or linear", c.Retry.Strategy)
	}
	if t := c.Performance.CompressionThresholdBytes; t < MinCompressionThreshold || t > MaxCompressionThreshold {
		add("performance.compression_threshold_bytes %d outside [%d,%d]", t, MinCompressionThreshold, MaxCompressionThreshold)
	}
	if m := c.Performance.MemoryLimitMB; m < MinMemoryLimitMB || m > MaxMemoryLimitMB {
		add("performance.memory_limit_mb %d outside [%d,%d]", m, MinMemoryLimitMB, MaxMemoryLimitMB)
	}
	if c.Batch.Enabled {
		if c.Batch.MaxSize < MinBatchSize || c.Batch.MaxSize > MaxBatchSize {
			add("batch.max_size %d outside [%d,%d]", c.Batch.MaxSize, MinBatchSize, MaxBatchSize)
		}
		if c.Batch.Timeout < MinBatchTimeout || c.Batch.Timeout > MaxBatchTimeout {
			add("batch.timeout %s outside [%s,%s]", c.Batch.Timeout, MinBatchTimeout, MaxBatchTimeout)
		}
	}
	if c.Cache.Enabled {
		if c.Cache.ResultTTL < MinResultTTL || c.Cache.ResultTTL > MaxResultTTL {
			add("cache.result_ttl %s outside [%s,%s]", c.Cache.ResultTTL, MinResultTTL, MaxResultTTL)
		}
	}
	if r := c.Cleanup.RetentionWindow; r != 0 && (r < MinRetention || r > MaxRetention) {
		add("cleanup.retention_window %s outside [%s,%s]", r, MinRetention, MaxRetention)
	}

	if len(fields) > 0 {
		return &domain.ConfigValidationError{QueueType: c.QueueType, Fields: fields}
	}
	return nil
}

// Default returns the baseline configuration for a queue type. The result
// always passes Validate.
func Default(queueType string) *QueueTypeConfig {
	return &QueueTypeConfig{
		QueueType:   queueType,
		Concurrency: 5,
		Retry: RetryPolicy{
			MaxAttempts: 3,
			BackoffBase: time.Second,
			Strategy:    RetryExponential,
		},
		Cleanup: CleanupConfig{
			RetentionWindow: time.Hour,
			SweepInterval:   5 * time.Minute,
		},
		Performance: PerformanceConfig{
			CompressionThresholdBytes: 1024,
			MemoryLimitMB:             512,
		},
		Batch: BatchConfig{
			Enabled: false,
			MaxSize: 50,
			Timeout: 5 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:     false,
			ResultTTL:   time.Hour,
			Deduplicate: false,
		},
	}
}
