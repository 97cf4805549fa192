package config_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queueforge/queueforge/internal/config"
	"github.com/queueforge/queueforge/internal/domain"
)

func TestDefault_PassesValidation(t *testing.T) {
	cfg := config.Default("route-optimization")
	require.NoError(t, config.Validate(cfg))
	assert.Equal(t, "route-optimization", cfg.QueueType)
}

func TestValidate_ConcurrencyOutOfRange(t *testing.T) {
	cfg := config.Default("etl")
	cfg.Concurrency = 150

	err := config.Validate(cfg)
	require.Error(t, err)

	var vErr *domain.ConfigValidationError
	require.True(t, errors.As(err, &vErr), "expected ConfigValidationError, got %T", err)
	assert.Equal(t, "etl", vErr.QueueType)
	assert.Len(t, vErr.Fields, 1)
}

func TestValidate_CollectsEveryBadField(t *testing.T) {
	cfg := config.Default("etl")
	cfg.Concurrency = 0
	cfg.Retry.MaxAttempts = 11
	cfg.Retry.Strategy = "fibonacci"

	err := config.Validate(cfg)
	require.Error(t, err)

	var vErr *domain.ConfigValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Len(t, vErr.Fields, 3)
}

func TestValidate_BatchRangesOnlyWhenEnabled(t *testing.T) {
	cfg := config.Default("etl")
	cfg.Batch.Enabled = false
	cfg.Batch.MaxSize = 0 // would be invalid if batching were on
	require.NoError(t, config.Validate(cfg))

	cfg.Batch.Enabled = true
	require.Error(t, config.Validate(cfg))
}

func TestBuilder_BuildsValidatedConfig(t *testing.T) {
	cfg, err := config.NewBuilder("notifications").
		Concurrency(10).
		Retry(5, 2*time.Second, config.RetryLinear).
		Batching(25, time.Second).
		Caching(30*time.Minute, true).
		Build()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Concurrency)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, config.RetryLinear, cfg.Retry.Strategy)
	assert.True(t, cfg.Batch.Enabled)
	assert.Equal(t, 25, cfg.Batch.MaxSize)
	assert.True(t, cfg.Cache.Deduplicate)
}

func TestBuilder_RejectsOutOfRange(t *testing.T) {
	_, err := config.NewBuilder("notifications").Concurrency(150).Build()
	require.Error(t, err)

	var vErr *domain.ConfigValidationError
	assert.True(t, errors.As(err, &vErr))
}

func TestRegistry_GetReturnsIndependentCopy(t *testing.T) {
	reg := config.NewRegistry(nil)
	cfg, err := config.NewBuilder("etl").Concurrency(7).Build()
	require.NoError(t, err)
	require.NoError(t, reg.Update(cfg))

	got := reg.Get("etl")
	got.Concurrency = 99

	again := reg.Get("etl")
	assert.Equal(t, 7, again.Concurrency, "mutating a returned config must not affect the registry")
}

func TestRegistry_GetUnknownTypeFallsBackToDefault(t *testing.T) {
	reg := config.NewRegistry(nil)
	cfg := reg.Get("never-registered")
	require.NotNil(t, cfg)
	assert.Equal(t, "never-registered", cfg.QueueType)
	assert.NoError(t, config.Validate(cfg))
}

func TestRegistry_UpdateNotifiesObservers(t *testing.T) {
	reg := config.NewRegistry(nil)

	var mu sync.Mutex
	var events []domain.Event
	reg.Subscribe(domain.ObserverFunc(func(e domain.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}))

	cfg, err := config.NewBuilder("etl").Build()
	require.NoError(t, err)
	require.NoError(t, reg.Update(cfg))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventConfigChanged, events[0].Kind)
	assert.Equal(t, "etl", events[0].QueueType)
}

func TestRegistry_UpdateRejectsInvalid(t *testing.T) {
	reg := config.NewRegistry(nil)
	cfg := config.Default("etl")
	cfg.Concurrency = -1

	err := reg.Update(cfg)
	require.Error(t, err)
	assert.Empty(t, reg.GetAll())
}

func TestRegistry_ReloadLoopAppliesChangedConfigs(t *testing.T) {
	reg := config.NewRegistry(nil)
	base, err := config.NewBuilder("etl").Concurrency(3).Build()
	require.NoError(t, err)
	require.NoError(t, reg.Update(base))

	updated := base.Clone()
	updated.Concurrency = 9

	source := func(context.Context) ([]*config.QueueTypeConfig, error) {
		return []*config.QueueTypeConfig{updated}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.StartReloadLoop(ctx, source, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return reg.Get("etl").Concurrency == 9
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := config.NewRegistry(nil)
	cfg, err := config.NewBuilder("etl").Build()
	require.NoError(t, err)
	require.NoError(t, reg.Update(cfg))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); _ = reg.Update(cfg.Clone()) }()
		go func() { defer wg.Done(); _ = reg.Get("etl") }()
	}
	wg.Wait()
}
