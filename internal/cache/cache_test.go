package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queueforge/queueforge/internal/cache"
)

func TestResultKey_Deterministic(t *testing.T) {
	a := cache.ResultKey("etl", "export", []byte("payload"))
	b := cache.ResultKey("etl", "export", []byte("payload"))
	assert.Equal(t, a, b)
}

func TestResultKey_SensitiveToEveryField(t *testing.T) {
	base := cache.ResultKey("etl", "export", []byte("payload"))

	assert.NotEqual(t, base, cache.ResultKey("reports", "export", []byte("payload")))
	assert.NotEqual(t, base, cache.ResultKey("etl", "import", []byte("payload")))
	assert.NotEqual(t, base, cache.ResultKey("etl", "export", []byte("payloaD")))
}

func TestResultKey_NoConcatenationCollisions(t *testing.T) {
	// Without length prefixes these two would hash the same bytes.
	a := cache.ResultKey("ab", "c", []byte("d"))
	b := cache.ResultKey("a", "bc", []byte("d"))
	assert.NotEqual(t, a, b)
}

func TestMemoryStore_SetGetDel(t *testing.T) {
	ctx := context.Background()
	m := cache.NewMemoryStore()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 0))
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, m.Del(ctx, "k"))
	_, err = m.Get(ctx, "k")
	assert.True(t, errors.Is(err, cache.ErrMiss))
}

func TestMemoryStore_TTLExpires(t *testing.T) {
	ctx := context.Background()
	m := cache.NewMemoryStore()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 10*time.Millisecond))

	_, err := m.Get(ctx, "k")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := m.Get(ctx, "k")
		return errors.Is(err, cache.ErrMiss)
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := cache.NewMemoryStore()
	require.NoError(t, m.Set(ctx, "k", []byte("abc"), 0))

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	got[0] = 'X'

	again, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again, "mutating a returned value must not corrupt the store")
}
