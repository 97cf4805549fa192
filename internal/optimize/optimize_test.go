package optimize_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queueforge/queueforge/internal/domain"
	"github.com/queueforge/queueforge/internal/optimize"
)

func TestOptimize_SmallPayloadPassesThrough(t *testing.T) {
	opt := optimize.New(1024)
	data := []byte("tiny")

	res, err := opt.Optimize(data)
	require.NoError(t, err)
	assert.False(t, res.Compressed)
	assert.Equal(t, data, res.Payload)
	assert.Equal(t, len(data), res.OriginalSize)
	assert.Equal(t, 0, res.SavedBytes())
}

func TestOptimize_CompressibleLargePayload(t *testing.T) {
	opt := optimize.New(1024)
	data := bytes.Repeat([]byte("abcdefgh"), 1024) // 8 KB, highly compressible

	res, err := opt.Optimize(data)
	require.NoError(t, err)
	assert.True(t, res.Compressed)
	assert.Less(t, res.OptimizedSize, res.OriginalSize)
	assert.Greater(t, res.SavedBytes(), 0)

	restored, err := opt.Restore(res.Payload, res.Compressed)
	require.NoError(t, err)
	assert.Equal(t, data, restored)
}

func TestOptimize_IncompressiblePayloadKeptRaw(t *testing.T) {
	opt := optimize.New(1024)
	data := make([]byte, 8192)
	_, err := rand.Read(data)
	require.NoError(t, err)

	// Random bytes don't compress below 80% of the original; the raw
	// payload must be kept.
	res, err := opt.Optimize(data)
	require.NoError(t, err)
	assert.False(t, res.Compressed)
	assert.Equal(t, data, res.Payload)
}

func TestRestore_UncompressedPassesThrough(t *testing.T) {
	opt := optimize.New(1024)
	data := []byte("plain")

	restored, err := opt.Restore(data, false)
	require.NoError(t, err)
	assert.Equal(t, data, restored)
}

func TestRestore_CorruptPayloadSurfacesError(t *testing.T) {
	opt := optimize.New(1024)

	_, err := opt.Restore([]byte("not gzip at all"), true)
	require.Error(t, err)
}

func jobWithPayload(n int) *domain.Job {
	return &domain.Job{Payload: make([]byte, n)}
}

func TestOptimalBatchSize_NoSamplesIsConservative(t *testing.T) {
	opt := optimize.New(1024)
	assert.Equal(t, optimize.MinBatchSize, opt.OptimalBatchSize(nil, 512))
}

func TestOptimalBatchSize_ClampsToBounds(t *testing.T) {
	opt := optimize.New(1024)

	// Tiny payloads with lots of memory → memory bound is enormous,
	// clamped to the max.
	small := []*domain.Job{jobWithPayload(64), jobWithPayload(64)}
	assert.Equal(t, optimize.MaxBatchSize, opt.OptimalBatchSize(small, 1024))

	// Huge payloads with almost no memory → clamped to the min.
	huge := []*domain.Job{jobWithPayload(4 << 20)}
	assert.Equal(t, optimize.MinBatchSize, opt.OptimalBatchSize(huge, 16))
}

func TestOptimalBatchSize_ComplexityDiscountHalves(t *testing.T) {
	opt := optimize.New(1024)

	// 16 KB payloads cross the 10 KB complexity threshold.
	// perJob = 2 × 16384 = 32768 bytes; 4 MB / 32768 = 128 → ×0.5 = 64.
	jobs := []*domain.Job{jobWithPayload(16384)}
	assert.Equal(t, 64, opt.OptimalBatchSize(jobs, 4))

	// Same memory with 8 KB payloads stays under the threshold:
	// perJob = 16384; 4 MB / 16384 = 256 → clamped to 100.
	jobs = []*domain.Job{jobWithPayload(8192)}
	assert.Equal(t, optimize.MaxBatchSize, opt.OptimalBatchSize(jobs, 4))
}
