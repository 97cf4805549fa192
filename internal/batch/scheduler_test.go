package batch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queueforge/queueforge/internal/batch"
	"github.com/queueforge/queueforge/internal/config"
	"github.com/queueforge/queueforge/internal/domain"
)

type recordedFlush struct {
	queueType string
	kind      string
	jobIDs    []string
}

// recorder collects flushes behind a mutex for assertions.
type recorder struct {
	mu      sync.Mutex
	flushes []recordedFlush
	stats   []batch.FlushStats
	errs    []error // per-job errors to report, nil means all succeed
}

func (r *recorder) flusher(_ context.Context, queueType, kind string, jobs []*domain.Job) batch.FlushOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	r.flushes = append(r.flushes, recordedFlush{queueType: queueType, kind: kind, jobIDs: ids})

	errs := make([]error, len(jobs))
	copy(errs, r.errs)
	return batch.FlushOutcome{Errs: errs}
}

func (r *recorder) onFlush(s batch.FlushStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = append(r.stats, s)
}

func (r *recorder) flushCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flushes)
}

func batchCfg(maxSize int, timeout time.Duration) *config.QueueTypeConfig {
	cfg := config.Default("etl")
	cfg.Batch = config.BatchConfig{Enabled: true, MaxSize: maxSize, Timeout: timeout}
	return cfg
}

func mkJob(id, kind string) *domain.Job {
	return &domain.Job{ID: id, QueueType: "etl", Kind: kind, Status: domain.StatusPending}
}

func TestAdd_FlushesOnSize(t *testing.T) {
	rec := &recorder{}
	s := batch.NewScheduler(rec.flusher, rec.onFlush, nil)
	cfg := batchCfg(3, time.Hour) // timer never fires in this test

	s.Add(context.Background(), mkJob("a", "export"), cfg)
	s.Add(context.Background(), mkJob("b", "export"), cfg)
	assert.Equal(t, 0, rec.flushCount(), "below max size, nothing flushes")
	assert.Equal(t, 2, s.Pending("etl", "export"))

	s.Add(context.Background(), mkJob("c", "export"), cfg)

	require.Equal(t, 1, rec.flushCount())
	assert.Equal(t, []string{"a", "b", "c"}, rec.flushes[0].jobIDs, "arrival order preserved")
	assert.Equal(t, 0, s.Pending("etl", "export"))
	assert.Equal(t, "size", rec.stats[0].Trigger)
}

func TestAdd_FlushesPartialBatchOnTimeout(t *testing.T) {
	rec := &recorder{}
	s := batch.NewScheduler(rec.flusher, rec.onFlush, nil)
	cfg := batchCfg(100, 20*time.Millisecond)

	s.Add(context.Background(), mkJob("a", "export"), cfg)
	s.Add(context.Background(), mkJob("b", "export"), cfg)

	assert.Eventually(t, func() bool { return rec.flushCount() == 1 }, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, rec.flushes[0].jobIDs)
	assert.Equal(t, "timeout", rec.stats[0].Trigger)
}

func TestAdd_NeverExceedsMaxSize(t *testing.T) {
	rec := &recorder{}
	s := batch.NewScheduler(rec.flusher, rec.onFlush, nil)
	cfg := batchCfg(2, time.Hour)

	for i := 0; i < 7; i++ {
		s.Add(context.Background(), mkJob(string(rune('a'+i)), "export"), cfg)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.flushes, 3)
	for _, f := range rec.flushes {
		assert.LessOrEqual(t, len(f.jobIDs), 2)
	}
}

func TestAdd_SeparateWindowsPerKindAndQueue(t *testing.T) {
	rec := &recorder{}
	s := batch.NewScheduler(rec.flusher, rec.onFlush, nil)
	cfg := batchCfg(2, time.Hour)

	s.Add(context.Background(), mkJob("a", "export"), cfg)
	s.Add(context.Background(), mkJob("b", "import"), cfg)
	assert.Equal(t, 0, rec.flushCount(), "different kinds accumulate independently")

	s.Add(context.Background(), mkJob("c", "export"), cfg)
	require.Equal(t, 1, rec.flushCount())
	assert.Equal(t, []string{"a", "c"}, rec.flushes[0].jobIDs)
	assert.Equal(t, 1, s.Pending("etl", "import"))
}

func TestFlushStats_CountsFailures(t *testing.T) {
	rec := &recorder{errs: []error{nil, errors.New("bad job")}}
	s := batch.NewScheduler(rec.flusher, rec.onFlush, nil)
	cfg := batchCfg(2, time.Hour)

	s.Add(context.Background(), mkJob("a", "export"), cfg)
	s.Add(context.Background(), mkJob("b", "export"), cfg)

	require.Equal(t, 1, rec.flushCount())
	stats := rec.stats[0]
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)
	assert.Greater(t, stats.Total, time.Duration(0))
}

func TestDrain_FlushesAllPendingWindows(t *testing.T) {
	rec := &recorder{}
	s := batch.NewScheduler(rec.flusher, rec.onFlush, nil)
	cfg := batchCfg(100, time.Hour)

	s.Add(context.Background(), mkJob("a", "export"), cfg)
	s.Add(context.Background(), mkJob("b", "import"), cfg)

	s.Drain(context.Background())

	assert.Equal(t, 2, rec.flushCount())
	assert.Equal(t, 0, s.Pending("etl", "export"))
	assert.Equal(t, 0, s.Pending("etl", "import"))
}

func TestAdd_ConcurrentProducers(t *testing.T) {
	rec := &recorder{}
	s := batch.NewScheduler(rec.flusher, rec.onFlush, nil)
	cfg := batchCfg(10, 50*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s.Add(context.Background(), mkJob(string(rune(n)), "export"), cfg)
		}(i)
	}
	wg.Wait()
	s.Drain(context.Background())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	total := 0
	for _, f := range rec.flushes {
		assert.LessOrEqual(t, len(f.jobIDs), 10)
		total += len(f.jobIDs)
	}
	assert.Equal(t, 100, total, "every job flushed exactly once")
}
