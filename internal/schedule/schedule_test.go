package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queueforge/queueforge/internal/domain"
)

type recordingEnqueuer struct {
	mu    sync.Mutex
	calls []string // queue types, in order
	fail  bool
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, queueType string, _ []byte, _ domain.EnqueueOptions) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return "", errors.New("enqueue rejected")
	}
	r.calls = append(r.calls, queueType)
	return "job-1", nil
}

func (r *recordingEnqueuer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestScheduler(enq Enqueuer) *Scheduler {
	return New(enq, Options{
		CheckInterval: time.Hour, // ticks driven manually in tests
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestAdd_ComputesNextRun(t *testing.T) {
	s := newTestScheduler(&recordingEnqueuer{})

	e, err := s.Add("hourly export", "0 * * * *", "export", []byte("{}"), domain.EnqueueOptions{})
	require.NoError(t, err)
	require.NotNil(t, e.NextRunAt)
	assert.True(t, e.NextRunAt.After(time.Now().UTC().Add(-time.Minute)))
	assert.True(t, e.Enabled)
	assert.Len(t, s.Entries(), 1)
}

func TestAdd_RejectsBadCron(t *testing.T) {
	s := newTestScheduler(&recordingEnqueuer{})
	_, err := s.Add("bad", "not a cron", "export", nil, domain.EnqueueOptions{})
	assert.Error(t, err)
}

func TestTick_FiresDueEntryAndAdvances(t *testing.T) {
	enq := &recordingEnqueuer{}
	s := newTestScheduler(enq)

	clock := time.Date(2026, 8, 25, 11, 59, 30, 0, time.UTC)
	s.now = func() time.Time { return clock }

	_, err := s.Add("noon job", "0 12 * * *", "export", []byte("{}"), domain.EnqueueOptions{})
	require.NoError(t, err)

	// Before noon: nothing due.
	s.tick(context.Background())
	assert.Equal(t, 0, enq.count())

	clock = time.Date(2026, 8, 25, 12, 0, 5, 0, time.UTC)
	s.tick(context.Background())
	require.Equal(t, 1, enq.count())

	entry := s.Entries()[0]
	require.NotNil(t, entry.LastRunAt)
	assert.Equal(t, clock, *entry.LastRunAt)
	require.NotNil(t, entry.NextRunAt)
	assert.Equal(t, time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC), *entry.NextRunAt)

	// Same tick window again: already advanced, nothing fires.
	s.tick(context.Background())
	assert.Equal(t, 1, enq.count())
}

func TestTick_DisabledEntryNeverFires(t *testing.T) {
	enq := &recordingEnqueuer{}
	s := newTestScheduler(enq)

	clock := time.Date(2026, 8, 25, 12, 0, 5, 0, time.UTC)
	s.now = func() time.Time { return clock }

	e, err := s.Add("noon job", "0 12 * * *", "export", nil, domain.EnqueueOptions{})
	require.NoError(t, err)
	require.NoError(t, s.SetEnabled(e.ID, false))

	clock = clock.Add(24 * time.Hour)
	s.tick(context.Background())
	assert.Equal(t, 0, enq.count())
}

func TestTick_FailedEnqueueStaysDue(t *testing.T) {
	enq := &recordingEnqueuer{fail: true}
	s := newTestScheduler(enq)

	clock := time.Date(2026, 8, 25, 12, 0, 5, 0, time.UTC)
	s.now = func() time.Time { return clock }

	_, err := s.Add("noon job", "0 12 * * *", "export", nil, domain.EnqueueOptions{})
	require.NoError(t, err)

	clock = clock.Add(24 * time.Hour)
	s.tick(context.Background())

	entry := s.Entries()[0]
	assert.Nil(t, entry.LastRunAt, "a failed enqueue must not advance the schedule")

	// Once the enqueuer recovers, the next tick fires it.
	enq.mu.Lock()
	enq.fail = false
	enq.mu.Unlock()
	s.tick(context.Background())
	assert.Equal(t, 1, enq.count())
}

func TestRemove(t *testing.T) {
	s := newTestScheduler(&recordingEnqueuer{})
	e, err := s.Add("job", "* * * * *", "export", nil, domain.EnqueueOptions{})
	require.NoError(t, err)

	require.NoError(t, s.Remove(e.ID))
	assert.Empty(t, s.Entries())
	assert.Error(t, s.Remove(e.ID))
}

func TestRun_FiresOnLoop(t *testing.T) {
	enq := &recordingEnqueuer{}
	s := New(enq, Options{
		CheckInterval: 10 * time.Millisecond,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	_, err := s.Add("every minute", "* * * * *", "export", nil, domain.EnqueueOptions{})
	require.NoError(t, err)

	// Make the entry due immediately.
	past := time.Now().UTC().Add(-time.Second)
	s.mu.Lock()
	for _, e := range s.entries {
		e.NextRunAt = &past
	}
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	assert.Eventually(t, func() bool { return enq.count() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
