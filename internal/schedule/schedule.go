// Package schedule fires recurring enqueues from cron expressions. With a
// Redis client configured, instances elect a leader so a schedule entry
// fires once per cluster, not once per process.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/queueforge/queueforge/internal/domain"
)

const (
	leaderKey            = "queueforge:schedule:leader"
	leaderTTL            = 30 * time.Second
	defaultCheckInterval = 15 * time.Second
)

// Enqueuer accepts jobs from fired schedule entries. The orchestrator
// satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueType string, payload []byte, opts domain.EnqueueOptions) (string, error)
}

// Entry is one recurring enqueue definition.
type Entry struct {
	ID        string                `json:"id"`
	Name      string                `json:"name"`
	CronExpr  string                `json:"cron_expr"`
	QueueType string                `json:"queue_type"`
	Payload   []byte                `json:"payload"`
	Opts      domain.EnqueueOptions `json:"-"`
	Enabled   bool                  `json:"enabled"`
	LastRunAt *time.Time            `json:"last_run_at,omitempty"`
	NextRunAt *time.Time            `json:"next_run_at,omitempty"`

	schedule cron.Schedule
}

// Scheduler owns the entry set and the firing loop.
type Scheduler struct {
	enqueuer   Enqueuer
	redis      *redis.Client // nil: single-instance, always leader
	instanceID string
	interval   time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*Entry
}

// Options tune the scheduler. Redis is optional.
type Options struct {
	Redis         *redis.Client
	CheckInterval time.Duration
	Logger        *slog.Logger
}

// New creates a Scheduler feeding the given enqueuer.
func New(enqueuer Enqueuer, opts Options) *Scheduler {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = defaultCheckInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		enqueuer:   enqueuer,
		redis:      opts.Redis,
		instanceID: uuid.New().String(),
		interval:   opts.CheckInterval,
		logger:     opts.Logger.With("component", "schedule"),
		now:        time.Now,
		entries:    make(map[string]*Entry),
	}
}

// Add registers a recurring enqueue. The cron expression uses the standard
// five-field format.
func (s *Scheduler) Add(name, cronExpr, queueType string, payload []byte, opts domain.EnqueueOptions) (*Entry, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", cronExpr, err)
	}

	next := schedule.Next(s.now().UTC())
	e := &Entry{
		ID:        uuid.New().String(),
		Name:      name,
		CronExpr:  cronExpr,
		QueueType: queueType,
		Payload:   payload,
		Opts:      opts,
		Enabled:   true,
		NextRunAt: &next,
		schedule:  schedule,
	}

	s.mu.Lock()
	s.entries[e.ID] = e
	s.mu.Unlock()

	s.logger.Info("schedule entry added",
		slog.String("name", name),
		slog.String("cron", cronExpr),
		slog.String("queue_type", queueType),
		slog.Time("next_run", next),
	)
	cp := *e
	return &cp, nil
}

// Remove deletes an entry.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return fmt.Errorf("schedule entry %q not found", id)
	}
	delete(s.entries, id)
	return nil
}

// SetEnabled toggles an entry without losing its schedule position.
func (s *Scheduler) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("schedule entry %q not found", id)
	}
	e.Enabled = enabled
	return nil
}

// Entries returns a snapshot of all entries.
func (s *Scheduler) Entries() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		cp := *e
		out = append(out, &cp)
	}
	return out
}

// Run is the firing loop: leadership check, then fire due entries. Runs
// once immediately, then on every tick. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.isLeader(ctx) {
		return
	}
	s.fireDue(ctx)
}

// isLeader attempts SETNX, renewing with an atomic Lua script when the key
// already exists. Without Redis this instance is trivially the leader.
func (s *Scheduler) isLeader(ctx context.Context) bool {
	if s.redis == nil {
		return true
	}

	ok, err := s.redis.SetNX(ctx, leaderKey, s.instanceID, leaderTTL).Result()
	if err != nil {
		s.logger.Error("leader election SetNX", slog.String("error", err.Error()))
		return false
	}
	if ok {
		s.logger.Info("acquired schedule leadership", slog.String("instance_id", s.instanceID))
		return true
	}

	renewScript := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)
	result, err := renewScript.Run(
		ctx, s.redis,
		[]string{leaderKey},
		s.instanceID,
		leaderTTL.Milliseconds(),
	).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Error("leader renewal", slog.String("error", err.Error()))
		return false
	}
	return result == 1
}

// fireDue enqueues every enabled entry whose next run time has passed and
// advances its schedule. An enqueue failure leaves the entry due so the
// next tick retries it.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := s.now().UTC()

	s.mu.Lock()
	var due []*Entry
	for _, e := range s.entries {
		if e.Enabled && e.NextRunAt != nil && !e.NextRunAt.After(now) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		jobID, err := s.enqueuer.Enqueue(ctx, e.QueueType, e.Payload, e.Opts)
		if err != nil {
			s.logger.Error("scheduled enqueue failed",
				slog.String("entry", e.Name),
				slog.String("queue_type", e.QueueType),
				slog.String("error", err.Error()),
			)
			continue
		}

		next := e.schedule.Next(now)
		s.mu.Lock()
		last := now
		e.LastRunAt = &last
		e.NextRunAt = &next
		s.mu.Unlock()

		s.logger.Info("schedule entry fired",
			slog.String("entry", e.Name),
			slog.String("job_id", jobID),
			slog.String("queue_type", e.QueueType),
			slog.Time("next_run", next),
		)
	}
}
