package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/queueforge/queueforge/internal/domain"
)

func queueTopic(queueType string) string { return "jobs." + queueType }

// DLQTopic is where permanently failed jobs are published.
const DLQTopic = "jobs.dlq"

type queueCounts struct {
	waiting   atomic.Int64
	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// KafkaBroker implements Broker on Kafka topics, one topic per queue type.
// Delivery is at-least-once: offsets are committed only after the worker
// function returns nil.
type KafkaBroker struct {
	brokers []string
	writer  *kafka.Writer
	logger  *slog.Logger

	mu     sync.Mutex
	counts map[string]*queueCounts
}

// NewKafkaBroker creates a broker connected to the given Kafka addresses.
func NewKafkaBroker(brokers []string, logger *slog.Logger) *KafkaBroker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{}, // route by key → deterministic partition
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		// Auto-create topics if they don't exist
		AllowAutoTopicCreation: true,
	}
	return &KafkaBroker{
		brokers: brokers,
		writer:  w,
		logger:  logger,
		counts:  make(map[string]*queueCounts),
	}
}

func (b *KafkaBroker) countsFor(queueType string) *queueCounts {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.counts[queueType]
	if !ok {
		c = &queueCounts{}
		b.counts[queueType] = c
	}
	return c
}

// Publish serializes the job and writes it to the queue's topic, injecting
// the active trace context into message headers so consumers can continue
// the trace.
func (b *KafkaBroker) Publish(ctx context.Context, queueType string, job *domain.Job) error {
	value, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}

	headers := make(HeaderCarrier, 0)
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	err = b.writer.WriteMessages(ctx, kafka.Message{
		Topic:   queueTopic(queueType),
		Key:     []byte(job.ID),
		Value:   value,
		Headers: []kafka.Header(headers),
		Time:    time.Now(),
	})
	if err != nil {
		return &domain.BrokerUnavailableError{Err: fmt.Errorf("publish to %s: %w", queueTopic(queueType), err)}
	}
	b.countsFor(queueType).waiting.Add(1)
	return nil
}

// Consume runs up to concurrency reader loops in the queue's consumer
// group, handing each delivered job to fn. Blocks until ctx is cancelled.
func (b *KafkaBroker) Consume(ctx context.Context, queueType string, concurrency int, fn WorkerFunc) error {
	if concurrency < 1 {
		concurrency = 1
	}

	var wg sync.WaitGroup
	errCh := make(chan error, concurrency)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.consumeLoop(ctx, queueType, fn); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func (b *KafkaBroker) consumeLoop(ctx context.Context, queueType string, fn WorkerFunc) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        b.brokers,
		Topic:          queueTopic(queueType),
		GroupID:        "queueforge-" + queueType,
		MinBytes:       1,
		MaxBytes:       10e6, // 10 MB
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0, // manual commit only
		StartOffset:    kafka.FirstOffset,
	})
	defer func() { _ = reader.Close() }()

	counts := b.countsFor(queueType)

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil // normal shutdown
			}
			return &domain.BrokerUnavailableError{Err: fmt.Errorf("kafka fetch: %w", err)}
		}

		var job domain.Job
		if err := json.Unmarshal(m.Value, &job); err != nil {
			b.logger.Error("malformed job message, discarding",
				slog.String("error", err.Error()),
				slog.String("raw", string(m.Value)),
			)
			_ = reader.CommitMessages(ctx, m)
			continue
		}

		// Extract any trace context injected by the producer into the
		// message headers.
		carrier := HeaderCarrier(m.Headers)
		msgCtx := otel.GetTextMapPropagator().Extract(ctx, &carrier)

		counts.waiting.Add(-1)
		counts.active.Add(1)
		handlerErr := fn(msgCtx, &job)
		counts.active.Add(-1)

		if handlerErr != nil {
			// Do NOT commit — Kafka will re-deliver on restart.
			counts.failed.Add(1)
			b.logger.Error("job handler failed, skipping commit",
				slog.String("job_id", job.ID),
				slog.Int64("offset", m.Offset),
				slog.String("error", handlerErr.Error()),
			)
			continue
		}

		counts.completed.Add(1)
		if err := reader.CommitMessages(ctx, m); err != nil {
			b.logger.Error("failed to commit kafka offset",
				slog.String("topic", m.Topic),
				slog.Int64("offset", m.Offset),
				slog.String("error", err.Error()),
			)
		}
	}
}

// PublishDeadLetter records a permanently failed job on the DLQ topic.
func (b *KafkaBroker) PublishDeadLetter(ctx context.Context, job *domain.Job) error {
	value, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal dead letter %s: %w", job.ID, err)
	}
	err = b.writer.WriteMessages(ctx, kafka.Message{
		Topic: DLQTopic,
		Key:   []byte(job.ID),
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("publish dead letter %s: %w", job.ID, err)
	}
	return nil
}

// Counts reports the broker-side job populations tracked for the queue.
func (b *KafkaBroker) Counts(_ context.Context, queueType string) (Counts, error) {
	c := b.countsFor(queueType)
	return Counts{
		Waiting:   c.waiting.Load(),
		Active:    c.active.Load(),
		Completed: c.completed.Load(),
		Failed:    c.failed.Load(),
	}, nil
}

// Ping dials the first broker address to verify reachability.
func (b *KafkaBroker) Ping(ctx context.Context) error {
	if len(b.brokers) == 0 {
		return &domain.BrokerUnavailableError{Err: fmt.Errorf("no broker addresses configured")}
	}
	conn, err := kafka.DialContext(ctx, "tcp", b.brokers[0])
	if err != nil {
		return &domain.BrokerUnavailableError{Err: err}
	}
	return conn.Close()
}

func (b *KafkaBroker) Close() error {
	return b.writer.Close()
}
