package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/queueforge/queueforge/internal/config"
	"github.com/queueforge/queueforge/internal/domain"
)

// webhookPayload is the expected JSON structure in job.Payload.
type webhookPayload struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// WebhookProcessor delivers job payloads as outbound HTTP calls. The
// response body, capped at 64KB, becomes the job result.
type WebhookProcessor struct {
	queueTypes []string
	client     *http.Client
}

// NewWebhookProcessor creates a WebhookProcessor bound to the given queue
// types (default "webhook").
func NewWebhookProcessor(queueTypes ...string) *WebhookProcessor {
	if len(queueTypes) == 0 {
		queueTypes = []string{"webhook"}
	}
	return &WebhookProcessor{
		queueTypes: queueTypes,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *WebhookProcessor) ID() string           { return "builtin-webhook" }
func (p *WebhookProcessor) QueueTypes() []string { return p.queueTypes }

// ValidateJob rejects payloads that cannot possibly be delivered, before
// any retry budget is spent.
func (p *WebhookProcessor) ValidateJob(job *domain.Job) error {
	var wp webhookPayload
	if err := json.Unmarshal(job.Payload, &wp); err != nil {
		return fmt.Errorf("invalid webhook payload: %w", err)
	}
	if wp.URL == "" {
		return errors.New("webhook payload missing required field 'url'")
	}
	return nil
}

func (p *WebhookProcessor) Process(ctx context.Context, job *domain.Job, _ *config.QueueTypeConfig) ([]byte, error) {
	ctx, span := otel.Tracer("processor").Start(ctx, "processor.webhook")
	defer span.End()

	var wp webhookPayload
	if err := json.Unmarshal(job.Payload, &wp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid payload")
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	if wp.URL == "" {
		err := errors.New("webhook payload missing required field 'url'")
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing 'url' field")
		return nil, err
	}
	if wp.Method == "" {
		wp.Method = http.MethodPost
	}

	span.SetAttributes(
		attribute.String("webhook.url", wp.URL),
		attribute.String("webhook.method", wp.Method),
	)

	var bodyReader io.Reader
	if wp.Body != "" {
		bodyReader = strings.NewReader(wp.Body)
	}

	req, err := http.NewRequestWithContext(ctx, wp.Method, wp.URL, bodyReader)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request failed")
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	for k, v := range wp.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "http call failed")
		return nil, fmt.Errorf("webhook call to %s: %w", wp.URL, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("webhook %s returned status %d", wp.URL, resp.StatusCode)
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad status code")
		return nil, err
	}

	result, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read webhook response: %w", err)
	}
	return result, nil
}
