package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/smtp"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/queueforge/queueforge/internal/config"
	"github.com/queueforge/queueforge/internal/domain"
)

// EmailConfig holds SMTP connection details.
type EmailConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

// emailPayload is the expected JSON structure in job.Payload.
type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// EmailProcessor sends job payloads as email via SMTP.
type EmailProcessor struct {
	queueTypes []string
	cfg        EmailConfig

	// send is swapped in tests; defaults to smtp.SendMail.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailProcessor creates an EmailProcessor bound to the given queue
// types (default "email").
func NewEmailProcessor(cfg EmailConfig, queueTypes ...string) *EmailProcessor {
	if len(queueTypes) == 0 {
		queueTypes = []string{"email"}
	}
	return &EmailProcessor{queueTypes: queueTypes, cfg: cfg, send: smtp.SendMail}
}

func (p *EmailProcessor) ID() string           { return "builtin-email" }
func (p *EmailProcessor) QueueTypes() []string { return p.queueTypes }

func (p *EmailProcessor) ValidateJob(job *domain.Job) error {
	var ep emailPayload
	if err := json.Unmarshal(job.Payload, &ep); err != nil {
		return fmt.Errorf("invalid email payload: %w", err)
	}
	if ep.To == "" {
		return errors.New("email payload missing required field 'to'")
	}
	return nil
}

func (p *EmailProcessor) Process(ctx context.Context, job *domain.Job, _ *config.QueueTypeConfig) ([]byte, error) {
	ctx, span := otel.Tracer("processor").Start(ctx, "processor.email")
	defer span.End()

	var ep emailPayload
	if err := json.Unmarshal(job.Payload, &ep); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid payload")
		return nil, fmt.Errorf("invalid email payload: %w", err)
	}
	if ep.To == "" {
		err := errors.New("email payload missing required field 'to'")
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing 'to' field")
		return nil, err
	}

	span.SetAttributes(attribute.String("email.to", ep.To))

	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)
	msg := buildMIME(p.cfg.From, ep.To, ep.Subject, ep.Body)

	var auth smtp.Auth
	if p.cfg.Username != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}

	// Run the blocking SMTP call in a goroutine so we respect ctx cancellation.
	done := make(chan error, 1)
	go func() {
		done <- p.send(addr, auth, p.cfg.From, []string{ep.To}, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "smtp send failed")
			return nil, fmt.Errorf("smtp send to %s: %w", ep.To, err)
		}
		return nil, nil
	case <-ctx.Done():
		err := fmt.Errorf("email send timed out: %w", ctx.Err())
		span.RecordError(err)
		span.SetStatus(codes.Error, "timeout")
		return nil, err
	}
}

func buildMIME(from, to, subject, body string) []byte {
	msg := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		from, to, subject, body,
	)
	return []byte(msg)
}
