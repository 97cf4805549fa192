package processor

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queueforge/queueforge/internal/domain"
)

func TestEmailProcessor_Identity(t *testing.T) {
	p := NewEmailProcessor(EmailConfig{Host: "localhost", Port: 1025, From: "from@test.com"})
	assert.Equal(t, "builtin-email", p.ID())
	assert.Equal(t, []string{"email"}, p.QueueTypes())
}

func TestEmailProcessor_ValidateJob(t *testing.T) {
	p := NewEmailProcessor(EmailConfig{Host: "localhost", Port: 1025})

	err := p.ValidateJob(&domain.Job{Payload: []byte("not-json")})
	require.Error(t, err, "should fail on invalid JSON payload")

	err = p.ValidateJob(&domain.Job{Payload: []byte(`{"subject":"hi","body":"world"}`)})
	require.Error(t, err, "should fail when 'to' field is missing")
	assert.Contains(t, err.Error(), "to")
}

func TestEmailProcessor_Process_SendsMIME(t *testing.T) {
	p := NewEmailProcessor(EmailConfig{Host: "localhost", Port: 1025, From: "noreply@test.com"})

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	p.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	job := &domain.Job{Payload: []byte(`{"to":"x@y.com","subject":"hi","body":"world"}`)}
	_, err := p.Process(context.Background(), job, nil)
	require.NoError(t, err)

	assert.Equal(t, "localhost:1025", gotAddr)
	assert.Equal(t, "noreply@test.com", gotFrom)
	assert.Equal(t, []string{"x@y.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: hi")
	assert.Contains(t, string(gotMsg), "world")
}

func TestEmailProcessor_Process_SendFailure(t *testing.T) {
	p := NewEmailProcessor(EmailConfig{Host: "localhost", Port: 1025})
	p.send = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}

	job := &domain.Job{Payload: []byte(`{"to":"x@y.com"}`)}
	_, err := p.Process(context.Background(), job, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "x@y.com")
}

func TestEmailProcessor_Process_CancelledContext(t *testing.T) {
	p := NewEmailProcessor(EmailConfig{Host: "localhost", Port: 1025})
	block := make(chan struct{})
	p.send = func(string, smtp.Auth, string, []string, []byte) error {
		<-block
		return nil
	}
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel before calling Process

	job := &domain.Job{Payload: []byte(`{"to":"x@y.com","subject":"hi","body":"world"}`)}
	_, err := p.Process(ctx, job, nil)
	require.Error(t, err, "cancelled context should result in an error")
}
