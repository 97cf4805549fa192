package domain_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/queueforge/queueforge/internal/domain"
)

func TestConfigValidationError(t *testing.T) {
	err := &domain.ConfigValidationError{
		QueueType: "email",
		Fields:    []string{"concurrency must be >= 1", "retry.max_attempts must be >= 1"},
	}
	msg := err.Error()
	if !strings.Contains(msg, "email") {
		t.Errorf("error message should contain queue type, got: %q", msg)
	}
	if !strings.Contains(msg, "concurrency") {
		t.Errorf("error message should list offending fields, got: %q", msg)
	}
}

func TestProcessorNotFoundError(t *testing.T) {
	err := &domain.ProcessorNotFoundError{QueueType: "webhook"}
	if !strings.Contains(err.Error(), "webhook") {
		t.Errorf("error message should contain queue type, got: %q", err.Error())
	}
}

func TestJobProcessingError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &domain.JobProcessingError{JobID: "abc-123", Attempt: 2, Err: cause}
	msg := err.Error()
	if !strings.Contains(msg, "abc-123") {
		t.Errorf("error message should contain job ID, got: %q", msg)
	}
	if !strings.Contains(msg, "2") {
		t.Errorf("error message should contain attempt number, got: %q", msg)
	}
	if !errors.Is(err, cause) {
		t.Error("JobProcessingError should unwrap to its cause")
	}
}

func TestCapacityExceededError(t *testing.T) {
	err := &domain.CapacityExceededError{EstimatedBytes: 70 << 20, LimitBytes: 64 << 20}
	msg := err.Error()
	if !strings.Contains(msg, "capacity") {
		t.Errorf("error message should mention capacity, got: %q", msg)
	}
}

func TestComponentTimeoutError(t *testing.T) {
	err := &domain.ComponentTimeoutError{Component: "health-engine", Timeout: 5 * time.Second}
	msg := err.Error()
	if !strings.Contains(msg, "health-engine") {
		t.Errorf("error message should contain component name, got: %q", msg)
	}
	if !strings.Contains(msg, "5s") {
		t.Errorf("error message should contain the timeout, got: %q", msg)
	}
}

func TestCacheUnavailableError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := &domain.CacheUnavailableError{Op: "get", Err: cause}
	if !strings.Contains(err.Error(), "get") {
		t.Errorf("error message should contain the operation, got: %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("CacheUnavailableError should unwrap to its cause")
	}
}

func TestJobNotFoundError(t *testing.T) {
	err := &domain.JobNotFoundError{JobID: "xyz-789"}
	if !strings.Contains(err.Error(), "xyz-789") {
		t.Errorf("error message should contain job ID, got: %q", err.Error())
	}
}

func TestBrokerUnavailableError_Unwrap(t *testing.T) {
	cause := errors.New("no reachable brokers")
	err := &domain.BrokerUnavailableError{Err: cause}
	if !errors.Is(err, cause) {
		t.Error("BrokerUnavailableError should unwrap to its cause")
	}

	var target *domain.BrokerUnavailableError
	wrapped := &domain.JobProcessingError{JobID: "j1", Attempt: 1, Err: err}
	if !errors.As(wrapped, &target) {
		t.Error("errors.As should find BrokerUnavailableError through wrapping")
	}
}

func TestAllErrorTypesImplementError(t *testing.T) {
	// Compile-time interface checks via assignment to error variables.
	var _ error = &domain.ConfigValidationError{}
	var _ error = &domain.ProcessorNotFoundError{}
	var _ error = &domain.ProcessorConflictError{}
	var _ error = &domain.JobProcessingError{}
	var _ error = &domain.CapacityExceededError{}
	var _ error = &domain.ComponentTimeoutError{}
	var _ error = &domain.CacheUnavailableError{}
	var _ error = &domain.JobNotFoundError{}
	var _ error = &domain.BrokerUnavailableError{}
}
