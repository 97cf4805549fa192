package domain_test

import (
	"testing"

	"github.com/queueforge/queueforge/internal/domain"
)

func TestStatus_IsTerminal(t *testing.T) {
	terminal := map[domain.Status]bool{
		domain.StatusPending:    false,
		domain.StatusProcessing: false,
		domain.StatusDelayed:    false,
		domain.StatusCompleted:  true,
		domain.StatusFailed:     true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Errorf("IsTerminal(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestJob_CanTransition(t *testing.T) {
	all := []domain.Status{
		domain.StatusPending,
		domain.StatusProcessing,
		domain.StatusCompleted,
		domain.StatusFailed,
		domain.StatusDelayed,
	}

	legal := map[domain.Status][]domain.Status{
		domain.StatusPending:    {domain.StatusProcessing},
		domain.StatusProcessing: {domain.StatusCompleted, domain.StatusFailed, domain.StatusDelayed},
		domain.StatusDelayed:    {domain.StatusPending},
		domain.StatusCompleted:  {},
		domain.StatusFailed:     {},
	}

	for from, allowed := range legal {
		ok := make(map[domain.Status]bool)
		for _, s := range allowed {
			ok[s] = true
		}
		job := &domain.Job{Status: from}
		for _, to := range all {
			if got := job.CanTransition(to); got != ok[to] {
				t.Errorf("CanTransition(%s → %s) = %v, want %v", from, to, got, ok[to])
			}
		}
	}
}
