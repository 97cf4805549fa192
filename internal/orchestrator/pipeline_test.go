package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queueforge/queueforge/internal/config"
	"github.com/queueforge/queueforge/internal/domain"
	"github.com/queueforge/queueforge/internal/optimize"
	"github.com/queueforge/queueforge/internal/processor"
)

type flushProc struct{}

func (flushProc) ID() string           { return "fp" }
func (flushProc) QueueTypes() []string { return []string{"export"} }

func (flushProc) Process(context.Context, *domain.Job, *config.QueueTypeConfig) ([]byte, error) {
	return []byte("ok"), nil
}

func TestFlushBatch_ReportsCompressionSavings(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Default("export")
	cfg.Performance.CompressionThresholdBytes = 256
	configs := config.NewRegistry(logger)
	require.NoError(t, configs.Update(cfg))

	procs := processor.NewRegistry(logger)
	require.NoError(t, procs.Register(flushProc{}, false))

	o := New(configs, procs, Options{Logger: logger})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})

	// A highly compressible payload past the threshold.
	raw := make([]byte, 8<<10)
	res, err := optimize.New(256).Optimize(raw)
	require.NoError(t, err)
	require.True(t, res.Compressed)

	compressed := &domain.Job{
		ID: "j1", QueueType: "export", Kind: "export",
		Payload: res.Payload, Compressed: true,
		MaxAttempts: 3, Status: domain.StatusProcessing,
	}
	plain := &domain.Job{
		ID: "j2", QueueType: "export", Kind: "export",
		Payload: []byte("small"), MaxAttempts: 3, Status: domain.StatusProcessing,
	}

	outcome := o.flushBatch(context.Background(), "export", "export", []*domain.Job{compressed, plain})
	require.NoError(t, outcome.Errs[0])
	require.NoError(t, outcome.Errs[1])

	assert.Equal(t, len(raw)-res.OptimizedSize, outcome.CompressionSavedBytes,
		"savings counted only for jobs that arrived compressed")
}
