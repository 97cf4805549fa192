package optimize

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/queueforge/queueforge/internal/domain"
)

// Tuning constants. The effectiveness ratio and memory overhead factor are
// empirically chosen; they are fields on Optimizer so deployments can
// override them.
const (
	DefaultEffectivenessRatio   = 0.8
	DefaultMemoryOverheadFactor = 2.0
	DefaultComplexityThreshold  = 10 << 10 // 10 KB
	DefaultComplexityDiscount   = 0.5
	MinBatchSize                = 5
	MaxBatchSize                = 100
)

// Result describes the outcome of payload optimization.
type Result struct {
	Payload       []byte
	Compressed    bool
	OriginalSize  int
	OptimizedSize int
}

// SavedBytes returns how many bytes compression removed (0 when the
// payload was kept uncompressed).
func (r Result) SavedBytes() int {
	if !r.Compressed {
		return 0
	}
	return r.OriginalSize - r.OptimizedSize
}

// Optimizer conditionally compresses job payloads and estimates optimal
// batch sizes from sampled job characteristics.
type Optimizer struct {
	// ThresholdBytes: payloads below this size are never compressed.
	ThresholdBytes int
	// EffectivenessRatio: compression is kept only when the compressed
	// size is below this fraction of the original.
	EffectivenessRatio float64
	// MemoryOverheadFactor: estimated in-flight memory per job as a
	// multiple of its serialized payload size.
	MemoryOverheadFactor float64
	// ComplexityThresholdBytes: payloads above this size halve the batch
	// size estimate.
	ComplexityThresholdBytes int
	// ComplexityDiscount applied when the complexity threshold is crossed.
	ComplexityDiscount float64
}

// New returns an Optimizer with the given compression threshold and
// default tuning for everything else.
func New(thresholdBytes int) *Optimizer {
	return &Optimizer{
		ThresholdBytes:           thresholdBytes,
		EffectivenessRatio:       DefaultEffectivenessRatio,
		MemoryOverheadFactor:     DefaultMemoryOverheadFactor,
		ComplexityThresholdBytes: DefaultComplexityThreshold,
		ComplexityDiscount:       DefaultComplexityDiscount,
	}
}

// Optimize returns data compressed when it is both large enough to bother
// and compression is effective (compressed size < EffectivenessRatio ×
// original). Otherwise the original bytes pass through unchanged.
func (o *Optimizer) Optimize(data []byte) (Result, error) {
	original := len(data)
	if original < o.ThresholdBytes {
		return Result{Payload: data, Compressed: false, OriginalSize: original, OptimizedSize: original}, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return Result{}, fmt.Errorf("compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return Result{}, fmt.Errorf("compress payload: %w", err)
	}

	compressed := buf.Bytes()
	if float64(len(compressed)) >= o.EffectivenessRatio*float64(original) {
		// Compression judged ineffective; keep the original.
		return Result{Payload: data, Compressed: false, OriginalSize: original, OptimizedSize: original}, nil
	}
	return Result{Payload: compressed, Compressed: true, OriginalSize: original, OptimizedSize: len(compressed)}, nil
}

// Restore reverses Optimize. A decompression failure makes the payload
// unusable and is surfaced to the caller.
func (o *Optimizer) Restore(payload []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return payload, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	return data, nil
}

// OptimalBatchSize estimates how many jobs fit in a batch given the
// available memory. Per-job memory is estimated as MemoryOverheadFactor ×
// the mean serialized payload size of the samples; payloads past the
// complexity threshold take a discount. The result is clamped to
// [MinBatchSize, MaxBatchSize].
func (o *Optimizer) OptimalBatchSize(samples []*domain.Job, availableMemoryMB int) int {
	if len(samples) == 0 || availableMemoryMB <= 0 {
		return MinBatchSize
	}

	var total int
	for _, j := range samples {
		total += len(j.Payload)
	}
	avg := float64(total) / float64(len(samples))
	if avg <= 0 {
		return MaxBatchSize
	}

	perJob := avg * o.MemoryOverheadFactor
	size := float64(availableMemoryMB) * float64(1<<20) / perJob
	if avg > float64(o.ComplexityThresholdBytes) {
		size *= o.ComplexityDiscount
	}

	n := int(size)
	if n < MinBatchSize {
		return MinBatchSize
	}
	if n > MaxBatchSize {
		return MaxBatchSize
	}
	return n
}
