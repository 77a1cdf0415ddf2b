package bench

import (
	"context"
	"fmt"

	"github.com/worldland/linkbench/internal/domain"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Test is one benchmark of the suite
type Test interface {
	Name() string
	Unit() string
	// Run executes the test. Allocation failures are returned as errors wrapping
	// domain.ErrOutOfDeviceMemory; fence outcomes end up in the result status.
	Run(ctx context.Context, rc *RunContext) (domain.TestResult, error)
}

// batchFunc executes one submission and returns the samples it produced
type batchFunc func(ctx context.Context) ([]float64, domain.FenceOutcome, error)

// stateMachine drives Idle -> WarmUp -> Sampling -> Aggregation -> terminal
type stateMachine struct {
	rc         *RunContext
	name       string
	unit       string
	iterations int
	warmUp     batchFunc
	batch      batchFunc
}

func (m *stateMachine) run(ctx context.Context) domain.TestResult {
	log := m.rc.Log.With(zap.String("test", m.name))
	progress := m.rc.Progress
	progress.Enter(m.name, PhaseIdle, 0)

	terminal := PhaseDone
	interrupted := func(outcome domain.FenceOutcome) bool {
		switch {
		case outcome == domain.FenceCancelled || ctx.Err() != nil:
			terminal = PhaseCancelled
		case m.rc.Fences.Aborted():
			terminal = PhaseAborted
		default:
			return false
		}
		return true
	}

	var samples []float64
	failed := 0

	progress.Enter(m.name, PhaseWarmUp, 1)
	_, outcome, err := m.warmUp(ctx)
	if !interrupted(outcome) {
		if err != nil || outcome != domain.FenceSuccess {
			log.Warn("warm-up batch failed", zap.Stringer("outcome", outcome), zap.Error(err))
		}
		progress.Step()

		progress.Enter(m.name, PhaseSampling, m.iterations)
		for i := 0; i < m.iterations; i++ {
			if interrupted(domain.FenceSuccess) {
				break
			}
			values, outcome, err := m.batch(ctx)
			if outcome == domain.FenceCancelled {
				terminal = PhaseCancelled
				break
			}
			if err != nil || outcome != domain.FenceSuccess || len(values) == 0 {
				failed++
				log.Debug("batch failed",
					zap.Int("batch", i),
					zap.Stringer("outcome", outcome),
					zap.Error(err))
				progress.Step()
				continue
			}
			samples = append(samples, values...)
			progress.Step()
		}
	}

	progress.Enter(m.name, PhaseAggregation, 0)
	result, _ := Aggregate(m.name, m.unit, samples)
	result.FailedBatches = failed

	switch terminal {
	case PhaseCancelled:
		result.Status = domain.TestStatusCancelled
	case PhaseAborted:
		result.Status = domain.TestStatusAborted
	}
	progress.Enter(m.name, terminal, 0)

	log.Info("test finished",
		zap.String("status", string(result.Status)),
		zap.Int("samples", len(result.Samples)),
		zap.Int("failed_batches", failed),
		zap.Float64("avg", result.Avg))
	return result
}

// allocate creates one buffer per kind. On failure the buffers created so far are
// released and the error wraps the backend's.
func allocate(rc *RunContext, size uint64, kinds ...domain.BufferKind) ([]*domain.TransferBuffer, error) {
	bufs := make([]*domain.TransferBuffer, 0, len(kinds))
	for _, kind := range kinds {
		buf, err := rc.Backend.CreateBuffer(kind, size)
		if err != nil {
			releaseAll(rc, bufs)
			return nil, fmt.Errorf("failed to allocate %s buffer of %d bytes: %w", kind, size, err)
		}
		bufs = append(bufs, buf)
	}
	return bufs, nil
}

func releaseAll(rc *RunContext, bufs []*domain.TransferBuffer) {
	var err error
	for _, buf := range bufs {
		err = multierr.Append(err, rc.Backend.ReleaseBuffer(buf))
	}
	if err != nil {
		rc.Log.Warn("failed to release transfer buffers", zap.Error(err))
	}
}

func measurementSample(gbs float64, ok bool) []float64 {
	if !ok {
		return nil
	}
	return []float64{gbs}
}
