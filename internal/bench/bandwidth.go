package bench

import (
	"context"
	"fmt"

	"github.com/worldland/linkbench/internal/domain"
	"github.com/worldland/linkbench/internal/transfer"
)

// Direction of a one-way transfer
type Direction int

const (
	Upload Direction = iota
	Download
)

func (d Direction) String() string {
	if d == Upload {
		return "Upload"
	}
	return "Download"
}

// BandwidthTest measures one-way throughput with copiesPerBatch buffer-sized copies
// per batch
type BandwidthTest struct {
	Direction Direction
}

func (t BandwidthTest) Name() string { return t.Direction.String() + " Bandwidth" }
func (t BandwidthTest) Unit() string { return domain.UnitGBs }

// Run allocates the test's buffers, samples batchCount batches and releases them
func (t BandwidthTest) Run(ctx context.Context, rc *RunContext) (domain.TestResult, error) {
	cfg := rc.Config
	roundTrip := t.Direction == Upload && rc.Strategy == transfer.StrategyHostRoundTrip

	var kinds []domain.BufferKind
	switch {
	case roundTrip:
		kinds = []domain.BufferKind{domain.BufferHostWriteCombined, domain.BufferDeviceLocal, domain.BufferHostReadback}
	case t.Direction == Upload:
		kinds = []domain.BufferKind{domain.BufferHostWriteCombined, domain.BufferDeviceLocal}
	default:
		kinds = []domain.BufferKind{domain.BufferDeviceLocal, domain.BufferHostReadback}
	}
	bufs, err := allocate(rc, cfg.BufferSize, kinds...)
	if err != nil {
		return domain.TestResult{}, err
	}
	defer releaseAll(rc, bufs)

	prim := rc.Primary()
	var measure batchFunc
	var fallbacks, batches int
	var lastReason string

	if roundTrip {
		reference := rc.DownloadReference()
		measure = func(ctx context.Context) ([]float64, domain.FenceOutcome, error) {
			m, err := prim.TimedRoundTrip(ctx, bufs[0], bufs[1], bufs[2], cfg.CopiesPerBatch)
			if err != nil || !m.OK() {
				return nil, m.Outcome, err
			}
			batches++
			est := transfer.DeriveUpload(m.Elapsed, m.Bytes, reference)
			if est.Fallback {
				fallbacks++
				lastReason = est.Reason
				rc.recordFallback(est)
			}
			return []float64{est.GBs}, m.Outcome, nil
		}
	} else {
		measure = func(ctx context.Context) ([]float64, domain.FenceOutcome, error) {
			m, err := prim.TimedCopies(ctx, bufs[0], bufs[1], cfg.CopiesPerBatch)
			return measurementSample(m.GBs(), err == nil && m.OK()), m.Outcome, err
		}
	}

	warmUp := func(ctx context.Context) ([]float64, domain.FenceOutcome, error) {
		cl := domain.NewCommandList()
		for i := 0; i < cfg.CopiesPerBatch; i++ {
			cl.Copy(bufs[0], bufs[1])
		}
		outcome, err := prim.Execute(ctx, cl)
		return nil, outcome, err
	}

	sm := &stateMachine{
		rc:         rc,
		name:       t.Name(),
		unit:       t.Unit(),
		iterations: cfg.BatchCount,
		warmUp:     warmUp,
		batch:      measure,
	}
	result := sm.run(ctx)

	if roundTrip {
		result.Notes = append(result.Notes, "upload timed as host round trip minus measured download time")
		if fallbacks > 0 {
			result.Confidence = domain.ConfidenceReduced
			result.Notes = append(result.Notes, fmt.Sprintf(
				"round-trip correction fell back to symmetric bandwidth in %d of %d batches (%s)",
				fallbacks, batches, lastReason))
		}
	}
	if t.Direction == Download && result.Status == domain.TestStatusDone {
		rc.SetDownloadReference(result.Avg)
	}
	return result, nil
}
