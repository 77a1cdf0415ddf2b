package bench

import (
	"context"

	"github.com/worldland/linkbench/internal/domain"
)

// LatencyTest measures the device time of small copies. Each submission carries
// LatencyPairsPerSubmit timestamp-bracketed copies so per-submission cost is not
// attributed to the copy.
type LatencyTest struct {
	Direction Direction
}

func (t LatencyTest) Name() string { return t.Direction.String() + " Latency" }
func (t LatencyTest) Unit() string { return domain.UnitMicroseconds }

// Run samples IterationCount submissions
func (t LatencyTest) Run(ctx context.Context, rc *RunContext) (domain.TestResult, error) {
	cfg := rc.Config

	kinds := []domain.BufferKind{domain.BufferDeviceLocal, domain.BufferHostReadback}
	if t.Direction == Upload {
		kinds = []domain.BufferKind{domain.BufferHostWriteCombined, domain.BufferDeviceLocal}
	}
	bufs, err := allocate(rc, cfg.LatencyCopySize, kinds...)
	if err != nil {
		return domain.TestResult{}, err
	}
	defer releaseAll(rc, bufs)

	prim := rc.Primary()
	measure := func(ctx context.Context) ([]float64, domain.FenceOutcome, error) {
		lat, outcome, err := prim.TimedPairs(ctx, bufs[0], bufs[1], cfg.LatencyCopySize, cfg.LatencyPairsPerSubmit)
		if err != nil || outcome != domain.FenceSuccess {
			return nil, outcome, err
		}
		out := make([]float64, len(lat))
		for i, d := range lat {
			out[i] = float64(d.Nanoseconds()) / 1e3
		}
		return out, outcome, nil
	}

	sm := &stateMachine{
		rc:         rc,
		name:       t.Name(),
		unit:       t.Unit(),
		iterations: cfg.IterationCount,
		warmUp:     measure,
		batch:      measure,
	}
	return sm.run(ctx), nil
}
