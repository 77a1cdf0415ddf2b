package bench

import (
	"context"

	"github.com/worldland/linkbench/internal/domain"
	"go.uber.org/zap"
)

// NoteSingleQueue marks bidirectional results measured without a second queue
const NoteSingleQueue = "single queue: upload and download interleaved on one queue, simultaneity not guaranteed"

// BidirectionalTest measures combined throughput of concurrent upload and download.
// With a second queue the two directions are submitted to separate queues and waited
// on jointly; otherwise they are interleaved in one command list.
type BidirectionalTest struct{}

func (BidirectionalTest) Name() string { return "Bidirectional Bandwidth" }
func (BidirectionalTest) Unit() string { return domain.UnitGBs }

// Run samples batchCount overlapped batches
func (t BidirectionalTest) Run(ctx context.Context, rc *RunContext) (domain.TestResult, error) {
	cfg := rc.Config
	bufs, err := allocate(rc, cfg.BufferSize,
		domain.BufferHostWriteCombined, // upload source
		domain.BufferDeviceLocal,       // upload destination
		domain.BufferDeviceLocal,       // download source
		domain.BufferHostReadback,      // download destination
	)
	if err != nil {
		return domain.TestResult{}, err
	}
	defer releaseAll(rc, bufs)

	up, upDst, downSrc, down := bufs[0], bufs[1], bufs[2], bufs[3]
	bytes := 2 * cfg.BufferSize * uint64(cfg.CopiesPerBatch)

	uploads := domain.NewCommandList()
	downloads := domain.NewCommandList()
	interleaved := domain.NewCommandList()
	for i := 0; i < cfg.CopiesPerBatch; i++ {
		uploads.Copy(up, upDst)
		downloads.Copy(downSrc, down)
		interleaved.Copy(up, upDst)
		interleaved.Copy(downSrc, down)
	}

	primary := rc.Primary()
	secondary := rc.Secondary()

	var measure batchFunc
	if secondary != nil {
		measure = func(ctx context.Context) ([]float64, domain.FenceOutcome, error) {
			m, err := primary.TimedWithPeer(ctx, uploads, secondary, downloads, bytes)
			return measurementSample(m.GBs(), err == nil && m.OK()), m.Outcome, err
		}
	} else {
		rc.Log.Warn("second queue unavailable, bidirectional test falls back to a single queue")
		measure = func(ctx context.Context) ([]float64, domain.FenceOutcome, error) {
			m, err := primary.TimedHost(ctx, interleaved, bytes)
			return measurementSample(m.GBs(), err == nil && m.OK()), m.Outcome, err
		}
	}

	sm := &stateMachine{
		rc:         rc,
		name:       t.Name(),
		unit:       t.Unit(),
		iterations: cfg.BatchCount,
		warmUp:     measure,
		batch:      measure,
	}
	result := sm.run(ctx)

	if secondary == nil {
		result.Confidence = domain.ConfidenceReduced
		result.Notes = append(result.Notes, NoteSingleQueue)
	} else {
		rc.Log.Debug("bidirectional test used two queues",
			zap.Int("upload_queue", primary.Queue().ID),
			zap.Int("download_queue", secondary.Queue().ID))
	}
	return result, nil
}
