package bench

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/worldland/linkbench/internal/domain"
	"github.com/worldland/linkbench/internal/fence"
	"github.com/worldland/linkbench/internal/transfer"
	"go.uber.org/zap"
)

// Phase is a step of a test's state machine
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseWarmUp      Phase = "warm_up"
	PhaseSampling    Phase = "sampling"
	PhaseAggregation Phase = "aggregation"
	PhaseDone        Phase = "done"
	PhaseAborted     Phase = "aborted"
	PhaseCancelled   Phase = "cancelled"
)

// ProgressSnapshot is a point-in-time copy of Progress
type ProgressSnapshot struct {
	Test  string `json:"test"`
	Phase Phase  `json:"phase"`
	Done  int64  `json:"done"`
	Total int64  `json:"total"`
}

// Progress is written by the worker and read from any goroutine
type Progress struct {
	test  atomic.Pointer[string]
	phase atomic.Pointer[Phase]
	done  atomic.Int64
	total atomic.Int64
}

// Snapshot returns the current progress
func (p *Progress) Snapshot() ProgressSnapshot {
	if p == nil {
		return ProgressSnapshot{Phase: PhaseIdle}
	}
	s := ProgressSnapshot{Phase: PhaseIdle, Done: p.done.Load(), Total: p.total.Load()}
	if t := p.test.Load(); t != nil {
		s.Test = *t
	}
	if ph := p.phase.Load(); ph != nil {
		s.Phase = *ph
	}
	return s
}

// Enter records a phase transition of test with total work items
func (p *Progress) Enter(test string, phase Phase, total int) {
	if p == nil {
		return
	}
	p.test.Store(&test)
	p.phase.Store(&phase)
	p.done.Store(0)
	p.total.Store(int64(total))
}

// Step records one completed work item
func (p *Progress) Step() {
	if p == nil {
		return
	}
	p.done.Add(1)
}

// RunContext carries everything a test needs for one benchmark run. It is built at
// run start and passed explicitly; tests read no other shared state.
type RunContext struct {
	Config   domain.BenchmarkConfig
	Backend  domain.GraphicsBackend
	Device   domain.DeviceInfo
	Strategy transfer.Strategy
	Fences   *fence.Scheduler
	Clock    mclock.Clock
	Log      *zap.Logger
	Progress *Progress

	primary *transfer.Primitive

	mu            sync.Mutex
	secondTried   bool
	secondary     *transfer.Primitive
	downloadGBs   float64
	roundTripMiss int
}

// NewRunContext selects the configured device, creates the benchmark queue and
// picks the timing strategy. cfg is copied.
func NewRunContext(cfg domain.BenchmarkConfig, backend domain.GraphicsBackend, clock mclock.Clock, policy fence.Policy, log *zap.Logger) (*RunContext, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = mclock.System{}
	}

	dev, err := domain.OpenDevice(backend, cfg.DeviceIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to select device: %w", err)
	}
	q, err := backend.CreateQueue(domain.QueueDirect)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue: %w", err)
	}

	fences := fence.NewScheduler(backend, clock, policy, log)
	primary, err := transfer.NewPrimitive(backend, fences, clock, q, log)
	if err != nil {
		return nil, err
	}

	strategy := transfer.SelectStrategy(dev)
	log.Info("benchmark device selected",
		zap.String("device", dev.Name),
		zap.Bool("integrated", dev.Integrated),
		zap.Stringer("upload_timing", strategy))

	return &RunContext{
		Config:   cfg,
		Backend:  backend,
		Device:   dev,
		Strategy: strategy,
		Fences:   fences,
		Clock:    clock,
		Log:      log,
		Progress: &Progress{},
		primary:  primary,
	}, nil
}

// Primary returns the primitive bound to the benchmark queue
func (rc *RunContext) Primary() *transfer.Primitive {
	return rc.primary
}

// Secondary returns a primitive on a second queue, or nil when the backend has none.
// The queue is requested once per run.
func (rc *RunContext) Secondary() *transfer.Primitive {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.secondTried {
		return rc.secondary
	}
	rc.secondTried = true

	q, ok := rc.Backend.TryCreateSecondQueue()
	if !ok {
		return nil
	}
	p, err := transfer.NewPrimitive(rc.Backend, rc.Fences, rc.Clock, q, rc.Log)
	if err != nil {
		rc.Log.Warn("second queue unusable", zap.Error(err))
		return nil
	}
	rc.secondary = p
	return p
}

// DownloadReference returns the last measured average download bandwidth, 0 if none
func (rc *RunContext) DownloadReference() float64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.downloadGBs
}

// SetDownloadReference records the download bandwidth used by round-trip correction
func (rc *RunContext) SetDownloadReference(gbs float64) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.downloadGBs = gbs
}

// recordFallback counts and logs a round-trip correction fallback
func (rc *RunContext) recordFallback(est transfer.UploadEstimate) {
	rc.mu.Lock()
	rc.roundTripMiss++
	n := rc.roundTripMiss
	rc.mu.Unlock()

	rc.Log.Info("round-trip correction fell back to symmetric estimate",
		zap.String("reason", est.Reason),
		zap.Float64("estimate_gbs", est.GBs),
		zap.Int("fallbacks_this_run", n))
}

// Fallbacks returns the number of round-trip fallbacks in this run
func (rc *RunContext) Fallbacks() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.roundTripMiss
}
