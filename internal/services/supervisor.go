package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/worldland/linkbench/internal/bench"
	"github.com/worldland/linkbench/internal/classify"
	"github.com/worldland/linkbench/internal/domain"
	"github.com/worldland/linkbench/internal/fence"
	"github.com/worldland/linkbench/internal/vram"
	"go.uber.org/zap"
)

// JobKind identifies the worker type
type JobKind string

const (
	JobNone      JobKind = ""
	JobBenchmark JobKind = "benchmark"
	JobScan      JobKind = "scan"
)

// JobState represents the lifecycle of the latest job
type JobState string

const (
	JobStateIdle      JobState = "idle"
	JobStateRunning   JobState = "running"
	JobStateFinished  JobState = "finished"
	JobStateCancelled JobState = "cancelled"
	JobStateAborted   JobState = "aborted" // repeated fence timeouts or global budget
	JobStateFailed    JobState = "failed"
)

// DefaultShutdownGrace is how long Shutdown waits for a worker before abandoning it
const DefaultShutdownGrace = 3 * time.Second

// BackendFactory opens an isolated graphics backend for one job. clock is the host
// clock the job measures with.
type BackendFactory func(clock mclock.Clock) (domain.GraphicsBackend, error)

// Hints are externally supplied classifier inputs
type Hints struct {
	Link            *domain.LinkInfo `json:"link,omitempty"`
	Tunnelled       bool             `json:"tunnelled"`
	ForceIntegrated bool             `json:"force_integrated"`
	SystemMemoryGBs float64          `json:"system_memory_gbs,omitempty"`
}

// Status contains the current supervisor status
type Status struct {
	State     JobState               `json:"state"`
	Kind      JobKind                `json:"kind,omitempty"`
	Running   bool                   `json:"running"`
	Aborted   bool                   `json:"aborted"`
	Device    *domain.DeviceInfo     `json:"device,omitempty"`
	Benchmark bench.ProgressSnapshot `json:"benchmark"`
	Scan      vram.ProgressSnapshot  `json:"scan"`
	Results   int                    `json:"results"`
	StartedAt *time.Time             `json:"started_at,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Supervisor runs the benchmark and the VRAM scan on background workers. Only one
// job runs at a time. Scalars are atomics; the result list is mutex-guarded; no GPU
// handle leaves the worker goroutine.
type Supervisor struct {
	factory    BackendFactory
	clock      mclock.Clock
	policy     fence.Policy
	classifier *classify.Classifier
	log        *zap.Logger

	running atomic.Bool
	aborted atomic.Bool

	mu            sync.Mutex
	kind          JobKind
	state         JobState
	cancel        context.CancelFunc
	done          chan struct{}
	startedAt     *time.Time
	lastErr       error
	device        *domain.DeviceInfo
	hints         Hints
	results       []domain.TestResult
	scanReport    *domain.ScanReport
	benchProgress *bench.Progress
	scanProgress  *vram.Progress
}

// NewSupervisor creates a supervisor opening backends through factory
func NewSupervisor(factory BackendFactory, clock mclock.Clock, policy fence.Policy, log *zap.Logger) *Supervisor {
	if clock == nil {
		clock = mclock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{
		factory:    factory,
		clock:      clock,
		policy:     policy,
		classifier: classify.New(nil, log),
		log:        log,
		state:      JobStateIdle,
	}
}

// SetHints replaces the classifier hints used for subsequent classifications
func (s *Supervisor) SetHints(h Hints) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hints = h
}

// StartBenchmark starts the transfer suite with a snapshot of cfg
func (s *Supervisor) StartBenchmark(cfg domain.BenchmarkConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return s.start(JobBenchmark, func(ctx context.Context, backend domain.GraphicsBackend) (JobState, error) {
		return s.runBenchmark(ctx, backend, cfg)
	})
}

// StartScan starts a VRAM integrity scan with a snapshot of cfg
func (s *Supervisor) StartScan(cfg vram.ScanConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return s.start(JobScan, func(ctx context.Context, backend domain.GraphicsBackend) (JobState, error) {
		return s.runScan(ctx, backend, cfg)
	})
}

func (s *Supervisor) start(kind JobKind, job func(context.Context, domain.GraphicsBackend) (JobState, error)) error {
	if !s.running.CompareAndSwap(false, true) {
		return domain.ErrRunActive
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	now := time.Now()

	s.mu.Lock()
	s.kind = kind
	s.state = JobStateRunning
	s.cancel = cancel
	s.done = done
	s.startedAt = &now
	s.lastErr = nil
	s.device = nil
	if kind == JobBenchmark {
		s.results = nil
		s.benchProgress = nil
	} else {
		s.scanReport = nil
		s.scanProgress = nil
	}
	s.mu.Unlock()
	s.aborted.Store(false)

	go func() {
		defer close(done)
		defer s.running.Store(false)
		defer cancel()

		state, err := s.execute(ctx, kind, job)

		s.mu.Lock()
		s.state = state
		s.lastErr = err
		s.mu.Unlock()

		if err != nil && state == JobStateFailed {
			s.log.Error("job failed", zap.String("kind", string(kind)), zap.Error(err))
		} else {
			s.log.Info("job finished", zap.String("kind", string(kind)), zap.String("state", string(state)))
		}
	}()

	s.log.Info("job started", zap.String("kind", string(kind)))
	return nil
}

func (s *Supervisor) execute(ctx context.Context, kind JobKind, job func(context.Context, domain.GraphicsBackend) (JobState, error)) (JobState, error) {
	backend, err := s.factory(s.clock)
	if err != nil {
		return JobStateFailed, err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			s.log.Warn("failed to close backend", zap.String("kind", string(kind)), zap.Error(err))
		}
	}()
	return job(ctx, backend)
}

func (s *Supervisor) runBenchmark(ctx context.Context, backend domain.GraphicsBackend, cfg domain.BenchmarkConfig) (JobState, error) {
	rc, err := bench.NewRunContext(cfg, backend, s.clock, s.policy, s.log)
	if err != nil {
		return JobStateFailed, err
	}

	dev := rc.Device
	s.mu.Lock()
	s.device = &dev
	s.benchProgress = rc.Progress
	s.mu.Unlock()

	suite := bench.NewSuite(rc)
	suite.OnResult = func(r domain.TestResult) {
		s.mu.Lock()
		s.results = append(s.results, r)
		s.mu.Unlock()
	}

	_, err = suite.Run(ctx)
	return s.classifyOutcome(err)
}

func (s *Supervisor) runScan(ctx context.Context, backend domain.GraphicsBackend, cfg vram.ScanConfig) (JobState, error) {
	scanner := vram.NewScanner(backend, cfg, s.clock, s.policy, s.log)
	s.mu.Lock()
	s.scanProgress = &scanner.Progress
	s.mu.Unlock()

	report, err := scanner.Run(ctx)

	s.mu.Lock()
	s.scanReport = &report
	s.mu.Unlock()

	if report.Outcome == domain.ScanIncomplete && errors.Is(err, domain.ErrAborted) {
		s.aborted.Store(true)
		return JobStateAborted, err
	}
	return s.classifyOutcome(err)
}

func (s *Supervisor) classifyOutcome(err error) (JobState, error) {
	switch {
	case err == nil:
		return JobStateFinished, nil
	case errors.Is(err, context.Canceled):
		return JobStateCancelled, nil
	case errors.Is(err, domain.ErrAborted):
		s.aborted.Store(true)
		return JobStateAborted, err
	default:
		return JobStateFailed, err
	}
}

// Cancel requests cooperative cancellation of the running job. It reports whether
// a job was running.
func (s *Supervisor) Cancel() bool {
	if !s.running.Load() {
		return false
	}
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

// Wait blocks until the current job finishes or ctx is done
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels the running job and waits up to grace for the worker to exit.
// A worker that does not exit in time is abandoned so the process can still exit;
// the return value is false in that case.
func (s *Supervisor) Shutdown(grace time.Duration) bool {
	if !s.Cancel() {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := s.Wait(ctx); err != nil {
		s.log.Warn("worker did not stop within grace period, abandoning it",
			zap.Duration("grace", grace))
		return false
	}
	return true
}

// Running reports whether a job is active
func (s *Supervisor) Running() bool {
	return s.running.Load()
}

// Status returns the current supervisor status
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:     s.state,
		Kind:      s.kind,
		Running:   s.running.Load(),
		Aborted:   s.aborted.Load(),
		Benchmark: s.benchProgress.Snapshot(),
		Results:   len(s.results),
	}
	if s.scanProgress != nil {
		st.Scan = s.scanProgress.Snapshot()
	}
	if s.device != nil {
		dev := *s.device
		st.Device = &dev
	}
	if s.startedAt != nil {
		t := *s.startedAt
		st.StartedAt = &t
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	return st
}

// Results returns a copy of the benchmark results collected so far
func (s *Supervisor) Results() []domain.TestResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.TestResult, len(s.results))
	copy(out, s.results)
	return out
}

// ScanReport returns the latest scan report, nil if none
func (s *Supervisor) ScanReport() *domain.ScanReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scanReport == nil {
		return nil
	}
	report := *s.scanReport
	return &report
}

// Classification classifies the interconnect from the collected results. ok is
// false when no bandwidth result carries data.
func (s *Supervisor) Classification() (classify.Classification, bool) {
	s.mu.Lock()
	measured := classify.MeasuredGBs(s.results)
	hints := s.hints
	integrated := s.device != nil && s.device.Integrated
	s.mu.Unlock()

	if measured <= 0 {
		return classify.Classification{}, false
	}
	return s.classifier.Classify(classify.Input{
		MeasuredGBs:     measured,
		Integrated:      integrated || hints.ForceIntegrated,
		Link:            hints.Link,
		Tunnelled:       hints.Tunnelled,
		SystemMemoryGBs: hints.SystemMemoryGBs,
	}), true
}
