package fence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/worldland/linkbench/internal/domain"
	"go.uber.org/zap"
)

var errPending = errors.New("fence value not reached")

// Policy bounds fence waits
type Policy struct {
	// WaitTimeout is the default bound of a single wait
	WaitTimeout time.Duration
	// MaxConsecutiveTimeouts escalates to the sticky aborted state
	MaxConsecutiveTimeouts int
	// GlobalBudget caps the wall-clock time of a whole run
	GlobalBudget time.Duration
	// PollInitial and PollMax bound the exponential polling interval
	PollInitial time.Duration
	PollMax     time.Duration
}

// DefaultPolicy returns the standard fence policy
func DefaultPolicy() Policy {
	return Policy{
		WaitTimeout:            2 * time.Second,
		MaxConsecutiveTimeouts: 3,
		GlobalBudget:           5 * time.Minute,
		PollInitial:            50 * time.Microsecond,
		PollMax:                time.Millisecond,
	}
}

// Target is one queue/value pair of a joint wait
type Target struct {
	Queue domain.Queue
	Value uint64
}

// Scheduler layers retry, global-budget and cancellation policy over a backend's
// fence values. It holds no GPU resources.
type Scheduler struct {
	source domain.FenceSource
	clock  mclock.Clock
	policy Policy
	log    *zap.Logger

	mu          sync.Mutex
	consecutive int
	started     bool
	start       mclock.AbsTime

	aborted atomic.Bool
}

// NewScheduler creates a scheduler polling source
func NewScheduler(source domain.FenceSource, clock mclock.Clock, policy Policy, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = mclock.System{}
	}
	return &Scheduler{
		source: source,
		clock:  clock,
		policy: policy,
		log:    log,
	}
}

// Begin records the start of a benchmark run and clears previous run state
func (s *Scheduler) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.started = true
	s.start = s.clock.Now()
	s.consecutive = 0
	s.aborted.Store(false)
}

// Aborted reports whether the run hit the consecutive-timeout bound or the global budget
func (s *Scheduler) Aborted() bool {
	return s.aborted.Load()
}

// ConsecutiveTimeouts returns the current retry counter
func (s *Scheduler) ConsecutiveTimeouts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutive
}

// Elapsed returns the run time measured against the global budget
func (s *Scheduler) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return 0
	}
	return s.clock.Now().Sub(s.start)
}

// Wait blocks until q signals target, the timeout passes, or ctx is cancelled.
// A non-positive timeout uses the policy default.
func (s *Scheduler) Wait(ctx context.Context, q domain.Queue, target uint64, timeout time.Duration) domain.FenceOutcome {
	return s.WaitAll(ctx, []Target{{Queue: q, Value: target}}, timeout)
}

// WaitAll blocks until every target is signalled. It counts as a single wait for
// the retry policy.
func (s *Scheduler) WaitAll(ctx context.Context, targets []Target, timeout time.Duration) domain.FenceOutcome {
	if ctx.Err() != nil {
		return domain.FenceCancelled
	}
	if s.aborted.Load() {
		return domain.FenceTimeout
	}
	if s.budgetExceeded() {
		s.log.Warn("benchmark exceeded global time budget",
			zap.Duration("budget", s.policy.GlobalBudget),
			zap.Duration("elapsed", s.Elapsed()))
		s.aborted.Store(true)
		return domain.FenceTimeout
	}
	if timeout <= 0 {
		timeout = s.policy.WaitTimeout
	}

	outcome := s.poll(ctx, targets, timeout)
	s.record(outcome)
	return outcome
}

func (s *Scheduler) budgetExceeded() bool {
	if s.policy.GlobalBudget <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && s.clock.Now().Sub(s.start) > s.policy.GlobalBudget
}

func (s *Scheduler) poll(ctx context.Context, targets []Target, timeout time.Duration) domain.FenceOutcome {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.policy.PollInitial
	b.MaxInterval = s.policy.PollMax
	b.MaxElapsedTime = timeout
	if b.InitialInterval <= 0 {
		b.InitialInterval = 50 * time.Microsecond
	}
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}

	operation := func() error {
		for _, t := range targets {
			done, err := s.source.CompletedValue(t.Queue)
			if err != nil {
				return backoff.Permanent(err)
			}
			if done < t.Value {
				return errPending
			}
		}
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	switch {
	case err == nil:
		return domain.FenceSuccess
	case ctx.Err() != nil:
		return domain.FenceCancelled
	case errors.Is(err, errPending):
		return domain.FenceTimeout
	default:
		s.log.Error("fence wait failed", zap.Error(err))
		return domain.FenceError
	}
}

// record applies the consecutive-timeout policy
func (s *Scheduler) record(outcome domain.FenceOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch outcome {
	case domain.FenceSuccess:
		s.consecutive = 0
	case domain.FenceTimeout:
		s.consecutive++
		s.log.Warn("fence wait timed out",
			zap.Int("consecutive", s.consecutive),
			zap.Int("limit", s.policy.MaxConsecutiveTimeouts))
		if s.policy.MaxConsecutiveTimeouts > 0 && s.consecutive >= s.policy.MaxConsecutiveTimeouts {
			if !s.aborted.Swap(true) {
				s.log.Error("aborting benchmark after repeated fence timeouts",
					zap.Int("consecutive", s.consecutive))
			}
		}
	}
}
