package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/worldland/linkbench/internal/domain"
	"github.com/worldland/linkbench/internal/fence"
	"go.uber.org/zap"
)

var ErrNonPositiveInterval = errors.New("measured interval is not positive")

// Measurement is the outcome of one timed submission
type Measurement struct {
	Outcome domain.FenceOutcome
	Elapsed time.Duration
	Bytes   uint64
}

// OK reports whether the submission completed with a usable interval
func (m Measurement) OK() bool {
	return m.Outcome == domain.FenceSuccess && m.Elapsed > 0
}

// GBs returns the measured bandwidth, or 0 for a failed measurement
func (m Measurement) GBs() float64 {
	if !m.OK() {
		return 0
	}
	return float64(m.Bytes) / 1e9 / m.Elapsed.Seconds()
}

// Primitive records, submits and times copy batches on one queue
type Primitive struct {
	backend domain.GraphicsBackend
	fences  *fence.Scheduler
	clock   mclock.Clock
	queue   domain.Queue
	period  float64 // ns per timestamp tick
	log     *zap.Logger
}

// NewPrimitive binds a primitive to q and reads its timestamp period
func NewPrimitive(backend domain.GraphicsBackend, fences *fence.Scheduler, clock mclock.Clock, q domain.Queue, log *zap.Logger) (*Primitive, error) {
	period, err := backend.QueryTimestampPeriod(q)
	if err != nil {
		return nil, fmt.Errorf("failed to query timestamp period: %w", err)
	}
	if period <= 0 {
		return nil, fmt.Errorf("queue %d reported timestamp period %v", q.ID, period)
	}
	if clock == nil {
		clock = mclock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Primitive{
		backend: backend,
		fences:  fences,
		clock:   clock,
		queue:   q,
		period:  period,
		log:     log,
	}, nil
}

// Queue returns the queue the primitive submits to
func (p *Primitive) Queue() domain.Queue {
	return p.queue
}

// Execute submits cmds and waits for completion without timing them
func (p *Primitive) Execute(ctx context.Context, cmds *domain.CommandList) (domain.FenceOutcome, error) {
	value, err := p.backend.Submit(p.queue, cmds)
	if err != nil {
		return domain.FenceError, fmt.Errorf("failed to submit: %w", err)
	}
	return p.fences.Wait(ctx, p.queue, value, 0), nil
}

// TimedCopies brackets copies copies of src into dst with device timestamps
func (p *Primitive) TimedCopies(ctx context.Context, src, dst *domain.TransferBuffer, copies int) (Measurement, error) {
	size := min(src.Size, dst.Size)
	cl := domain.NewCommandList()
	cl.WriteTimestamp(0)
	for i := 0; i < copies; i++ {
		cl.CopyRegion(src, dst, size)
	}
	cl.WriteTimestamp(1)

	m := Measurement{Bytes: size * uint64(copies)}
	outcome, err := p.Execute(ctx, cl)
	m.Outcome = outcome
	if err != nil || outcome != domain.FenceSuccess {
		return m, err
	}

	stamps, err := p.backend.ReadTimestamps(p.queue, 0, 2)
	if err != nil {
		m.Outcome = domain.FenceError
		return m, fmt.Errorf("failed to read timestamps: %w", err)
	}
	m.Elapsed = p.ticksToDuration(stamps[0], stamps[1])
	if m.Elapsed <= 0 {
		p.log.Debug("discarding non-positive timestamp interval",
			zap.Uint64("start", stamps[0]), zap.Uint64("end", stamps[1]))
		return m, ErrNonPositiveInterval
	}
	return m, nil
}

// TimedRoundTrip chains an upload of src into dev and a download of dev into back,
// copies times, in one submission and times it on the host clock. Bytes counts one
// direction.
func (p *Primitive) TimedRoundTrip(ctx context.Context, src, dev, back *domain.TransferBuffer, copies int) (Measurement, error) {
	size := min(src.Size, dev.Size, back.Size)
	cl := domain.NewCommandList()
	for i := 0; i < copies; i++ {
		cl.CopyRegion(src, dev, size)
		cl.CopyRegion(dev, back, size)
	}
	return p.TimedHost(ctx, cl, size*uint64(copies))
}

// TimedHost submits cmds and times submission to completion on the host clock
func (p *Primitive) TimedHost(ctx context.Context, cmds *domain.CommandList, bytes uint64) (Measurement, error) {
	m := Measurement{Bytes: bytes}
	start := p.clock.Now()
	outcome, err := p.Execute(ctx, cmds)
	m.Elapsed = p.clock.Now().Sub(start)
	m.Outcome = outcome
	if err != nil || outcome != domain.FenceSuccess {
		return m, err
	}
	if m.Elapsed <= 0 {
		return m, ErrNonPositiveInterval
	}
	return m, nil
}

// TimedWithPeer submits cmds on p and peerCmds on peer before waiting on either,
// then waits for both queues jointly. The host-clock interval covers both submissions.
func (p *Primitive) TimedWithPeer(ctx context.Context, cmds *domain.CommandList, peer *Primitive, peerCmds *domain.CommandList, bytes uint64) (Measurement, error) {
	m := Measurement{Bytes: bytes, Outcome: domain.FenceError}
	start := p.clock.Now()
	own, err := p.backend.Submit(p.queue, cmds)
	if err != nil {
		return m, fmt.Errorf("failed to submit on queue %d: %w", p.queue.ID, err)
	}
	other, err := peer.backend.Submit(peer.queue, peerCmds)
	if err != nil {
		// drain the first submission so its buffers are idle before release
		_ = p.fences.Wait(ctx, p.queue, own, 0)
		return m, fmt.Errorf("failed to submit on queue %d: %w", peer.queue.ID, err)
	}

	m.Outcome = p.fences.WaitAll(ctx, []fence.Target{
		{Queue: p.queue, Value: own},
		{Queue: peer.queue, Value: other},
	}, 0)
	m.Elapsed = p.clock.Now().Sub(start)
	if m.Outcome != domain.FenceSuccess {
		return m, nil
	}
	if m.Elapsed <= 0 {
		return m, ErrNonPositiveInterval
	}
	return m, nil
}

// TimedPairs records pairs timestamp-bracketed copies of size bytes in a single
// submission and returns the device time of each copy. Pairs with a non-positive
// interval are dropped.
func (p *Primitive) TimedPairs(ctx context.Context, src, dst *domain.TransferBuffer, size uint64, pairs int) ([]time.Duration, domain.FenceOutcome, error) {
	cl := domain.NewCommandList()
	for i := 0; i < pairs; i++ {
		cl.WriteTimestamp(2 * i)
		cl.CopyRegion(src, dst, size)
		cl.WriteTimestamp(2*i + 1)
	}

	outcome, err := p.Execute(ctx, cl)
	if err != nil || outcome != domain.FenceSuccess {
		return nil, outcome, err
	}

	stamps, err := p.backend.ReadTimestamps(p.queue, 0, 2*pairs)
	if err != nil {
		return nil, domain.FenceError, fmt.Errorf("failed to read timestamps: %w", err)
	}
	out := make([]time.Duration, 0, pairs)
	for i := 0; i < pairs; i++ {
		if d := p.ticksToDuration(stamps[2*i], stamps[2*i+1]); d > 0 {
			out = append(out, d)
		}
	}
	return out, outcome, nil
}

func (p *Primitive) ticksToDuration(start, end uint64) time.Duration {
	if end <= start {
		return 0
	}
	return time.Duration(float64(end-start) * p.period)
}
