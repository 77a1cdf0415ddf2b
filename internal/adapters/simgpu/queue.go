package simgpu

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/worldland/linkbench/internal/domain"
)

type op struct {
	kind domain.CommandOp
	src  *buffer
	dst  *buffer
	size uint64
	slot int
}

func (o op) isUpload() bool {
	return o.src.desc.Kind.HostVisible() && o.dst.desc.Kind == domain.BufferDeviceLocal
}

type pendingSignal struct {
	value uint64
	at    mclock.AbsTime
}

type submission struct {
	ops   []op
	value uint64
}

type queue struct {
	id      int
	backend *Backend

	mu        sync.Mutex
	submitted uint64
	completed uint64
	hung      bool
	pending   []pendingSignal // modelled mode
	busyUntil mclock.AbsTime  // modelled mode
	stamps    []uint64

	work chan submission // real mode
	done chan struct{}
}

func newQueue(b *Backend, id int, real bool) *queue {
	q := &queue{
		id:      id,
		backend: b,
		stamps:  make([]uint64, MaxTimestampSlots),
	}
	if real {
		q.work = make(chan submission, 64)
		q.done = make(chan struct{})
		go q.run()
	}
	return q
}

// submit returns the fence value that signals when ops complete.
// A hung queue hands out values but never signals them.
func (q *queue) submit(ops []op, hang bool) uint64 {
	q.mu.Lock()
	q.submitted++
	value := q.submitted
	if hang {
		q.hung = true
	}
	if q.hung {
		q.mu.Unlock()
		return value
	}
	if q.work == nil {
		q.executeModelledLocked(ops, value)
		q.mu.Unlock()
		return value
	}
	q.mu.Unlock()

	q.work <- submission{ops: ops, value: value}
	return value
}

// executeModelledLocked moves the data now and schedules the fence signal at the
// modelled completion time (caller must hold lock)
func (q *queue) executeModelledLocked(ops []op, value uint64) {
	b := q.backend
	start := b.clock.Now()
	if q.busyUntil > start {
		start = q.busyUntil
	}
	t := start.Add(b.profile.SubmitOverhead)

	// hidden is transfer time the device timestamps do not see
	var hidden time.Duration
	for _, o := range ops {
		switch o.kind {
		case domain.OpTimestamp:
			q.stamps[o.slot] = b.ticks(t.Add(-hidden))
		case domain.OpCopy:
			d := b.copyDuration(o)
			b.copyData(o)
			if b.profile.OptimisticUploadTimestamps && o.isUpload() {
				hidden += d - b.profile.CopyLatency
			}
			t = t.Add(d)
		}
	}

	q.pending = append(q.pending, pendingSignal{value: value, at: t})
	q.busyUntil = t
}

func (q *queue) run() {
	defer close(q.done)
	b := q.backend
	for s := range q.work {
		for _, o := range s.ops {
			switch o.kind {
			case domain.OpTimestamp:
				stamp := b.ticks(b.clock.Now())
				q.mu.Lock()
				q.stamps[o.slot] = stamp
				q.mu.Unlock()
			case domain.OpCopy:
				b.copyData(o)
			}
		}
		q.mu.Lock()
		q.completed = s.value
		q.mu.Unlock()
	}
}

// completedValue reports the fence value. In modelled mode the host is treated as
// having waited: the simulated clock advances to the next pending completion.
func (q *queue) completedValue() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return q.completed
	}
	b := q.backend
	now := b.clock.Now()
	if b.sim != nil && q.pending[0].at > now {
		b.sim.Run(q.pending[0].at.Sub(now))
		now = b.clock.Now()
	}
	for len(q.pending) > 0 && q.pending[0].at <= now {
		q.completed = q.pending[0].value
		q.pending = q.pending[1:]
	}
	return q.completed
}

func (q *queue) readTimestamps(first, count int) ([]uint64, error) {
	if first < 0 || count < 0 || first+count > MaxTimestampSlots {
		return nil, fmt.Errorf("slots [%d,%d): %w", first, first+count, domain.ErrTimestampRange)
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]uint64, count)
	copy(out, q.stamps[first:first+count])
	return out, nil
}

func (q *queue) stop() {
	if q.work == nil {
		return
	}
	close(q.work)
	<-q.done
}
