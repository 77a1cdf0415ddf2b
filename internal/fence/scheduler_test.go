package fence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/worldland/linkbench/internal/domain"
	"go.uber.org/zap/zaptest"
)

// MockFenceSource implements domain.FenceSource for testing
type MockFenceSource struct {
	mu                 sync.Mutex
	completedValueFunc func(q domain.Queue) (uint64, error)
	values             map[int]uint64

	// Call tracking
	Calls int
}

func (m *MockFenceSource) CompletedValue(q domain.Queue) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.completedValueFunc != nil {
		return m.completedValueFunc(q)
	}
	return m.values[q.ID], nil
}

func (m *MockFenceSource) set(queueID int, v uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[int]uint64)
	}
	m.values[queueID] = v
}

func (m *MockFenceSource) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.WaitTimeout = 20 * time.Millisecond
	p.PollInitial = 100 * time.Microsecond
	p.PollMax = time.Millisecond
	return p
}

func TestWait_SucceedsWhenValueReached(t *testing.T) {
	src := &MockFenceSource{}
	src.set(0, 5)
	s := NewScheduler(src, &mclock.Simulated{}, testPolicy(), zaptest.NewLogger(t))
	s.Begin()

	outcome := s.Wait(context.Background(), domain.Queue{ID: 0}, 5, 0)

	assert.Equal(t, domain.FenceSuccess, outcome)
	assert.Equal(t, 0, s.ConsecutiveTimeouts())
}

func TestWait_PollsUntilSignalled(t *testing.T) {
	src := &MockFenceSource{}
	src.completedValueFunc = func(q domain.Queue) (uint64, error) {
		if src.Calls >= 3 {
			return 1, nil
		}
		return 0, nil
	}
	s := NewScheduler(src, &mclock.Simulated{}, testPolicy(), nil)
	s.Begin()

	outcome := s.Wait(context.Background(), domain.Queue{}, 1, time.Second)

	assert.Equal(t, domain.FenceSuccess, outcome)
	assert.GreaterOrEqual(t, src.calls(), 3)
}

func TestWait_TimeoutIncrementsCounter(t *testing.T) {
	src := &MockFenceSource{}
	s := NewScheduler(src, &mclock.Simulated{}, testPolicy(), zaptest.NewLogger(t))
	s.Begin()

	outcome := s.Wait(context.Background(), domain.Queue{}, 1, 0)

	assert.Equal(t, domain.FenceTimeout, outcome)
	assert.Equal(t, 1, s.ConsecutiveTimeouts())
	assert.False(t, s.Aborted())
}

func TestWait_SuccessResetsCounter(t *testing.T) {
	src := &MockFenceSource{}
	s := NewScheduler(src, &mclock.Simulated{}, testPolicy(), nil)
	s.Begin()

	_ = s.Wait(context.Background(), domain.Queue{}, 1, 0)
	_ = s.Wait(context.Background(), domain.Queue{}, 1, 0)
	require.Equal(t, 2, s.ConsecutiveTimeouts())

	src.set(0, 1)
	assert.Equal(t, domain.FenceSuccess, s.Wait(context.Background(), domain.Queue{}, 1, 0))
	assert.Equal(t, 0, s.ConsecutiveTimeouts())
}

func TestWait_ThirdConsecutiveTimeoutAborts(t *testing.T) {
	src := &MockFenceSource{}
	s := NewScheduler(src, &mclock.Simulated{}, testPolicy(), zaptest.NewLogger(t))
	s.Begin()

	for i := 0; i < 3; i++ {
		assert.Equal(t, domain.FenceTimeout, s.Wait(context.Background(), domain.Queue{}, 1, 0))
	}
	assert.True(t, s.Aborted())

	// Aborted is sticky and short-circuits without polling
	src.set(0, 1)
	before := src.calls()
	assert.Equal(t, domain.FenceTimeout, s.Wait(context.Background(), domain.Queue{}, 1, 0))
	assert.Equal(t, before, src.calls())
}

func TestWait_GlobalBudgetExceeded(t *testing.T) {
	clock := &mclock.Simulated{}
	src := &MockFenceSource{}
	src.set(0, 10)
	s := NewScheduler(src, clock, testPolicy(), zaptest.NewLogger(t))
	s.Begin()

	clock.Run(6 * time.Minute)

	assert.Equal(t, domain.FenceTimeout, s.Wait(context.Background(), domain.Queue{}, 1, 0))
	assert.True(t, s.Aborted())
	assert.Equal(t, 0, src.calls())
}

func TestWait_CancelledBeforeWait(t *testing.T) {
	src := &MockFenceSource{}
	src.set(0, 10)
	s := NewScheduler(src, &mclock.Simulated{}, testPolicy(), nil)
	s.Begin()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, domain.FenceCancelled, s.Wait(ctx, domain.Queue{}, 1, 0))
	assert.Equal(t, 0, src.calls())
	assert.Equal(t, 0, s.ConsecutiveTimeouts())
}

func TestWait_CancelledDuringWait(t *testing.T) {
	src := &MockFenceSource{}
	s := NewScheduler(src, &mclock.Simulated{}, testPolicy(), nil)
	s.Begin()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(5*time.Millisecond, cancel)

	outcome := s.Wait(ctx, domain.Queue{}, 1, 5*time.Second)

	assert.Equal(t, domain.FenceCancelled, outcome)
	assert.Equal(t, 0, s.ConsecutiveTimeouts())
}

func TestWait_BackendErrorIsError(t *testing.T) {
	src := &MockFenceSource{
		completedValueFunc: func(q domain.Queue) (uint64, error) {
			return 0, domain.ErrDeviceLost
		},
	}
	s := NewScheduler(src, &mclock.Simulated{}, testPolicy(), zaptest.NewLogger(t))
	s.Begin()

	assert.Equal(t, domain.FenceError, s.Wait(context.Background(), domain.Queue{}, 1, 0))
	assert.Equal(t, 1, src.calls()) // Permanent errors are not retried
}

func TestWaitAll_RequiresEveryQueue(t *testing.T) {
	src := &MockFenceSource{}
	src.set(0, 3)
	s := NewScheduler(src, &mclock.Simulated{}, testPolicy(), nil)
	s.Begin()

	targets := []Target{{Queue: domain.Queue{ID: 0}, Value: 3}, {Queue: domain.Queue{ID: 1}, Value: 2}}
	assert.Equal(t, domain.FenceTimeout, s.WaitAll(context.Background(), targets, 0))

	src.set(1, 2)
	assert.Equal(t, domain.FenceSuccess, s.WaitAll(context.Background(), targets, 0))
}

func TestBegin_ClearsAbortedState(t *testing.T) {
	s := NewScheduler(&MockFenceSource{}, &mclock.Simulated{}, testPolicy(), nil)
	s.Begin()
	for i := 0; i < 3; i++ {
		_ = s.Wait(context.Background(), domain.Queue{}, 1, 0)
	}
	require.True(t, s.Aborted())

	s.Begin()
	assert.False(t, s.Aborted())
	assert.Equal(t, 0, s.ConsecutiveTimeouts())
}
