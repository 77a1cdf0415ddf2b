package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/worldland/linkbench/internal/adapters/simgpu"
	"github.com/worldland/linkbench/internal/bench"
	"github.com/worldland/linkbench/internal/domain"
	"github.com/worldland/linkbench/internal/fence"
	"github.com/worldland/linkbench/internal/vram"
	"go.uber.org/zap/zaptest"
)

// MockBackendFactory is a mock implementation of BackendFactory
type MockBackendFactory struct {
	mu      sync.Mutex
	newFunc func(clock mclock.Clock) (domain.GraphicsBackend, error)
	Calls   int
}

func (m *MockBackendFactory) New(clock mclock.Clock) (domain.GraphicsBackend, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	return m.newFunc(clock)
}

func (m *MockBackendFactory) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

func profileFactory(t *testing.T, p simgpu.Profile) *MockBackendFactory {
	t.Helper()
	log := zaptest.NewLogger(t)
	return &MockBackendFactory{
		newFunc: func(clock mclock.Clock) (domain.GraphicsBackend, error) {
			return simgpu.New(p, clock, log), nil
		},
	}
}

// blockingBackend ignores cancellation inside Submit, like a wedged driver call
type blockingBackend struct {
	*simgpu.Backend
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingBackend) Submit(q domain.Queue, cmds *domain.CommandList) (uint64, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.Backend.Submit(q, cmds)
}

func smallBenchConfig() domain.BenchmarkConfig {
	cfg := domain.DefaultBenchmarkConfig()
	cfg.BufferSize = 64 << 20
	cfg.BatchCount = 8
	cfg.IterationCount = 4
	return cfg
}

func waitDone(t *testing.T, s *Supervisor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

func TestSupervisor_BenchmarkCompletes(t *testing.T) {
	factory := profileFactory(t, simgpu.DiscreteProfile())
	s := NewSupervisor(factory.New, &mclock.Simulated{}, fence.DefaultPolicy(), zaptest.NewLogger(t))
	s.SetHints(Hints{Link: &domain.LinkInfo{Generation: 4, Lanes: 16}})

	require.NoError(t, s.StartBenchmark(smallBenchConfig()))
	waitDone(t, s)

	status := s.Status()
	assert.Equal(t, JobStateFinished, status.State)
	assert.Equal(t, JobBenchmark, status.Kind)
	assert.False(t, status.Running)
	assert.False(t, status.Aborted)
	assert.Empty(t, status.Error)
	require.NotNil(t, status.Device)
	assert.Equal(t, 5, status.Results)

	results := s.Results()
	require.Len(t, results, 5)
	assert.Equal(t, "Download Bandwidth", results[0].Name)

	class, ok := s.Classification()
	require.True(t, ok)
	assert.Equal(t, "PCIe 4.0 x16 / PCIe 5.0 x8", class.Standard)
	assert.Equal(t, "PCIe 4.0 x16", class.LinkStandard)
	assert.False(t, class.BelowLinkExpected)
	assert.Equal(t, 1, factory.calls())
}

func TestSupervisor_RejectsSecondJobAndCancelKeepsPartials(t *testing.T) {
	p := simgpu.DiscreteProfile()
	// download warm-up plus 8 batches succeed, the upload warm-up hangs
	p.HangAfterSubmits = 9
	factory := profileFactory(t, p)

	policy := fence.DefaultPolicy()
	policy.WaitTimeout = time.Minute
	s := NewSupervisor(factory.New, &mclock.Simulated{}, policy, zaptest.NewLogger(t))

	require.NoError(t, s.StartBenchmark(smallBenchConfig()))
	require.Eventually(t, func() bool { return s.Status().Results == 1 }, 10*time.Second, time.Millisecond)

	assert.True(t, s.Running())
	assert.ErrorIs(t, s.StartScan(vram.DefaultScanConfig()), domain.ErrRunActive)
	assert.ErrorIs(t, s.StartBenchmark(smallBenchConfig()), domain.ErrRunActive)

	assert.True(t, s.Cancel())
	waitDone(t, s)

	assert.Equal(t, JobStateCancelled, s.Status().State)
	results := s.Results()
	require.Len(t, results, 2)
	assert.Equal(t, domain.TestStatusDone, results[0].Status)
	assert.True(t, results[0].HasData())
	assert.Equal(t, domain.TestStatusCancelled, results[1].Status)
	assert.Equal(t, 1, factory.calls())
}

func TestSupervisor_AbortedRun(t *testing.T) {
	p := simgpu.DiscreteProfile()
	p.HangAfterSubmits = 3
	policy := fence.DefaultPolicy()
	policy.WaitTimeout = 5 * time.Millisecond
	s := NewSupervisor(profileFactory(t, p).New, &mclock.Simulated{}, policy, zaptest.NewLogger(t))

	require.NoError(t, s.StartBenchmark(smallBenchConfig()))
	waitDone(t, s)

	status := s.Status()
	assert.Equal(t, JobStateAborted, status.State)
	assert.True(t, status.Aborted)
	assert.NotEmpty(t, status.Error)
	require.Len(t, s.Results(), 1)
}

func TestSupervisor_AbortedScan(t *testing.T) {
	p := simgpu.DiscreteProfile()
	p.DeviceMemory = 10 << 20
	p.Backing = simgpu.BackingHeap
	p.HangAfterSubmits = 1
	policy := fence.DefaultPolicy()
	policy.WaitTimeout = 5 * time.Millisecond
	s := NewSupervisor(profileFactory(t, p).New, &mclock.Simulated{}, policy, zaptest.NewLogger(t))

	cfg := vram.DefaultScanConfig()
	cfg.PreferredChunk = 4 << 20
	cfg.MinChunk = 1 << 20
	require.NoError(t, s.StartScan(cfg))
	waitDone(t, s)

	status := s.Status()
	assert.Equal(t, JobStateAborted, status.State)
	assert.True(t, status.Aborted)
	assert.Contains(t, status.Error, domain.ErrAborted.Error())

	report := s.ScanReport()
	require.NotNil(t, report)
	assert.Equal(t, domain.ScanIncomplete, report.Outcome)
	assert.Zero(t, report.TotalBytesTested)
}

func TestSupervisor_FactoryError(t *testing.T) {
	factory := &MockBackendFactory{
		newFunc: func(mclock.Clock) (domain.GraphicsBackend, error) {
			return nil, domain.ErrDeviceNotFound
		},
	}
	s := NewSupervisor(factory.New, &mclock.Simulated{}, fence.DefaultPolicy(), zaptest.NewLogger(t))

	require.NoError(t, s.StartBenchmark(smallBenchConfig()))
	waitDone(t, s)

	assert.Equal(t, JobStateFailed, s.Status().State)
	assert.Contains(t, s.Status().Error, domain.ErrDeviceNotFound.Error())

	_, ok := s.Classification()
	assert.False(t, ok)

	// the slot is free again
	require.NoError(t, s.StartBenchmark(smallBenchConfig()))
	waitDone(t, s)
	assert.Equal(t, 2, factory.calls())
}

func TestSupervisor_InvalidConfigDoesNotStart(t *testing.T) {
	factory := profileFactory(t, simgpu.DiscreteProfile())
	s := NewSupervisor(factory.New, nil, fence.DefaultPolicy(), nil)

	cfg := smallBenchConfig()
	cfg.BatchCount = 0
	assert.ErrorIs(t, s.StartBenchmark(cfg), domain.ErrInvalidCfg)
	assert.Zero(t, factory.calls())
	assert.Equal(t, JobStateIdle, s.Status().State)
	assert.False(t, s.Cancel())
	assert.True(t, s.Shutdown(time.Millisecond))
}

func TestSupervisor_ScanReport(t *testing.T) {
	p := simgpu.DiscreteProfile()
	p.DeviceMemory = 10 << 20
	p.Backing = simgpu.BackingHeap
	p.Faults = []simgpu.Fault{{Address: 1000, Bit: 2, StuckAt: 1}}
	s := NewSupervisor(profileFactory(t, p).New, &mclock.Simulated{}, fence.DefaultPolicy(), zaptest.NewLogger(t))

	cfg := vram.DefaultScanConfig()
	cfg.PreferredChunk = 4 << 20
	cfg.MinChunk = 1 << 20
	cfg.Patterns = []domain.PatternDescriptor{{Kind: domain.PatternAllZeros}}

	assert.Nil(t, s.ScanReport())
	require.NoError(t, s.StartScan(cfg))
	waitDone(t, s)

	status := s.Status()
	assert.Equal(t, JobStateFinished, status.State)
	assert.Equal(t, JobScan, status.Kind)
	assert.Equal(t, uint64(8<<20), status.Scan.BytesTested)

	report := s.ScanReport()
	require.NotNil(t, report)
	assert.Equal(t, domain.ScanErrors, report.Outcome)
	assert.Equal(t, uint64(1), report.TotalErrors)
}

func TestSupervisor_ShutdownAbandonsWedgedWorker(t *testing.T) {
	log := zaptest.NewLogger(t)
	blocking := &blockingBackend{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	factory := &MockBackendFactory{
		newFunc: func(clock mclock.Clock) (domain.GraphicsBackend, error) {
			blocking.Backend = simgpu.New(simgpu.DiscreteProfile(), clock, log)
			return blocking, nil
		},
	}
	s := NewSupervisor(factory.New, &mclock.Simulated{}, fence.DefaultPolicy(), log)

	require.NoError(t, s.StartBenchmark(smallBenchConfig()))
	<-blocking.entered

	start := time.Now()
	assert.False(t, s.Shutdown(20*time.Millisecond))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, s.Running())

	close(blocking.release)
	waitDone(t, s)
	assert.Equal(t, JobStateCancelled, s.Status().State)
}

func TestSupervisor_ShutdownWaitsForCooperativeWorker(t *testing.T) {
	p := simgpu.DiscreteProfile()
	p.HangAfterSubmits = 1
	policy := fence.DefaultPolicy()
	policy.WaitTimeout = time.Minute
	s := NewSupervisor(profileFactory(t, p).New, &mclock.Simulated{}, policy, zaptest.NewLogger(t))

	require.NoError(t, s.StartBenchmark(smallBenchConfig()))
	require.Eventually(t, func() bool {
		return s.Status().Benchmark.Phase == bench.PhaseSampling
	}, 10*time.Second, time.Millisecond)

	assert.True(t, s.Shutdown(10*time.Second))
	assert.False(t, s.Running())
	assert.Equal(t, JobStateCancelled, s.Status().State)
}
