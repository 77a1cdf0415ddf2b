package vram

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/worldland/linkbench/internal/domain"
	"github.com/worldland/linkbench/internal/fence"
	"github.com/worldland/linkbench/internal/transfer"
	"go.uber.org/zap"
)

// ProgressSnapshot is a point-in-time copy of Progress
type ProgressSnapshot struct {
	Chunk       int64  `json:"chunk"`
	Pattern     string `json:"pattern"`
	BytesTested uint64 `json:"bytes_tested"`
	TargetBytes uint64 `json:"target_bytes"`
}

// Progress is written by the scan worker and read from any goroutine
type Progress struct {
	chunk   atomic.Int64
	pattern atomic.Pointer[string]
	tested  atomic.Uint64
	target  atomic.Uint64
}

// Snapshot returns the current progress
func (p *Progress) Snapshot() ProgressSnapshot {
	s := ProgressSnapshot{
		Chunk:       p.chunk.Load(),
		BytesTested: p.tested.Load(),
		TargetBytes: p.target.Load(),
	}
	if name := p.pattern.Load(); name != nil {
		s.Pattern = *name
	}
	return s
}

// Scanner tests device memory chunk by chunk
type Scanner struct {
	backend domain.GraphicsBackend
	cfg     ScanConfig
	clock   mclock.Clock
	policy  fence.Policy
	log     *zap.Logger

	Progress Progress
}

// NewScanner creates a scanner. cfg is copied.
func NewScanner(backend domain.GraphicsBackend, cfg ScanConfig, clock mclock.Clock, policy fence.Policy, log *zap.Logger) *Scanner {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = mclock.System{}
	}
	return &Scanner{
		backend: backend,
		cfg:     cfg,
		clock:   clock,
		policy:  policy,
		log:     log,
	}
}

// Run scans device memory. The report is always returned, including on
// cancellation. The error is domain.ErrScanFailed when not even the minimum chunk
// could be allocated, the submission error when the device stops accepting work,
// domain.ErrAborted after repeated fence timeouts or an exceeded Budget, and
// ctx.Err() after cancellation. Chunks with an unverified pattern are skipped
// from TotalBytesTested and make the outcome incomplete.
func (s *Scanner) Run(ctx context.Context) (domain.ScanReport, error) {
	report := domain.ScanReport{PatternErrors: make(map[domain.PatternKind]uint64)}
	if err := s.cfg.Validate(); err != nil {
		report.Outcome = domain.ScanFailed
		return report, err
	}

	dev, err := domain.OpenDevice(s.backend, s.cfg.DeviceIndex)
	if err != nil {
		report.Outcome = domain.ScanFailed
		return report, fmt.Errorf("failed to select device: %w", err)
	}
	q, err := s.backend.CreateQueue(domain.QueueDirect)
	if err != nil {
		report.Outcome = domain.ScanFailed
		return report, fmt.Errorf("failed to create queue: %w", err)
	}
	policy := s.policy
	policy.GlobalBudget = s.cfg.Budget
	fences := fence.NewScheduler(s.backend, s.clock, policy, s.log)
	prim, err := transfer.NewPrimitive(s.backend, fences, s.clock, q, s.log)
	if err != nil {
		report.Outcome = domain.ScanFailed
		return report, err
	}

	report.DeviceMemory = dev.MemoryBytes
	if s.cfg.DeviceMemory > 0 {
		report.DeviceMemory = s.cfg.DeviceMemory
	}
	report.TargetBytes = s.cfg.TargetBytes(report.DeviceMemory)
	s.Progress.target.Store(report.TargetBytes)

	log := s.log.With(zap.String("device", dev.Name))
	log.Info("starting vram scan",
		zap.String("target", common.StorageSize(report.TargetBytes).String()),
		zap.String("device_memory", common.StorageSize(report.DeviceMemory).String()),
		zap.Bool("full_scan", s.cfg.FullScan))

	start := s.clock.Now()
	fences.Begin()
	suite := s.cfg.Suite()
	clusters := NewClusterer(s.cfg.ClusterThreshold, s.cfg.MaxClusters)
	prober := NewProber(s.backend, s.cfg.MinChunk, log)
	chunkSize := s.cfg.PreferredChunk
	var runErr error
	var offset uint64
	unverified := 0

scan:
	for offset < report.TargetBytes {
		if err := ctx.Err(); err != nil {
			report.Outcome = domain.ScanCancelled
			runErr = err
			break
		}

		chunk, err := prober.Allocate(min(chunkSize, report.TargetBytes-offset))
		if err != nil {
			if report.ChunksTested == 0 {
				log.Error("vram scan failed", zap.Error(err))
				report.Outcome = domain.ScanFailed
				runErr = err
			} else {
				log.Warn("stopping scan early, chunk allocation failed", zap.Error(err))
				report.Outcome = domain.ScanIncomplete
				report.Notes = append(report.Notes, fmt.Sprintf("chunk allocation failed after %d chunks: %v", report.ChunksTested, err))
			}
			break
		}
		chunk.LogicalOffset = offset
		chunkSize = chunk.Size
		if report.ChunkSize == 0 {
			report.ChunkSize = chunk.Size
		}
		s.Progress.chunk.Store(int64(report.ChunksTested + unverified + 1))

		res, err := s.scanChunk(ctx, prim, fences, chunk, suite, clusters, &report)
		if relErr := chunk.Release(s.backend); relErr != nil {
			log.Warn("failed to release chunk buffers", zap.Error(relErr))
		}
		if res.stop != "" {
			report.Outcome = res.stop
			if res.stop == domain.ScanFailed && report.ChunksTested > 0 {
				report.Outcome = domain.ScanIncomplete
			}
			runErr = err
			break scan
		}

		offset += chunk.Size
		if res.skipped > 0 {
			// a chunk only counts as tested when every pattern was read back
			unverified++
			report.Notes = append(report.Notes, fmt.Sprintf("chunk at %d not counted, %d of %d patterns unverified",
				chunk.LogicalOffset, res.skipped, len(suite)))
			continue
		}
		report.ChunksTested++
		report.TotalBytesTested += chunk.Size
		s.Progress.tested.Store(report.TotalBytesTested)
	}

	report.Errors = clusters.Clusters()
	report.DroppedClusters = clusters.Dropped()
	report.TotalErrors = clusters.Total()
	report.Duration = s.clock.Now().Sub(start)

	switch {
	case report.Outcome != "":
	case report.TotalErrors > 0:
		report.Outcome = domain.ScanErrors
	case unverified > 0:
		report.Outcome = domain.ScanIncomplete
	default:
		report.Outcome = domain.ScanPassed
	}
	if report.DroppedClusters > 0 {
		report.Notes = append(report.Notes, fmt.Sprintf("%d error clusters not listed", report.DroppedClusters))
	}

	log.Info("vram scan finished",
		zap.String("outcome", string(report.Outcome)),
		zap.String("tested", common.StorageSize(report.TotalBytesTested).String()),
		zap.Uint64("errors", report.TotalErrors),
		zap.Int("clusters", len(report.Errors)),
		zap.Duration("duration", report.Duration))
	return report, runErr
}

// chunkResult is the verdict of one chunk. A non-empty stop ends the scan, and
// ScanFailed there is lowered to ScanIncomplete once a chunk has been verified.
// skipped counts patterns that could not be read back.
type chunkResult struct {
	stop    domain.ScanOutcome
	skipped int
}

// scanChunk runs the pattern suite on one chunk. A failed submission means the
// device can no longer be trusted and stops the scan; a failed or timed-out wait
// only leaves that pattern unverified.
func (s *Scanner) scanChunk(ctx context.Context, prim *transfer.Primitive, fences *fence.Scheduler, chunk *Chunk,
	suite []domain.PatternDescriptor, clusters *Clusterer, report *domain.ScanReport) (chunkResult, error) {
	var res chunkResult
	upload, err := s.backend.Map(chunk.Upload)
	if err != nil {
		res.stop = domain.ScanFailed
		return res, fmt.Errorf("failed to map upload buffer: %w", err)
	}
	readback, err := s.backend.Map(chunk.Readback)
	if err != nil {
		res.stop = domain.ScanFailed
		return res, fmt.Errorf("failed to map readback buffer: %w", err)
	}

	cl := domain.NewCommandList()
	cl.Copy(chunk.Upload, chunk.Device)
	cl.Copy(chunk.Device, chunk.Readback)

	for _, desc := range suite {
		if err := ctx.Err(); err != nil {
			res.stop = domain.ScanCancelled
			return res, err
		}
		name := desc.String()
		s.Progress.pattern.Store(&name)

		gen := NewGenerator(desc, s.cfg.Seed)
		gen.Fill(upload, chunk.LogicalOffset)

		outcome, err := prim.Execute(ctx, cl)
		switch {
		case outcome == domain.FenceCancelled:
			res.stop = domain.ScanCancelled
			return res, ctx.Err()
		case fences.Aborted():
			report.Notes = append(report.Notes, "scan stopped after repeated fence timeouts")
			res.stop = domain.ScanIncomplete
			return res, domain.ErrAborted
		case err != nil:
			s.log.Error("pattern submission failed",
				zap.String("pattern", name),
				zap.Uint64("chunk_offset", chunk.LogicalOffset),
				zap.Error(err))
			report.Notes = append(report.Notes, fmt.Sprintf("scan stopped, pattern %s could not be submitted on chunk at %d: %v", name, chunk.LogicalOffset, err))
			res.stop = domain.ScanFailed
			return res, fmt.Errorf("failed to run pattern %s: %w", name, err)
		case outcome != domain.FenceSuccess:
			s.log.Warn("pattern transfer failed",
				zap.String("pattern", name),
				zap.Uint64("chunk_offset", chunk.LogicalOffset),
				zap.Stringer("outcome", outcome))
			report.Notes = append(report.Notes, fmt.Sprintf("pattern %s unverified on chunk at %d: %s", name, chunk.LogicalOffset, outcome))
			res.skipped++
			continue
		}

		n := gen.Verify(readback, chunk.LogicalOffset, func(m Mismatch) {
			clusters.Add(desc.Kind, m)
		})
		clusters.Close()
		if n > 0 {
			report.PatternErrors[desc.Kind] += n
			s.log.Warn("pattern mismatches",
				zap.String("pattern", name),
				zap.Uint64("chunk_offset", chunk.LogicalOffset),
				zap.Uint64("words", n))
		}
	}
	return res, nil
}

// IsScanFailure reports whether err means nothing could be tested
func IsScanFailure(err error) bool {
	return errors.Is(err, domain.ErrScanFailed)
}
