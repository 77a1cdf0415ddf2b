package vram

import (
	"fmt"
	"time"

	"github.com/worldland/linkbench/internal/domain"
)

// ScanConfig is the per-scan snapshot of scanner settings
type ScanConfig struct {
	// PreferredChunk is the first chunk size tried
	// Default: 512 MiB
	PreferredChunk uint64

	// MinChunk is the floor of chunk-size halving
	// Default: 32 MiB
	MinChunk uint64

	// Coverage is the fraction of device memory tested; FullCoverage replaces it
	// when FullScan is set. Both stay below 1 because the platform reserves memory.
	Coverage     float64
	FullCoverage float64
	FullScan     bool

	// MarchingOnes and MarchingZeros are the iteration counts of the marching patterns
	MarchingOnes  int
	MarchingZeros int

	// ClusterThreshold is the largest gap in bytes that still extends a cluster
	ClusterThreshold uint64

	// Seed is the base seed of the random pattern
	Seed uint64

	// MaxClusters caps the reported error regions; errors beyond it are still counted
	MaxClusters int

	// Patterns overrides the default pattern suite when non-empty
	Patterns []domain.PatternDescriptor

	// DeviceIndex selects the adapter; negative selects the default
	DeviceIndex int

	// DeviceMemory overrides the backend-reported memory size when non-zero
	DeviceMemory uint64

	// Budget caps the wall-clock time of the scan in place of the fence policy's
	// benchmark budget; 0 leaves the scan bounded only by per-wait timeouts.
	// Default: 0
	Budget time.Duration
}

// DefaultScanConfig returns default scan configuration
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		PreferredChunk:   512 << 20,
		MinChunk:         32 << 20,
		Coverage:         0.80,
		FullCoverage:     0.90,
		MarchingOnes:     4,
		MarchingZeros:    4,
		ClusterThreshold: 256,
		Seed:             0x5EED1234ABCD,
		MaxClusters:      1024,
		DeviceIndex:      -1,
	}
}

// Validate checks that the scan config is usable
func (c ScanConfig) Validate() error {
	switch {
	case c.MinChunk == 0 || c.MinChunk%4 != 0:
		return fmt.Errorf("%w: minimum chunk must be a positive multiple of 4", domain.ErrInvalidCfg)
	case c.PreferredChunk < c.MinChunk:
		return fmt.Errorf("%w: preferred chunk below minimum chunk", domain.ErrInvalidCfg)
	case c.Coverage <= 0 || c.Coverage >= 1:
		return fmt.Errorf("%w: coverage must be in (0, 1)", domain.ErrInvalidCfg)
	case c.FullScan && (c.FullCoverage <= 0 || c.FullCoverage >= 1):
		return fmt.Errorf("%w: full-scan coverage must be in (0, 1)", domain.ErrInvalidCfg)
	case c.MarchingOnes < 0 || c.MarchingZeros < 0:
		return fmt.Errorf("%w: marching iterations must not be negative", domain.ErrInvalidCfg)
	case c.MaxClusters <= 0:
		return fmt.Errorf("%w: max clusters must be positive", domain.ErrInvalidCfg)
	case c.Budget < 0:
		return fmt.Errorf("%w: scan budget must not be negative", domain.ErrInvalidCfg)
	}
	return nil
}

// TargetBytes returns the number of bytes to test on a device with deviceMemory
// bytes, rounded down to a multiple of 4
func (c ScanConfig) TargetBytes(deviceMemory uint64) uint64 {
	coverage := c.Coverage
	if c.FullScan {
		coverage = c.FullCoverage
	}
	return uint64(float64(deviceMemory)*coverage) &^ 3
}

// Suite returns the ordered pattern suite run on every chunk
func (c ScanConfig) Suite() []domain.PatternDescriptor {
	if len(c.Patterns) > 0 {
		out := make([]domain.PatternDescriptor, len(c.Patterns))
		copy(out, c.Patterns)
		return out
	}
	suite := []domain.PatternDescriptor{
		{Kind: domain.PatternAllZeros},
		{Kind: domain.PatternAllOnes},
		{Kind: domain.PatternCheckerboard},
		{Kind: domain.PatternInverseCheckerboard},
		{Kind: domain.PatternAddress},
		{Kind: domain.PatternRandom},
	}
	for i := 0; i < c.MarchingOnes; i++ {
		suite = append(suite, domain.PatternDescriptor{Kind: domain.PatternMarchingOnes, Iteration: i})
	}
	for i := 0; i < c.MarchingZeros; i++ {
		suite = append(suite, domain.PatternDescriptor{Kind: domain.PatternMarchingZeros, Iteration: i})
	}
	return suite
}
