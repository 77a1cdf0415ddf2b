package domain

import "fmt"

// TimestampSlots is the number of timestamp queries a queue holds. A latency
// submission uses two per pair, so at most TimestampSlots/2 pairs fit.
const TimestampSlots = 1024

// MaxLatencyPairsPerSubmit bounds LatencyPairsPerSubmit
const MaxLatencyPairsPerSubmit = TimestampSlots / 2

// BenchmarkConfig is the immutable per-run snapshot of transfer test settings.
// It is passed by value; editing a config while a run is active has no effect on that run.
type BenchmarkConfig struct {
	// BufferSize is the size of each transfer buffer in bytes
	// Default: 256 MiB
	BufferSize uint64

	// CopiesPerBatch is the number of copy commands timed together
	// Default: 8
	CopiesPerBatch int

	// BatchCount is the number of timed batches per bandwidth test
	// Default: 32
	BatchCount int

	// IterationCount is the number of latency submissions per latency test
	// Default: 16
	IterationCount int

	// RunCount repeats the whole suite
	// Default: 1
	RunCount int

	// EnableBidirectional runs the overlapped upload+download test
	EnableBidirectional bool

	// EnableLatency runs the small-copy latency tests
	EnableLatency bool

	// LatencyPairsPerSubmit is the number of timestamp pairs batched per submission
	// Default: 64, at most MaxLatencyPairsPerSubmit
	LatencyPairsPerSubmit int

	// LatencyCopySize is the size of each latency probe copy in bytes
	// Default: 256
	LatencyCopySize uint64

	// DeviceIndex selects the adapter; negative selects the default
	DeviceIndex int
}

// DefaultBenchmarkConfig returns default benchmark configuration
func DefaultBenchmarkConfig() BenchmarkConfig {
	return BenchmarkConfig{
		BufferSize:            256 << 20,
		CopiesPerBatch:        8,
		BatchCount:            32,
		IterationCount:        16,
		RunCount:              1,
		EnableBidirectional:   true,
		EnableLatency:         true,
		LatencyPairsPerSubmit: 64,
		LatencyCopySize:       256,
		DeviceIndex:           -1,
	}
}

// Validate checks that the benchmark config is usable
func (c BenchmarkConfig) Validate() error {
	switch {
	case c.BufferSize == 0:
		return fmt.Errorf("%w: buffer size must be positive", ErrInvalidCfg)
	case c.CopiesPerBatch <= 0:
		return fmt.Errorf("%w: copies per batch must be positive", ErrInvalidCfg)
	case c.BatchCount <= 0:
		return fmt.Errorf("%w: batch count must be positive", ErrInvalidCfg)
	case c.RunCount <= 0:
		return fmt.Errorf("%w: run count must be positive", ErrInvalidCfg)
	}
	if c.EnableLatency {
		if c.IterationCount <= 0 {
			return fmt.Errorf("%w: iteration count must be positive", ErrInvalidCfg)
		}
		if c.LatencyPairsPerSubmit <= 0 {
			return fmt.Errorf("%w: latency pairs per submission must be positive", ErrInvalidCfg)
		}
		if c.LatencyPairsPerSubmit > MaxLatencyPairsPerSubmit {
			return fmt.Errorf("%w: latency pairs per submission exceeds %d timestamp pairs", ErrInvalidCfg, MaxLatencyPairsPerSubmit)
		}
		if c.LatencyCopySize == 0 {
			return fmt.Errorf("%w: latency copy size must be positive", ErrInvalidCfg)
		}
	}
	return nil
}
