package bench

import (
	"context"
	"errors"
	"fmt"

	"github.com/worldland/linkbench/internal/domain"
	"go.uber.org/zap"
)

// DefaultTests returns the suite order for cfg. Download bandwidth runs before upload
// bandwidth so the round-trip correction has a download reference.
func DefaultTests(cfg domain.BenchmarkConfig) []Test {
	tests := []Test{
		BandwidthTest{Direction: Download},
		BandwidthTest{Direction: Upload},
	}
	if cfg.EnableBidirectional {
		tests = append(tests, BidirectionalTest{})
	}
	if cfg.EnableLatency {
		tests = append(tests, LatencyTest{Direction: Upload}, LatencyTest{Direction: Download})
	}
	return tests
}

// Suite runs a list of tests runCount times against one RunContext
type Suite struct {
	rc    *RunContext
	tests []Test

	// OnResult is called from the worker goroutine after each test finishes
	OnResult func(domain.TestResult)
}

// NewSuite creates a suite running tests, or DefaultTests when tests is empty
func NewSuite(rc *RunContext, tests ...Test) *Suite {
	if len(tests) == 0 {
		tests = DefaultTests(rc.Config)
	}
	return &Suite{rc: rc, tests: tests}
}

// Run executes the suite and returns every result collected, including partial ones.
// The error is ErrAborted after repeated fence timeouts or the global budget, and
// ctx.Err() after cancellation.
func (s *Suite) Run(ctx context.Context) ([]domain.TestResult, error) {
	rc := s.rc
	rc.Fences.Begin()

	var results []domain.TestResult
	emit := func(r domain.TestResult) {
		results = append(results, r)
		if s.OnResult != nil {
			s.OnResult(r)
		}
	}

	for run := 1; run <= rc.Config.RunCount; run++ {
		for _, test := range s.tests {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			if rc.Fences.Aborted() {
				return results, domain.ErrAborted
			}

			result, err := test.Run(ctx, rc)
			if err != nil {
				rc.Log.Warn("skipping test",
					zap.String("test", test.Name()),
					zap.Int("run", run),
					zap.Error(err))
				result = domain.TestResult{
					Name:   test.Name(),
					Unit:   test.Unit(),
					Status: domain.TestStatusSkipped,
					Notes:  []string{skipNote(err)},
				}
			}
			result.Run = run
			emit(result)

			switch result.Status {
			case domain.TestStatusCancelled:
				return results, context.Canceled
			case domain.TestStatusAborted:
				return results, domain.ErrAborted
			}
		}
	}

	if fb := rc.Fallbacks(); fb > 0 {
		rc.Log.Info("round-trip fallbacks during run", zap.Int("count", fb))
	}
	return results, nil
}

func skipNote(err error) string {
	if errors.Is(err, domain.ErrOutOfDeviceMemory) {
		return fmt.Sprintf("skipped: allocation failed (%v)", err)
	}
	return fmt.Sprintf("skipped: %v", err)
}
