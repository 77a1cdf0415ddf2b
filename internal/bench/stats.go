package bench

import (
	"math"
	"sort"

	"github.com/worldland/linkbench/internal/domain"
)

// PercentileIndex returns floor(n*q) clamped to [0, n-1]
func PercentileIndex(n int, q float64) int {
	if n <= 0 {
		return 0
	}
	i := int(math.Floor(float64(n) * q))
	if i < 0 {
		return 0
	}
	if i > n-1 {
		return n - 1
	}
	return i
}

// Aggregate sorts samples and derives the result statistics. An empty sample set
// yields a no-data result and ErrNoData.
func Aggregate(name, unit string, samples []float64) (domain.TestResult, error) {
	result := domain.TestResult{
		Name:       name,
		Unit:       unit,
		Status:     domain.TestStatusDone,
		Confidence: domain.ConfidenceFull,
	}
	if len(samples) == 0 {
		result.Status = domain.TestStatusNoData
		return result, domain.ErrNoData
	}

	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	var sum float64
	for _, s := range sorted {
		sum += s
	}

	n := len(sorted)
	result.Samples = sorted
	result.Min = sorted[0]
	result.Max = sorted[n-1]
	result.Avg = sum / float64(n)
	result.P99 = sorted[PercentileIndex(n, 0.99)]
	result.P999 = sorted[PercentileIndex(n, 0.999)]
	return result, nil
}
