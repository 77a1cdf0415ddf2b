// Package classify names the interconnect standard that best explains a measured
// download bandwidth. A measurement is matched against the known-standard table
// when it lies between 0.3x and 2x of the closest entry. Above that window it is
// reported as faster than any known standard, relative to the fastest entry.
// Below it, it is reported as slower than any known standard, relative to the
// slowest entry, not as faster.
package classify

import (
	"fmt"
	"math"

	"github.com/worldland/linkbench/internal/domain"
	"go.uber.org/zap"
)

// Acceptance window of a table match, relative to the entry's bandwidth
const (
	MinMatchRatio = 0.3
	MaxMatchRatio = 2.0

	// BelowLinkRatio flags a link delivering less than this share of its standard
	BelowLinkRatio = 0.7

	// DefaultMemoryGBs is assumed when system-memory bandwidth is unknown
	// (dual-channel DDR4-3200)
	DefaultMemoryGBs = 51.2
	// MemoryEfficiency discounts system-memory bandwidth for integrated GPUs
	MemoryEfficiency = 0.6
)

// Input carries the measured bandwidth and the optional hints
type Input struct {
	MeasuredGBs float64
	Integrated  bool

	// Link is the externally reported PCIe link, nil when unknown
	Link *domain.LinkInfo
	// Tunnelled marks a Thunderbolt/USB4 connection
	Tunnelled bool
	// SystemMemoryGBs is the detected memory bandwidth, 0 when unknown
	SystemMemoryGBs float64
}

// Classification is the interconnect verdict for one device
type Classification struct {
	Standard        string  `json:"standard"`
	ExpectedGBs     float64 `json:"expected_gbs"`
	MeasuredGBs     float64 `json:"measured_gbs"`
	EfficiencyPct   float64 `json:"efficiency_pct"`
	FasterThanKnown bool    `json:"faster_than_known"`
	SlowerThanKnown bool    `json:"slower_than_known"`
	Integrated      bool    `json:"integrated"`

	LinkStandard      string  `json:"link_standard,omitempty"`
	LinkExpectedGBs   float64 `json:"link_expected_gbs,omitempty"`
	BelowLinkExpected bool    `json:"below_link_expected"`

	Notes []string `json:"notes,omitempty"`
}

// Classifier maps bandwidth onto a table of standards
type Classifier struct {
	standards []Standard
	log       *zap.Logger
}

// New creates a classifier over standards, or DefaultStandards when empty
func New(standards []Standard, log *zap.Logger) *Classifier {
	if len(standards) == 0 {
		standards = DefaultStandards
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Classifier{standards: standards, log: log}
}

// Classify produces the verdict for in
func (c *Classifier) Classify(in Input) Classification {
	out := Classification{MeasuredGBs: in.MeasuredGBs, Integrated: in.Integrated}

	if in.Integrated {
		memory := in.SystemMemoryGBs
		if memory <= 0 {
			memory = DefaultMemoryGBs
			out.Notes = append(out.Notes, fmt.Sprintf("system memory bandwidth unknown, assuming %.1f GB/s", DefaultMemoryGBs))
		}
		out.Standard = "System memory (integrated GPU)"
		out.ExpectedGBs = memory * MemoryEfficiency
		out.EfficiencyPct = percent(in.MeasuredGBs, out.ExpectedGBs)
		return out
	}

	candidates := c.standards
	if in.Tunnelled {
		candidates = filterTunnelled(c.standards)
		out.Notes = append(out.Notes, "tunnelled connection: only Thunderbolt/USB4 standards considered")
	}
	c.matchTable(in.MeasuredGBs, candidates, &out)

	if in.Link != nil {
		name, gbs, ok := LinkStandard(in.Link.Generation, in.Link.Lanes)
		if ok {
			out.LinkStandard = name
			out.LinkExpectedGBs = gbs
			if in.MeasuredGBs < BelowLinkRatio*gbs {
				out.BelowLinkExpected = true
				out.Notes = append(out.Notes, fmt.Sprintf("measured %.2f GB/s is below %.0f%% of %s (%.1f GB/s)",
					in.MeasuredGBs, BelowLinkRatio*100, name, gbs))
			}
		} else {
			out.Notes = append(out.Notes, fmt.Sprintf("unknown PCIe generation %d", in.Link.Generation))
		}
	}

	c.log.Debug("interface classified",
		zap.String("standard", out.Standard),
		zap.Float64("measured_gbs", in.MeasuredGBs),
		zap.Float64("efficiency_pct", out.EfficiencyPct))
	return out
}

func (c *Classifier) matchTable(measured float64, candidates []Standard, out *Classification) {
	if len(candidates) == 0 {
		return
	}

	closest := candidates[0]
	slowest, fastest := candidates[0], candidates[0]
	for _, s := range candidates {
		if math.Abs(measured-s.GBs) < math.Abs(measured-closest.GBs) {
			closest = s
		}
		if s.GBs < slowest.GBs {
			slowest = s
		}
		if s.GBs > fastest.GBs {
			fastest = s
		}
	}

	ratio := measured / closest.GBs
	switch {
	case ratio > MaxMatchRatio:
		out.FasterThanKnown = true
		closest = fastest
		out.Notes = append(out.Notes, fmt.Sprintf("faster than any known standard, reported relative to %s", fastest.Name))
	case ratio < MinMatchRatio:
		out.SlowerThanKnown = true
		closest = slowest
		out.Notes = append(out.Notes, fmt.Sprintf("slower than any known standard, reported relative to %s", slowest.Name))
	}
	out.Standard = closest.Name
	out.ExpectedGBs = closest.GBs
	out.EfficiencyPct = percent(measured, closest.GBs)
}

func filterTunnelled(standards []Standard) []Standard {
	var out []Standard
	for _, s := range standards {
		if s.Tunnelled {
			out = append(out, s)
		}
	}
	return out
}

func percent(measured, expected float64) float64 {
	if expected <= 0 {
		return 0
	}
	return measured / expected * 100
}

// MeasuredGBs picks the one-way bandwidth to classify from a result list: the best
// average of the upload and download bandwidth tests that produced data
func MeasuredGBs(results []domain.TestResult) float64 {
	var best float64
	for _, r := range results {
		if !r.HasData() || r.Unit != domain.UnitGBs {
			continue
		}
		if r.Name != "Upload Bandwidth" && r.Name != "Download Bandwidth" {
			continue
		}
		best = max(best, r.Avg)
	}
	return best
}
