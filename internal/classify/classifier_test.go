package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/worldland/linkbench/internal/domain"
)

func TestClassify_ClosestStandard(t *testing.T) {
	c := New(nil, nil)

	tests := []struct {
		name     string
		measured float64
		want     string
	}{
		{"pcie 4.0 x16", 24.5, "PCIe 4.0 x16 / PCIe 5.0 x8"},
		{"pcie 3.0 x16", 12.1, "PCIe 4.0 x8 / PCIe 3.0 x16"},
		{"thunderbolt", 2.7, "Thunderbolt 3"},
		{"pcie 5.0 x16", 50, "PCIe 5.0 x16"},
		{"pcie 3.0 x1", 0.75, "PCIe 3.0 x1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(Input{MeasuredGBs: tt.measured})
			assert.Equal(t, tt.want, got.Standard)
			assert.False(t, got.FasterThanKnown)
			assert.False(t, got.SlowerThanKnown)
			assert.InDelta(t, tt.measured/got.ExpectedGBs*100, got.EfficiencyPct, 1e-9)
		})
	}
}

func TestClassify_FasterThanAnyKnown(t *testing.T) {
	got := New(nil, nil).Classify(Input{MeasuredGBs: 120})

	assert.True(t, got.FasterThanKnown)
	assert.Equal(t, "PCIe 5.0 x16", got.Standard)
	assert.InDelta(t, 120/52.8*100, got.EfficiencyPct, 1e-9)
}

func TestClassify_SlowerThanAnyKnownIsNotFaster(t *testing.T) {
	got := New(nil, nil).Classify(Input{MeasuredGBs: 0.05})

	assert.True(t, got.SlowerThanKnown)
	assert.False(t, got.FasterThanKnown)
	assert.Equal(t, "PCIe 2.0 x1", got.Standard)
	assert.InDelta(t, 0.05/0.4*100, got.EfficiencyPct, 1e-9)
	assert.Contains(t, got.Notes, "slower than any known standard, reported relative to PCIe 2.0 x1")
}

func TestClassify_AcceptanceWindowEdges(t *testing.T) {
	table := []Standard{{Name: "A", GBs: 10}}
	c := New(table, nil)

	assert.False(t, c.Classify(Input{MeasuredGBs: 20}).FasterThanKnown)
	assert.True(t, c.Classify(Input{MeasuredGBs: 20.01}).FasterThanKnown)
	assert.False(t, c.Classify(Input{MeasuredGBs: 3}).SlowerThanKnown)
	assert.True(t, c.Classify(Input{MeasuredGBs: 2.99}).SlowerThanKnown)
}

func TestClassify_TunnelledRestrictsCandidates(t *testing.T) {
	c := New(nil, nil)

	// 3.2 GB/s is closest to PCIe 3.0 x4 in the full table
	assert.Equal(t, "PCIe 3.0 x4", c.Classify(Input{MeasuredGBs: 3.2}).Standard)

	got := c.Classify(Input{MeasuredGBs: 3.2, Tunnelled: true})
	assert.Equal(t, "Thunderbolt 4 / USB4 40Gbps", got.Standard)
	assert.NotEmpty(t, got.Notes)
}

func TestClassify_LinkHint(t *testing.T) {
	c := New(nil, nil)

	ok := c.Classify(Input{MeasuredGBs: 24, Link: &domain.LinkInfo{Generation: 4, Lanes: 16}})
	assert.Equal(t, "PCIe 4.0 x16", ok.LinkStandard)
	assert.InDelta(t, 26.4, ok.LinkExpectedGBs, 1e-9)
	assert.False(t, ok.BelowLinkExpected)

	// a gen4 x16 card measuring like gen3 x4 is running below its link
	slow := c.Classify(Input{MeasuredGBs: 3.2, Link: &domain.LinkInfo{Generation: 4, Lanes: 16}})
	assert.True(t, slow.BelowLinkExpected)
	assert.Equal(t, "PCIe 3.0 x4", slow.Standard)
	require.NotEmpty(t, slow.Notes)

	unknown := c.Classify(Input{MeasuredGBs: 3.1, Link: &domain.LinkInfo{Generation: 9, Lanes: 16}})
	assert.Empty(t, unknown.LinkStandard)
	assert.Contains(t, unknown.Notes, "unknown PCIe generation 9")
}

func TestClassify_IntegratedUsesSystemMemory(t *testing.T) {
	c := New(nil, nil)

	got := c.Classify(Input{MeasuredGBs: 20, Integrated: true, SystemMemoryGBs: 50})
	assert.True(t, got.Integrated)
	assert.Equal(t, "System memory (integrated GPU)", got.Standard)
	assert.InDelta(t, 30, got.ExpectedGBs, 1e-9)
	assert.InDelta(t, 66.666, got.EfficiencyPct, 0.01)
	assert.False(t, got.FasterThanKnown)

	// the table is not consulted, even far outside its range
	est := c.Classify(Input{MeasuredGBs: 200, Integrated: true})
	assert.InDelta(t, DefaultMemoryGBs*MemoryEfficiency, est.ExpectedGBs, 1e-9)
	assert.False(t, est.FasterThanKnown)
	assert.NotEmpty(t, est.Notes)
}

func TestLinkStandard(t *testing.T) {
	name, gbs, ok := LinkStandard(1, 16)
	require.True(t, ok)
	assert.Equal(t, "PCIe 1.1 x16", name)
	assert.InDelta(t, 3.2, gbs, 1e-9)

	_, _, ok = LinkStandard(3, 0)
	assert.False(t, ok)
}

func TestMeasuredGBs(t *testing.T) {
	results := []domain.TestResult{
		{Name: "Download Bandwidth", Unit: domain.UnitGBs, Avg: 25, Samples: []float64{25}},
		{Name: "Upload Bandwidth", Unit: domain.UnitGBs, Avg: 24, Samples: []float64{24}},
		{Name: "Bidirectional Bandwidth", Unit: domain.UnitGBs, Avg: 48, Samples: []float64{48}},
		{Name: "Upload Latency", Unit: domain.UnitMicroseconds, Avg: 2, Samples: []float64{2}},
	}
	assert.Equal(t, 25.0, MeasuredGBs(results))
	assert.Zero(t, MeasuredGBs(nil))
}
