package vram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/worldland/linkbench/internal/domain"
)

func addAll(c *Clusterer, pattern domain.PatternKind, offsets ...uint64) {
	for _, off := range offsets {
		c.Add(pattern, Mismatch{Offset: off, Expected: 0, Actual: 1})
	}
}

func TestClusterer_ThresholdBoundary(t *testing.T) {
	c := NewClusterer(256, 1024)
	addAll(c, domain.PatternAllZeros, 0, 4, 8, 10000)

	clusters := c.Clusters()
	require.Len(t, clusters, 2)

	assert.Equal(t, uint64(0), clusters[0].ByteOffsetStart)
	assert.Equal(t, uint64(12), clusters[0].ByteOffsetEnd)
	assert.Equal(t, uint64(3), clusters[0].ErrorCount)
	assert.Equal(t, domain.PatternAllZeros, clusters[0].Pattern)

	assert.Equal(t, uint64(10000), clusters[1].ByteOffsetStart)
	assert.Equal(t, uint64(1), clusters[1].ErrorCount)
	assert.Equal(t, uint64(4), c.Total())
}

func TestClusterer_GapExactlyAtThreshold(t *testing.T) {
	c := NewClusterer(256, 1024)
	// first cluster ends at 4; 4+256 extends, the next word past that opens a new one
	addAll(c, domain.PatternAllZeros, 0, 260, 264+256+4)

	clusters := c.Clusters()
	require.Len(t, clusters, 2)
	assert.Equal(t, uint64(264), clusters[0].ByteOffsetEnd)
	assert.Equal(t, uint64(2), clusters[0].ErrorCount)
}

func TestClusterer_PatternBoundaryClosesCluster(t *testing.T) {
	c := NewClusterer(256, 1024)
	addAll(c, domain.PatternAllZeros, 100)
	c.Close()
	addAll(c, domain.PatternAllOnes, 100)
	addAll(c, domain.PatternRandom, 104)

	clusters := c.Clusters()
	require.Len(t, clusters, 3)
	assert.Equal(t, domain.PatternAllOnes, clusters[1].Pattern)
	assert.Equal(t, domain.PatternRandom, clusters[2].Pattern)
}

func TestClusterer_CapDropsClustersButCountsErrors(t *testing.T) {
	c := NewClusterer(256, 2)
	addAll(c, domain.PatternAllZeros, 0, 4, 10_000, 20_000, 20_004, 30_000)

	clusters := c.Clusters()
	assert.Len(t, clusters, 2)
	assert.Equal(t, 2, c.Dropped())
	assert.Equal(t, uint64(6), c.Total())
}

func TestClusterer_Empty(t *testing.T) {
	c := NewClusterer(256, 10)
	c.Close()
	assert.Empty(t, c.Clusters())
	assert.Zero(t, c.Total())
}
