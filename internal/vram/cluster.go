package vram

import "github.com/worldland/linkbench/internal/domain"

// Clusterer merges mismatches, fed in offset order, into error regions. A mismatch
// extends the open cluster when it has the same pattern and starts no more than
// threshold bytes past the cluster's end; otherwise the cluster closes and a new
// one opens.
type Clusterer struct {
	threshold uint64
	max       int

	clusters []domain.VRAMError
	dropped  int
	total    uint64

	open       bool
	curDropped bool
	cur        domain.VRAMError
}

// NewClusterer creates a clusterer keeping at most max clusters
func NewClusterer(threshold uint64, max int) *Clusterer {
	return &Clusterer{threshold: threshold, max: max}
}

// Add records one mismatching word
func (c *Clusterer) Add(pattern domain.PatternKind, m Mismatch) {
	c.total++
	end := m.Offset + wordSize

	if c.open && c.cur.Pattern == pattern && m.Offset >= c.cur.ByteOffsetStart &&
		m.Offset <= c.cur.ByteOffsetEnd+c.threshold {
		if end > c.cur.ByteOffsetEnd {
			c.cur.ByteOffsetEnd = end
		}
		c.cur.ErrorCount++
		return
	}

	c.Close()
	c.open = true
	c.curDropped = len(c.clusters) >= c.max
	if c.curDropped {
		c.dropped++
	}
	c.cur = domain.VRAMError{
		ByteOffsetStart: m.Offset,
		ByteOffsetEnd:   end,
		ExpectedValue:   m.Expected,
		ActualValue:     m.Actual,
		Pattern:         pattern,
		ErrorCount:      1,
	}
}

// Close ends the open cluster. Call it at pattern and chunk boundaries.
func (c *Clusterer) Close() {
	if !c.open {
		return
	}
	if !c.curDropped {
		c.clusters = append(c.clusters, c.cur)
	}
	c.open = false
}

// Clusters closes the open cluster and returns every kept cluster
func (c *Clusterer) Clusters() []domain.VRAMError {
	c.Close()
	return c.clusters
}

// Dropped returns the number of clusters not kept because of the cap
func (c *Clusterer) Dropped() int {
	return c.dropped
}

// Total returns the number of mismatching words seen
func (c *Clusterer) Total() uint64 {
	return c.total
}
