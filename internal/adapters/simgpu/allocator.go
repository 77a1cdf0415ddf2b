package simgpu

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrAddressSpaceExhausted = errors.New("no free range large enough in device address space")
	ErrRangeNotAllocated     = errors.New("range not allocated")
)

// Region tracks a single device-local allocation
type Region struct {
	Start       uint64
	Size        uint64
	Handle      uint64
	AllocatedAt time.Time
}

// End returns the first address past the region
func (r Region) End() uint64 {
	return r.Start + r.Size
}

// AddressSpace hands out ranges of simulated video memory.
// Allocation is next-fit: the search starts where the previous allocation ended,
// so a freed range is not immediately handed back to the next request.
type AddressSpace struct {
	mu      sync.Mutex
	size    uint64
	cursor  uint64
	regions map[uint64]*Region // start -> region
}

// NewAddressSpace creates an address space of size bytes
func NewAddressSpace(size uint64) *AddressSpace {
	return &AddressSpace{
		size:    size,
		regions: make(map[uint64]*Region),
	}
}

// Allocate reserves size bytes for handle and returns the start address
func (as *AddressSpace) Allocate(handle, size uint64) (uint64, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	if size == 0 || size > as.size {
		return 0, ErrAddressSpaceExhausted
	}

	sorted := as.sortedLocked()

	start, ok := findGap(sorted, as.cursor, as.size, size)
	if !ok {
		// Wrap around and search from the bottom
		start, ok = findGap(sorted, 0, as.size, size)
	}
	if !ok {
		return 0, ErrAddressSpaceExhausted
	}

	as.regions[start] = &Region{
		Start:       start,
		Size:        size,
		Handle:      handle,
		AllocatedAt: time.Now(),
	}
	as.cursor = start + size
	if as.cursor >= as.size {
		as.cursor = 0
	}
	return start, nil
}

// Release frees the region starting at start
func (as *AddressSpace) Release(start uint64) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if _, exists := as.regions[start]; !exists {
		return ErrRangeNotAllocated
	}
	delete(as.regions, start)
	return nil
}

// Used returns the number of allocated bytes
func (as *AddressSpace) Used() uint64 {
	as.mu.Lock()
	defer as.mu.Unlock()

	var used uint64
	for _, r := range as.regions {
		used += r.Size
	}
	return used
}

// GetRegion returns the allocation starting at start (for debugging/monitoring)
func (as *AddressSpace) GetRegion(start uint64) (*Region, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()

	r, exists := as.regions[start]
	if !exists {
		return nil, false
	}
	// Return copy to prevent external mutation
	copy := *r
	return &copy, true
}

// sortedLocked returns regions ordered by start address (caller must hold lock)
func (as *AddressSpace) sortedLocked() []*Region {
	out := make([]*Region, 0, len(as.regions))
	for _, r := range as.regions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func findGap(sorted []*Region, from, limit, size uint64) (uint64, bool) {
	candidate := from
	for _, r := range sorted {
		if r.End() <= candidate {
			continue
		}
		if r.Start >= candidate+size {
			break
		}
		candidate = r.End()
	}
	if candidate+size > limit {
		return 0, false
	}
	return candidate, true
}
