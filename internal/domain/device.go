package domain

import "fmt"

// BufferKind is the heap a transfer buffer is allocated from
type BufferKind int

const (
	// BufferHostWriteCombined is CPU-written, GPU-read memory used as upload source
	BufferHostWriteCombined BufferKind = iota
	// BufferDeviceLocal lives in video memory
	BufferDeviceLocal
	// BufferHostReadback is GPU-written, CPU-read memory used as download destination
	BufferHostReadback
)

func (k BufferKind) String() string {
	switch k {
	case BufferHostWriteCombined:
		return "host-write-combined"
	case BufferDeviceLocal:
		return "device-local"
	case BufferHostReadback:
		return "host-readback"
	default:
		return fmt.Sprintf("BufferKind(%d)", int(k))
	}
}

// HostVisible reports whether the CPU can map buffers of this kind
func (k BufferKind) HostVisible() bool {
	return k == BufferHostWriteCombined || k == BufferHostReadback
}

// QueueKind selects the hardware queue type
type QueueKind int

const (
	// QueueDirect is the general-purpose queue. Benchmarks always use it:
	// dedicated copy queues hang on some Thunderbolt-attached discrete GPUs.
	QueueDirect QueueKind = iota
	QueueCopy
)

// Queue is an opaque handle to a backend queue
type Queue struct {
	ID   int
	Kind QueueKind
}

// DeviceInfo describes an adapter as seen by the graphics backend
type DeviceInfo struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	MemoryBytes uint64 `json:"memory_bytes"`
	Integrated  bool   `json:"integrated"`
}

// TransferBuffer is owned by the test that allocated it
type TransferBuffer struct {
	Kind   BufferKind
	Size   uint64
	Handle uint64
}

// CommandOp identifies a recorded command
type CommandOp int

const (
	OpCopy CommandOp = iota
	OpTimestamp
)

// Command is one recorded operation
type Command struct {
	Op   CommandOp
	Src  *TransferBuffer
	Dst  *TransferBuffer
	Size uint64
	Slot int
}

// CommandList records commands for a single submission
type CommandList struct {
	Commands []Command
}

// NewCommandList creates an empty command list
func NewCommandList() *CommandList {
	return &CommandList{}
}

// Copy records a full-size copy from src to dst
func (c *CommandList) Copy(src, dst *TransferBuffer) {
	size := src.Size
	if dst.Size < size {
		size = dst.Size
	}
	c.CopyRegion(src, dst, size)
}

// CopyRegion records a copy of the first size bytes of src into dst
func (c *CommandList) CopyRegion(src, dst *TransferBuffer, size uint64) {
	c.Commands = append(c.Commands, Command{Op: OpCopy, Src: src, Dst: dst, Size: size})
}

// WriteTimestamp records a timestamp query into slot
func (c *CommandList) WriteTimestamp(slot int) {
	c.Commands = append(c.Commands, Command{Op: OpTimestamp, Slot: slot})
}

// Len returns the number of recorded commands
func (c *CommandList) Len() int {
	return len(c.Commands)
}

// FenceOutcome is the only signal a fence wait may return
type FenceOutcome int

const (
	FenceSuccess FenceOutcome = iota
	FenceTimeout
	FenceError
	FenceCancelled
)

func (o FenceOutcome) String() string {
	switch o {
	case FenceSuccess:
		return "success"
	case FenceTimeout:
		return "timeout"
	case FenceError:
		return "error"
	case FenceCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("FenceOutcome(%d)", int(o))
	}
}
