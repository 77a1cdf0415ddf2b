package domain

import "fmt"

// GraphicsBackend abstracts the measurement-only device context.
// Implementations own a device and its queues; callers record command lists,
// submit them and observe completion through per-queue fence values.
type GraphicsBackend interface {
	// EnumerateDevices lists the adapters the backend can open
	EnumerateDevices() ([]DeviceInfo, error)
	// SelectDevice binds the device at index. A negative index selects the default adapter.
	SelectDevice(index int) (DeviceInfo, error)
	// CreateQueue creates a queue of the given kind on the selected device
	CreateQueue(kind QueueKind) (Queue, error)
	// TryCreateSecondQueue is best-effort; ok is false when no second queue is available
	TryCreateSecondQueue() (q Queue, ok bool)
	// CreateBuffer allocates a transfer buffer. Allocation failures wrap ErrOutOfDeviceMemory.
	CreateBuffer(kind BufferKind, size uint64) (*TransferBuffer, error)
	// ReleaseBuffer frees a buffer created by CreateBuffer
	ReleaseBuffer(buf *TransferBuffer) error
	// Map returns host-visible memory for HostWriteCombined and HostReadback buffers
	Map(buf *TransferBuffer) ([]byte, error)
	// Submit executes cmds on q and returns the fence value signalled on completion
	Submit(q Queue, cmds *CommandList) (uint64, error)
	// CompletedValue returns the last fence value the queue has signalled
	CompletedValue(q Queue) (uint64, error)
	// QueryTimestampPeriod returns nanoseconds per timestamp tick for q
	QueryTimestampPeriod(q Queue) (float64, error)
	// ReadTimestamps returns resolved timestamp slots [first, first+count) for q
	ReadTimestamps(q Queue, first, count int) ([]uint64, error)
	// Close releases the device and all queues
	Close() error
}

// FenceSource is the subset of GraphicsBackend the fence scheduler polls
type FenceSource interface {
	CompletedValue(q Queue) (uint64, error)
}

// DeviceInfoProvider abstracts hardware discovery for testing
type DeviceInfoProvider interface {
	// Init initializes the provider (NVML or mock)
	Init() error
	// Shutdown cleanly shuts down the provider
	Shutdown() error
	// GetDeviceCount returns number of GPUs
	GetDeviceCount() (int, error)
	// GetHardwareInfo returns memory and link information for one GPU
	GetHardwareInfo(index int) (HardwareInfo, error)
}

// OpenDevice selects the adapter at index after checking it against the
// backend's enumeration. A negative index selects the default adapter.
func OpenDevice(backend GraphicsBackend, index int) (DeviceInfo, error) {
	devices, err := backend.EnumerateDevices()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	if len(devices) == 0 {
		return DeviceInfo{}, fmt.Errorf("no adapters: %w", ErrDeviceNotFound)
	}
	if index >= len(devices) {
		return DeviceInfo{}, fmt.Errorf("device index %d of %d adapters: %w", index, len(devices), ErrDeviceNotFound)
	}
	return backend.SelectDevice(index)
}
