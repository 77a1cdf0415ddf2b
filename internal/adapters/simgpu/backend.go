package simgpu

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/worldland/linkbench/internal/domain"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// MaxTimestampSlots is the size of each queue's timestamp query heap
const MaxTimestampSlots = domain.TimestampSlots

var errZeroSize = errors.New("buffer size must be positive")

type buffer struct {
	desc   *domain.TransferBuffer
	data   []byte
	addr   uint64 // device address, device-local buffers only
	mapped bool   // data came from mapAnonymous
}

// Backend is a GraphicsBackend that executes transfers against host memory.
// With an *mclock.Simulated clock, transfer time is modelled from the Profile and
// the simulated clock advances as fences complete. With any other clock, copies are
// executed by one goroutine per queue and take real time.
type Backend struct {
	profile Profile
	clock   mclock.Clock
	sim     *mclock.Simulated
	log     *zap.Logger

	mu         sync.Mutex
	selected   bool
	closed     bool
	queues     []*queue
	buffers    map[uint64]*buffer
	nextHandle uint64
	hostUsed   uint64
	vram       *AddressSpace
	submits    int
}

// New creates a backend for profile
func New(profile Profile, clock mclock.Clock, log *zap.Logger) *Backend {
	if profile.TimestampPeriodNs <= 0 {
		profile.TimestampPeriodNs = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = mclock.System{}
	}
	sim, _ := clock.(*mclock.Simulated)
	return &Backend{
		profile: profile,
		clock:   clock,
		sim:     sim,
		log:     log,
		buffers: make(map[uint64]*buffer),
		vram:    NewAddressSpace(profile.DeviceMemory),
	}
}

// EnumerateDevices lists the single simulated adapter
func (b *Backend) EnumerateDevices() ([]domain.DeviceInfo, error) {
	return []domain.DeviceInfo{b.deviceInfo()}, nil
}

// SelectDevice binds the simulated adapter
func (b *Backend) SelectDevice(index int) (domain.DeviceInfo, error) {
	if index > 0 {
		return domain.DeviceInfo{}, fmt.Errorf("device index %d: %w", index, domain.ErrDeviceNotFound)
	}
	b.mu.Lock()
	b.selected = true
	b.mu.Unlock()
	return b.deviceInfo(), nil
}

func (b *Backend) deviceInfo() domain.DeviceInfo {
	return domain.DeviceInfo{
		Index:       0,
		Name:        b.profile.Name,
		MemoryBytes: b.profile.DeviceMemory,
		Integrated:  b.profile.Integrated,
	}
}

// CreateQueue creates a queue on the selected device
func (b *Backend) CreateQueue(kind domain.QueueKind) (domain.Queue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.selected {
		return domain.Queue{}, domain.ErrNoDeviceSelected
	}
	maxQueues := 1
	if b.profile.SecondQueue {
		maxQueues = 2
	}
	if len(b.queues) >= maxQueues {
		return domain.Queue{}, fmt.Errorf("%d queues already created: %w", len(b.queues), domain.ErrQueueUnavailable)
	}

	q := newQueue(b, len(b.queues), b.sim == nil)
	b.queues = append(b.queues, q)
	return domain.Queue{ID: q.id, Kind: kind}, nil
}

// TryCreateSecondQueue creates an extra direct queue when the profile allows one
func (b *Backend) TryCreateSecondQueue() (domain.Queue, bool) {
	q, err := b.CreateQueue(domain.QueueDirect)
	if err != nil {
		b.log.Debug("second queue unavailable", zap.Error(err))
		return domain.Queue{}, false
	}
	return q, true
}

// CreateBuffer allocates a buffer from the heap matching kind
func (b *Backend) CreateBuffer(kind domain.BufferKind, size uint64) (*domain.TransferBuffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.selected {
		return nil, domain.ErrNoDeviceSelected
	}
	if size == 0 {
		return nil, errZeroSize
	}
	if b.profile.MaxAllocation > 0 && size > b.profile.MaxAllocation {
		return nil, fmt.Errorf("allocate %s buffer of %d bytes: %w", kind, size, domain.ErrOutOfDeviceMemory)
	}

	b.nextHandle++
	buf := &buffer{desc: &domain.TransferBuffer{Kind: kind, Size: size, Handle: b.nextHandle}}

	if kind == domain.BufferDeviceLocal {
		addr, err := b.vram.Allocate(buf.desc.Handle, size)
		if err != nil {
			return nil, fmt.Errorf("allocate %s buffer of %d bytes: %w", kind, size, domain.ErrOutOfDeviceMemory)
		}
		buf.addr = addr
	} else {
		if b.profile.HostMemory > 0 && b.hostUsed+size > b.profile.HostMemory {
			return nil, fmt.Errorf("allocate %s buffer of %d bytes: %w", kind, size, domain.ErrOutOfDeviceMemory)
		}
		b.hostUsed += size
	}

	if err := b.attachBackingLocked(buf); err != nil {
		_ = b.forgetLocked(buf)
		return nil, err
	}

	b.buffers[buf.desc.Handle] = buf
	return buf.desc, nil
}

func (b *Backend) attachBackingLocked(buf *buffer) error {
	switch b.profile.Backing {
	case BackingNone:
		return nil
	case BackingMmap:
		mem, err := mapAnonymous(buf.desc.Size)
		if err != nil {
			return fmt.Errorf("allocate %s buffer: %w", buf.desc.Kind, err)
		}
		buf.data = mem
		buf.mapped = true
	default:
		buf.data = make([]byte, buf.desc.Size)
	}
	return nil
}

// forgetLocked returns the buffer's address range or host budget (caller must hold lock)
func (b *Backend) forgetLocked(buf *buffer) error {
	if buf.desc.Kind == domain.BufferDeviceLocal {
		return b.vram.Release(buf.addr)
	}
	b.hostUsed -= buf.desc.Size
	return nil
}

// ReleaseBuffer frees buf and its backing memory
func (b *Backend) ReleaseBuffer(desc *domain.TransferBuffer) error {
	if desc == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, ok := b.buffers[desc.Handle]
	if !ok {
		return fmt.Errorf("release handle %d: %w", desc.Handle, domain.ErrUnknownBuffer)
	}
	delete(b.buffers, desc.Handle)
	return b.releaseLocked(buf)
}

func (b *Backend) releaseLocked(buf *buffer) error {
	err := b.forgetLocked(buf)
	if buf.mapped {
		err = multierr.Append(err, unmapAnonymous(buf.data))
	}
	buf.data = nil
	return err
}

// Map returns the contents of a host-visible buffer
func (b *Backend) Map(desc *domain.TransferBuffer) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, ok := b.buffers[desc.Handle]
	if !ok {
		return nil, fmt.Errorf("map handle %d: %w", desc.Handle, domain.ErrUnknownBuffer)
	}
	if !buf.desc.Kind.HostVisible() || buf.data == nil {
		return nil, fmt.Errorf("map %s buffer: %w", buf.desc.Kind, domain.ErrNotMappable)
	}
	return buf.data, nil
}

// Submit executes cmds on q
func (b *Backend) Submit(q domain.Queue, cmds *domain.CommandList) (uint64, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, domain.ErrDeviceLost
	}
	sq, err := b.queueLocked(q)
	if err != nil {
		b.mu.Unlock()
		return 0, err
	}
	ops, err := b.resolveLocked(cmds)
	if err != nil {
		b.mu.Unlock()
		return 0, err
	}
	b.submits++
	hang := b.profile.HangAfterSubmits > 0 && b.submits > b.profile.HangAfterSubmits
	b.mu.Unlock()

	return sq.submit(ops, hang), nil
}

func (b *Backend) resolveLocked(cmds *domain.CommandList) ([]op, error) {
	ops := make([]op, 0, cmds.Len())
	for _, c := range cmds.Commands {
		switch c.Op {
		case domain.OpTimestamp:
			if c.Slot < 0 || c.Slot >= MaxTimestampSlots {
				return nil, fmt.Errorf("slot %d: %w", c.Slot, domain.ErrTimestampRange)
			}
			ops = append(ops, op{kind: domain.OpTimestamp, slot: c.Slot})
		case domain.OpCopy:
			src, ok := b.buffers[c.Src.Handle]
			if !ok {
				return nil, fmt.Errorf("copy source %d: %w", c.Src.Handle, domain.ErrUnknownBuffer)
			}
			dst, ok := b.buffers[c.Dst.Handle]
			if !ok {
				return nil, fmt.Errorf("copy destination %d: %w", c.Dst.Handle, domain.ErrUnknownBuffer)
			}
			if c.Size > src.desc.Size || c.Size > dst.desc.Size {
				return nil, fmt.Errorf("copy of %d bytes exceeds buffer size", c.Size)
			}
			ops = append(ops, op{kind: domain.OpCopy, src: src, dst: dst, size: c.Size})
		default:
			return nil, fmt.Errorf("unknown command op %d", c.Op)
		}
	}
	return ops, nil
}

// CompletedValue returns the last fence value q signalled
func (b *Backend) CompletedValue(q domain.Queue) (uint64, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, domain.ErrDeviceLost
	}
	sq, err := b.queueLocked(q)
	b.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return sq.completedValue(), nil
}

// QueryTimestampPeriod returns the profile's tick period
func (b *Backend) QueryTimestampPeriod(q domain.Queue) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.queueLocked(q); err != nil {
		return 0, err
	}
	return b.profile.TimestampPeriodNs, nil
}

// ReadTimestamps returns resolved timestamp slots for q
func (b *Backend) ReadTimestamps(q domain.Queue, first, count int) ([]uint64, error) {
	b.mu.Lock()
	sq, err := b.queueLocked(q)
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return sq.readTimestamps(first, count)
}

// Close stops queue workers and frees every live buffer
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	queues := b.queues
	b.mu.Unlock()

	for _, q := range queues {
		q.stop()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	for handle, buf := range b.buffers {
		err = multierr.Append(err, b.releaseLocked(buf))
		delete(b.buffers, handle)
	}
	return err
}

// LiveBuffers returns the number of allocated buffers
func (b *Backend) LiveBuffers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffers)
}

func (b *Backend) queueLocked(q domain.Queue) (*queue, error) {
	if q.ID < 0 || q.ID >= len(b.queues) {
		return nil, fmt.Errorf("queue %d: %w", q.ID, domain.ErrQueueUnavailable)
	}
	return b.queues[q.ID], nil
}

func (b *Backend) ticks(t mclock.AbsTime) uint64 {
	return uint64(float64(t) / b.profile.TimestampPeriodNs)
}

// copyDuration models one copy command on the interconnect
func (b *Backend) copyDuration(o op) time.Duration {
	gbs := b.profile.DownloadGBs
	switch {
	case o.isUpload():
		gbs = b.profile.UploadGBs
	case o.src.desc.Kind == domain.BufferDeviceLocal && o.dst.desc.Kind == domain.BufferDeviceLocal:
		gbs = 4 * max(b.profile.UploadGBs, b.profile.DownloadGBs)
	}
	if gbs <= 0 {
		return b.profile.CopyLatency
	}
	// bytes / (GB/s * 1e9) seconds == bytes / GB/s nanoseconds
	return b.profile.CopyLatency + time.Duration(float64(o.size)/gbs)
}

func (b *Backend) copyData(o op) {
	if o.src.data == nil || o.dst.data == nil {
		return
	}
	copy(o.dst.data[:o.size], o.src.data[:o.size])
	if o.dst.desc.Kind == domain.BufferDeviceLocal {
		b.applyFaults(o.dst, o.size)
	}
}

// applyFaults forces stuck bits inside the first n bytes written to dst
func (b *Backend) applyFaults(dst *buffer, n uint64) {
	for _, f := range b.profile.Faults {
		if f.Address < dst.addr || f.Address >= dst.addr+n {
			continue
		}
		i := f.Address - dst.addr
		if f.StuckAt != 0 {
			dst.data[i] |= 1 << f.Bit
		} else {
			dst.data[i] &^= 1 << f.Bit
		}
	}
}

// Compile-time interface check
var _ domain.GraphicsBackend = (*Backend)(nil)
