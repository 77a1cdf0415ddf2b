package vram

import (
	"errors"
	"fmt"

	"github.com/worldland/linkbench/internal/domain"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Chunk is one allocation unit of the scan
type Chunk struct {
	LogicalOffset uint64
	Size          uint64
	Upload        *domain.TransferBuffer
	Device        *domain.TransferBuffer
	Readback      *domain.TransferBuffer
}

// Release frees the chunk's buffers
func (c *Chunk) Release(backend domain.GraphicsBackend) error {
	var err error
	for _, buf := range []*domain.TransferBuffer{c.Upload, c.Device, c.Readback} {
		if buf != nil {
			err = multierr.Append(err, backend.ReleaseBuffer(buf))
		}
	}
	c.Upload, c.Device, c.Readback = nil, nil, nil
	return err
}

// Prober finds the largest chunk size the backend can serve
type Prober struct {
	backend domain.GraphicsBackend
	floor   uint64
	log     *zap.Logger
}

// NewProber creates a prober that halves down to floor
func NewProber(backend domain.GraphicsBackend, floor uint64, log *zap.Logger) *Prober {
	if log == nil {
		log = zap.NewNop()
	}
	return &Prober{backend: backend, floor: floor, log: log}
}

// Allocate tries to allocate an upload, device-local and readback buffer of size
// bytes, halving size on out-of-memory until it drops below the floor. Any other
// allocation error stops probing. Failure to allocate at the floor wraps
// domain.ErrScanFailed.
func (p *Prober) Allocate(size uint64) (*Chunk, error) {
	floor := min(p.floor, size)
	for size >= floor && size > 0 {
		chunk, err := p.tryAllocate(size)
		if err == nil {
			return chunk, nil
		}
		if !errors.Is(err, domain.ErrOutOfDeviceMemory) {
			return nil, err
		}
		next := (size / 2) &^ (wordSize - 1)
		p.log.Info("chunk allocation failed, halving",
			zap.Uint64("size", size),
			zap.Uint64("next", next),
			zap.Error(err))
		size = next
	}
	return nil, fmt.Errorf("%w: no chunk of at least %d bytes", domain.ErrScanFailed, floor)
}

func (p *Prober) tryAllocate(size uint64) (*Chunk, error) {
	chunk := &Chunk{Size: size}
	var err error
	if chunk.Upload, err = p.backend.CreateBuffer(domain.BufferHostWriteCombined, size); err != nil {
		return nil, err
	}
	if chunk.Device, err = p.backend.CreateBuffer(domain.BufferDeviceLocal, size); err != nil {
		return nil, multierr.Append(err, chunk.Release(p.backend))
	}
	if chunk.Readback, err = p.backend.CreateBuffer(domain.BufferHostReadback, size); err != nil {
		return nil, multierr.Append(err, chunk.Release(p.backend))
	}
	return chunk, nil
}
