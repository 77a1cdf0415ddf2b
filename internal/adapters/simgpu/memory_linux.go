//go:build linux

package simgpu

import (
	"errors"
	"fmt"

	"github.com/worldland/linkbench/internal/domain"
	"golang.org/x/sys/unix"
)

// mapAnonymous reserves size bytes of anonymous memory outside the Go heap
func mapAnonymous(size uint64) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		if errors.Is(err, unix.ENOMEM) {
			return nil, fmt.Errorf("mmap %d bytes: %w", size, domain.ErrOutOfDeviceMemory)
		}
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	return mem, nil
}

func unmapAnonymous(mem []byte) error {
	if mem == nil {
		return nil
	}
	return unix.Munmap(mem)
}
