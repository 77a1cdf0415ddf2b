//go:build !linux

package simgpu

// mapAnonymous falls back to the Go heap where anonymous mappings are not wired up
func mapAnonymous(size uint64) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapAnonymous(mem []byte) error {
	return nil
}
