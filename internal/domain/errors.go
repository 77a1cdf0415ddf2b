package domain

import "errors"

var (
	ErrOutOfDeviceMemory = errors.New("out of device memory")
	ErrDeviceNotFound    = errors.New("graphics device not found")
	ErrNoDeviceSelected  = errors.New("no graphics device selected")
	ErrQueueUnavailable  = errors.New("queue unavailable")
	ErrDeviceLost        = errors.New("graphics device lost")
	ErrNotMappable       = errors.New("buffer is not host visible")
	ErrUnknownBuffer     = errors.New("unknown buffer handle")
	ErrTimestampRange    = errors.New("timestamp slot out of range")

	ErrNoData     = errors.New("no valid samples")
	ErrAborted    = errors.New("benchmark aborted after repeated fence timeouts")
	ErrScanFailed = errors.New("vram scan could not allocate the minimum chunk size")
	ErrRunActive  = errors.New("a benchmark or scan is already running")
	ErrInvalidCfg = errors.New("invalid configuration")
)
