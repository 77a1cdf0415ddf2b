package nvml

import (
	"fmt"

	"github.com/worldland/linkbench/internal/domain"
)

// Lookup initializes provider, reads one device and shuts the provider down again.
// A negative index reads device 0.
func Lookup(provider domain.DeviceInfoProvider, index int) (domain.HardwareInfo, error) {
	if err := provider.Init(); err != nil {
		return domain.HardwareInfo{}, err
	}
	defer provider.Shutdown()

	count, err := provider.GetDeviceCount()
	if err != nil {
		return domain.HardwareInfo{}, err
	}
	if index < 0 {
		index = 0
	}
	if index >= count {
		return domain.HardwareInfo{}, fmt.Errorf("device %d of %d: %w", index, count, domain.ErrDeviceNotFound)
	}
	return provider.GetHardwareInfo(index)
}
