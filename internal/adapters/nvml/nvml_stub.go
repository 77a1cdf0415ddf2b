//go:build nonvml
// +build nonvml

package nvml

import (
	"fmt"

	"github.com/worldland/linkbench/internal/domain"
)

// NVMLProvider stub - used when building without NVIDIA libraries
type NVMLProvider struct{}

func NewNVMLProvider() *NVMLProvider {
	return &NVMLProvider{}
}

func (p *NVMLProvider) Init() error {
	return fmt.Errorf("NVML not available (built with nonvml tag)")
}

func (p *NVMLProvider) Shutdown() error {
	return nil
}

func (p *NVMLProvider) GetDeviceCount() (int, error) {
	return 0, fmt.Errorf("NVML not available")
}

func (p *NVMLProvider) GetHardwareInfo(index int) (domain.HardwareInfo, error) {
	return domain.HardwareInfo{}, fmt.Errorf("NVML not available: %w", domain.ErrDeviceNotFound)
}

// Compile-time interface check
var _ domain.DeviceInfoProvider = (*NVMLProvider)(nil)
