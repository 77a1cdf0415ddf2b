package nvml

import (
	"fmt"

	"github.com/worldland/linkbench/internal/domain"
)

// MockProvider provides fake hardware data for testing and for hosts without NVML
type MockProvider struct {
	Devices []domain.HardwareInfo
	InitErr error
}

func NewMockProvider(devices ...domain.HardwareInfo) *MockProvider {
	return &MockProvider{Devices: devices}
}

func (p *MockProvider) Init() error {
	return p.InitErr
}

func (p *MockProvider) Shutdown() error {
	return nil
}

func (p *MockProvider) GetDeviceCount() (int, error) {
	return len(p.Devices), nil
}

func (p *MockProvider) GetHardwareInfo(index int) (domain.HardwareInfo, error) {
	if index < 0 || index >= len(p.Devices) {
		return domain.HardwareInfo{}, fmt.Errorf("device %d: %w", index, domain.ErrDeviceNotFound)
	}
	return p.Devices[index], nil
}

// Compile-time interface check
var _ domain.DeviceInfoProvider = (*MockProvider)(nil)
