//go:build !nonvml
// +build !nonvml

package nvml

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/worldland/linkbench/internal/domain"
)

type NVMLProvider struct{}

func NewNVMLProvider() *NVMLProvider {
	return &NVMLProvider{}
}

func (p *NVMLProvider) Init() error {
	ret := nvml.Init()
	if ret != nvml.SUCCESS {
		return fmt.Errorf("NVML init failed: %v", nvml.ErrorString(ret))
	}
	return nil
}

func (p *NVMLProvider) Shutdown() error {
	ret := nvml.Shutdown()
	if ret != nvml.SUCCESS {
		return fmt.Errorf("NVML shutdown failed: %v", nvml.ErrorString(ret))
	}
	return nil
}

func (p *NVMLProvider) GetDeviceCount() (int, error) {
	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return 0, fmt.Errorf("failed to get device count: %v", nvml.ErrorString(ret))
	}
	return count, nil
}

// GetHardwareInfo reads memory size and PCIe link state. Link fields stay zero when
// the driver does not report them (e.g. some Thunderbolt enclosures), which makes the
// classifier fall back to bandwidth-only heuristics.
func (p *NVMLProvider) GetHardwareInfo(index int) (domain.HardwareInfo, error) {
	device, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return domain.HardwareInfo{}, fmt.Errorf("failed to get device %d: %v: %w", index, nvml.ErrorString(ret), domain.ErrDeviceNotFound)
	}

	uuid, _ := device.GetUUID()
	name, _ := device.GetName()
	driver, _ := nvml.SystemGetDriverVersion()

	info := domain.HardwareInfo{
		UUID:      uuid,
		Name:      name,
		DriverVer: driver,
	}

	memInfo, ret := device.GetMemoryInfo()
	if ret == nvml.SUCCESS {
		info.MemoryTotal = memInfo.Total
	}
	if gen, ret := device.GetCurrPcieLinkGeneration(); ret == nvml.SUCCESS {
		info.PCIeGen = gen
	}
	if width, ret := device.GetCurrPcieLinkWidth(); ret == nvml.SUCCESS {
		info.PCIeWidth = width
	}
	if gen, ret := device.GetMaxPcieLinkGeneration(); ret == nvml.SUCCESS {
		info.MaxPCIeGen = gen
	}
	if width, ret := device.GetMaxPcieLinkWidth(); ret == nvml.SUCCESS {
		info.MaxPCIeWidth = width
	}
	return info, nil
}

// Compile-time interface check
var _ domain.DeviceInfoProvider = (*NVMLProvider)(nil)
