package nvml

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/worldland/linkbench/internal/domain"
)

func TestLookup_ReturnsRequestedDevice(t *testing.T) {
	provider := NewMockProvider(
		domain.HardwareInfo{UUID: "GPU-a", Name: "First", MemoryTotal: 8 << 30, PCIeGen: 4, PCIeWidth: 16},
		domain.HardwareInfo{UUID: "GPU-b", Name: "Second", MemoryTotal: 12 << 30, PCIeGen: 3, PCIeWidth: 4},
	)

	info, err := Lookup(provider, 1)
	require.NoError(t, err)
	assert.Equal(t, "Second", info.Name)
	require.NotNil(t, info.Link())
	assert.Equal(t, 4, info.Link().Lanes)
}

func TestLookup_DefaultIndexIsFirstDevice(t *testing.T) {
	provider := NewMockProvider(domain.HardwareInfo{UUID: "GPU-a"})

	info, err := Lookup(provider, -1)
	require.NoError(t, err)
	assert.Equal(t, "GPU-a", info.UUID)
}

func TestLookup_PropagatesInitError(t *testing.T) {
	provider := NewMockProvider()
	provider.InitErr = errors.New("driver missing")

	_, err := Lookup(provider, 0)
	assert.EqualError(t, err, "driver missing")
}

func TestLookup_IndexOutOfRange(t *testing.T) {
	provider := NewMockProvider(domain.HardwareInfo{UUID: "GPU-a"})

	_, err := Lookup(provider, 2)
	assert.ErrorIs(t, err, domain.ErrDeviceNotFound)
}
