package preflight

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMeminfo(t *testing.T) {
	total, available := parseMeminfo(strings.NewReader(`MemTotal:       32768000 kB
MemFree:         1000000 kB
MemAvailable:   16384000 kB
Buffers:          200000 kB
`))
	assert.Equal(t, uint64(32768000<<10), total)
	assert.Equal(t, uint64(16384000<<10), available)
}

func TestParseOSRelease(t *testing.T) {
	id, version := parseOSRelease(strings.NewReader("NAME=\"Ubuntu\"\nID=ubuntu\nVERSION_ID=\"22.04\"\n"))
	assert.Equal(t, "ubuntu", id)
	assert.Equal(t, "22.04", version)
}

func TestParseSMI(t *testing.T) {
	found, name, driver := parseSMI("NVIDIA GeForce RTX 4090, 550.54.14\nNVIDIA GeForce RTX 3090, 550.54.14\n")
	assert.True(t, found)
	assert.Equal(t, "NVIDIA GeForce RTX 4090", name)
	assert.Equal(t, "550.54.14", driver)

	found, _, _ = parseSMI("\n")
	assert.False(t, found)
}

func TestCheck_WarnsWhenDeviceExceedsMemory(t *testing.T) {
	r := &Result{GPUFound: true, GPUName: "GPU", MemTotal: 8 << 30, MemAvailable: 2 << 30}
	r.check(4 << 30)
	assert.Len(t, r.Warnings, 1)

	ok := &Result{GPUFound: true, MemAvailable: 8 << 30}
	ok.check(1 << 30)
	assert.Empty(t, ok.Warnings)

	var buf bytes.Buffer
	r.Print(&buf)
	assert.Contains(t, buf.String(), "exceeds available host memory")
}
