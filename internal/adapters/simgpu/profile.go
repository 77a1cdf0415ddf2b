package simgpu

import "time"

// Backing selects where buffer contents live
type Backing int

const (
	// BackingHeap stores buffer contents in Go slices
	BackingHeap Backing = iota
	// BackingMmap stores buffer contents in anonymous mappings (Linux), heap elsewhere
	BackingMmap
	// BackingNone models timing only; buffers cannot be mapped and copies move no data
	BackingNone
)

// Fault is a stuck-at bit in simulated video memory
type Fault struct {
	Address uint64 // device address of the faulty byte
	Bit     uint8  // bit index within the byte
	StuckAt uint8  // 0 or 1
}

// Profile describes a simulated device and its interconnect
type Profile struct {
	Name       string
	Integrated bool

	DeviceMemory  uint64 // video memory size
	HostMemory    uint64 // budget for host heaps, 0 = unlimited
	MaxAllocation uint64 // largest single allocation, 0 = unlimited

	UploadGBs      float64       // host -> device
	DownloadGBs    float64       // device -> host
	CopyLatency    time.Duration // fixed cost of each copy command
	SubmitOverhead time.Duration // fixed cost of each submission

	TimestampPeriodNs float64

	// OptimisticUploadTimestamps makes device timestamps exclude the bus transfer of
	// host->device copies, as seen with resizable BAR mappings on discrete GPUs.
	OptimisticUploadTimestamps bool

	SecondQueue bool
	Backing     Backing
	Faults      []Fault

	// HangAfterSubmits stops signalling fences after this many submissions, 0 = never
	HangAfterSubmits int
}

// DiscreteProfile returns a PCIe 4.0 x16 discrete GPU with resizable BAR
func DiscreteProfile() Profile {
	return Profile{
		Name:                       "Simulated Discrete GPU (PCIe 4.0 x16)",
		DeviceMemory:               8 << 30,
		UploadGBs:                  24.0,
		DownloadGBs:                25.0,
		CopyLatency:                2 * time.Microsecond,
		SubmitOverhead:             10 * time.Microsecond,
		TimestampPeriodNs:          1.0,
		OptimisticUploadTimestamps: true,
		SecondQueue:                true,
		Backing:                    BackingNone,
	}
}

// ThunderboltProfile returns an external GPU behind a Thunderbolt 3/4 enclosure
func ThunderboltProfile() Profile {
	p := DiscreteProfile()
	p.Name = "Simulated eGPU (Thunderbolt)"
	p.UploadGBs = 2.6
	p.DownloadGBs = 2.8
	p.CopyLatency = 6 * time.Microsecond
	return p
}

// IntegratedProfile returns an integrated GPU sharing system memory
func IntegratedProfile() Profile {
	return Profile{
		Name:              "Simulated Integrated GPU",
		Integrated:        true,
		DeviceMemory:      2 << 30,
		UploadGBs:         30.0,
		DownloadGBs:       30.0,
		CopyLatency:       1 * time.Microsecond,
		SubmitOverhead:    5 * time.Microsecond,
		TimestampPeriodNs: 52.083,
		SecondQueue:       false,
		Backing:           BackingNone,
	}
}

// HostProfile returns a device backed by real host memory. With the system clock
// copies are real memcpy calls, so measurements reflect this machine's memory bandwidth.
func HostProfile(deviceMemory uint64) Profile {
	return Profile{
		Name:              "Host Memory Device",
		Integrated:        true,
		DeviceMemory:      deviceMemory,
		UploadGBs:         10.0,
		DownloadGBs:       10.0,
		TimestampPeriodNs: 1.0,
		SecondQueue:       true,
		Backing:           BackingMmap,
	}
}
