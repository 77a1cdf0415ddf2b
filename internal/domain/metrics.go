package domain

import "time"

// Units reported by the transfer tests
const (
	UnitGBs          = "GB/s"
	UnitMicroseconds = "us"
)

// TestStatus is the terminal state of one test's state machine
type TestStatus string

const (
	TestStatusDone      TestStatus = "done"
	TestStatusAborted   TestStatus = "aborted"
	TestStatusCancelled TestStatus = "cancelled"
	TestStatusNoData    TestStatus = "no_data"
	TestStatusSkipped   TestStatus = "skipped"
)

// Confidence marks results measured with a degraded method
type Confidence string

const (
	ConfidenceFull    Confidence = "full"
	ConfidenceReduced Confidence = "reduced"
)

// TestResult is the aggregated outcome of one transfer test
type TestResult struct {
	Name          string     `json:"name"`
	Unit          string     `json:"unit"`
	Status        TestStatus `json:"status"`
	Confidence    Confidence `json:"confidence"`
	Min           float64    `json:"min"`
	Avg           float64    `json:"avg"`
	Max           float64    `json:"max"`
	P99           float64    `json:"p99"`
	P999          float64    `json:"p999"`
	Samples       []float64  `json:"samples"`
	FailedBatches int        `json:"failed_batches"`
	Run           int        `json:"run"`
	Notes         []string   `json:"notes,omitempty"`
}

// HasData reports whether the result carries at least one valid sample
func (r TestResult) HasData() bool {
	return len(r.Samples) > 0
}

// HardwareInfo represents static GPU information used as classifier hints
type HardwareInfo struct {
	UUID         string `json:"uuid"`
	Name         string `json:"name"`
	MemoryTotal  uint64 `json:"memory_total_bytes"`
	PCIeGen      int    `json:"pcie_gen"`
	PCIeWidth    int    `json:"pcie_width"`
	MaxPCIeGen   int    `json:"max_pcie_gen"`
	MaxPCIeWidth int    `json:"max_pcie_width"`
	DriverVer    string `json:"driver_version"`
}

// Link returns the current PCIe link, or nil when the provider did not report one
func (h HardwareInfo) Link() *LinkInfo {
	if h.PCIeGen <= 0 || h.PCIeWidth <= 0 {
		return nil
	}
	return &LinkInfo{Generation: h.PCIeGen, Lanes: h.PCIeWidth}
}

// LinkInfo is an externally supplied PCIe link descriptor
type LinkInfo struct {
	Generation int `json:"generation"`
	Lanes      int `json:"lanes"`
}

// ScanOutcome summarizes a VRAM scan
type ScanOutcome string

const (
	ScanPassed     ScanOutcome = "passed"
	ScanErrors     ScanOutcome = "errors_found"
	ScanFailed     ScanOutcome = "scan_failed"
	ScanCancelled  ScanOutcome = "cancelled"
	ScanIncomplete ScanOutcome = "incomplete"
)

// VRAMError is one clustered mismatch region
type VRAMError struct {
	ByteOffsetStart uint64      `json:"byte_offset_start"`
	ByteOffsetEnd   uint64      `json:"byte_offset_end"`
	ExpectedValue   uint32      `json:"expected_value"`
	ActualValue     uint32      `json:"actual_value"`
	Pattern         PatternKind `json:"pattern"`
	ErrorCount      uint64      `json:"error_count"`
}

// ScanReport is the layout-independent result of a VRAM integrity scan
type ScanReport struct {
	Outcome          ScanOutcome            `json:"outcome"`
	DeviceMemory     uint64                 `json:"device_memory_bytes"`
	TargetBytes      uint64                 `json:"target_bytes"`
	TotalBytesTested uint64                 `json:"total_bytes_tested"`
	ChunkSize        uint64                 `json:"chunk_size"`
	ChunksTested     int                    `json:"chunks_tested"`
	TotalErrors      uint64                 `json:"total_errors"`
	Errors           []VRAMError            `json:"errors"`
	DroppedClusters  int                    `json:"dropped_clusters"`
	PatternErrors    map[PatternKind]uint64 `json:"pattern_errors"`
	Duration         time.Duration          `json:"duration"`
	Notes            []string               `json:"notes,omitempty"`
}
