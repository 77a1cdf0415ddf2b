package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/worldland/linkbench/internal/classify"
	"github.com/worldland/linkbench/internal/domain"
)

// PrintHeader prints a section header
func PrintHeader(w io.Writer, title string) {
	fmt.Fprintf(w, "\n=== %s ===\n", title)
}

// PrintField prints a labeled field
func PrintField(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %-16s %s\n", label+":", value)
}

// PrintDevice displays the selected adapter
func PrintDevice(w io.Writer, dev domain.DeviceInfo, hw *domain.HardwareInfo) {
	PrintHeader(w, "Device")
	PrintField(w, "Name", dev.Name)
	PrintField(w, "Memory", common.StorageSize(dev.MemoryBytes).String())
	PrintField(w, "Integrated", fmt.Sprintf("%t", dev.Integrated))
	if hw == nil {
		return
	}
	if link := hw.Link(); link != nil {
		PrintField(w, "PCIe link", fmt.Sprintf("Gen%d x%d (max Gen%d x%d)",
			link.Generation, link.Lanes, hw.MaxPCIeGen, hw.MaxPCIeWidth))
	}
	if hw.DriverVer != "" {
		PrintField(w, "Driver", hw.DriverVer)
	}
}

// PrintResults displays test results in a table format
func PrintResults(w io.Writer, results []domain.TestResult) {
	PrintHeader(w, fmt.Sprintf("Results (%d)", len(results)))

	if len(results) == 0 {
		fmt.Fprintln(w, "  (no results)")
		return
	}

	fmt.Fprintf(w, "  %-24s %-4s %-10s %10s %10s %10s %10s %10s %-6s\n",
		"Test", "Run", "Status", "Min", "Avg", "Max", "P99", "P99.9", "Unit")
	fmt.Fprintf(w, "  %-24s %-4s %-10s %10s %10s %10s %10s %10s %-6s\n",
		strings.Repeat("-", 24), strings.Repeat("-", 4), strings.Repeat("-", 10),
		strings.Repeat("-", 10), strings.Repeat("-", 10), strings.Repeat("-", 10),
		strings.Repeat("-", 10), strings.Repeat("-", 10), strings.Repeat("-", 6))

	for _, r := range results {
		status := string(r.Status)
		if r.Confidence == domain.ConfidenceReduced {
			status += "*"
		}
		if !r.HasData() {
			fmt.Fprintf(w, "  %-24s %-4d %-10s %10s %10s %10s %10s %10s %-6s\n",
				r.Name, r.Run, status, "-", "-", "-", "-", "-", r.Unit)
		} else {
			fmt.Fprintf(w, "  %-24s %-4d %-10s %10.2f %10.2f %10.2f %10.2f %10.2f %-6s\n",
				r.Name, r.Run, status, r.Min, r.Avg, r.Max, r.P99, r.P999, r.Unit)
		}
		if r.FailedBatches > 0 {
			fmt.Fprintf(w, "      failed batches: %d\n", r.FailedBatches)
		}
		for _, note := range r.Notes {
			fmt.Fprintf(w, "      note: %s\n", note)
		}
	}
	fmt.Fprintln(w, "  * reduced confidence")
}

// PrintClassification displays the interconnect verdict
func PrintClassification(w io.Writer, c classify.Classification) {
	PrintHeader(w, "Interface")
	PrintField(w, "Measured", fmt.Sprintf("%.2f GB/s", c.MeasuredGBs))

	standard := c.Standard
	switch {
	case c.FasterThanKnown:
		standard = "faster than any known standard (" + c.Standard + ")"
	case c.SlowerThanKnown:
		standard = "slower than any known standard (" + c.Standard + ")"
	}
	PrintField(w, "Standard", standard)
	PrintField(w, "Expected", fmt.Sprintf("%.1f GB/s", c.ExpectedGBs))
	PrintField(w, "Efficiency", fmt.Sprintf("%.0f%%", c.EfficiencyPct))

	if c.LinkStandard != "" {
		link := fmt.Sprintf("%s (%.1f GB/s)", c.LinkStandard, c.LinkExpectedGBs)
		if c.BelowLinkExpected {
			link += " BELOW EXPECTED"
		}
		PrintField(w, "Reported link", link)
	}
	for _, note := range c.Notes {
		fmt.Fprintf(w, "  note: %s\n", note)
	}
}

// PrintScanReport displays a VRAM scan report
func PrintScanReport(w io.Writer, r domain.ScanReport) {
	PrintHeader(w, "VRAM Scan")
	PrintField(w, "Outcome", string(r.Outcome))
	PrintField(w, "Device memory", common.StorageSize(r.DeviceMemory).String())
	PrintField(w, "Tested", fmt.Sprintf("%s of %s target",
		common.StorageSize(r.TotalBytesTested), common.StorageSize(r.TargetBytes)))
	PrintField(w, "Chunks", fmt.Sprintf("%d x %s", r.ChunksTested, common.StorageSize(r.ChunkSize)))
	PrintField(w, "Duration", r.Duration.Round(time.Millisecond).String())
	PrintField(w, "Errors", fmt.Sprintf("%d in %d regions", r.TotalErrors, len(r.Errors)))

	for _, pattern := range slices.Sorted(maps.Keys(r.PatternErrors)) {
		fmt.Fprintf(w, "    %-20s %d\n", pattern, r.PatternErrors[pattern])
	}

	if len(r.Errors) > 0 {
		fmt.Fprintf(w, "\n  %-18s %-18s %-10s %-10s %-20s %s\n",
			"Start", "End", "Expected", "Actual", "Pattern", "Count")
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  0x%016x 0x%016x %08x   %08x   %-20s %d\n",
				e.ByteOffsetStart, e.ByteOffsetEnd, e.ExpectedValue, e.ActualValue, e.Pattern, e.ErrorCount)
		}
	}
	for _, note := range r.Notes {
		fmt.Fprintf(w, "  note: %s\n", note)
	}
}

// PrintStep prints a step in a multi-step process
func PrintStep(w io.Writer, current, total int, message string) {
	fmt.Fprintf(w, "\n[%d/%d] %s\n", current, total, message)
}

// PrintError prints an error message
func PrintError(w io.Writer, message string) {
	fmt.Fprintf(w, "\nError: %s\n", message)
}
