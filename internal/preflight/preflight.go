package preflight

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Result contains the results of the host check
type Result struct {
	OSId      string // "ubuntu", "debian", etc.
	OSVersion string // "22.04", "12", etc.
	GPUFound  bool
	GPUName   string
	Driver    string

	// Host memory in bytes, 0 when unknown
	MemTotal     uint64
	MemAvailable uint64

	Warnings []string
}

// Run inspects the host. deviceMemory is the size of the host-backed device the run
// will allocate; a warning is recorded when it does not fit in available memory.
func Run(deviceMemory uint64) *Result {
	r := &Result{}
	r.OSId, r.OSVersion = detectOS()
	r.GPUFound, r.GPUName, r.Driver = detectNvidiaGPU()

	if f, err := os.Open("/proc/meminfo"); err == nil {
		r.MemTotal, r.MemAvailable = parseMeminfo(f)
		f.Close()
	}
	r.check(deviceMemory)
	return r
}

func (r *Result) check(deviceMemory uint64) {
	if !r.GPUFound {
		r.Warnings = append(r.Warnings, "no NVIDIA GPU reported by nvidia-smi, link hints must come from flags")
	}
	if r.MemAvailable > 0 && deviceMemory > r.MemAvailable {
		r.Warnings = append(r.Warnings, fmt.Sprintf("device memory %s exceeds available host memory %s",
			common.StorageSize(deviceMemory), common.StorageSize(r.MemAvailable)))
	}
}

// Print prints the check results
func (r *Result) Print(w io.Writer) {
	fmt.Fprintf(w, "  OS: %s %s\n", r.OSId, r.OSVersion)
	if r.GPUFound {
		fmt.Fprintf(w, "  GPU: %s (driver %s)\n", r.GPUName, r.Driver)
	}
	if r.MemTotal > 0 {
		fmt.Fprintf(w, "  Memory: %s available of %s\n",
			common.StorageSize(r.MemAvailable), common.StorageSize(r.MemTotal))
	}
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "  ✗ %s\n", warn)
	}
}

// parseMeminfo reads MemTotal and MemAvailable in bytes
func parseMeminfo(rd io.Reader) (total, available uint64) {
	scanner := bufio.NewScanner(rd)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = kb << 10
		case "MemAvailable:":
			available = kb << 10
		}
	}
	return total, available
}

func detectOS() (id, version string) {
	f, err := os.Open("/etc/os-release")
	if err != nil {
		return "unknown", ""
	}
	defer f.Close()
	return parseOSRelease(f)
}

func parseOSRelease(rd io.Reader) (id, version string) {
	scanner := bufio.NewScanner(rd)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "ID=") {
			id = strings.Trim(strings.TrimPrefix(line, "ID="), "\"")
		}
		if strings.HasPrefix(line, "VERSION_ID=") {
			version = strings.Trim(strings.TrimPrefix(line, "VERSION_ID="), "\"")
		}
	}
	return id, version
}

func detectNvidiaGPU() (found bool, name, driver string) {
	cmd := exec.Command("nvidia-smi", "--query-gpu=name,driver_version", "--format=csv,noheader")
	out, err := cmd.Output()
	if err != nil {
		return false, "", ""
	}
	return parseSMI(string(out))
}

// parseSMI takes the first GPU of nvidia-smi's csv output
func parseSMI(out string) (found bool, name, driver string) {
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(out), "\n", 2)[0])
	if line == "" {
		return false, "", ""
	}
	parts := strings.SplitN(line, ",", 2)
	name = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		driver = strings.TrimSpace(parts[1])
	}
	return name != "", name, driver
}
