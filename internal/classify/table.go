package classify

import "fmt"

// Standard is a known interconnect with its achievable one-way bandwidth after
// protocol overhead
type Standard struct {
	Name      string  `json:"name"`
	GBs       float64 `json:"gbs"`
	Tunnelled bool    `json:"tunnelled"`
}

// DefaultStandards is ordered by bandwidth
var DefaultStandards = []Standard{
	{Name: "PCIe 2.0 x1", GBs: 0.4},
	{Name: "PCIe 3.0 x1", GBs: 0.8},
	{Name: "PCIe 3.0 x2", GBs: 1.6},
	{Name: "USB4 20Gbps", GBs: 1.8, Tunnelled: true},
	{Name: "Thunderbolt 3", GBs: 2.6, Tunnelled: true},
	{Name: "Thunderbolt 4 / USB4 40Gbps", GBs: 2.9, Tunnelled: true},
	{Name: "PCIe 3.0 x4", GBs: 3.3},
	{Name: "Thunderbolt 5", GBs: 5.5, Tunnelled: true},
	{Name: "PCIe 4.0 x4 / OCuLink / PCIe 3.0 x8", GBs: 6.6},
	{Name: "PCIe 4.0 x8 / PCIe 3.0 x16", GBs: 13.2},
	{Name: "PCIe 4.0 x16 / PCIe 5.0 x8", GBs: 26.4},
	{Name: "PCIe 5.0 x16", GBs: 52.8},
}

// perLaneGBs is the achievable bandwidth of one lane per PCIe generation
var perLaneGBs = map[int]float64{
	1: 0.2,
	2: 0.4,
	3: 0.825,
	4: 1.65,
	5: 3.3,
	6: 6.6,
}

// LinkStandard returns the name and achievable bandwidth of a PCIe link.
// ok is false for unknown generations.
func LinkStandard(gen, lanes int) (name string, gbs float64, ok bool) {
	perLane, known := perLaneGBs[gen]
	if !known || lanes <= 0 {
		return "", 0, false
	}
	major := fmt.Sprintf("%d.0", gen)
	if gen == 1 {
		major = "1.1"
	}
	return fmt.Sprintf("PCIe %s x%d", major, lanes), perLane * float64(lanes), true
}
