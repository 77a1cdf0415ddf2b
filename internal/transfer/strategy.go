package transfer

import (
	"fmt"

	"github.com/worldland/linkbench/internal/domain"
)

// Strategy selects how host to device copies are timed
type Strategy int

const (
	// StrategyDeviceTimestamp brackets copies with GPU timestamp queries
	StrategyDeviceTimestamp Strategy = iota
	// StrategyHostRoundTrip chains upload and download in one submission and times
	// it on the host clock. Discrete GPUs with resizable BAR timestamp uploads as
	// complete before the data has crossed the bus.
	StrategyHostRoundTrip
)

func (s Strategy) String() string {
	switch s {
	case StrategyDeviceTimestamp:
		return "device-timestamp"
	case StrategyHostRoundTrip:
		return "host-round-trip"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// SelectStrategy picks the upload timing strategy once, at device selection.
// Downloads always use device timestamps.
func SelectStrategy(dev domain.DeviceInfo) Strategy {
	if dev.Integrated {
		return StrategyDeviceTimestamp
	}
	return StrategyHostRoundTrip
}
