package transfer

import "time"

// Sanity bounds for the round-trip correction
const (
	// MinUploadShare is the smallest plausible share of the round trip spent uploading
	MinUploadShare = 0.10
	// MaxUploadToDownRatio caps the derived upload rate relative to the download rate
	MaxUploadToDownRatio = 3.0
)

// Fallback reasons
const (
	ReasonNoDownloadReference = "no download measurement to subtract"
	ReasonUploadTooShort      = "derived upload time below 10% of round trip"
	ReasonUploadTooFast       = "derived upload bandwidth above 3x download bandwidth"
)

// UploadEstimate is an upload rate derived from a host-timed round trip
type UploadEstimate struct {
	Seconds  float64
	GBs      float64
	Fallback bool
	Reason   string
}

// RoundTripGBs is the bandwidth of a round trip moving bytes in each direction
func RoundTripGBs(roundTrip time.Duration, bytes uint64) float64 {
	if roundTrip <= 0 {
		return 0
	}
	return 2 * float64(bytes) / 1e9 / roundTrip.Seconds()
}

// DeriveUpload subtracts the time a download of bytes takes at downloadGBs from a
// round trip that moved bytes up and back. When the result is implausible the
// symmetric estimate RoundTripGBs/2 is returned with Fallback set.
func DeriveUpload(roundTrip time.Duration, bytes uint64, downloadGBs float64) UploadEstimate {
	rt := roundTrip.Seconds()
	gb := float64(bytes) / 1e9

	fallback := func(reason string) UploadEstimate {
		gbs := RoundTripGBs(roundTrip, bytes) / 2
		est := UploadEstimate{GBs: gbs, Fallback: true, Reason: reason}
		if gbs > 0 {
			est.Seconds = gb / gbs
		}
		return est
	}

	if downloadGBs <= 0 {
		return fallback(ReasonNoDownloadReference)
	}

	upload := rt - gb/downloadGBs
	if upload < MinUploadShare*rt {
		return fallback(ReasonUploadTooShort)
	}
	gbs := gb / upload
	if gbs > MaxUploadToDownRatio*downloadGBs {
		return fallback(ReasonUploadTooFast)
	}
	return UploadEstimate{Seconds: upload, GBs: gbs}
}
