package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/worldland/linkbench/internal/domain"
)

func TestDeriveUpload(t *testing.T) {
	const gb = 1_000_000_000

	tests := []struct {
		name        string
		roundTrip   time.Duration
		downloadGBs float64
		wantGBs     float64
		wantReason  string
	}{
		{
			name:        "correction applies",
			roundTrip:   80 * time.Millisecond,
			downloadGBs: 25,
			wantGBs:     25,
		},
		{
			name:        "asymmetric link",
			roundTrip:   140 * time.Millisecond,
			downloadGBs: 25,
			wantGBs:     10,
		},
		{
			name:        "negative upload time falls back",
			roundTrip:   30 * time.Millisecond,
			downloadGBs: 25,
			wantGBs:     1 / 0.030,
			wantReason:  ReasonUploadTooShort,
		},
		{
			name:        "upload below ten percent falls back",
			roundTrip:   42 * time.Millisecond,
			downloadGBs: 25,
			wantGBs:     1 / 0.042,
			wantReason:  ReasonUploadTooShort,
		},
		{
			name:        "upload faster than three times download falls back",
			roundTrip:   50 * time.Millisecond,
			downloadGBs: 25,
			wantGBs:     1 / 0.050,
			wantReason:  ReasonUploadTooFast,
		},
		{
			name:        "no download reference falls back",
			roundTrip:   80 * time.Millisecond,
			downloadGBs: 0,
			wantGBs:     1 / 0.080,
			wantReason:  ReasonNoDownloadReference,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est := DeriveUpload(tt.roundTrip, gb, tt.downloadGBs)

			assert.InDelta(t, tt.wantGBs, est.GBs, 1e-6)
			assert.Equal(t, tt.wantReason != "", est.Fallback)
			assert.Equal(t, tt.wantReason, est.Reason)
			assert.Greater(t, est.Seconds, 0.0)
		})
	}
}

func TestDeriveUpload_FallbackIsHalfRoundTripBandwidth(t *testing.T) {
	rt := 30 * time.Millisecond
	est := DeriveUpload(rt, 1<<30, 25)

	assert.True(t, est.Fallback)
	assert.InDelta(t, RoundTripGBs(rt, 1<<30)/2, est.GBs, 1e-9)
}

func TestRoundTripGBs_ZeroInterval(t *testing.T) {
	assert.Equal(t, 0.0, RoundTripGBs(0, 1<<20))
}

func TestSelectStrategy(t *testing.T) {
	assert.Equal(t, StrategyDeviceTimestamp, SelectStrategy(domain.DeviceInfo{Integrated: true}))
	assert.Equal(t, StrategyHostRoundTrip, SelectStrategy(domain.DeviceInfo{Integrated: false}))
	assert.Equal(t, "host-round-trip", StrategyHostRoundTrip.String())
}
