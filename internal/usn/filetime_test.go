package usn

import (
	"testing"
	"time"
)

func TestFiletimeRoundTrip(t *testing.T) {
	ts := time.Date(2024, 2, 29, 23, 59, 59, 123456700, time.UTC)
	got := FiletimeToTime(TimeToFiletime(ts))
	if !got.Equal(ts) {
		t.Errorf("round trip = %v, want %v", got, ts)
	}
}

func TestFiletimeEpoch(t *testing.T) {
	// The tick delta between 1601 and 1970 maps exactly onto the Unix epoch.
	got := FiletimeToTime(filetimeEpochDelta)
	if !got.Equal(time.Unix(0, 0).UTC()) {
		t.Errorf("epoch conversion = %v, want 1970-01-01T00:00:00Z", got)
	}
}

func TestFiletimeUnavailable(t *testing.T) {
	for _, ft := range []int64{0, -1, int64(^uint64(0) >> 1)} {
		if got := FiletimeToTime(ft); !got.IsZero() {
			t.Errorf("FiletimeToTime(%d) = %v, want zero", ft, got)
		}
	}
}
