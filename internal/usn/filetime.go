package usn

import "time"

// filetimeEpochDelta is the number of 100-nanosecond intervals between the
// FILETIME epoch (1601-01-01 UTC) and the Unix epoch (1970-01-01 UTC).
const filetimeEpochDelta = 116444736000000000

// maxFiletimeTicks bounds the tick delta so the conversion to nanoseconds
// cannot overflow int64. Values outside the representable range degrade to
// the zero time (unavailable) instead of failing the record.
const maxFiletimeTicks = int64(^uint64(0)>>1) / 100

// FiletimeToTime converts a FILETIME value (100ns ticks since 1601-01-01
// UTC) to a UTC instant. Zero, negative and out-of-range inputs return the
// zero time.
func FiletimeToTime(ft int64) time.Time {
	if ft <= 0 {
		return time.Time{}
	}
	ticks := ft - filetimeEpochDelta
	if ticks > maxFiletimeTicks || ticks < -maxFiletimeTicks {
		return time.Time{}
	}
	return time.Unix(0, ticks*100).UTC()
}

// TimeToFiletime is the inverse conversion, used when building synthetic
// records. The zero time maps to zero.
func TimeToFiletime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()/100 + filetimeEpochDelta
}
