package imessage

import (
	"time"

	"github.com/Napageneral/msgbridge/internal/errs"
)

// appleEpoch is the reference point for chat.db timestamps
// (2001-01-01 00:00:00 UTC).
var appleEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// NativeTime is a chat.db timestamp: nanoseconds since appleEpoch.
// The unit is nanoseconds, not seconds. Comparing a raw seconds value
// against the store's date column shifts every window by a factor of
// 1e9 and returns a near-empty result set, so all query bounds must go
// through this type.
type NativeTime int64

// ToNative converts a calendar time to the store's native epoch.
// Times more than ~292 years from the epoch do not fit in int64
// nanoseconds and fail with a range error.
func ToNative(t time.Time) (NativeTime, error) {
	d := t.Sub(appleEpoch)
	// time.Sub saturates on overflow; an exact round-trip proves the
	// duration really represents t.
	if !appleEpoch.Add(d).Equal(t) {
		return 0, errs.New(errs.Range, "time %s outside the native epoch's 64-bit range", t.UTC().Format(time.RFC3339))
	}
	return NativeTime(d), nil
}

// Time converts a native timestamp back to calendar time in UTC.
// Exact inverse of ToNative for every representable time.
func (n NativeTime) Time() time.Time {
	return appleEpoch.Add(time.Duration(n))
}

// windowStart returns the native lower bound for a query window ending
// at now and extending hours back.
func windowStart(now time.Time, hours int) (NativeTime, error) {
	return ToNative(now.Add(-time.Duration(hours) * time.Hour))
}
