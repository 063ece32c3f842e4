// Package timestamp fixes the module's time representation to int64
// milliseconds since the Unix epoch (UTC).
//
// Fragment modification times, snapshot UpdatedAt stamps, and the
// per-section change cache all carry the same unit, so comparisons never
// cross a seconds/milliseconds boundary. Zero means "not set": conversions
// map zero input to zero output instead of 1970.
//
// Usage:
//
//	snap.UpdatedAt = timestamp.Now()
//	fragMod := timestamp.ToUnixMs(info.ModTime())
//	fmt.Println(timestamp.Format(snap.UpdatedAt))
package timestamp

import "time"

// Now returns the current time in Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to Unix milliseconds. A zero time maps
// to 0.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds back to a time.Time. 0 maps to
// the zero time.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Format renders a timestamp as RFC3339 in UTC for logs and CLI output.
// Unset timestamps render as the empty string.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// Latest returns the later of two timestamps, treating 0 as earlier than
// anything. Folding file modification times into a section's latest time
// starts from the zero value.
func Latest(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
