package timestamp

import (
	"testing"
	"time"
)

func TestNowIsCurrent(t *testing.T) {
	lo := time.Now().UnixMilli()
	got := Now()
	hi := time.Now().UnixMilli()
	if got < lo || got > hi {
		t.Fatalf("Now() = %d, want within [%d, %d]", got, lo, hi)
	}
}

func TestConversionRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		in   time.Time
		ms   int64
	}{
		{"fragment mod time", time.Date(2026, 3, 9, 8, 15, 30, 250e6, time.UTC), 1773044130250},
		{"zero time is unset", time.Time{}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ToUnixMs(tc.in); got != tc.ms {
				t.Fatalf("ToUnixMs = %d, want %d", got, tc.ms)
			}
			back := FromUnixMs(tc.ms)
			if !back.Equal(tc.in) {
				t.Fatalf("FromUnixMs(%d) = %v, want %v", tc.ms, back, tc.in)
			}
		})
	}
}

func TestFromUnixMsZero(t *testing.T) {
	if got := FromUnixMs(0); !got.IsZero() {
		t.Fatalf("FromUnixMs(0) = %v, want zero time", got)
	}
}

func TestFormat(t *testing.T) {
	ms := ToUnixMs(time.Date(2026, 3, 9, 8, 15, 30, 0, time.UTC))
	if got, want := Format(ms), "2026-03-09T08:15:30Z"; got != want {
		t.Fatalf("Format = %q, want %q", got, want)
	}
	if got := Format(0); got != "" {
		t.Fatalf("Format(0) = %q, want empty", got)
	}
}

func TestLatest(t *testing.T) {
	cases := []struct {
		name string
		a, b int64
		want int64
	}{
		{"later wins", 100, 200, 200},
		{"order irrelevant", 200, 100, 200},
		{"zero loses to any stamp", 0, 50, 50},
		{"both zero", 0, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Latest(tc.a, tc.b); got != tc.want {
				t.Fatalf("Latest(%d, %d) = %d, want %d", tc.a, tc.b, got, tc.want)
			}
		})
	}
}
