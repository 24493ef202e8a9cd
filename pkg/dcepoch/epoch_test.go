package dcepoch

import (
	"testing"
	"time"
)

func TestFromTimeEpochBoundary(t *testing.T) {
	epoch := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := FromTime(epoch); got != 0 {
		t.Fatalf("FromTime(2000-01-01) = %d, want 0", got)
	}
}

func TestRoundTrip(t *testing.T) {
	want := time.Date(2026, 7, 31, 12, 0, 0, 123456000, time.UTC)
	got := ToTime(FromTime(want))
	if !got.Equal(want) {
		t.Fatalf("round trip = %v, want %v", got, want)
	}
}

func TestFromUnixMatchesFromTime(t *testing.T) {
	want := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	sec := want.Unix()
	if got := FromUnix(sec, 0); got != FromTime(want) {
		t.Fatalf("FromUnix(%d,0) = %d, want %d", sec, got, FromTime(want))
	}
}

func TestFromTimeBeforeEpochIsNegative(t *testing.T) {
	before := time.Date(1999, 12, 31, 23, 59, 59, 0, time.UTC)
	if got := FromTime(before); got >= 0 {
		t.Fatalf("FromTime(%v) = %d, want negative", before, got)
	}
}
