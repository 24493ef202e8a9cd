//go:build linux

package netstat

import (
	"testing"
	"unsafe"
)

func TestRawStatsLayoutSizes(t *testing.T) {
	if got := unsafe.Sizeof(rawStats{}); got != 8 {
		t.Fatalf("sizeof(rawStats) = %d, want 8 (struct tpacket_stats)", got)
	}
	if got := unsafe.Sizeof(rawStatsV3{}); got != 16 {
		t.Fatalf("sizeof(rawStatsV3) = %d, want 16 (struct tpacket_stats_v3)", got)
	}
}

func TestGetOnInvalidFdReturnsError(t *testing.T) {
	if _, err := Get(-1); err == nil {
		t.Fatalf("Get(-1) succeeded, want an error for a closed/invalid descriptor")
	}
}
