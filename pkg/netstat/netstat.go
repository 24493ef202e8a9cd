//go:build linux

// Package netstat reads raw-socket receive statistics via
// getsockopt(SOL_PACKET, PACKET_STATISTICS), the same
// struct-overlay-over-getsockopt technique the wider pack uses for
// tcp_info: a fixed-layout struct decoded directly from the kernel's
// reply buffer.
package netstat

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/kwinten-mortier/SOEM/pkg/kernel"
)

// Stats is the unpacked form of struct tpacket_stats / tpacket_stats_v3.
type Stats struct {
	Packets uint32 // frames received
	Drops   uint32 // frames dropped due to a full ring/socket buffer

	// FreezeQueueCount is only populated on kernels new enough to expose
	// PACKET_STATISTICS_V3 (3.19+); zero otherwise.
	FreezeQueueCount uint32
}

type rawStats struct {
	packets uint32
	drops   uint32
}

type rawStatsV3 struct {
	packets        uint32
	drops          uint32
	freezeQueueCnt uint32
	_              uint32 // struct is naturally padded to 16 bytes
}

// Get reads and resets fd's PACKET_STATISTICS counters: like the kernel
// socket option itself, each call returns the counts accumulated since
// the previous call.
func Get(fd int) (Stats, error) {
	if kernel.AtLeast(3, 19, 0) {
		var raw rawStatsV3
		length := uint32(unsafe.Sizeof(raw))
		if err := getsockopt(fd, unix.PACKET_STATISTICS, unsafe.Pointer(&raw), &length); err != nil {
			return Stats{}, err
		}
		return Stats{Packets: raw.packets, Drops: raw.drops, FreezeQueueCount: raw.freezeQueueCnt}, nil
	}

	var raw rawStats
	length := uint32(unsafe.Sizeof(raw))
	if err := getsockopt(fd, unix.PACKET_STATISTICS, unsafe.Pointer(&raw), &length); err != nil {
		return Stats{}, err
	}
	return Stats{Packets: raw.packets, Drops: raw.drops}, nil
}

func getsockopt(fd int, opt int, valuePtr unsafe.Pointer, length *uint32) error {
	_, _, errno := unix.Syscall6(
		unix.SYS_GETSOCKOPT,
		uintptr(fd),
		uintptr(unix.SOL_PACKET),
		uintptr(opt),
		uintptr(valuePtr),
		uintptr(unsafe.Pointer(length)),
		0,
	)
	if errno != 0 {
		return errno
	}
	return nil
}
