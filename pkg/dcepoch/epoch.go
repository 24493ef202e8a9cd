// Package dcepoch converts between POSIX time and the EtherCAT
// Distributed Clocks epoch, which the slave's DC system-time register
// (0x0910) is expressed against.
package dcepoch

import "time"

// Offset is the number of seconds between the POSIX epoch
// (1970-01-01T00:00:00Z) and the EtherCAT DC epoch (2000-01-01T00:00:00Z).
const Offset = 946684800

// FromTime converts a wall-clock time to EtherCAT DC nanoseconds: signed
// nanoseconds since 2000-01-01 UTC, the form written to and read from DC
// system-time registers.
func FromTime(t time.Time) int64 {
	return t.UnixNano() - Offset*int64(time.Second)
}

// ToTime converts an EtherCAT DC nanosecond timestamp back to wall-clock
// time.
func ToTime(dcNanos int64) time.Time {
	return time.Unix(0, dcNanos+Offset*int64(time.Second)).UTC()
}

// FromUnix converts POSIX seconds+microseconds (as e.g. gettimeofday
// returns) to EtherCAT DC nanoseconds.
func FromUnix(sec, usec int64) int64 {
	return (sec-Offset)*int64(time.Second) + usec*int64(time.Microsecond)
}
