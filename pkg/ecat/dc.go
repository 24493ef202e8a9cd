package ecat

// DC (Distributed Clocks) register addresses touched by the composite
// primitives.
const (
	RegDCSysTimeStatus = 0x0900 // DC system time status, 1 byte
	RegDCSysTime       = 0x0910 // DC system time, 64-bit
	RegALStatus        = 0x0130 // AL-status, 2 bytes
)
