// Package ecat implements the EtherCAT transaction engine: the eleven
// command primitives, the LRW+DC composite, and the process-data
// composite frame, all built on top of pkg/index, pkg/frame and
// pkg/wire.
package ecat

import (
	"time"

	"github.com/kwinten-mortier/SOEM/pkg/index"
)

// NoFrame is the sentinel working-counter value returned when recv times
// out or delivers a reply for a different index than the one awaited. It
// is a value, not a Go error: the caller is expected to treat it like any
// other wkc result (typically "retry" or "slave absent").
const NoFrame = -1

// Port is the contract between the transaction engine and a NIC adapter:
// frame I/O, index allocation, and per-slot buffer storage. The engine
// never touches a socket directly.
type Port interface {
	AllocIndex() (uint8, error)
	Release(idx uint8)

	TxBuffer(idx uint8) []byte
	RxBuffer(idx uint8) []byte
	TxLen(idx uint8) int
	SetTxLen(idx uint8, n int)

	SetState(idx uint8, state index.State) error

	// Send transmits the frame currently built in idx's transmit buffer
	// and transitions the slot ALLOC->TX.
	Send(idx uint8) error

	// Recv blocks until the reply for idx arrives or timeout elapses. On
	// a matching reply it transitions TX->RCVD and returns the frame's
	// working counter. On timeout it releases the slot itself and
	// returns (NoFrame, nil).
	Recv(idx uint8, timeout time.Duration) (wkc int, err error)
}

// Recorder observes completed transactions; it is the seam pkg/metrics
// hangs a Prometheus collector off of without pkg/ecat importing
// prometheus directly. A nil Recorder is valid and observes nothing.
type Recorder interface {
	ObserveTransaction(command byte, wkc int, noFrame bool)
}

// Engine drives primitives against a Port.
type Engine struct {
	port     Port
	recorder Recorder
}

// NewEngine wraps port with the primitive command set. recorder may be
// nil.
func NewEngine(port Port, recorder Recorder) *Engine {
	return &Engine{port: port, recorder: recorder}
}

func (e *Engine) observe(command byte, wkc int) {
	if e.recorder == nil {
		return
	}
	e.recorder.ObserveTransaction(command, wkc, wkc == NoFrame)
}
