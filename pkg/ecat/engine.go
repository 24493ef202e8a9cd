package ecat

import (
	"encoding/binary"
	"time"

	"github.com/kwinten-mortier/SOEM/pkg/frame"
	"github.com/kwinten-mortier/SOEM/pkg/index"
	"github.com/kwinten-mortier/SOEM/pkg/wire"
)

// transact runs the common alloc/build/send/recv/copy-back/release
// pattern for a single-datagram primitive. data is both the TX payload
// (for write commands) and the destination for the RX copy-back (for
// read commands); its length fixes the datagram's length field.
func (e *Engine) transact(command byte, adp, ado uint16, data []byte, copyBack bool, timeout time.Duration) (int, error) {
	idx, err := e.port.AllocIndex()
	if err != nil {
		return 0, err
	}

	if err := frame.Setup(e.port, idx, command, adp, ado, data, false); err != nil {
		e.port.Release(idx)
		return 0, err
	}

	if err := e.port.Send(idx); err != nil {
		e.port.Release(idx)
		return 0, err
	}

	wkc, err := e.port.Recv(idx, timeout)
	if err != nil {
		return 0, err
	}
	if wkc == NoFrame {
		e.observe(command, wkc)
		return NoFrame, nil
	}

	if wkc > 0 && copyBack {
		rx := e.port.RxBuffer(idx)
		replyCmd, _, _, _, _, _ := wire.DecodeSubframeHeader(rx)
		if replyCmd == command {
			copy(data, rx[wire.HeaderSize:wire.HeaderSize+len(data)])
		}
	}

	e.port.SetState(idx, index.Complete)
	e.port.Release(idx)
	e.observe(command, wkc)
	return wkc, nil
}

// BRD: broadcast read.
func (e *Engine) BRD(adp, ado uint16, data []byte, timeout time.Duration) (int, error) {
	return e.transact(wire.BRD, adp, ado, data, true, timeout)
}

// BWR: broadcast write.
func (e *Engine) BWR(adp, ado uint16, data []byte, timeout time.Duration) (int, error) {
	return e.transact(wire.BWR, adp, ado, data, false, timeout)
}

// APRD: auto-increment address read.
func (e *Engine) APRD(adp, ado uint16, data []byte, timeout time.Duration) (int, error) {
	return e.transact(wire.APRD, adp, ado, data, true, timeout)
}

// APRDw is the word-return form of APRD.
func (e *Engine) APRDw(adp, ado uint16, timeout time.Duration) (uint16, int, error) {
	buf := make([]byte, 2)
	wkc, err := e.APRD(adp, ado, buf, timeout)
	return binary.LittleEndian.Uint16(buf), wkc, err
}

// APWR: auto-increment address write.
func (e *Engine) APWR(adp, ado uint16, data []byte, timeout time.Duration) (int, error) {
	return e.transact(wire.APWR, adp, ado, data, false, timeout)
}

// ARMW: auto-increment read, then write the read value into every
// following slave. The TX payload is the seed value; RX copy-back
// returns what the last slave in the chain saw.
func (e *Engine) ARMW(adp, ado uint16, data []byte, timeout time.Duration) (int, error) {
	return e.transact(wire.ARMW, adp, ado, data, true, timeout)
}

// FPRD: configured-address read.
func (e *Engine) FPRD(adp, ado uint16, data []byte, timeout time.Duration) (int, error) {
	return e.transact(wire.FPRD, adp, ado, data, true, timeout)
}

// FPRDw is the word-return form of FPRD.
func (e *Engine) FPRDw(adp, ado uint16, timeout time.Duration) (uint16, int, error) {
	buf := make([]byte, 2)
	wkc, err := e.FPRD(adp, ado, buf, timeout)
	return binary.LittleEndian.Uint16(buf), wkc, err
}

// FPWR: configured-address write.
func (e *Engine) FPWR(adp, ado uint16, data []byte, timeout time.Duration) (int, error) {
	return e.transact(wire.FPWR, adp, ado, data, false, timeout)
}

// FPWRw is the word-argument form of FPWR.
func (e *Engine) FPWRw(adp, ado, value uint16, timeout time.Duration) (int, error) {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, value)
	return e.FPWR(adp, ado, buf, timeout)
}

// FPWRMailboxModified is FPWR with an empty FPWR to the mailbox-state
// register (0x10FF) chained after it, used by mailbox-aware servo loops
// to nudge a slave's mailbox protocol handler after a configured write.
func (e *Engine) FPWRMailboxModified(adp, ado uint16, data []byte, timeout time.Duration) (int, error) {
	const mailboxStateRegister = 0x10ff

	idx, err := e.port.AllocIndex()
	if err != nil {
		return 0, err
	}

	if err := frame.Setup(e.port, idx, wire.FPWR, adp, ado, data, true); err != nil {
		e.port.Release(idx)
		return 0, err
	}
	if _, err := frame.Append(e.port, idx, wire.FPWR, adp, mailboxStateRegister, []byte{0}, false); err != nil {
		e.port.Release(idx)
		return 0, err
	}

	if err := e.port.Send(idx); err != nil {
		e.port.Release(idx)
		return 0, err
	}

	wkc, err := e.port.Recv(idx, timeout)
	if err != nil {
		return 0, err
	}
	if wkc == NoFrame {
		e.observe(wire.FPWR, wkc)
		return NoFrame, nil
	}

	e.port.SetState(idx, index.Complete)
	e.port.Release(idx)
	e.observe(wire.FPWR, wkc)
	return wkc, nil
}

// FRMW: configured-address read, multiple write.
func (e *Engine) FRMW(adp, ado uint16, data []byte, timeout time.Duration) (int, error) {
	return e.transact(wire.FRMW, adp, ado, data, true, timeout)
}

// LRD: logical memory read.
func (e *Engine) LRD(logAddr uint32, data []byte, timeout time.Duration) (int, error) {
	adp, ado := wire.SplitLogicalAddress(logAddr)
	return e.transact(wire.LRD, adp, ado, data, true, timeout)
}

// LWR: logical memory write.
func (e *Engine) LWR(logAddr uint32, data []byte, timeout time.Duration) (int, error) {
	adp, ado := wire.SplitLogicalAddress(logAddr)
	return e.transact(wire.LWR, adp, ado, data, false, timeout)
}

// LRW: logical memory read/write. data is exchanged in place: it is sent
// as the outbound image and, on a successful round trip whose reply
// leads with LRW, overwritten with the inbound image.
func (e *Engine) LRW(logAddr uint32, data []byte, timeout time.Duration) (int, error) {
	adp, ado := wire.SplitLogicalAddress(logAddr)
	return e.transact(wire.LRW, adp, ado, data, true, timeout)
}
