package ecat

import (
	"encoding/binary"
	"time"

	"github.com/kwinten-mortier/SOEM/pkg/dcepoch"
	"github.com/kwinten-mortier/SOEM/pkg/frame"
	"github.com/kwinten-mortier/SOEM/pkg/index"
	"github.com/kwinten-mortier/SOEM/pkg/wire"
)

// LRWDC performs a logical read/write exchange together with a
// distributed-clock time read from a reference slave, in a single
// frame: an LRW datagram followed by an FRMW to dcRefAdp's
// RegDCSysTime. dcTimeIn is the master's current time, already
// converted to EtherCAT-epoch nanoseconds (see pkg/dcepoch); dcTimeOut
// is the reference slave's reported system time on a successful round
// trip.
func (e *Engine) LRWDC(logAddr uint32, data []byte, dcRefAdp uint16, dcTimeIn int64, timeout time.Duration) (wkc int, dcTimeOut int64, err error) {
	idx, err := e.port.AllocIndex()
	if err != nil {
		return 0, 0, err
	}

	adp, ado := wire.SplitLogicalAddress(logAddr)
	if err := frame.Setup(e.port, idx, wire.LRW, adp, ado, data, true); err != nil {
		e.port.Release(idx)
		return 0, 0, err
	}

	dcBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(dcBuf, uint64(dcTimeIn))
	dcOffset, err := frame.Append(e.port, idx, wire.FRMW, dcRefAdp, RegDCSysTime, dcBuf, false)
	if err != nil {
		e.port.Release(idx)
		return 0, 0, err
	}

	if err := e.port.Send(idx); err != nil {
		e.port.Release(idx)
		return 0, 0, err
	}

	aggregateWkc, err := e.port.Recv(idx, timeout)
	if err != nil {
		return 0, 0, err
	}
	if aggregateWkc == NoFrame {
		e.observe(wire.LRW, aggregateWkc)
		return NoFrame, dcTimeIn, nil
	}

	wkc = aggregateWkc
	dcTimeOut = dcTimeIn
	if aggregateWkc > 0 {
		rx := e.port.RxBuffer(idx)
		replyCmd, _, _, _, _, _ := wire.DecodeSubframeHeader(rx)
		if replyCmd == wire.LRW {
			copy(data, rx[wire.HeaderSize:wire.HeaderSize+len(data)])
			dcTimeOut = int64(binary.LittleEndian.Uint64(rx[dcOffset : dcOffset+8]))
		}
	}

	e.port.SetState(idx, index.Complete)
	e.port.Release(idx)
	e.observe(wire.LRW, aggregateWkc)
	return wkc, dcTimeOut, nil
}

// ProcessData is the inbound/outbound image and status of one
// ProcessDataExchange cycle.
type ProcessData struct {
	// Image is exchanged in place: sent as the output image, overwritten
	// with the input image on a successful round trip.
	Image []byte
	// Status is the one-byte DC system-time status read from
	// RegDCSysTimeStatus.
	Status byte
	// ALStatus is the two-byte AL-status word read from RegALStatus.
	ALStatus uint16
}

// ProcessDataExchange builds and sends the five-datagram process-data
// frame: NOP (timing pad) / ARMW (propagate master time to RegDCSysTime)
// / LRD (read RegDCSysTimeStatus) / LRW (exchange the process image at
// imageAddr) / BRD (poll RegALStatus). All datagrams but the last carry
// more_follows=true. The whole frame is one transaction: one index, one
// round trip.
func (e *Engine) ProcessDataExchange(imageAddr uint32, pd *ProcessData, masterTime time.Time, timeout time.Duration) (int, error) {
	idx, err := e.port.AllocIndex()
	if err != nil {
		return 0, err
	}

	if err := frame.Setup(e.port, idx, wire.NOP, 0, RegDCSysTimeStatus, make([]byte, 4), true); err != nil {
		e.port.Release(idx)
		return 0, err
	}

	timeBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(timeBuf, uint32(dcepoch.FromTime(masterTime)))
	if _, err := frame.Append(e.port, idx, wire.ARMW, 0, RegDCSysTime, timeBuf, true); err != nil {
		e.port.Release(idx)
		return 0, err
	}

	statusAdp, statusAdo := wire.SplitLogicalAddress(RegDCSysTimeStatus)
	statusOff, err := frame.Append(e.port, idx, wire.LRD, statusAdp, statusAdo, []byte{0}, true)
	if err != nil {
		e.port.Release(idx)
		return 0, err
	}

	adp, ado := wire.SplitLogicalAddress(imageAddr)
	imageOff, err := frame.Append(e.port, idx, wire.LRW, adp, ado, pd.Image, true)
	if err != nil {
		e.port.Release(idx)
		return 0, err
	}

	alOff, err := frame.Append(e.port, idx, wire.BRD, 0, RegALStatus, make([]byte, 2), false)
	if err != nil {
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
		e.observe(wire.LRW, wkc)
		return NoFrame, nil
	}

	if wkc > 0 {
		rx := e.port.RxBuffer(idx)
		pd.Status = rx[statusOff]
		copy(pd.Image, rx[imageOff:imageOff+uint16(len(pd.Image))])
		pd.ALStatus = binary.LittleEndian.Uint16(rx[alOff : alOff+2])
	}

	e.port.SetState(idx, index.Complete)
	e.port.Release(idx)
	e.observe(wire.LRW, wkc)
	return wkc, nil
}
