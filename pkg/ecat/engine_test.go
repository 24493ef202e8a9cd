package ecat

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/kwinten-mortier/SOEM/pkg/dcepoch"
	"github.com/kwinten-mortier/SOEM/pkg/loopport"
	"github.com/kwinten-mortier/SOEM/pkg/wire"
)

const headerBase = wire.EthHeaderSize + wire.ELengthSize

// mirrorReply copies the already-encoded datagram chain out of a
// transmitted frame into the shape a reply takes (no Ethernet header, no
// type/length word), letting a test then poke specific payload bytes to
// simulate what a slave filled in.
func mirrorReply(txFrame []byte, txlen int) []byte {
	reply := make([]byte, txlen-headerBase)
	copy(reply, txFrame[headerBase:txlen])
	return reply
}

func TestS1_BRDReadALStatus(t *testing.T) {
	behavior := func(txFrame []byte, txlen int) ([]byte, int, bool) {
		reply := mirrorReply(txFrame, txlen)
		reply[wire.HeaderSize] = 0x08
		reply[wire.HeaderSize+1] = 0x00
		return reply, 1, true
	}
	port := loopport.New(4, behavior, 0)
	e := NewEngine(port, nil)

	data := make([]byte, 2)
	wkc, err := e.BRD(0, RegALStatus, data, time.Millisecond)
	if err != nil {
		t.Fatalf("BRD: %v", err)
	}
	if wkc != 1 {
		t.Fatalf("wkc = %d, want 1", wkc)
	}
	if data[0] != 0x08 || data[1] != 0x00 {
		t.Fatalf("data = %x, want 08 00", data)
	}
}

func TestS2_APWRThenAPRD(t *testing.T) {
	behavior := func(txFrame []byte, txlen int) ([]byte, int, bool) {
		reply := mirrorReply(txFrame, txlen)
		cmd := reply[0]
		if cmd == wire.APRD {
			reply[wire.HeaderSize] = 0x01
			reply[wire.HeaderSize+1] = 0x00
		}
		return reply, 1, true
	}
	port := loopport.New(4, behavior, 0)
	e := NewEngine(port, nil)

	wkc, err := e.APWR(0, 0x0120, []byte{0x11, 0x00}, time.Millisecond)
	if err != nil {
		t.Fatalf("APWR: %v", err)
	}
	if wkc != 1 {
		t.Fatalf("APWR wkc = %d, want 1", wkc)
	}

	data := make([]byte, 2)
	wkc, err = e.APRD(0, 0x0130, data, time.Millisecond)
	if err != nil {
		t.Fatalf("APRD: %v", err)
	}
	if wkc != 1 || data[0] != 0x01 || data[1] != 0x00 {
		t.Fatalf("APRD result = wkc=%d data=%x, want wkc=1 data=01 00", wkc, data)
	}
}

func TestS3_LRWDCComposite(t *testing.T) {
	const syncTime = int64(123456789)
	behavior := func(txFrame []byte, txlen int) ([]byte, int, bool) {
		reply := mirrorReply(txFrame, txlen)
		// reply[0:] is the LRW datagram; locate the FRMW datagram right
		// after it and overwrite its payload with the slave's time.
		_, _, _, _, lrwLen, _ := wire.DecodeSubframeHeader(reply)
		// The FRMW header follows the LRW datagram's own trailing WKC,
		// exactly as frame.Append lays it out on send.
		frmwOff := wire.HeaderSize + int(lrwLen) + wire.WKCSize
		binary.LittleEndian.PutUint64(reply[frmwOff+wire.HeaderSize:], uint64(syncTime))
		return reply, 3, true
	}
	port := loopport.New(4, behavior, 0)
	e := NewEngine(port, nil)

	data := make([]byte, 10)
	wkc, dcOut, err := e.LRWDC(0x01000000, data, 0x1001, 0, time.Millisecond)
	if err != nil {
		t.Fatalf("LRWDC: %v", err)
	}
	if wkc != 3 {
		t.Fatalf("wkc = %d, want 3", wkc)
	}
	if dcOut != syncTime {
		t.Fatalf("dcOut = %d, want %d", dcOut, syncTime)
	}
}

func TestS4_FPRDTimeout(t *testing.T) {
	noResponse := func(txFrame []byte, txlen int) ([]byte, int, bool) {
		return nil, 0, false
	}
	port := loopport.New(4, noResponse, 0)
	e := NewEngine(port, nil)

	data := []byte{0xAA, 0xBB}
	wkc, err := e.FPRD(1, 0x0130, data, time.Microsecond)
	if err != nil {
		t.Fatalf("FPRD: %v", err)
	}
	if wkc != NoFrame {
		t.Fatalf("wkc = %d, want NoFrame", wkc)
	}
	if data[0] != 0xAA || data[1] != 0xBB {
		t.Fatalf("data mutated on timeout: %x", data)
	}
}

func TestS5_IndexReuseAfterTimeout(t *testing.T) {
	respond := false
	behavior := func(txFrame []byte, txlen int) ([]byte, int, bool) {
		if !respond {
			return nil, 0, false
		}
		reply := mirrorReply(txFrame, txlen)
		reply[wire.HeaderSize] = 0x08
		reply[wire.HeaderSize+1] = 0x00
		return reply, 1, true
	}
	// one slot, so the BRD below reuses the index the FPRD timed out on
	port := loopport.New(1, behavior, 0)
	e := NewEngine(port, nil)

	data := make([]byte, 2)
	if wkc, err := e.FPRD(1, 0x0130, data, time.Microsecond); err != nil || wkc != NoFrame {
		t.Fatalf("first FPRD: wkc=%d err=%v", wkc, err)
	}

	respond = true
	data2 := make([]byte, 2)
	wkc, err := e.BRD(0, RegALStatus, data2, time.Millisecond)
	if err != nil {
		t.Fatalf("BRD after reuse: %v", err)
	}
	if wkc != 1 || data2[0] != 0x08 {
		t.Fatalf("BRD after reuse = wkc=%d data=%x, want wkc=1 data starting 08", wkc, data2)
	}
}

func TestS6_ProcessDataCompositeShape(t *testing.T) {
	var seenCommands []byte
	var seenMore []bool

	behavior := func(txFrame []byte, txlen int) ([]byte, int, bool) {
		off := headerBase
		for {
			cmd, _, _, _, length, more := wire.DecodeSubframeHeader(txFrame[off:])
			seenCommands = append(seenCommands, cmd)
			seenMore = append(seenMore, more)
			step := wire.HeaderSize + int(length) + wire.WKCSize
			off += step
			if !more {
				break
			}
		}
		declared := wire.EtherCATTypeLength(txFrame) - wire.ECATTypeField
		if int(declared) != off-headerBase {
			t.Errorf("declared EtherCAT-type length %d != sum of datagrams %d", declared, off-headerBase)
		}
		return mirrorReply(txFrame, txlen), 5, true
	}
	port := loopport.New(4, behavior, 0)
	e := NewEngine(port, nil)

	pd := &ProcessData{Image: make([]byte, 10)}
	if _, err := e.ProcessDataExchange(0x01000000, pd, dcepoch.ToTime(0), time.Millisecond); err != nil {
		t.Fatalf("ProcessDataExchange: %v", err)
	}

	wantCmds := []byte{wire.NOP, wire.ARMW, wire.LRD, wire.LRW, wire.BRD}
	if len(seenCommands) != len(wantCmds) {
		t.Fatalf("saw %d datagrams, want %d (%v)", len(seenCommands), len(wantCmds), seenCommands)
	}
	for i, want := range wantCmds {
		if seenCommands[i] != want {
			t.Errorf("datagram %d command = %#x, want %#x", i, seenCommands[i], want)
		}
	}
	for i, more := range seenMore {
		wantMore := i != len(seenMore)-1
		if more != wantMore {
			t.Errorf("datagram %d more-follows = %v, want %v", i, more, wantMore)
		}
	}
}
