package frame

import (
	"bytes"
	"testing"

	"github.com/kwinten-mortier/SOEM/pkg/ecaterr"
	"github.com/kwinten-mortier/SOEM/pkg/index"
	"github.com/kwinten-mortier/SOEM/pkg/wire"
)

func newSlot(t *testing.T) (*index.Table, uint8) {
	t.Helper()
	tbl := index.NewTable(4)
	idx, err := tbl.AllocIndex()
	if err != nil {
		t.Fatalf("AllocIndex: %v", err)
	}
	return tbl, idx
}

func TestSetupSingleDatagram(t *testing.T) {
	tbl, idx := newSlot(t)
	payload := []byte{0x01, 0x02}
	if err := Setup(tbl, idx, wire.BWR, uint16(idx), 0x0130, payload, false); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := tbl.ValidateFrame(idx); err != nil {
		t.Fatalf("ValidateFrame: %v", err)
	}

	buf := tbl.TxBuffer(idx)
	gotCmd, gotIdx, _, gotADO, gotLen, gotMore := wire.DecodeSubframeHeader(buf[headerBase:])
	if gotCmd != wire.BWR || gotIdx != idx || gotADO != 0x0130 || gotLen != 2 || gotMore {
		t.Fatalf("unexpected header: cmd=%x idx=%x ado=%x len=%d more=%v", gotCmd, gotIdx, gotADO, gotLen, gotMore)
	}
	payloadOff := headerBase + wire.HeaderSize
	if !bytes.Equal(buf[payloadOff:payloadOff+2], payload) {
		t.Fatalf("payload mismatch: got %x, want %x", buf[payloadOff:payloadOff+2], payload)
	}

	wantTxlen := headerBase + wire.HeaderSize + len(payload) + wire.WKCSize
	if got := tbl.TxLen(idx); got != wantTxlen {
		t.Fatalf("TxLen = %d, want %d", got, wantTxlen)
	}
	if got := wire.EtherCATTypeLength(buf); got != wire.ECATTypeField+uint16(wantTxlen-headerBase) {
		t.Fatalf("EtherCATTypeLength = %#x, want %#x", got, wire.ECATTypeField+uint16(wantTxlen-headerBase))
	}
}

func TestSetupZeroPayloadCommandZeroFills(t *testing.T) {
	tbl, idx := newSlot(t)
	buf := tbl.TxBuffer(idx)
	payloadOff := headerBase + wire.HeaderSize
	buf[payloadOff], buf[payloadOff+1] = 0xAA, 0xBB // poison before setup

	if err := Setup(tbl, idx, wire.BRD, 0, 0x0130, make([]byte, 2), false); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if buf[payloadOff] != 0 || buf[payloadOff+1] != 0 {
		t.Fatalf("BRD payload not zero-filled: %x %x", buf[payloadOff], buf[payloadOff+1])
	}
}

func TestSetupRejectsOversizedPayload(t *testing.T) {
	tbl, idx := newSlot(t)
	payload := make([]byte, wire.MaxDatagramPayload+1)
	if err := Setup(tbl, idx, wire.BWR, 0, 0, payload, false); err != ecaterr.ErrBufferTooLarge {
		t.Fatalf("Setup with oversized payload: got %v, want ErrBufferTooLarge", err)
	}
}

func TestAppendChainsAndFlipsMoreFollows(t *testing.T) {
	tbl, idx := newSlot(t)
	if err := Setup(tbl, idx, wire.NOP, 0, 0x0900, make([]byte, 2), false); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	rxOff, err := Append(tbl, idx, wire.ARMW, 0x1001, 0x0910, make([]byte, 4), false)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := tbl.ValidateFrame(idx); err != nil {
		t.Fatalf("ValidateFrame after Append: %v", err)
	}

	buf := tbl.TxBuffer(idx)
	_, _, _, _, _, firstMore := wire.DecodeSubframeHeader(buf[headerBase:])
	if !firstMore {
		t.Fatalf("first datagram's more-follows bit was not set after Append")
	}

	wantRxOff := uint16(wire.HeaderSize + 2 + wire.WKCSize + wire.HeaderSize)
	if rxOff != wantRxOff {
		t.Fatalf("rx offset = %d, want %d", rxOff, wantRxOff)
	}

	secondCmd, _, secondADP, secondADO, secondLen, secondMore := wire.DecodeSubframeHeader(buf[headerBase+wire.HeaderSize+2+wire.WKCSize:])
	if secondCmd != wire.ARMW || secondADP != 0x1001 || secondADO != 0x0910 || secondLen != 4 || secondMore {
		t.Fatalf("second datagram header wrong: cmd=%x adp=%x ado=%x len=%d more=%v", secondCmd, secondADP, secondADO, secondLen, secondMore)
	}
}

func TestAppendOnCorruptFrameFails(t *testing.T) {
	tbl, idx := newSlot(t)
	if err := Setup(tbl, idx, wire.NOP, 0, 0, make([]byte, 2), false); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	tbl.SetTxLen(idx, tbl.TxLen(idx)+1) // desynchronize txlen from the encoded chain
	if _, err := Append(tbl, idx, wire.NOP, 0, 0, nil, false); err != ecaterr.ErrFrameCorrupt {
		t.Fatalf("Append on corrupt frame: got %v, want ErrFrameCorrupt", err)
	}
}

func TestThreeDatagramChain(t *testing.T) {
	tbl, idx := newSlot(t)
	if err := Setup(tbl, idx, wire.NOP, 0, 0, make([]byte, 2), false); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if _, err := Append(tbl, idx, wire.ARMW, 0, 0x0910, make([]byte, 8), false); err != nil {
		t.Fatalf("Append #1: %v", err)
	}
	if _, err := Append(tbl, idx, wire.LRD, 0, 0, make([]byte, 16), false); err != nil {
		t.Fatalf("Append #2: %v", err)
	}
	if err := tbl.ValidateFrame(idx); err != nil {
		t.Fatalf("ValidateFrame: %v", err)
	}
}
