// Package frame builds EtherCAT frames inside an index slot's transmit
// buffer: Setup lays down the first datagram, Append chains another one
// onto an existing frame. Both are pure buffer manipulation — no I/O.
package frame

import (
	"github.com/kwinten-mortier/SOEM/pkg/ecaterr"
	"github.com/kwinten-mortier/SOEM/pkg/wire"
)

// Buffers is the minimal slot-buffer contract the frame builder needs. Both
// pkg/index.Table and any Port implementation that embeds one satisfy it
// structurally.
type Buffers interface {
	TxBuffer(idx uint8) []byte
	TxLen(idx uint8) int
	SetTxLen(idx uint8, n int)
}

// headerBase is the offset of the first datagram's subframe header within
// a slot's transmit buffer: past the (immutable, preset) Ethernet header
// and the EtherCAT type/length word.
const headerBase = wire.EthHeaderSize + wire.ELengthSize

// Setup initializes idx's transmit buffer with a single datagram. idx's
// slot must already be ALLOC (the caller's responsibility — the builder
// itself doesn't touch lifecycle state). payload must fit within
// wire.MaxDatagramPayload.
func Setup(b Buffers, idx uint8, command byte, adp, ado uint16, payload []byte, moreFollows bool) error {
	if len(payload) > wire.MaxDatagramPayload {
		return ecaterr.ErrBufferTooLarge
	}

	buf := b.TxBuffer(idx)
	writeDatagram(buf, headerBase, command, idx, adp, ado, payload, moreFollows)

	txlen := headerBase + wire.HeaderSize + len(payload) + wire.WKCSize
	b.SetTxLen(idx, txlen)
	wire.SetEtherCATTypeLength(buf, uint16(txlen-headerBase))
	return nil
}

// Append chains another datagram onto a frame idx already holds at least
// one datagram for. It returns the byte offset, within the *receive*
// buffer (which has no Ethernet header and no type/length word — it
// starts at the first datagram's command byte), at which this datagram's
// reply payload will land.
func Append(b Buffers, idx uint8, command byte, adp, ado uint16, payload []byte, moreFollows bool) (uint16, error) {
	if len(payload) > wire.MaxDatagramPayload {
		return 0, ecaterr.ErrBufferTooLarge
	}

	buf := b.TxBuffer(idx)
	prevLen := b.TxLen(idx)

	lastHeaderOff, err := lastDatagramHeaderOffset(buf, prevLen)
	if err != nil {
		return 0, err
	}

	// prevLen ends exactly after the trailing WKC of the last datagram;
	// the new header starts right there, so every datagram keeps its own
	// WKC.
	newHeaderOff := prevLen
	newLen := newHeaderOff + wire.HeaderSize + len(payload) + wire.WKCSize
	if newLen > headerBase+wire.HeaderSize+wire.MaxDatagramPayload+wire.WKCSize {
		return 0, ecaterr.ErrBufferTooLarge
	}

	setMoreFollows(buf, lastHeaderOff)
	writeDatagram(buf, newHeaderOff, command, idx, adp, ado, payload, moreFollows)

	b.SetTxLen(idx, newLen)
	wire.SetEtherCATTypeLength(buf, uint16(newLen-headerBase))

	rxOffset := uint16(newHeaderOff + wire.HeaderSize - headerBase)
	return rxOffset, nil
}

func writeDatagram(buf []byte, headerOff int, command, index byte, adp, ado uint16, payload []byte, moreFollows bool) {
	wire.EncodeSubframeHeader(buf[headerOff:], command, index, adp, ado, uint16(len(payload)), moreFollows)

	payloadOff := headerOff + wire.HeaderSize
	if wire.ZeroPayloadCommand(command) {
		clear(buf[payloadOff : payloadOff+len(payload)])
	} else {
		copy(buf[payloadOff:], payload)
	}
	wire.WriteWKCZero(buf, payloadOff+len(payload))
}

// setMoreFollows sets the "more datagrams follow" bit on the subframe
// header at the given offset, leaving its length bits untouched.
func setMoreFollows(buf []byte, headerOff int) {
	_, _, _, _, length, _ := wire.DecodeSubframeHeader(buf[headerOff:])
	cmd := buf[headerOff]
	idx := buf[headerOff+1]
	adp, ado := readAddr(buf, headerOff)
	wire.EncodeSubframeHeader(buf[headerOff:], cmd, idx, adp, ado, length, true)
}

func readAddr(buf []byte, headerOff int) (adp, ado uint16) {
	_, _, adp, ado, _, _ = wire.DecodeSubframeHeader(buf[headerOff:])
	return
}

// lastDatagramHeaderOffset walks the chain of datagrams already in the
// frame and returns the offset of the last one: the datagram that ends
// exactly at txlen. Its "more follows" bit may already be set (a caller
// that knows another datagram is coming passes moreFollows=true to Setup
// or Append); every datagram before it must have the bit set. Also serves
// as the builder's invariant check: a malformed chain surfaces as
// ErrFrameCorrupt instead of an out-of-bounds panic.
func lastDatagramHeaderOffset(buf []byte, txlen int) (int, error) {
	off := headerBase
	for {
		if off+wire.HeaderSize > txlen {
			return 0, ecaterr.ErrFrameCorrupt
		}
		_, _, _, _, length, more := wire.DecodeSubframeHeader(buf[off:])
		step := wire.HeaderSize + int(length) + wire.WKCSize
		if off+step == txlen {
			return off, nil
		}
		if !more {
			return 0, ecaterr.ErrFrameCorrupt
		}
		off += step
	}
}
