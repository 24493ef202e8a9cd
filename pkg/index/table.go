// Package index implements the EtherCAT transaction index table: a bounded
// pool of slots, each owning a TX/RX buffer pair and a lifecycle state,
// allocated by wire-level index byte. One producer (the goroutine building
// and sending a frame) and one consumer (the NIC receive path) share a
// slot's state word; see the package-level Table doc for the discipline.
package index

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kwinten-mortier/SOEM/pkg/ecaterr"
	"github.com/kwinten-mortier/SOEM/pkg/wire"
)

// State is a slot's position in its lifecycle.
type State uint32

const (
	Empty State = iota
	Alloc
	TX
	RCVD
	Complete
)

func (s State) String() string {
	switch s {
	case Empty:
		return "EMPTY"
	case Alloc:
		return "ALLOC"
	case TX:
		return "TX"
	case RCVD:
		return "RCVD"
	case Complete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// DefaultSlots mirrors the original implementation's default buffer count
// (EC_MAXBUF); it bounds how many transactions can be outstanding at once.
const DefaultSlots = 16

// MaxFrameSize is the buffer size reserved per slot: one standard Ethernet
// frame (header + type/length word + the largest single-datagram payload +
// header + WKC), generous enough for a multi-datagram chain up to the MTU.
const MaxFrameSize = 1518

type slot struct {
	state atomic.Uint32
	txbuf []byte
	txlen int
	rxbuf []byte

	// mu guards txlen (and, by convention, any in-place mutation of txbuf)
	// for the single owning goroutine's own bookkeeping; it is not part of
	// the producer/consumer handoff, which is carried entirely by state.
	mu sync.Mutex
}

// Table is the fixed-size pool of transaction slots. Safe for concurrent
// use by many allocating goroutines and exactly one receive path.
type Table struct {
	slots []*slot
	// hint is the next index to probe first on AllocIndex, so repeated
	// allocation doesn't always rescan from zero under contention.
	hint atomic.Uint32

	// allocRetries bounds how long AllocIndex spins/yields looking for a
	// free slot before giving up with ErrNoFreeIndex.
	allocRetries int
	allocBackoff time.Duration
}

// NewTable allocates a Table with n slots (DefaultSlots if n <= 0).
func NewTable(n int) *Table {
	if n <= 0 {
		n = DefaultSlots
	}
	if n > 256 {
		// the wire-level index is a single byte
		n = 256
	}

	t := &Table{
		slots:        make([]*slot, n),
		allocRetries: 1000,
		allocBackoff: 10 * time.Microsecond,
	}
	for i := range t.slots {
		t.slots[i] = &slot{
			txbuf: make([]byte, MaxFrameSize),
			rxbuf: make([]byte, MaxFrameSize),
		}
	}
	return t
}

// Size returns the number of slots in the table.
func (t *Table) Size() int { return len(t.slots) }

func (t *Table) slotAt(idx uint8) (*slot, error) {
	if int(idx) >= len(t.slots) {
		return nil, ecaterr.ErrInvalidIndex
	}
	return t.slots[idx], nil
}

// AllocIndex returns an index whose slot was EMPTY and atomically
// transitions it to ALLOC. It spins with bounded retry across the whole
// table before failing with ErrNoFreeIndex — the only suspension point in
// allocation (spec §5: no infinite wait in the core).
func (t *Table) AllocIndex() (uint8, error) {
	n := uint32(len(t.slots))
	for attempt := 0; attempt < t.allocRetries; attempt++ {
		start := t.hint.Load()
		for i := uint32(0); i < n; i++ {
			idx := (start + i) % n
			if t.slots[idx].state.CompareAndSwap(uint32(Empty), uint32(Alloc)) {
				t.hint.Store((idx + 1) % n)
				return uint8(idx), nil
			}
		}
		if t.allocBackoff > 0 {
			time.Sleep(t.allocBackoff)
		}
	}
	return 0, ecaterr.ErrNoFreeIndex
}

// allowedTransition reports whether from -> to is one of the five documented
// transitions (or a terminal *->EMPTY release).
func allowedTransition(from, to State) bool {
	if to == Empty {
		return true // every state can be released back to EMPTY
	}
	switch from {
	case Empty:
		return to == Alloc
	case Alloc:
		return to == TX
	case TX:
		return to == RCVD
	case RCVD:
		return to == Complete
	default:
		return false
	}
}

// SetState performs one of the documented lifecycle transitions. It is the
// single synchronization point between the producer (allocating/sending)
// and the consumer (the receive path flipping TX->RCVD).
func (t *Table) SetState(idx uint8, to State) error {
	s, err := t.slotAt(idx)
	if err != nil {
		return err
	}
	from := State(s.state.Load())
	if !allowedTransition(from, to) {
		return ecaterr.ErrBadTransition
	}
	if !s.state.CompareAndSwap(uint32(from), uint32(to)) {
		// lost a race with a concurrent transition out of `from`; the
		// caller observed a stale state, which is itself a protocol
		// violation for this slot (only one goroutine should ever drive
		// ALLOC->TX->RCVD->COMPLETE for a given index).
		return ecaterr.ErrBadTransition
	}
	return nil
}

// State returns a slot's current lifecycle state.
func (t *Table) State(idx uint8) (State, error) {
	s, err := t.slotAt(idx)
	if err != nil {
		return Empty, err
	}
	return State(s.state.Load()), nil
}

// Release unconditionally returns a slot to EMPTY, regardless of its
// current state — used both for the normal COMPLETE->EMPTY path and for
// unilateral release on timeout (TX->EMPTY).
func (t *Table) Release(idx uint8) {
	s, err := t.slotAt(idx)
	if err != nil {
		return
	}
	s.state.Store(uint32(Empty))
}

// TxBuffer returns the mutable transmit buffer for idx. Owned exclusively
// by whichever goroutine currently holds the slot.
func (t *Table) TxBuffer(idx uint8) []byte {
	s, err := t.slotAt(idx)
	if err != nil {
		return nil
	}
	return s.txbuf
}

// RxBuffer returns the receive buffer for idx (Ethernet header already
// stripped by the NIC layer, per the port contract).
func (t *Table) RxBuffer(idx uint8) []byte {
	s, err := t.slotAt(idx)
	if err != nil {
		return nil
	}
	return s.rxbuf
}

// TxLen returns the current encoded length of idx's transmit buffer.
func (t *Table) TxLen(idx uint8) int {
	s, err := t.slotAt(idx)
	if err != nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txlen
}

// SetTxLen updates idx's transmit buffer length, as recorded by the frame
// builder after setup/append.
func (t *Table) SetTxLen(idx uint8, n int) {
	s, err := t.slotAt(idx)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.txlen = n
	s.mu.Unlock()
}

// ValidateFrame checks the builder invariant from spec §4.3: txlen must
// equal the Ethernet header, the type/length word, and the sum of every
// chained datagram's header+payload+WKC. Returns ErrFrameCorrupt if not.
func (t *Table) ValidateFrame(idx uint8) error {
	buf := t.TxBuffer(idx)
	txlen := t.TxLen(idx)
	if txlen < wire.EthHeaderSize+wire.ELengthSize+wire.HeaderSize+wire.WKCSize {
		return ecaterr.ErrFrameCorrupt
	}

	off := wire.EthHeaderSize + wire.ELengthSize
	declared := int(wire.EtherCATTypeLength(buf) - wire.ECATTypeField)
	sum := 0
	for {
		if off+wire.HeaderSize > txlen {
			return ecaterr.ErrFrameCorrupt
		}
		_, _, _, _, length, more := wire.DecodeSubframeHeader(buf[off:])
		step := wire.HeaderSize + int(length) + wire.WKCSize
		sum += step
		off += step
		if !more {
			break
		}
	}
	if sum != declared || off != txlen {
		return ecaterr.ErrFrameCorrupt
	}
	return nil
}
