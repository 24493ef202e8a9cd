// Package loopport implements an in-memory Port for tests and examples:
// it never touches a socket, instead running a caller-supplied
// "slave" function synchronously against whatever frame was built,
// exactly as a loopback cable would echo a frame a daisy-chain of
// slaves has annotated.
package loopport

import (
	"sync"
	"time"

	"github.com/kwinten-mortier/SOEM/pkg/index"
)

// SlaveFunc simulates the slave side of a transaction: given the bytes
// and length of a transmitted frame, it returns the reply frame bytes
// and working counter, or respond=false to simulate a non-responding
// bus (causing Recv to time out).
type SlaveFunc func(txFrame []byte, txlen int) (rxFrame []byte, wkc int, respond bool)

type pendingResult struct {
	wkc     int
	respond bool
}

// Port is a loopback NIC port backed by an index.Table.
type Port struct {
	tbl      *index.Table
	behavior SlaveFunc
	latency  time.Duration

	mu         sync.Mutex
	result     []pendingResult
	generation []uint64
}

// New creates a loopback port with n slots, calling behavior to produce
// a reply every time a frame is sent. latency, if nonzero, is slept
// before Recv returns (capped at the caller's timeout).
func New(n int, behavior SlaveFunc, latency time.Duration) *Port {
	tbl := index.NewTable(n)
	return &Port{
		tbl:        tbl,
		behavior:   behavior,
		latency:    latency,
		result:     make([]pendingResult, tbl.Size()),
		generation: make([]uint64, tbl.Size()),
	}
}

func (p *Port) AllocIndex() (uint8, error) {
	idx, err := p.tbl.AllocIndex()
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	p.generation[idx]++
	p.result[idx] = pendingResult{}
	p.mu.Unlock()
	return idx, nil
}

func (p *Port) Release(idx uint8)         { p.tbl.Release(idx) }
func (p *Port) TxBuffer(idx uint8) []byte { return p.tbl.TxBuffer(idx) }
func (p *Port) RxBuffer(idx uint8) []byte { return p.tbl.RxBuffer(idx) }
func (p *Port) TxLen(idx uint8) int       { return p.tbl.TxLen(idx) }
func (p *Port) SetTxLen(idx uint8, n int) { p.tbl.SetTxLen(idx, n) }

func (p *Port) SetState(idx uint8, state index.State) error {
	return p.tbl.SetState(idx, state)
}

// Generation reports idx's current allocation generation, for tests
// that want to construct a deliberately stale InjectLateReply.
func (p *Port) Generation(idx uint8) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation[idx]
}

// Send runs behavior against idx's transmit buffer synchronously and
// stashes the result for Recv to pick up.
func (p *Port) Send(idx uint8) error {
	if err := p.tbl.SetState(idx, index.TX); err != nil {
		return err
	}

	txbuf := p.tbl.TxBuffer(idx)
	txlen := p.tbl.TxLen(idx)
	rxFrame, wkc, respond := p.behavior(txbuf, txlen)

	p.mu.Lock()
	if respond {
		copy(p.tbl.RxBuffer(idx), rxFrame)
	}
	p.result[idx] = pendingResult{wkc: wkc, respond: respond}
	p.mu.Unlock()
	return nil
}

// Recv waits for idx's reply. A non-responding slave simulates a
// timeout: the slot is unilaterally released (TX->EMPTY) and NoFrame
// is returned, matching the engine's timeout contract.
func (p *Port) Recv(idx uint8, timeout time.Duration) (int, error) {
	p.mu.Lock()
	res := p.result[idx]
	p.mu.Unlock()

	wait := p.latency
	if wait > timeout {
		wait = timeout
	}
	if wait > 0 {
		time.Sleep(wait)
	}

	if !res.respond {
		p.tbl.Release(idx)
		return -1, nil
	}

	if err := p.tbl.SetState(idx, index.RCVD); err != nil {
		return 0, err
	}
	return res.wkc, nil
}

// InjectLateReply simulates a reply arriving for idx after its
// transaction has already been resolved, tagged with the allocation
// generation observed at send time. If idx has since been reallocated
// (generation mismatch), the reply is silently discarded — modeling the
// NIC layer's contract that a stale reply must never corrupt a reused
// index's buffer. Returns whether the reply was applied.
func (p *Port) InjectLateReply(idx uint8, generation uint64, rxFrame []byte, wkc int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.generation[idx] != generation {
		return false
	}
	copy(p.tbl.RxBuffer(idx), rxFrame)
	p.result[idx] = pendingResult{wkc: wkc, respond: true}
	return true
}
