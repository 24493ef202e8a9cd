//go:build linux

// Package rawport implements ecat.Port over a real AF_PACKET raw socket:
// the reference NIC adapter spec.md keeps out of the core's scope. It
// embeds an index.Table for slot bookkeeping (same pattern as
// pkg/loopport) and runs one background goroutine reading frames off the
// wire, routing each reply to its waiting transaction by the index byte
// in the first datagram header — never by arrival order.
package rawport

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/higebu/netfd"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/kwinten-mortier/SOEM/pkg/ecat"
	"github.com/kwinten-mortier/SOEM/pkg/index"
	"github.com/kwinten-mortier/SOEM/pkg/kernel"
	"github.com/kwinten-mortier/SOEM/pkg/netstat"
	"github.com/kwinten-mortier/SOEM/pkg/wire"
)

var broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

const headerBase = wire.EthHeaderSize + wire.ELengthSize

type recvResult struct {
	wkc int
}

// Port is a raw-socket ecat.Port bound to one network interface.
type Port struct {
	*index.Table

	id  string
	fd  int
	log *logrus.Entry

	sendMu sync.Mutex

	pending []chan recvResult
	closed  chan struct{}
	closeMu sync.Once
}

var _ ecat.Port = (*Port)(nil)

// Open binds a raw AF_PACKET socket to ifaceName, filtered to the
// EtherCAT EtherType, and starts its receive goroutine. slots sizes the
// underlying index table (index.DefaultSlots if <= 0).
func Open(ifaceName string, slots int) (*Port, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("rawport: interface %s: %w", ifaceName, err)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(wire.EtherTypeEtherCAT)))
	if err != nil {
		return nil, fmt.Errorf("rawport: socket: %w", err)
	}

	sa := &unix.SockaddrLinklayer{
		Protocol: htons(wire.EtherTypeEtherCAT),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rawport: bind %s: %w", ifaceName, err)
	}

	return newPort(fd, ifaceName, iface.HardwareAddr, slots), nil
}

// OpenFromConn adapts an already-open raw connection (e.g. one built
// elsewhere via unix.Socket+os.NewFile+net.FileConn, for test harnesses
// that prefer the net package's conveniences over raw socket calls) by
// pulling its file descriptor out with netfd.GetFdFromConn, the same
// technique the wider pack uses to recover a *net.TCPConn's fd for
// getsockopt calls.
func OpenFromConn(conn net.Conn, ifaceName string, hwAddr net.HardwareAddr, slots int) *Port {
	fd := netfd.GetFdFromConn(conn)
	return newPort(fd, ifaceName, hwAddr, slots)
}

func newPort(fd int, ifaceName string, hwAddr net.HardwareAddr, slots int) *Port {
	// id uniquely tags this port instance in logs, distinguishing
	// successive opens of the same interface across process restarts.
	id := xid.New().String()
	log := logrus.WithFields(logrus.Fields{"iface": ifaceName, "port": id})

	if kernel.AtLeast(4, 7, 0) {
		if err := enableTimestamping(fd); err != nil {
			log.WithError(err).Warn("SO_TIMESTAMPING unavailable, falling back to software receive timestamps")
		} else {
			log.Info("RX timestamping enabled")
		}
	} else {
		log.WithField("kernel", kernel.String()).Info("kernel predates SO_TIMESTAMPING, using time.Now() timestamps")
	}

	tbl := index.NewTable(slots)
	presetEthernetHeaders(tbl, hwAddr)

	p := &Port{
		Table:   tbl,
		id:      id,
		fd:      fd,
		log:     log,
		pending: make([]chan recvResult, tbl.Size()),
		closed:  make(chan struct{}),
	}
	for i := range p.pending {
		p.pending[i] = make(chan recvResult, 1)
	}

	go p.readLoop()
	return p
}

// presetEthernetHeaders writes the destination (broadcast), source, and
// EtherType bytes once per slot: per spec.md §3 the Ethernet header is
// immutable once a port is opened, and setup/append never touch it.
func presetEthernetHeaders(tbl *index.Table, src net.HardwareAddr) {
	for i := 0; i < tbl.Size(); i++ {
		buf := tbl.TxBuffer(uint8(i))
		copy(buf[0:6], broadcastMAC)
		copy(buf[6:12], src)
		binary.BigEndian.PutUint16(buf[12:14], wire.EtherTypeEtherCAT)
	}
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}

func enableTimestamping(fd int) error {
	flags := unix.SOF_TIMESTAMPING_RX_SOFTWARE | unix.SOF_TIMESTAMPING_SOFTWARE
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMPING, flags)
}

// ID returns this port instance's log-correlation identifier.
func (p *Port) ID() string { return p.id }

// Stats reports the socket's kernel-side receive statistics (packets,
// drops), so callers can tell a NO_FRAME run apart from real kernel-side
// packet loss under load.
func (p *Port) Stats() (netstat.Stats, error) {
	return netstat.Get(p.fd)
}

// AllocIndex clears any stale pending reply left over from a previous
// occupant of this slot before handing the index back out.
func (p *Port) AllocIndex() (uint8, error) {
	idx, err := p.Table.AllocIndex()
	if err != nil {
		return 0, err
	}
	select {
	case <-p.pending[idx]:
	default:
	}
	return idx, nil
}

// Send transitions the slot ALLOC->TX and writes its encoded frame to
// the wire. The socket write itself is serialized: the OS socket is a
// single destination shared by every outstanding transaction.
func (p *Port) Send(idx uint8) error {
	if err := p.Table.SetState(idx, index.TX); err != nil {
		return err
	}

	txbuf := p.Table.TxBuffer(idx)
	txlen := p.Table.TxLen(idx)

	p.sendMu.Lock()
	_, err := unix.Write(p.fd, txbuf[:txlen])
	p.sendMu.Unlock()
	if err != nil {
		p.Table.Release(idx)
		return fmt.Errorf("rawport: send: %w", err)
	}
	return nil
}

// Recv waits up to timeout for idx's reply to arrive off the wire. On
// success it transitions TX->RCVD and returns the aggregate working
// counter; on timeout it unilaterally releases the slot and returns
// ecat.NoFrame, per the port contract.
func (p *Port) Recv(idx uint8, timeout time.Duration) (int, error) {
	select {
	case res := <-p.pending[idx]:
		if err := p.Table.SetState(idx, index.RCVD); err != nil {
			return 0, err
		}
		return res.wkc, nil
	case <-time.After(timeout):
		p.Table.Release(idx)
		return ecat.NoFrame, nil
	}
}

// Close stops the receive goroutine and closes the underlying socket.
func (p *Port) Close() error {
	p.closeMu.Do(func() { close(p.closed) })
	return unix.Close(p.fd)
}

// readLoop is the port's single consumer: it never blocks on the index
// table beyond a single state read, so a slow transaction can never
// delay delivery of another slot's reply.
func (p *Port) readLoop() {
	buf := make([]byte, 2048)
	for {
		n, err := unix.Read(p.fd, buf)
		if err != nil {
			select {
			case <-p.closed:
				return
			default:
			}
			p.log.WithError(err).Warn("raw socket read failed")
			continue
		}
		if n < headerBase+wire.HeaderSize {
			continue // runt frame, can't hold even one datagram header
		}

		rx := buf[headerBase:n]
		idx := rx[1]
		if int(idx) >= p.Table.Size() {
			continue
		}
		if st, err := p.Table.State(idx); err != nil || st != index.TX {
			continue // stale reply for a slot already released or reused
		}

		wkc, ok := sumWKC(rx)
		if !ok {
			p.log.Warn("dropping frame with corrupt datagram chain")
			continue
		}

		copy(p.Table.RxBuffer(idx), rx)
		select {
		case p.pending[idx] <- recvResult{wkc: wkc}:
		default:
			// consumer already timed out and stopped listening
		}
	}
}

// sumWKC walks the chained datagrams starting at rx[0] and sums their
// working counters, the aggregate value recv() returns to the engine.
func sumWKC(rx []byte) (wkc int, ok bool) {
	off := 0
	for {
		if off+wire.HeaderSize > len(rx) {
			return 0, false
		}
		_, _, _, _, length, more := wire.DecodeSubframeHeader(rx[off:])
		step := wire.HeaderSize + int(length) + wire.WKCSize
		if off+step > len(rx) {
			return 0, false
		}
		wkc += int(wire.ReadWKC(rx, off+wire.HeaderSize+int(length)))
		off += step
		if !more {
			return wkc, true
		}
	}
}
