//----------------------------------------------------------------------
// This file is part of teeny.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// teeny is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// teeny is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package teeny

import (
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/soypat/seqs/eth"
)

const (
	protoUDP        = 17
	ipMoreFragments = 0x2000
	ipTTL           = 64
	tapQueueLen     = 4
	frameOverhead   = eth.SizeEthernetHeader + eth.SizeIPv4Header + eth.SizeUDPHeader
)

var (
	errTapFull  = errors.New("udp tap: send queue full")
	errTapFrame = errors.New("udp tap: datagram too large")
)

var broadcastMAC = eth.BroadcastHW6()

type datagram struct {
	data []byte
	ip   [4]byte
	port uint16
	mac  [6]byte
}

// UDPTap diverts UDP datagrams for one local port out of a raw Ethernet
// receive path and wraps replies into Ethernet frames. It serves as a
// net.PacketConn for stacks that cannot bind the port themselves.
type UDPTap struct {
	port uint16
	mtu  int

	mu       sync.Mutex
	mac      [6]byte
	ip       [4]byte
	peer     [6]byte // source MAC of the last datagram read
	id       uint16
	deadline time.Time
	kick     chan struct{}

	in     chan datagram
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

// NewUDPTap creates a tap for port on an interface with the given
// hardware and IPv4 address.
func NewUDPTap(port uint16, mac [6]byte, ip [4]byte, mtu int) *UDPTap {
	return &UDPTap{
		port:   port,
		mtu:    mtu,
		mac:    mac,
		ip:     ip,
		kick:   make(chan struct{}, 1),
		in:     make(chan datagram, tapQueueLen),
		out:    make(chan []byte, tapQueueLen),
		closed: make(chan struct{}),
	}
}

// SetAddr updates the interface address used as reply source.
func (t *UDPTap) SetAddr(ip [4]byte) {
	t.mu.Lock()
	t.ip = ip
	t.mu.Unlock()
}

// Intercept consumes frame if it is an IPv4/UDP datagram for the tap's
// port. Other frames are left for the regular stack. Datagrams arriving
// while the queue is full are dropped.
func (t *UDPTap) Intercept(frame []byte) bool {
	if len(frame) < frameOverhead {
		return false
	}
	ehdr := eth.DecodeEthernetHeader(frame)
	if ehdr.AssertType() != eth.EtherTypeIPv4 {
		return false
	}
	pkt := frame[eth.SizeEthernetHeader:]
	ihdr, off := eth.DecodeIPv4Header(pkt)
	if ihdr.Version() != 4 || off < eth.SizeIPv4Header || ihdr.Protocol != protoUDP {
		return false
	}
	// fragments are left to the stack
	if ihdr.Flags.FragmentOffset() != 0 || ihdr.Flags&ipMoreFragments != 0 {
		return false
	}
	total := int(ihdr.TotalLength)
	if total > len(pkt) || total < int(off)+eth.SizeUDPHeader {
		return false
	}
	udp := pkt[off:total]
	uhdr := eth.DecodeUDPHeader(udp)
	if uhdr.DestinationPort != t.port {
		return false
	}
	ulen := int(uhdr.Length)
	if ulen < eth.SizeUDPHeader || ulen > len(udp) {
		return true
	}
	d := datagram{
		data: append([]byte(nil), udp[eth.SizeUDPHeader:ulen]...),
		ip:   ihdr.Source,
		port: uhdr.SourcePort,
		mac:  ehdr.Source,
	}
	select {
	case t.in <- d:
	default:
	}
	return true
}

// Frame returns the next outgoing frame, if any.
func (t *UDPTap) Frame() ([]byte, bool) {
	select {
	case f := <-t.out:
		return f, true
	default:
		return nil, false
	}
}

//----------------------------------------------------------------------
// net.PacketConn

// ReadFrom waits for the next datagram or the read deadline.
func (t *UDPTap) ReadFrom(p []byte) (int, net.Addr, error) {
	for {
		t.mu.Lock()
		dl := t.deadline
		t.mu.Unlock()

		var expire <-chan time.Time
		stop := func() {}
		if !dl.IsZero() {
			wait := time.Until(dl)
			if wait <= 0 {
				return 0, nil, os.ErrDeadlineExceeded
			}
			tm := time.NewTimer(wait)
			expire, stop = tm.C, func() { tm.Stop() }
		}
		select {
		case d := <-t.in:
			stop()
			t.mu.Lock()
			t.peer = d.mac
			t.mu.Unlock()
			n := copy(p, d.data)
			return n, &net.UDPAddr{IP: net.IP(d.ip[:]), Port: int(d.port)}, nil
		case <-t.closed:
			stop()
			return 0, nil, net.ErrClosed
		case <-t.kick:
			// deadline changed
			stop()
		case <-expire:
			return 0, nil, os.ErrDeadlineExceeded
		}
	}
}

// WriteTo queues p as a frame to addr. Broadcast addresses go to the
// broadcast MAC, anything else to the sender of the last datagram read.
func (t *UDPTap) WriteTo(p []byte, addr net.Addr) (int, error) {
	select {
	case <-t.closed:
		return 0, net.ErrClosed
	default:
	}
	ua, ok := addr.(*net.UDPAddr)
	if !ok || ua.IP.To4() == nil {
		return 0, &net.AddrError{Err: "not an IPv4 UDP address", Addr: addr.String()}
	}
	if frameOverhead+len(p) > t.mtu {
		return 0, errTapFrame
	}
	var dst [4]byte
	copy(dst[:], ua.IP.To4())

	t.mu.Lock()
	dstMAC := t.peer
	if dst == [4]byte{255, 255, 255, 255} {
		dstMAC = broadcastMAC
	}
	t.id++
	frame := buildUDPFrame(dstMAC, t.mac, t.ip, dst, t.port, uint16(ua.Port), t.id, p)
	t.mu.Unlock()

	select {
	case t.out <- frame:
		return len(p), nil
	default:
		return 0, errTapFull
	}
}

// Close releases blocked readers.
func (t *UDPTap) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

// LocalAddr of the tap.
func (t *UDPTap) LocalAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	ip := t.ip
	return &net.UDPAddr{IP: net.IP(ip[:]), Port: int(t.port)}
}

// SetDeadline sets the read deadline.
func (t *UDPTap) SetDeadline(d time.Time) error {
	return t.SetReadDeadline(d)
}

// SetReadDeadline interrupts pending and future reads at d. A zero d
// removes the deadline.
func (t *UDPTap) SetReadDeadline(d time.Time) error {
	t.mu.Lock()
	t.deadline = d
	t.mu.Unlock()
	select {
	case t.kick <- struct{}{}:
	default:
	}
	return nil
}

// SetWriteDeadline is a no-op: writes never block.
func (t *UDPTap) SetWriteDeadline(time.Time) error {
	return nil
}

//----------------------------------------------------------------------

// buildUDPFrame assembles Ethernet, IPv4 and UDP headers around
// payload.
func buildUDPFrame(dstMAC, srcMAC [6]byte, src, dst [4]byte, sport, dport, id uint16, payload []byte) []byte {
	frame := make([]byte, frameOverhead+len(payload))
	ehdr := eth.EthernetHeader{
		Destination:     dstMAC,
		Source:          srcMAC,
		SizeOrEtherType: uint16(eth.EtherTypeIPv4),
	}
	ehdr.Put(frame)

	ihdr := eth.IPv4Header{
		VersionAndIHL: 4<<4 | eth.SizeIPv4Header/4,
		TotalLength:   uint16(eth.SizeIPv4Header + eth.SizeUDPHeader + len(payload)),
		ID:            id,
		TTL:           ipTTL,
		Protocol:      protoUDP,
		Source:        src,
		Destination:   dst,
	}
	ihdr.Checksum = ihdr.CalculateChecksum()
	ihdr.Put(frame[eth.SizeEthernetHeader:])

	uhdr := eth.UDPHeader{
		SourcePort:      sport,
		DestinationPort: dport,
		Length:          uint16(eth.SizeUDPHeader + len(payload)),
	}
	if uhdr.Checksum = uhdr.CalculateChecksumIPv4(&ihdr, payload); uhdr.Checksum == 0 {
		uhdr.Checksum = 0xffff
	}
	uhdr.Put(frame[eth.SizeEthernetHeader+eth.SizeIPv4Header:])
	copy(frame[frameOverhead:], payload)
	return frame
}
