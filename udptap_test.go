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
	"testing"
	"time"

	"github.com/soypat/seqs/eth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tapMAC  = [6]byte{0x28, 0xcd, 0xc1, 0, 0, 1}
	peerMAC = [6]byte{0x5c, 0xe9, 0xfe, 0xac, 0xd5, 0xdf}
)

func newTap() *UDPTap {
	return NewUDPTap(67, tapMAC, [4]byte{192, 168, 2, 1}, 1500)
}

func clientFrame(dport uint16, payload []byte) []byte {
	return buildUDPFrame(broadcastMAC, peerMAC, [4]byte{}, [4]byte{255, 255, 255, 255}, 68, dport, 1, payload)
}

func TestTapIntercept(t *testing.T) {
	tap := newTap()
	defer tap.Close()

	assert.False(t, tap.Intercept(clientFrame(53, []byte("dns"))))
	assert.False(t, tap.Intercept([]byte{1, 2, 3}))

	arp := clientFrame(67, []byte("x"))
	ehdr := eth.DecodeEthernetHeader(arp)
	ehdr.SizeOrEtherType = uint16(eth.EtherTypeARP)
	ehdr.Put(arp)
	assert.False(t, tap.Intercept(arp))

	frag := clientFrame(67, []byte("x"))
	frag[eth.SizeEthernetHeader+6] = 0x20 // more fragments
	assert.False(t, tap.Intercept(frag))

	short := clientFrame(67, []byte("discover"))
	short = short[:len(short)-4]
	assert.False(t, tap.Intercept(short), "truncated IP packet")

	require.True(t, tap.Intercept(clientFrame(67, []byte("discover"))))
	buf := make([]byte, 64)
	n, addr, err := tap.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "discover", string(buf[:n]))
	assert.Equal(t, &net.UDPAddr{IP: net.IPv4(0, 0, 0, 0).To4(), Port: 68}, addr)
}

func TestTapQueueOverflow(t *testing.T) {
	tap := newTap()
	defer tap.Close()
	for range tapQueueLen + 2 {
		assert.True(t, tap.Intercept(clientFrame(67, []byte("p"))))
	}
	assert.Len(t, tap.in, tapQueueLen)
}

func TestTapWrite(t *testing.T) {
	tap := newTap()
	defer tap.Close()

	// unicast goes to the last peer
	require.True(t, tap.Intercept(clientFrame(67, []byte("request"))))
	_, _, err := tap.ReadFrom(make([]byte, 64))
	require.NoError(t, err)

	n, err := tap.WriteTo([]byte("ack"), &net.UDPAddr{IP: net.IPv4(192, 168, 2, 100), Port: 68})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	frame, ok := tap.Frame()
	require.True(t, ok)

	ehdr := eth.DecodeEthernetHeader(frame)
	assert.Equal(t, peerMAC, ehdr.Destination)
	assert.Equal(t, tapMAC, ehdr.Source)
	assert.Equal(t, eth.EtherTypeIPv4, ehdr.AssertType())

	pkt := frame[eth.SizeEthernetHeader:]
	ihdr, off := eth.DecodeIPv4Header(pkt)
	require.Equal(t, uint8(eth.SizeIPv4Header), off)
	assert.Equal(t, [4]byte{192, 168, 2, 1}, ihdr.Source)
	assert.Equal(t, [4]byte{192, 168, 2, 100}, ihdr.Destination)
	assert.Equal(t, uint8(protoUDP), ihdr.Protocol)
	assert.Equal(t, int(ihdr.TotalLength), len(pkt))
	assert.Equal(t, ihdr.CalculateChecksum(), ihdr.Checksum)

	udp := pkt[off:]
	uhdr := eth.DecodeUDPHeader(udp)
	assert.Equal(t, uint16(67), uhdr.SourcePort)
	assert.Equal(t, uint16(68), uhdr.DestinationPort)
	assert.Equal(t, uint16(len(udp)), uhdr.Length)
	assert.Equal(t, "ack", string(udp[eth.SizeUDPHeader:]))
	assert.Equal(t, uhdr.CalculateChecksumIPv4(&ihdr, udp[eth.SizeUDPHeader:]), uhdr.Checksum)

	// the frame is accepted by a tap on the client side
	client := NewUDPTap(68, peerMAC, [4]byte{}, 1500)
	defer client.Close()
	require.True(t, client.Intercept(frame))
	buf := make([]byte, 16)
	n, addr, err := client.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "ack", string(buf[:n]))
	assert.Equal(t, "192.168.2.1:67", addr.String())

	// broadcast
	_, err = tap.WriteTo([]byte("nak"), &net.UDPAddr{IP: net.IPv4bcast, Port: 68})
	require.NoError(t, err)
	frame, ok = tap.Frame()
	require.True(t, ok)
	assert.Equal(t, broadcastMAC, eth.DecodeEthernetHeader(frame).Destination)

	_, ok = tap.Frame()
	assert.False(t, ok)

	// limits
	_, err = tap.WriteTo(make([]byte, 1500), &net.UDPAddr{IP: net.IPv4bcast, Port: 68})
	assert.ErrorIs(t, err, errTapFrame)
	for range tapQueueLen {
		_, err = tap.WriteTo([]byte("x"), &net.UDPAddr{IP: net.IPv4bcast, Port: 68})
		require.NoError(t, err)
	}
	_, err = tap.WriteTo([]byte("x"), &net.UDPAddr{IP: net.IPv4bcast, Port: 68})
	assert.ErrorIs(t, err, errTapFull)
}

func TestTapDeadline(t *testing.T) {
	tap := newTap()
	defer tap.Close()

	require.NoError(t, tap.SetReadDeadline(time.Now().Add(20*time.Millisecond)))
	_, _, err := tap.ReadFrom(make([]byte, 16))
	assert.True(t, errors.Is(err, os.ErrDeadlineExceeded))

	// moving the deadline into the past releases a blocked reader
	require.NoError(t, tap.SetReadDeadline(time.Time{}))
	done := make(chan error, 1)
	go func() {
		_, _, err := tap.ReadFrom(make([]byte, 16))
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, tap.SetReadDeadline(time.Now()))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("reader not released")
	}
}

func TestTapClose(t *testing.T) {
	tap := newTap()
	done := make(chan error, 1)
	go func() {
		_, _, err := tap.ReadFrom(make([]byte, 16))
		done <- err
	}()
	require.NoError(t, tap.Close())
	require.NoError(t, tap.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("reader not released")
	}
	_, err := tap.WriteTo([]byte("x"), &net.UDPAddr{IP: net.IPv4bcast, Port: 68})
	assert.ErrorIs(t, err, net.ErrClosed)

	tap.SetAddr([4]byte{10, 0, 0, 1})
	assert.Equal(t, "10.0.0.1:67", tap.LocalAddr().String())
}
