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

package state

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Binary layout (little endian):
//
//	version   u8
//	saved_at  u64
//	ap        ssid str, password str
//	sta       ssid str, password str
//	leases    u64 count, count * {ip [4]u8, mac [6]u8, expires u64}
//	token     u8 tag (0: none, 1: present) followed, if present, by
//	          access str, expires u64, refresh str, client_id str
//
// Strings are a u64 byte length followed by the bytes.

const (
	strSize   = 8
	leaseSize = 4 + 6 + 8
	credsSize = strSize + MaxSSIDLen + strSize + MaxPasswordLen
	tokenSize = strSize + MaxTokenLen + 8 + strSize + MaxTokenLen + strSize + MaxClientIDLen
)

// MaxEncodedSize is the largest encoding of a valid DeviceState.
const MaxEncodedSize = 1 + 8 + 2*credsSize + 8 + MaxLeases*leaseSize + 1 + tokenSize

var (
	ErrBufferTooSmall = errors.New("encode buffer too small")
	ErrDecode         = errors.New("state decode failed")
	ErrVersion        = errors.New("unknown state format version")
)

//----------------------------------------------------------------------

// Encode serializes s into dst and returns the number of bytes used.
// It never truncates: a short buffer yields ErrBufferTooSmall.
func Encode(dst []byte, s *DeviceState) (int, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}
	e := &encoder{buf: dst}
	e.u8(s.Version)
	e.u64(uint64(s.SavedAt))
	e.str(s.AP.SSID)
	e.str(s.AP.Password)
	e.str(s.STA.SSID)
	e.str(s.STA.Password)
	e.u64(uint64(s.Leases.Len()))
	for i := range s.Leases.n {
		l := &s.Leases.entries[i]
		e.raw(l.IP[:])
		e.raw(l.MAC[:])
		e.u64(uint64(l.Expires))
	}
	if s.HasToken {
		e.u8(1)
		e.str(s.Token.Token.AccessToken)
		e.u64(uint64(s.Token.Token.Expires))
		e.str(s.Token.Token.RefreshToken)
		e.str(s.Token.ClientID)
	} else {
		e.u8(0)
	}
	if e.short {
		return 0, fmt.Errorf("%w: need more than %d bytes", ErrBufferTooSmall, len(dst))
	}
	return e.pos, nil
}

// Decode parses an encoded DeviceState. Trailing bytes (word padding)
// are ignored.
func Decode(src []byte) (s DeviceState, err error) {
	d := &decoder{buf: src}
	if s.Version = d.u8(); d.err == nil && s.Version != FormatVersion {
		return s, fmt.Errorf("%w: %d", ErrVersion, s.Version)
	}
	s.SavedAt = Instant(d.u64())
	s.AP.SSID = d.str(MaxSSIDLen)
	s.AP.Password = d.str(MaxPasswordLen)
	s.STA.SSID = d.str(MaxSSIDLen)
	s.STA.Password = d.str(MaxPasswordLen)
	num := d.u64()
	if num > MaxLeases {
		d.fail("lease count %d", num)
	}
	for i := 0; d.err == nil && uint64(i) < num; i++ {
		l := &s.Leases.entries[i]
		d.raw(l.IP[:])
		d.raw(l.MAC[:])
		l.Expires = Instant(d.u64())
		if d.err == nil && l.MAC == ([6]byte{}) {
			d.fail("lease %d: %v", i, ErrZeroMAC)
		}
		if d.err == nil && s.Leases.index(l.MAC) >= 0 {
			d.fail("lease %d: duplicate hardware address % x", i, l.MAC[:])
		}
		s.Leases.n++
	}
	switch tag := d.u8(); tag {
	case 0:
	case 1:
		s.HasToken = true
		s.Token.Token.AccessToken = d.str(MaxTokenLen)
		s.Token.Token.Expires = Instant(d.u64())
		s.Token.Token.RefreshToken = d.str(MaxTokenLen)
		s.Token.ClientID = d.str(MaxClientIDLen)
	default:
		d.fail("token tag %d", tag)
	}
	if d.err != nil {
		return DeviceState{}, d.err
	}
	return s, nil
}

//----------------------------------------------------------------------

type encoder struct {
	buf   []byte
	pos   int
	short bool
}

func (e *encoder) reserve(n int) []byte {
	if e.short || e.pos+n > len(e.buf) {
		e.short = true
		return nil
	}
	b := e.buf[e.pos : e.pos+n]
	e.pos += n
	return b
}

func (e *encoder) u8(v uint8) {
	if b := e.reserve(1); b != nil {
		b[0] = v
	}
}

func (e *encoder) u64(v uint64) {
	if b := e.reserve(8); b != nil {
		binary.LittleEndian.PutUint64(b, v)
	}
}

func (e *encoder) raw(v []byte) {
	if b := e.reserve(len(v)); b != nil {
		copy(b, v)
	}
}

func (e *encoder) str(s string) {
	e.u64(uint64(len(s)))
	if b := e.reserve(len(s)); b != nil {
		copy(b, s)
	}
}

//----------------------------------------------------------------------

type decoder struct {
	buf []byte
	pos int
	err error
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: "+format, append([]any{ErrDecode}, args...)...)
	}
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.pos+n > len(d.buf) {
		d.fail("short buffer at offset %d", d.pos)
		return nil
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b
}

func (d *decoder) u8() uint8 {
	if b := d.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) u64() uint64 {
	if b := d.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (d *decoder) raw(dst []byte) {
	if b := d.take(len(dst)); b != nil {
		copy(dst, b)
	}
}

func (d *decoder) str(limit int) string {
	n := d.u64()
	if d.err != nil {
		return ""
	}
	if n > uint64(limit) {
		d.fail("string length %d exceeds %d", n, limit)
		return ""
	}
	return string(d.take(int(n)))
}
