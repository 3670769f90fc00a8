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
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mac(last byte) [6]byte {
	return [6]byte{0x5c, 0xe9, 0xfe, 0xac, 0xd5, last}
}

func fullState(t *testing.T) DeviceState {
	t.Helper()
	s := Default()
	s.SavedAt = 123456
	s.AP = WifiCredentials{SSID: "Teeny"}
	s.STA = WifiCredentials{SSID: "home", Password: "hunter22"}
	for i := range MaxLeases {
		require.NoError(t, s.Leases.Upsert(DhcpLease{
			IP:      [4]byte{192, 168, 2, byte(100 + i)},
			MAC:     mac(byte(i + 1)),
			Expires: Instant(1000 * (i + 1)),
		}, 0))
	}
	s.Token = TokenRecord{
		Token: AccessToken{
			AccessToken:  strings.Repeat("a", MaxTokenLen),
			RefreshToken: strings.Repeat("r", MaxTokenLen),
			Expires:      99,
		},
		ClientID: strings.Repeat("c", MaxClientIDLen),
	}
	s.HasToken = true
	return s
}

func TestCodecRoundTrip(t *testing.T) {
	for name, s := range map[string]DeviceState{
		"default": Default(),
		"full":    fullState(t),
	} {
		t.Run(name, func(t *testing.T) {
			buf := make([]byte, MaxEncodedSize)
			n, err := Encode(buf, &s)
			require.NoError(t, err)
			got, err := Decode(buf[:n])
			require.NoError(t, err)
			assert.True(t, got == s)
		})
	}
}

func TestCodecMaxSize(t *testing.T) {
	s := fullState(t)
	s.AP = WifiCredentials{SSID: strings.Repeat("s", MaxSSIDLen), Password: strings.Repeat("p", MaxPasswordLen)}
	s.STA = s.AP
	buf := make([]byte, MaxEncodedSize)
	n, err := Encode(buf, &s)
	require.NoError(t, err)
	assert.Equal(t, MaxEncodedSize, n)
}

func TestCodecIgnoresPadding(t *testing.T) {
	s := fullState(t)
	buf := make([]byte, MaxEncodedSize+8)
	n, err := Encode(buf, &s)
	require.NoError(t, err)
	got, err := Decode(buf[:n+3])
	require.NoError(t, err)
	assert.True(t, got == s)
}

func TestEncodeShortBuffer(t *testing.T) {
	s := fullState(t)
	buf := make([]byte, 64)
	_, err := Encode(buf, &s)
	assert.ErrorIs(t, err, ErrBufferTooSmall)
}

func TestEncodeRejectsOversizedFields(t *testing.T) {
	s := Default()
	s.STA.Password = strings.Repeat("x", MaxPasswordLen+1)
	_, err := Encode(make([]byte, MaxEncodedSize), &s)
	assert.ErrorIs(t, err, ErrTooLong)
}

func TestDecodeErrors(t *testing.T) {
	s := fullState(t)
	buf := make([]byte, MaxEncodedSize)
	n, err := Encode(buf, &s)
	require.NoError(t, err)

	_, err = Decode(buf[:n/2])
	assert.ErrorIs(t, err, ErrDecode, "truncated")

	_, err = Decode(nil)
	assert.ErrorIs(t, err, ErrDecode, "empty")

	bad := append([]byte(nil), buf[:n]...)
	bad[0] = 7
	_, err = Decode(bad)
	assert.ErrorIs(t, err, ErrVersion)

	// ssid length field claiming more than the bound
	bad = append([]byte(nil), buf[:n]...)
	bad[9] = MaxSSIDLen + 1
	_, err = Decode(bad)
	assert.ErrorIs(t, err, ErrDecode)

	erased := make([]byte, 64)
	for i := range erased {
		erased[i] = 0xff
	}
	_, err = Decode(erased)
	assert.Error(t, err)
}

func TestDecodeDuplicateLease(t *testing.T) {
	s := Default()
	l := DhcpLease{IP: [4]byte{192, 168, 2, 100}, MAC: mac(1), Expires: 10}
	s.Leases.entries[0] = l
	l.IP[3] = 101
	s.Leases.entries[1] = l
	s.Leases.n = 2

	buf := make([]byte, MaxEncodedSize)
	n, err := Encode(buf, &s)
	require.NoError(t, err)
	_, err = Decode(buf[:n])
	assert.ErrorIs(t, err, ErrDecode)
}

func TestWifiCredentials(t *testing.T) {
	c, err := NewWifiCredentials("Teeny", "")
	require.NoError(t, err)
	assert.False(t, c.Secured())

	c, err = NewWifiCredentials("home", "secret")
	require.NoError(t, err)
	assert.True(t, c.Secured())

	_, err = NewWifiCredentials(strings.Repeat("s", MaxSSIDLen+1), "")
	assert.ErrorIs(t, err, ErrTooLong)
}

func TestNewLease(t *testing.T) {
	hw, _ := net.ParseMAC("5c:e9:fe:ac:d5:df")
	l, err := NewLease(net.IPv4(192, 168, 2, 100), hw, 10)
	require.NoError(t, err)
	assert.Equal(t, [4]byte{192, 168, 2, 100}, l.IP)
	assert.Equal(t, hw.String(), l.HardwareAddr().String())
	assert.True(t, l.Addr().Equal(net.IPv4(192, 168, 2, 100)))

	_, err = NewLease(net.IPv4(192, 168, 2, 100), make(net.HardwareAddr, 6), 10)
	assert.ErrorIs(t, err, ErrZeroMAC)

	_, err = NewLease(net.ParseIP("fe80::1"), hw, 10)
	assert.Error(t, err)
}

func TestLeaseTableUpsert(t *testing.T) {
	var tbl LeaseTable
	require.NoError(t, tbl.Upsert(DhcpLease{MAC: mac(1), Expires: 10}, 0))
	require.NoError(t, tbl.Upsert(DhcpLease{MAC: mac(2), Expires: 10}, 0))
	require.NoError(t, tbl.Upsert(DhcpLease{MAC: mac(1), Expires: 50}, 0))
	assert.Equal(t, 2, tbl.Len())
	l, ok := tbl.Lookup(mac(1))
	require.True(t, ok)
	assert.Equal(t, Instant(50), l.Expires)

	assert.ErrorIs(t, tbl.Upsert(DhcpLease{}, 0), ErrZeroMAC)
	assert.Equal(t, 2, tbl.Len())
}

func TestLeaseTableBound(t *testing.T) {
	var tbl LeaseTable
	for i := range MaxLeases {
		require.NoError(t, tbl.Upsert(DhcpLease{MAC: mac(byte(i + 1)), Expires: 100}, 0))
	}
	err := tbl.Upsert(DhcpLease{MAC: mac(0xee), Expires: 200}, 50)
	assert.ErrorIs(t, err, ErrLeaseTableFull)
	assert.Equal(t, MaxLeases, tbl.Len())

	// refreshing a present client still works when full
	require.NoError(t, tbl.Upsert(DhcpLease{MAC: mac(3), Expires: 500}, 50))

	// once leases expired, their slots are reclaimed
	require.NoError(t, tbl.Upsert(DhcpLease{MAC: mac(0xee), Expires: 600}, 100))
	assert.Equal(t, 2, tbl.Len())
	_, ok := tbl.Lookup(mac(3))
	assert.True(t, ok)
	_, ok = tbl.Lookup(mac(1))
	assert.False(t, ok)
}

func TestLeaseTableCanonical(t *testing.T) {
	var a, b LeaseTable
	require.NoError(t, a.Upsert(DhcpLease{MAC: mac(1), Expires: 1}, 0))
	require.NoError(t, a.Upsert(DhcpLease{MAC: mac(2), Expires: 1}, 0))
	assert.True(t, a.Remove(mac(2)))
	assert.False(t, a.Remove(mac(2)))
	require.NoError(t, b.Upsert(DhcpLease{MAC: mac(1), Expires: 1}, 0))
	assert.True(t, a == b)
}

func TestLeaseTableExpire(t *testing.T) {
	var tbl LeaseTable
	require.NoError(t, tbl.Upsert(DhcpLease{MAC: mac(1), Expires: 10}, 0))
	require.NoError(t, tbl.Upsert(DhcpLease{MAC: mac(2), Expires: 30}, 0))
	require.NoError(t, tbl.Upsert(DhcpLease{MAC: mac(3), Expires: 20}, 0))
	assert.Equal(t, 2, tbl.Expire(20))
	all := tbl.All()
	require.Len(t, all, 1)
	assert.Equal(t, mac(2), all[0].MAC)
}

func TestGuard(t *testing.T) {
	g := NewGuard(Default())
	require.NoError(t, g.SetAPCredentials(WifiCredentials{SSID: "Teeny"}))
	require.NoError(t, g.SetSTACredentials(WifiCredentials{SSID: "home", Password: "pw"}))
	assert.Error(t, g.SetSTACredentials(WifiCredentials{SSID: strings.Repeat("x", 40)}))

	s := g.Snapshot()
	assert.Equal(t, "Teeny", s.AP.SSID)
	assert.Equal(t, "home", s.STA.SSID)

	require.NoError(t, g.SetToken(TokenRecord{ClientID: "client"}))
	assert.True(t, g.Snapshot().HasToken)
	g.ClearToken()
	assert.False(t, g.Snapshot().HasToken)

	// a failing update leaves the state untouched
	before := g.Snapshot()
	err := g.Update(func(s *DeviceState) error {
		s.AP.SSID = "changed"
		return s.Leases.Upsert(DhcpLease{}, 0)
	})
	assert.ErrorIs(t, err, ErrZeroMAC)
	assert.True(t, before == g.Snapshot())
}

func TestClock(t *testing.T) {
	c := NewManualClock(100)
	c.Advance(2 * time.Millisecond)
	assert.Equal(t, Instant(2100), c.Now())
	assert.Equal(t, 2*time.Millisecond, c.Now().Sub(100))
	assert.Equal(t, Instant(0), Instant(5).Add(-time.Second))

	mc := NewClock(5000)
	assert.False(t, mc.Now().Before(5000))
}
