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
	"errors"
	"fmt"
	"net"
)

// Field bounds of the persisted record.
const (
	MaxSSIDLen     = 32
	MaxPasswordLen = 64
	MaxTokenLen    = 290
	MaxClientIDLen = 32
)

// FormatVersion is the only defined layout version. It is reserved for
// future migration; no migration logic exists.
const FormatVersion uint8 = 0

var (
	ErrTooLong = errors.New("value exceeds field bound")
	ErrZeroMAC = errors.New("zero hardware address")
)

//----------------------------------------------------------------------

// WifiCredentials identify a wireless network.
type WifiCredentials struct {
	SSID     string
	Password string
}

// NewWifiCredentials returns credentials after checking the field bounds.
func NewWifiCredentials(ssid, passwd string) (WifiCredentials, error) {
	c := WifiCredentials{SSID: ssid, Password: passwd}
	return c, c.Validate()
}

// Secured reports whether the network requires authentication.
// An empty password denotes an open network.
func (c WifiCredentials) Secured() bool {
	return len(c.Password) > 0
}

// Validate checks the field bounds.
func (c WifiCredentials) Validate() error {
	if len(c.SSID) > MaxSSIDLen {
		return fmt.Errorf("ssid (%d bytes): %w", len(c.SSID), ErrTooLong)
	}
	if len(c.Password) > MaxPasswordLen {
		return fmt.Errorf("password (%d bytes): %w", len(c.Password), ErrTooLong)
	}
	return nil
}

//----------------------------------------------------------------------

// DhcpLease assigns an IPv4 address to a hardware address until Expires.
type DhcpLease struct {
	IP      [4]byte
	MAC     [6]byte
	Expires Instant
}

// NewLease builds a lease from network types. The hardware address must
// be a 6-byte, non-zero address.
func NewLease(ip net.IP, mac net.HardwareAddr, expires Instant) (l DhcpLease, err error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return l, fmt.Errorf("lease address %v: not IPv4", ip)
	}
	if len(mac) != len(l.MAC) {
		return l, fmt.Errorf("hardware address %v: bad length", mac)
	}
	copy(l.IP[:], ip4)
	copy(l.MAC[:], mac)
	if l.MAC == ([6]byte{}) {
		return l, ErrZeroMAC
	}
	l.Expires = expires
	return l, nil
}

// HardwareAddr returns the lease's MAC as a net type.
func (l DhcpLease) HardwareAddr() net.HardwareAddr {
	return net.HardwareAddr(l.MAC[:])
}

// Addr returns the lease's address as a net type.
func (l DhcpLease) Addr() net.IP {
	return net.IPv4(l.IP[0], l.IP[1], l.IP[2], l.IP[3])
}

// Expired reports whether the lease has run out at now.
func (l DhcpLease) Expired(now Instant) bool {
	return !now.Before(l.Expires)
}

//----------------------------------------------------------------------

// AccessToken is a third-party bearer/refresh token pair.
type AccessToken struct {
	AccessToken  string
	RefreshToken string
	Expires      Instant
}

// TokenRecord pairs a token with the client it was issued to.
type TokenRecord struct {
	Token    AccessToken
	ClientID string
}

// Validate checks the field bounds.
func (t TokenRecord) Validate() error {
	if len(t.Token.AccessToken) > MaxTokenLen {
		return fmt.Errorf("access token (%d bytes): %w", len(t.Token.AccessToken), ErrTooLong)
	}
	if len(t.Token.RefreshToken) > MaxTokenLen {
		return fmt.Errorf("refresh token (%d bytes): %w", len(t.Token.RefreshToken), ErrTooLong)
	}
	if len(t.ClientID) > MaxClientIDLen {
		return fmt.Errorf("client id (%d bytes): %w", len(t.ClientID), ErrTooLong)
	}
	return nil
}

//----------------------------------------------------------------------

// DeviceState is everything that survives a restart. The type is
// comparable: two states are equal iff every persisted field is equal.
type DeviceState struct {
	Version  uint8
	SavedAt  Instant
	AP       WifiCredentials
	STA      WifiCredentials
	Leases   LeaseTable
	Token    TokenRecord
	HasToken bool
}

// Default returns the first-boot state.
func Default() DeviceState {
	return DeviceState{Version: FormatVersion}
}

// Validate checks all bounded fields.
func (s *DeviceState) Validate() error {
	if err := s.AP.Validate(); err != nil {
		return fmt.Errorf("ap: %w", err)
	}
	if err := s.STA.Validate(); err != nil {
		return fmt.Errorf("sta: %w", err)
	}
	if s.HasToken {
		if err := s.Token.Validate(); err != nil {
			return fmt.Errorf("token: %w", err)
		}
	}
	return nil
}
