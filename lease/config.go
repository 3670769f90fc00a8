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

package lease

import (
	"fmt"
	"net"
	"time"

	"github.com/bfix/teeny/state"
)

// Well-known DHCPv4 ports.
const (
	ServerPort = 67
	ClientPort = 68
)

// Config for the lease server.
type Config struct {
	ServerIP   net.IP // our address; router, DNS and server identifier
	Address    net.IP // first address handed out
	PoolSize   int    // consecutive addresses starting at Address
	Netmask    net.IPMask
	DNS        []net.IP
	LeaseTime  time.Duration
	RenewTime  time.Duration
	RebindTime time.Duration
	ClientPort int

	// Allow lists the hardware addresses served when Filter is set.
	// Allow-listed clients also get unicast replies.
	Allow  []net.HardwareAddr
	Filter bool
}

// DefaultConfig serves a single address on the soft-AP subnet to the
// provisioning handset.
func DefaultConfig() Config {
	return Config{
		ServerIP:   net.IPv4(192, 168, 2, 1).To4(),
		Address:    net.IPv4(192, 168, 2, 100).To4(),
		PoolSize:   1,
		Netmask:    net.CIDRMask(24, 32),
		LeaseTime:  24 * time.Hour,
		RenewTime:  12 * time.Hour,
		RebindTime: 21 * time.Hour,
		ClientPort: ClientPort,
		Allow: []net.HardwareAddr{
			{0x5c, 0xe9, 0xfe, 0xac, 0xd5, 0xdf},
		},
		Filter: true,
	}
}

// Validate checks addresses and timers and fills in derived defaults.
func (c *Config) Validate() error {
	if c.ServerIP.To4() == nil {
		return fmt.Errorf("server ip %v: not IPv4", c.ServerIP)
	}
	if c.Address.To4() == nil {
		return fmt.Errorf("address %v: not IPv4", c.Address)
	}
	c.ServerIP, c.Address = c.ServerIP.To4(), c.Address.To4()
	if c.PoolSize <= 0 {
		c.PoolSize = 1
	}
	if c.PoolSize > state.MaxLeases {
		return fmt.Errorf("pool size %d exceeds lease table (%d)", c.PoolSize, state.MaxLeases)
	}
	if int(c.Address[3])+c.PoolSize > 255 {
		return fmt.Errorf("pool %v+%d leaves the subnet", c.Address, c.PoolSize)
	}
	if len(c.Netmask) == 0 {
		c.Netmask = net.CIDRMask(24, 32)
	}
	if len(c.DNS) == 0 {
		c.DNS = []net.IP{c.ServerIP}
	}
	if c.ClientPort == 0 {
		c.ClientPort = ClientPort
	}
	if c.LeaseTime <= 0 || c.RenewTime <= 0 || c.RebindTime <= 0 {
		return fmt.Errorf("lease timers must be positive")
	}
	if c.RenewTime > c.RebindTime || c.RebindTime > c.LeaseTime {
		return fmt.Errorf("lease timers out of order (renew %s, rebind %s, lease %s)",
			c.RenewTime, c.RebindTime, c.LeaseTime)
	}
	for _, hw := range c.Allow {
		if len(hw) != 6 {
			return fmt.Errorf("allow-list entry %v: not a 6-byte address", hw)
		}
	}
	return nil
}

// allowed reports whether hw is on the allow-list.
func (c *Config) allowed(hw net.HardwareAddr) bool {
	for _, a := range c.Allow {
		if string(a) == string(hw) {
			return true
		}
	}
	return false
}

// poolAddr returns the i-th pool address.
func (c *Config) poolAddr(i int) [4]byte {
	var ip [4]byte
	copy(ip[:], c.Address.To4())
	ip[3] += byte(i)
	return ip
}

// inPool reports whether ip belongs to the pool.
func (c *Config) inPool(ip [4]byte) bool {
	for i := range c.PoolSize {
		if c.poolAddr(i) == ip {
			return true
		}
	}
	return false
}
