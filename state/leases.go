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

import "errors"

// MaxLeases is the capacity of the lease table.
const MaxLeases = 16

// ErrLeaseTableFull is returned when no slot is free and no lease has
// expired.
var ErrLeaseTableFull = errors.New("lease table full")

// LeaseTable holds at most MaxLeases leases keyed by hardware address.
// Slots beyond Len are always zero so equal tables compare equal.
type LeaseTable struct {
	entries [MaxLeases]DhcpLease
	n       int
}

// Len returns the number of leases.
func (t *LeaseTable) Len() int {
	return t.n
}

// All returns a copy of the leases in insertion order.
func (t *LeaseTable) All() []DhcpLease {
	out := make([]DhcpLease, t.n)
	copy(out, t.entries[:t.n])
	return out
}

// Lookup returns the lease held by mac.
func (t *LeaseTable) Lookup(mac [6]byte) (DhcpLease, bool) {
	if i := t.index(mac); i >= 0 {
		return t.entries[i], true
	}
	return DhcpLease{}, false
}

// Upsert inserts a lease or refreshes the one held by the same MAC.
// A full table gives up the slot of an expired lease; if none has
// expired at now, the lease is rejected with ErrLeaseTableFull.
func (t *LeaseTable) Upsert(l DhcpLease, now Instant) error {
	if l.MAC == ([6]byte{}) {
		return ErrZeroMAC
	}
	if i := t.index(l.MAC); i >= 0 {
		t.entries[i] = l
		return nil
	}
	if t.n == MaxLeases {
		if t.Expire(now) == 0 {
			return ErrLeaseTableFull
		}
	}
	t.entries[t.n] = l
	t.n++
	return nil
}

// Remove deletes the lease held by mac and reports whether one existed.
func (t *LeaseTable) Remove(mac [6]byte) bool {
	i := t.index(mac)
	if i < 0 {
		return false
	}
	t.del(i)
	return true
}

// Expire drops all leases expired at now and returns how many went.
func (t *LeaseTable) Expire(now Instant) (num int) {
	for i := 0; i < t.n; {
		if t.entries[i].Expired(now) {
			t.del(i)
			num++
			continue
		}
		i++
	}
	return
}

func (t *LeaseTable) index(mac [6]byte) int {
	for i := range t.n {
		if t.entries[i].MAC == mac {
			return i
		}
	}
	return -1
}

// del removes slot i keeping order and zeroes the vacated tail slot.
func (t *LeaseTable) del(i int) {
	copy(t.entries[i:t.n], t.entries[i+1:t.n])
	t.n--
	t.entries[t.n] = DhcpLease{}
}
