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
	"sync"
	"time"
)

// Instant is a point on the device's monotonic clock in microseconds.
type Instant uint64

// Add returns the instant shifted by d. Negative results clamp to zero.
func (i Instant) Add(d time.Duration) Instant {
	us := int64(d / time.Microsecond)
	if us < 0 && Instant(-us) > i {
		return 0
	}
	return Instant(int64(i) + us)
}

// Before reports whether i is earlier than j.
func (i Instant) Before(j Instant) bool {
	return i < j
}

// Sub returns the duration i-j.
func (i Instant) Sub(j Instant) time.Duration {
	return time.Duration(int64(i)-int64(j)) * time.Microsecond
}

// Clock is a source of monotonic instants.
type Clock interface {
	Now() Instant
}

// MonotonicClock counts from a base instant using the Go runtime's
// monotonic time. A clock restarted with the SavedAt of the reloaded
// state keeps persisted lease expiries meaningful across reboots.
type MonotonicClock struct {
	base  Instant
	start time.Time
}

// NewClock returns a clock whose first reading is base.
func NewClock(base Instant) *MonotonicClock {
	return &MonotonicClock{
		base:  base,
		start: time.Now(),
	}
}

// Now returns the current instant.
func (c *MonotonicClock) Now() Instant {
	return c.base.Add(time.Since(c.start))
}

//----------------------------------------------------------------------

// ManualClock is a clock advanced by hand (simulations and tests).
type ManualClock struct {
	mu  sync.Mutex
	now Instant
}

// NewManualClock returns a clock reading now.
func NewManualClock(now Instant) *ManualClock {
	return &ManualClock{now: now}
}

// Now returns the current instant.
func (c *ManualClock) Now() Instant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
