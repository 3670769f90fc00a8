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

import "sync"

// Guard owns the single live DeviceState. Every access happens under its
// lock; callers keep critical sections to one read or one mutation.
type Guard struct {
	mu sync.Mutex
	s  DeviceState
}

// NewGuard wraps an initial state (usually the one loaded from flash).
func NewGuard(s DeviceState) *Guard {
	return &Guard{s: s}
}

// Snapshot returns a copy of the current state.
func (g *Guard) Snapshot() DeviceState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.s
}

// Update applies fn to the live state. If fn fails, the state is left
// unchanged.
func (g *Guard) Update(fn func(s *DeviceState) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	work := g.s
	if err := fn(&work); err != nil {
		return err
	}
	g.s = work
	return nil
}

// SetAPCredentials replaces the access point identity.
func (g *Guard) SetAPCredentials(c WifiCredentials) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return g.Update(func(s *DeviceState) error {
		s.AP = c
		return nil
	})
}

// SetSTACredentials replaces the upstream station credentials.
func (g *Guard) SetSTACredentials(c WifiCredentials) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return g.Update(func(s *DeviceState) error {
		s.STA = c
		return nil
	})
}

// SetToken stores a third-party token record.
func (g *Guard) SetToken(t TokenRecord) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return g.Update(func(s *DeviceState) error {
		s.Token, s.HasToken = t, true
		return nil
	})
}

// ClearToken forgets the token record.
func (g *Guard) ClearToken() {
	_ = g.Update(func(s *DeviceState) error {
		s.Token, s.HasToken = TokenRecord{}, false
		return nil
	})
}

// Leases returns a copy of the current leases.
func (g *Guard) Leases() []DhcpLease {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.s.Leases.All()
}
