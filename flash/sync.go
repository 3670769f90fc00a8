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

package flash

import (
	"context"
	"log/slog"
	"time"

	"github.com/bfix/teeny/state"
)

// DefaultSyncInterval between state comparisons.
const DefaultSyncInterval = 5 * time.Second

// Syncer periodically persists the shared device state. It writes only
// when the state differs from the last value it saw, so bursts of
// changes within one interval collapse into a single flash write.
type Syncer struct {
	Store    *Store
	Guard    *state.Guard
	Clock    state.Clock   // stamps SavedAt on written copies
	Interval time.Duration // default: DefaultSyncInterval
	Logger   *slog.Logger
	OnError  func(error) // optional, called on failed writes

	prev   state.DeviceState
	primed bool
}

// NewSyncer creates a syncer. The current guarded state counts as
// already persisted.
func NewSyncer(store *Store, guard *state.Guard, clk state.Clock, log *slog.Logger) *Syncer {
	return &Syncer{
		Store:    store,
		Guard:    guard,
		Clock:    clk,
		Interval: DefaultSyncInterval,
		Logger:   orDiscard(log),
		prev:     guard.Snapshot(),
		primed:   true,
	}
}

// Run compares and persists state every interval until ctx is done.
// A final comparison runs on shutdown.
func (s *Syncer) Run(ctx context.Context) error {
	iv := s.Interval
	if iv <= 0 {
		iv = DefaultSyncInterval
	}
	tick := time.NewTicker(iv)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Flush()
			return ctx.Err()
		case <-tick.C:
			s.Flush()
		}
	}
}

// Flush performs one comparison and writes on change. It reports
// whether a write happened. Failed writes are logged and retried on
// the next call.
func (s *Syncer) Flush() bool {
	log := orDiscard(s.Logger)
	cur := s.Guard.Snapshot()
	if s.primed && cur == s.prev {
		return false
	}
	out := cur
	if s.Clock != nil {
		out.SavedAt = s.Clock.Now()
	}
	if err := s.Store.Write(&out); err != nil {
		log.Error("state sync failed", slog.String("err", err.Error()))
		if s.OnError != nil {
			s.OnError(err)
		}
		return false
	}
	s.prev, s.primed = cur, true
	log.Debug("state synced",
		slog.Int("leases", cur.Leases.Len()),
		slog.Uint64("saved_at", uint64(out.SavedAt)),
	)
	return true
}
