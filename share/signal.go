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

package share

import (
	"context"
	"sync"
)

// Signal is a single-slot, edge-triggered notification. Signalling
// overwrites a value nobody consumed yet; each signal releases exactly
// one waiter, and a consumed value is never replayed.
type Signal[T any] struct {
	mu     sync.Mutex
	val    T
	set    bool
	notify chan struct{}
}

// NewSignal returns an unsignalled signal.
func NewSignal[T any]() *Signal[T] {
	return &Signal[T]{notify: make(chan struct{}, 1)}
}

// Signal stores v and wakes one waiter.
func (s *Signal[T]) Signal(v T) {
	s.mu.Lock()
	s.val, s.set = v, true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Wait blocks until a value is signalled and consumes it.
func (s *Signal[T]) Wait(ctx context.Context) (v T, err error) {
	for {
		if v, ok := s.take(); ok {
			return v, nil
		}
		select {
		case <-s.notify:
		case <-ctx.Done():
			return v, ctx.Err()
		}
	}
}

// Signaled reports whether an unconsumed value is pending.
func (s *Signal[T]) Signaled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}

// Reset discards a pending value.
func (s *Signal[T]) Reset() {
	s.mu.Lock()
	var zero T
	s.val, s.set = zero, false
	s.mu.Unlock()
}

func (s *Signal[T]) take() (v T, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return v, false
	}
	v, ok = s.val, true
	var zero T
	s.val, s.set = zero, false
	return
}
