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

// Latest broadcasts a value to every subscriber. Each subscriber holds at
// most one unconsumed value; a new publish overwrites it, so readers only
// ever see the most recent value and never a backlog.
type Latest[T any] struct {
	mu   sync.Mutex
	max  int
	subs []*Subscriber[T]
}

// NewLatest returns a channel accepting up to maxSubs subscribers.
func NewLatest[T any](maxSubs int) *Latest[T] {
	return &Latest[T]{max: maxSubs}
}

// Publish hands v to all subscribers without blocking.
func (l *Latest[T]) Publish(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.subs {
		select {
		case <-s.slot:
		default:
		}
		s.slot <- v
	}
}

// Subscribe registers a new reader.
func (l *Latest[T]) Subscribe() (*Subscriber[T], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.subs) >= l.max {
		return nil, ErrTooManySubscribers
	}
	s := &Subscriber[T]{
		src:  l,
		slot: make(chan T, 1),
		done: make(chan struct{}),
	}
	l.subs = append(l.subs, s)
	return s, nil
}

func (l *Latest[T]) drop(s *Subscriber[T]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, sub := range l.subs {
		if sub == s {
			l.subs = append(l.subs[:i], l.subs[i+1:]...)
			return
		}
	}
}

//----------------------------------------------------------------------

// Subscriber reads values published on a Latest channel.
type Subscriber[T any] struct {
	src  *Latest[T]
	slot chan T
	once sync.Once
	done chan struct{}
}

// Next waits for the next unconsumed value.
func (s *Subscriber[T]) Next(ctx context.Context) (v T, err error) {
	select {
	case v = <-s.slot:
		return v, nil
	case <-s.done:
		return v, ErrClosed
	case <-ctx.Done():
		return v, ctx.Err()
	}
}

// TryNext returns the unconsumed value, if any.
func (s *Subscriber[T]) TryNext() (v T, ok bool) {
	select {
	case v = <-s.slot:
		return v, true
	default:
		return v, false
	}
}

// Close unregisters the subscriber and frees its slot for others.
func (s *Subscriber[T]) Close() {
	s.once.Do(func() {
		s.src.drop(s)
		close(s.done)
	})
}
