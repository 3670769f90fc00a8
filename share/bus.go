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

// Package share coordinates tasks around single-instance hardware:
// a per-bus lock for one transaction at a time, a lossy latest-value
// broadcast for continuous readings and a single-slot signal for
// discrete events.
package share

import (
	"context"
	"errors"
)

var (
	ErrBusy               = errors.New("bus busy")
	ErrTooManySubscribers = errors.New("too many subscribers")
	ErrClosed             = errors.New("subscriber closed")
)

// Bus grants exclusive access to a physical bus for one transaction.
// A holder must not wait on anything that is not part of the transaction
// itself: every other task needing the bus is parked meanwhile.
type Bus[T any] struct {
	dev  T
	lock chan struct{}
}

// NewBus wraps a bus device.
func NewBus[T any](dev T) *Bus[T] {
	b := &Bus[T]{
		dev:  dev,
		lock: make(chan struct{}, 1),
	}
	b.lock <- struct{}{}
	return b
}

// Do runs one transaction with the bus held. Acquisition parks the
// caller until the bus is released or ctx is done.
func (b *Bus[T]) Do(ctx context.Context, tx func(dev T) error) error {
	select {
	case <-b.lock:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { b.lock <- struct{}{} }()
	return tx(b.dev)
}

// TryDo runs the transaction only if the bus is free right now.
func (b *Bus[T]) TryDo(tx func(dev T) error) error {
	select {
	case <-b.lock:
	default:
		return ErrBusy
	}
	defer func() { b.lock <- struct{}{} }()
	return tx(b.dev)
}
