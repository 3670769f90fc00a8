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

// Package flash keeps one DeviceState in raw, filesystem-less flash
// and reconciles it with the live state in the background.
package flash

import "errors"

// Device provides raw access to non-volatile memory. Offsets are relative
// to the start of the device. Writes follow NOR semantics: they can only
// clear bits, so a region is erased (set to 0xFF) before it is rewritten.
type Device interface {
	SizeBytes() uint32
	// EraseBlockBytes is the erase granularity (0: no erase needed).
	EraseBlockBytes() uint32
	// WriteBlockBytes is the smallest writable unit (flash word).
	WriteBlockBytes() uint32
	ReadAt(p []byte, off uint32) (int, error)
	WriteAt(p []byte, off uint32) (int, error)
	Erase(off, size uint32) error
}

var (
	ErrNotImplemented     = errors.New("not implemented")
	ErrWriteRequiresErase = errors.New("flash write requires erase")
	ErrOutOfRange         = errors.New("flash access out of range")
	ErrUnaligned          = errors.New("unaligned flash access")
)

// roundUp rounds n up to a multiple of unit.
func roundUp(n, unit uint32) uint32 {
	if unit <= 1 {
		return n
	}
	return (n + unit - 1) / unit * unit
}

func roundDown(n, unit uint32) uint32 {
	if unit <= 1 {
		return n
	}
	return n / unit * unit
}
