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
	"fmt"
	"sync"
)

// MemDevice is a flash device held in RAM.
type MemDevice struct {
	mu    sync.Mutex
	data  []byte
	erase uint32
	word  uint32
}

// NewMemDevice returns an erased device of the given geometry.
func NewMemDevice(size, eraseBlock, word uint32) *MemDevice {
	d := &MemDevice{
		data:  make([]byte, size),
		erase: eraseBlock,
		word:  word,
	}
	d.Fill(0xff)
	return d
}

// Fill sets every byte of the device to b.
func (d *MemDevice) Fill(b byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.data {
		d.data[i] = b
	}
}

// Bytes returns a copy of the device content.
func (d *MemDevice) Bytes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.data...)
}

func (d *MemDevice) SizeBytes() uint32       { return uint32(len(d.data)) }
func (d *MemDevice) EraseBlockBytes() uint32 { return d.erase }
func (d *MemDevice) WriteBlockBytes() uint32 { return d.word }

func (d *MemDevice) ReadAt(p []byte, off uint32) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if uint64(off)+uint64(len(p)) > uint64(len(d.data)) {
		return 0, fmt.Errorf("flash read at %d: %w", off, ErrOutOfRange)
	}
	return copy(p, d.data[off:]), nil
}

func (d *MemDevice) WriteAt(p []byte, off uint32) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if uint64(off)+uint64(len(p)) > uint64(len(d.data)) {
		return 0, fmt.Errorf("flash write at %d: %w", off, ErrOutOfRange)
	}
	if d.word > 1 && (off%d.word != 0 || uint32(len(p))%d.word != 0) {
		return 0, fmt.Errorf("flash write at %d len %d: %w", off, len(p), ErrUnaligned)
	}
	for i, b := range p {
		if d.data[int(off)+i]&b != b {
			return 0, ErrWriteRequiresErase
		}
	}
	return copy(d.data[off:], p), nil
}

func (d *MemDevice) Erase(off, size uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.erase > 1 && (off%d.erase != 0 || size%d.erase != 0) {
		return fmt.Errorf("flash erase off=%d size=%d: %w", off, size, ErrUnaligned)
	}
	if uint64(off)+uint64(size) > uint64(len(d.data)) {
		return fmt.Errorf("flash erase off=%d size=%d: %w", off, size, ErrOutOfRange)
	}
	for i := off; i < off+size; i++ {
		d.data[i] = 0xff
	}
	return nil
}
