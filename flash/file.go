//go:build !tinygo

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
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// FileDevice emulates raw flash with an image file on the host.
type FileDevice struct {
	mu      sync.Mutex
	f       *os.File
	size    uint32
	erase   uint32
	word    uint32
	scratch []byte
}

// OpenFile opens (or creates) a flash image. A new image is sized and
// erased; an existing image keeps its size.
func OpenFile(path string, size, eraseBlock, word uint32) (*FileDevice, error) {
	if eraseBlock == 0 || size%eraseBlock != 0 {
		return nil, fmt.Errorf("flash image %s: size %d not a multiple of erase block %d", path, size, eraseBlock)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	dev := &FileDevice{
		f:       f,
		size:    size,
		erase:   eraseBlock,
		word:    word,
		scratch: make([]byte, eraseBlock),
	}
	for i := range dev.scratch {
		dev.scratch[i] = 0xff
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if st.Size() > 0 {
		if st.Size() > int64(^uint32(0)) {
			_ = f.Close()
			return nil, fmt.Errorf("flash image %s: too large", path)
		}
		dev.size = uint32(st.Size())
		return dev, nil
	}
	if err = f.Truncate(int64(size)); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err = dev.Erase(0, size); err != nil {
		_ = f.Close()
		return nil, err
	}
	return dev, nil
}

// Close releases the image file.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}

func (d *FileDevice) SizeBytes() uint32       { return d.size }
func (d *FileDevice) EraseBlockBytes() uint32 { return d.erase }
func (d *FileDevice) WriteBlockBytes() uint32 { return d.word }

func (d *FileDevice) ReadAt(p []byte, off uint32) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if uint64(off)+uint64(len(p)) > uint64(d.size) {
		return 0, fmt.Errorf("flash read at %d: %w", off, ErrOutOfRange)
	}
	n, err := d.f.ReadAt(p, int64(off))
	if errors.Is(err, io.EOF) && n == len(p) {
		err = nil
	}
	return n, err
}

func (d *FileDevice) WriteAt(p []byte, off uint32) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if uint64(off)+uint64(len(p)) > uint64(d.size) {
		return 0, fmt.Errorf("flash write at %d: %w", off, ErrOutOfRange)
	}
	if d.word > 1 && (off%d.word != 0 || uint32(len(p))%d.word != 0) {
		return 0, fmt.Errorf("flash write at %d len %d: %w", off, len(p), ErrUnaligned)
	}
	buf := make([]byte, len(p))
	if _, err := d.f.ReadAt(buf, int64(off)); err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("flash read before write at %d: %w", off, err)
	}
	for i := range p {
		if buf[i]&p[i] != p[i] {
			return 0, ErrWriteRequiresErase
		}
	}
	return d.f.WriteAt(p, int64(off))
}

func (d *FileDevice) Erase(off, size uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if size == 0 {
		return nil
	}
	if off%d.erase != 0 || size%d.erase != 0 {
		return fmt.Errorf("flash erase off=%d size=%d: %w", off, size, ErrUnaligned)
	}
	if uint64(off)+uint64(size) > uint64(d.size) {
		return fmt.Errorf("flash erase off=%d size=%d: %w", off, size, ErrOutOfRange)
	}
	for size > 0 {
		if _, err := d.f.WriteAt(d.scratch, int64(off)); err != nil {
			return fmt.Errorf("flash erase block at %d: %w", off, err)
		}
		off += d.erase
		size -= d.erase
	}
	return nil
}
