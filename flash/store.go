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
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/bfix/teeny/state"
)

// headerSize is the size of the little-endian payload length.
const headerSize = 4

// stateMargin is reserved behind the largest encoded state for later
// format versions.
const stateMargin = 64

var (
	// ErrNoState reports a length header that is zero, erased or larger
	// than the payload region: nothing usable was ever written.
	ErrNoState = errors.New("no state in flash")
	ErrLayout  = errors.New("invalid flash layout")
)

// Layout places the length header and the payload region.
type Layout struct {
	LengthOffset uint32
	DataOffset   uint32
	Capacity     uint32
}

// DefaultLayout puts the payload directly behind the length header,
// both aligned to the device's write block.
func DefaultLayout(dev Device) Layout {
	word := max(dev.WriteBlockBytes(), 1)
	return Layout{
		LengthOffset: 0,
		DataOffset:   roundUp(headerSize, word),
		Capacity:     roundUp(state.MaxEncodedSize+stateMargin, word),
	}
}

// Validate checks the layout against the device geometry.
func (l Layout) Validate(dev Device) error {
	word := max(dev.WriteBlockBytes(), 1)
	switch {
	case l.Capacity == 0:
		return fmt.Errorf("%w: zero capacity", ErrLayout)
	case l.LengthOffset%word != 0 || l.DataOffset%word != 0 || l.Capacity%word != 0:
		return fmt.Errorf("%w: not aligned to %d byte words", ErrLayout, word)
	}
	hdrEnd := uint64(l.LengthOffset) + uint64(roundUp(headerSize, word))
	dataEnd := uint64(l.DataOffset) + uint64(l.Capacity)
	if hdrEnd > uint64(l.DataOffset) && dataEnd > uint64(l.LengthOffset) {
		return fmt.Errorf("%w: header and payload overlap", ErrLayout)
	}
	if max(hdrEnd, dataEnd) > uint64(dev.SizeBytes()) {
		return fmt.Errorf("%w: region exceeds device size %d", ErrLayout, dev.SizeBytes())
	}
	return nil
}

//----------------------------------------------------------------------

// Store serializes one DeviceState to fixed flash offsets. It allocates
// its scratch buffer once and never on the read/write path.
type Store struct {
	mu      sync.Mutex
	dev     Device
	layout  Layout
	word    uint32
	hdr     []byte
	scratch []byte
}

// NewStore binds a layout to a device.
func NewStore(dev Device, layout Layout) (*Store, error) {
	if err := layout.Validate(dev); err != nil {
		return nil, err
	}
	word := max(dev.WriteBlockBytes(), 1)
	return &Store{
		dev:     dev,
		layout:  layout,
		word:    word,
		hdr:     make([]byte, roundUp(headerSize, word)),
		scratch: make([]byte, layout.Capacity),
	}, nil
}

// Layout returns the store's flash layout.
func (st *Store) Layout() Layout {
	return st.layout
}

// Read loads the stored state. Absent or implausible length headers
// yield ErrNoState, undecodable payloads a wrapped state.ErrDecode.
// Flash errors are returned as they are.
func (st *Store) Read() (state.DeviceState, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	hdr := st.hdr[:headerSize]
	if err := st.readFull(hdr, st.layout.LengthOffset); err != nil {
		return state.DeviceState{}, fmt.Errorf("read length: %w", err)
	}
	n := binary.LittleEndian.Uint32(hdr)
	if n == 0 || n > st.layout.Capacity {
		return state.DeviceState{}, fmt.Errorf("%w (length %d)", ErrNoState, n)
	}
	buf := st.scratch[:roundUp(n, st.word)]
	if err := st.readFull(buf, st.layout.DataOffset); err != nil {
		return state.DeviceState{}, fmt.Errorf("read payload: %w", err)
	}
	s, err := state.Decode(buf[:n])
	if err != nil {
		if !errors.Is(err, state.ErrDecode) {
			err = fmt.Errorf("%w: %w", state.ErrDecode, err)
		}
		return state.DeviceState{}, err
	}
	return s, nil
}

// Write replaces the stored state. An encoding failure leaves flash
// untouched. The payload is written before the length header, so an
// interrupted write reads back as ErrNoState rather than as a torn
// record.
func (st *Store) Write(s *state.DeviceState) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	payload := st.scratch
	n, err := state.Encode(payload, s)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	size := roundUp(uint32(n), st.word)
	clear(payload[n:size])

	if err = st.eraseRegion(); err != nil {
		return err
	}
	if _, err = st.dev.WriteAt(payload[:size], st.layout.DataOffset); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	clear(st.hdr)
	binary.LittleEndian.PutUint32(st.hdr, uint32(n))
	if _, err = st.dev.WriteAt(st.hdr, st.layout.LengthOffset); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	return nil
}

// eraseRegion erases every erase block touched by header or payload.
func (st *Store) eraseRegion() error {
	blk := st.dev.EraseBlockBytes()
	if blk == 0 {
		return nil
	}
	lo := min(st.layout.LengthOffset, st.layout.DataOffset)
	hi := max(st.layout.LengthOffset+roundUp(headerSize, st.word), st.layout.DataOffset+st.layout.Capacity)
	lo = roundDown(lo, blk)
	hi = min(roundUp(hi, blk), roundDown(st.dev.SizeBytes(), blk))
	if err := st.dev.Erase(lo, hi-lo); err != nil {
		return fmt.Errorf("erase: %w", err)
	}
	return nil
}

func (st *Store) readFull(p []byte, off uint32) error {
	n, err := st.dev.ReadAt(p, off)
	if err != nil {
		return err
	}
	if n < len(p) {
		return io.ErrUnexpectedEOF
	}
	return nil
}

//----------------------------------------------------------------------

// Load reads the stored state at boot. Any failure (nothing written,
// corrupt payload, flash error) is logged and replaced by the first-boot
// default so the device always comes up.
func Load(st *Store, log *slog.Logger) state.DeviceState {
	log = orDiscard(log)
	s, err := st.Read()
	switch {
	case err == nil:
		log.Info("state loaded from flash",
			slog.Int("leases", s.Leases.Len()),
			slog.Bool("token", s.HasToken),
		)
		return s
	case errors.Is(err, ErrNoState):
		log.Info("no state in flash, using defaults")
	default:
		log.Warn("state unreadable, using defaults", slog.String("err", err.Error()))
	}
	return state.Default()
}

func orDiscard(log *slog.Logger) *slog.Logger {
	if log == nil {
		return slog.New(slog.DiscardHandler)
	}
	return log
}
