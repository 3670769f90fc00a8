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

package teeny

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// Status codes, shown as LED blink counts. Values above 5 blink as one
// long pulse per 5 plus short pulses for the rest.
const (
	StatUNK     = iota // unknown status (init)
	StatOK             // processing active
	StatDEV            // device failure
	StatNS             // namespace construction failed
	StatSRV            // can't serve namespace
	StatIP             // invalid IP address
	StatWIFI           // can't initialize WiFi chip
	StatWPA2           // can't join network
	StatDHCP1          // DHCP request failed
	StatDHCP2          // no DHCP reply
	StatLISTEN1        // failed to create listener
	StatLISTEN2        // failed to initialize listener
	StatPORT           // invalid port specified
	StatEXCP           // exception (panic) occured
	StatFLASH          // flash store unusable
	StatLEASE          // lease server can't bind
	StatSTATE          // state sync failing
)

// Status blinks the current status code on the device LED.
type Status struct {
	dev    Device       // reference to device
	curr   atomic.Int32 // current state
	repeat atomic.Int32 // current repeat counter
	log    *slog.Logger
}

// NewStatus starts the blink loop for dev.
func NewStatus(dev Device, log *slog.Logger) (state *Status) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	state = new(Status)
	state.dev = dev
	state.log = log
	state.curr.Store(StatOK)
	go func() {
		// blink LED <state>; <repeat> times
		for {
			time.Sleep(5 * time.Second)
			num := state.curr.Load()
			for num > 5 {
				dev.LED(true)
				time.Sleep(1000 * time.Millisecond)
				dev.LED(false)
				time.Sleep(300 * time.Millisecond)
				num -= 5
			}
			for range num {
				dev.LED(true)
				time.Sleep(150 * time.Millisecond)
				dev.LED(false)
				time.Sleep(150 * time.Millisecond)
			}
			if state.repeat.Add(-1) == 0 {
				state.curr.Store(StatOK)
			}
		}
	}()
	return
}

// Set status flag for num blink cycles (0: until changed).
func (state *Status) Set(flag, num int) {
	if state != nil {
		if flag != StatOK {
			state.log.Warn("status", slog.Int("code", flag), slog.Int("repeat", num))
		}
		state.curr.Store(int32(flag))
		state.repeat.Store(int32(num))
	}
}

// Get current status flag and remaining repeats.
func (state *Status) Get() (int, int) {
	return int(state.curr.Load()), int(state.repeat.Load())
}

// Trap is deferred by task goroutines: a panic is logged and shown as
// StatEXCP, then the caller is held for t before it returns.
func (state *Status) Trap(t time.Duration) {
	s, _ := state.Get()
	if r := recover(); r != nil {
		state.log.Error("EXCP", slog.Any("panic", r))
		if s == StatOK {
			state.Set(StatEXCP, 0)
		}
	} else if s == StatOK {
		state.Set(StatUNK, 0)
	}
	time.Sleep(t)
}
