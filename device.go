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
	"net"

	"github.com/bfix/teeny/flash"
	"github.com/bfix/teeny/sensor"
	"tinygo.org/x/drivers"
)

// Device is the hardware the node runs on.
type Device interface {
	// LED on or off (if applicable)
	LED(on bool)

	// Flash region holding the persisted state.
	Flash() flash.Device
	// I2C bus of the display panel.
	I2C() drivers.I2C
	// ADC channel of the volume potentiometer.
	ADC() sensor.ADC

	// Connect brings up the network link and returns a status code.
	Connect(cfg *Config, log *slog.Logger) int
	// Listen for TCP connections (9P).
	Listen(port uint16) (net.Listener, error)
	// ListenPacket receives UDP datagrams on port (lease server).
	ListenPacket(port uint16) (net.PacketConn, error)
}
