//go:build linux && !tinygo

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
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bfix/teeny/flash"
	"github.com/bfix/teeny/sensor"
	"tinygo.org/x/drivers"
)

// LinuxDevice runs the node on a host: flash is an image file, the
// lease server binds a real UDP socket, the panel and the potentiometer
// are simulated.
type LinuxDevice struct {
	flash *flash.FileDevice
	i2c   *SimI2C
	adc   *SimADC
	led   atomic.Bool
}

// InitDevice opens the flash image named in the configuration.
func InitDevice(cfg *Config) (Device, error) {
	fd, err := flash.OpenFile(cfg.Device.FlashImage, cfg.Device.FlashSize,
		cfg.Device.EraseBlock, cfg.Device.WriteBlock)
	if err != nil {
		return nil, err
	}
	return &LinuxDevice{
		flash: fd,
		i2c:   &SimI2C{Addr: cfg.Device.PanelAddr},
		adc:   NewSimADC(cfg.Volume.Min, cfg.Volume.Max, 20*time.Second),
	}, nil
}

// Close the flash image.
func (dev *LinuxDevice) Close() error {
	return dev.flash.Close()
}

// LED on or off (remembered only)
func (dev *LinuxDevice) LED(on bool) {
	dev.led.Store(on)
}

func (dev *LinuxDevice) Flash() flash.Device { return dev.flash }
func (dev *LinuxDevice) I2C() drivers.I2C    { return dev.i2c }
func (dev *LinuxDevice) ADC() sensor.ADC     { return dev.adc }

// Connect is a no-op: the host is already networked.
func (dev *LinuxDevice) Connect(cfg *Config, log *slog.Logger) int {
	log.Info("host network in use", slog.String("hostname", cfg.Device.Hostname))
	return StatOK
}

// Listen returns a TCP listener on the given port.
func (dev *LinuxDevice) Listen(port uint16) (net.Listener, error) {
	cfg := new(net.ListenConfig)
	return cfg.Listen(context.Background(), "tcp", fmt.Sprintf(":%d", port))
}

// ListenPacket binds a broadcast-capable UDP socket.
func (dev *LinuxDevice) ListenPacket(port uint16) (net.PacketConn, error) {
	cfg := &net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var serr error
			if err := c.Control(func(fd uintptr) {
				serr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
			}); err != nil {
				return err
			}
			return serr
		},
	}
	return cfg.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", port))
}

//----------------------------------------------------------------------

// SimI2C acknowledges every transaction to Addr and counts them.
type SimI2C struct {
	Addr uint16
	txs  atomic.Uint64
}

// Tx implements drivers.I2C.
func (b *SimI2C) Tx(addr uint16, w, r []byte) error {
	if addr != b.Addr {
		return fmt.Errorf("i2c: no device at 0x%02x", addr)
	}
	b.txs.Add(1)
	clear(r)
	return nil
}

// Count of acknowledged transactions.
func (b *SimI2C) Count() uint64 {
	return b.txs.Load()
}

// SimADC sweeps between lo and hi with the given period.
type SimADC struct {
	lo, hi uint16
	period time.Duration
	start  time.Time
}

// NewSimADC creates a sweeping ADC.
func NewSimADC(lo, hi uint16, period time.Duration) *SimADC {
	return &SimADC{lo: lo, hi: hi, period: period, start: time.Now()}
}

// Get the current sample.
func (a *SimADC) Get() uint16 {
	phase := float64(time.Since(a.start)%a.period) / float64(a.period)
	v := (1 - math.Cos(2*math.Pi*phase)) / 2
	return a.lo + uint16(v*float64(a.hi-a.lo))
}
