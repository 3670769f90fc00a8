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

package sensor

import (
	"context"
	"errors"
	"image/color"
	"log/slog"
	"time"

	"github.com/bfix/teeny/share"
	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/ssd1306"
)

// Panel defaults
const (
	PanelAddress = 0x3C
	PanelWidth   = 128
	PanelHeight  = 64
	PanelBackoff = time.Second

	barHeight = 8
)

var (
	pixelOn  = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	pixelOff = color.RGBA{A: 0xff}
)

// Panel is an SSD1306 display on a shared I2C bus. The driver is only
// touched inside bus transactions.
type Panel struct {
	bus  *share.Bus[drivers.I2C]
	addr uint16
	dev  *ssd1306.Device
}

// NewPanel creates a panel handle; nothing is sent until Init.
func NewPanel(bus *share.Bus[drivers.I2C], addr uint16) *Panel {
	if addr == 0 {
		addr = PanelAddress
	}
	return &Panel{bus: bus, addr: addr}
}

// ping sends a single NOP command.
func ping(i2c drivers.I2C, addr uint16) error {
	return i2c.Tx(addr, []byte{0x00, 0xE3}, nil)
}

// Ping checks that the panel acknowledges one transaction.
func (p *Panel) Ping(ctx context.Context) error {
	return p.bus.Do(ctx, func(i2c drivers.I2C) error {
		return ping(i2c, p.addr)
	})
}

// Init pings and configures the panel in one transaction and clears
// the screen.
func (p *Panel) Init(ctx context.Context) error {
	return p.bus.Do(ctx, func(i2c drivers.I2C) error {
		if err := ping(i2c, p.addr); err != nil {
			return err
		}
		if p.dev == nil {
			p.dev = ssd1306.NewI2C(i2c)
		}
		p.dev.Configure(ssd1306.Config{
			Width:   PanelWidth,
			Height:  PanelHeight,
			Address: p.addr,
		})
		p.dev.ClearBuffer()
		return p.dev.Display()
	})
}

// ShowLevel draws v in [0,1] as a bar along the bottom edge and
// flushes the frame.
func (p *Panel) ShowLevel(ctx context.Context, v float32) error {
	if p.dev == nil {
		return ErrPanelInit
	}
	w := int16(min(max(v, 0), 1) * PanelWidth)
	return p.bus.Do(ctx, func(drivers.I2C) error {
		for x := int16(0); x < PanelWidth; x++ {
			c := pixelOff
			if x < w {
				c = pixelOn
			}
			for y := int16(PanelHeight - barHeight); y < PanelHeight; y++ {
				p.dev.SetPixel(x, y, c)
			}
		}
		return p.dev.Display()
	})
}

//----------------------------------------------------------------------

// WaitPanel retries a ping every PanelBackoff until the panel answers.
func WaitPanel(ctx context.Context, p *Panel, log *slog.Logger) error {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	for {
		err := p.Ping(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("display ping failed", slog.String("err", err.Error()))
		if !sleep(ctx, PanelBackoff) {
			return ctx.Err()
		}
	}
}

// DisplayVolume shows every volume update received on sub. Display
// errors restart the panel after PanelBackoff.
func DisplayVolume(ctx context.Context, p *Panel, sub *share.Subscriber[float32], log *slog.Logger) error {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	for {
		err := p.Init(ctx)
		for err == nil {
			var v float32
			if v, err = sub.Next(ctx); err == nil {
				err = p.ShowLevel(ctx, v)
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, share.ErrClosed) {
			return err
		}
		log.Warn("display error", slog.String("err", err.Error()))
		if !sleep(ctx, PanelBackoff) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
