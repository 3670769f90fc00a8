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

// Package sensor holds the periodic tasks that sample hardware over a
// shared bus and feed readings to the latest-value channels.
package sensor

import (
	"context"
	"errors"

	"github.com/bfix/teeny/share"
	"tinygo.org/x/drivers"
)

// ADC samples one analog channel.
type ADC interface {
	Get() uint16
}

var (
	ErrCalibration = errors.New("potentiometer: max must exceed min")
	ErrPanelInit   = errors.New("display panel not initialised")
)

// Potentiometer maps raw ADC readings between Min and Max to [0,1].
type Potentiometer struct {
	bus   *share.Bus[ADC]
	Min   uint16
	Max   uint16
	level float32
}

// NewPotentiometer creates a calibrated potentiometer on an ADC bus.
func NewPotentiometer(bus *share.Bus[ADC], lo, hi uint16) (*Potentiometer, error) {
	if hi <= lo {
		return nil, ErrCalibration
	}
	return &Potentiometer{bus: bus, Min: lo, Max: hi}, nil
}

// Read performs one sample-and-convert transaction.
func (p *Potentiometer) Read(ctx context.Context) (raw uint16, err error) {
	err = p.bus.Do(ctx, func(adc ADC) error {
		raw = adc.Get()
		return nil
	})
	return
}

// Normalised returns the current position in [0,1].
func (p *Potentiometer) Normalised(ctx context.Context) (float32, error) {
	raw, err := p.Read(ctx)
	if err != nil {
		return 0, err
	}
	return p.scale(raw), nil
}

func (p *Potentiometer) scale(raw uint16) float32 {
	switch {
	case raw <= p.Min:
		return 0
	case raw >= p.Max:
		return 1
	}
	return float32(raw-p.Min) / float32(p.Max-p.Min)
}

// Update samples the potentiometer if a voltage measurement is asked
// for (drivers.Sensor).
func (p *Potentiometer) Update(which drivers.Measurement) error {
	if which&drivers.Voltage == 0 {
		return nil
	}
	v, err := p.Normalised(context.Background())
	if err != nil {
		return err
	}
	p.level = v
	return nil
}

// Level returns the position from the last Update.
func (p *Potentiometer) Level() float32 {
	return p.level
}

var _ drivers.Sensor = (*Potentiometer)(nil)
