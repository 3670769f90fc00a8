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
	"log/slog"
	"time"

	"github.com/bfix/teeny/share"
)

// Volume publisher defaults
const (
	VolumePeriod     = 25 * time.Millisecond
	VolumeHysteresis = 0.02
)

// PublishVolume samples the potentiometer every period and publishes
// the level whenever it leaves the hysteresis band around the last
// published value. Failed samples are logged and skipped.
func PublishVolume(ctx context.Context, pot *Potentiometer, out *share.Latest[float32],
	period time.Duration, hysteresis float32, log *slog.Logger) error {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if period <= 0 {
		period = VolumePeriod
	}
	tick := time.NewTicker(period)
	defer tick.Stop()

	prev := float32(0)
	for {
		v, err := pot.Normalised(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("volume sample failed", slog.String("err", err.Error()))
		} else if v < prev-hysteresis || v > prev+hysteresis {
			log.Debug("volume", slog.Float64("level", float64(v)))
			out.Publish(v)
			prev = v
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}
