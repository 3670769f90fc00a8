//go:build rp2350

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

package main

import (
	"context"
	"log/slog"
	"machine"
	"strconv"
	"time"

	"github.com/bfix/teeny"
)

// WiFi credentials, addressing and 9p port (set with -ldflags "-X ...").
// Credentials already provisioned in flash take precedence.
var (
	SSID   string
	Passwd string
	Host   string
	IP     string
	Port   string
)

// run node
func main() {
	log := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg := teeny.DefaultConfig()
	cfg.STA = teeny.WifiConfig{SSID: SSID, Password: Passwd}
	if Host != "" {
		cfg.Device.Hostname = Host
	}
	cfg.Device.IP = IP

	// access device
	dev, err := teeny.InitDevice(cfg)
	if err != nil {
		log.Error("device init failed", slog.String("err", err.Error()))
		return
	}
	state := teeny.NewStatus(dev, log)
	defer state.Trap(30 * time.Second)

	if Port != "" {
		port, err := strconv.ParseUint(Port, 10, 16)
		if err != nil {
			state.Set(teeny.StatPORT, 0)
			return
		}
		cfg.NineP.Port = uint16(port)
	}

	node, err := teeny.NewNode(dev, cfg, state, log)
	if err != nil {
		log.Error("node setup failed", slog.String("err", err.Error()))
		if s, _ := state.Get(); s == teeny.StatOK {
			state.Set(teeny.StatDEV, 0)
		}
		return
	}
	if err = node.Run(context.Background()); err != nil {
		log.Error("node stopped", slog.String("err", err.Error()))
	}

	// srv tcp!<host>!9fs teeny
	// mount /srv/teeny /n/teeny
	// cat /n/teeny/leases
	// unmount /n/teeny
	// rm /srv/teeny
}
