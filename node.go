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
	"time"

	"github.com/bfix/teeny/flash"
	"github.com/bfix/teeny/lease"
	"github.com/bfix/teeny/sensor"
	"github.com/bfix/teeny/share"
	"github.com/bfix/teeny/state"
	"golang.org/x/sync/errgroup"
	"tinygo.org/x/drivers"
)

// backoff after failed task iterations
const backoff = time.Second

// volume subscribers: display panel
const volumeSubscribers = 2 // display and one observer

// Node ties the device, the persisted state and the tasks together.
type Node struct {
	dev    Device
	cfg    *Config
	log    *slog.Logger
	status *Status

	store  *flash.Store
	guard  *state.Guard
	clock  state.Clock
	syncer *flash.Syncer
	leases *lease.Server
	leased *share.Signal[state.DhcpLease]
	volume *share.Latest[float32]
	pot    *sensor.Potentiometer
	panel  *sensor.Panel
	ns     *Namespace
}

// NewNode restores the device state from flash and prepares all tasks.
// Nothing runs until Run is called.
func NewNode(dev Device, cfg *Config, status *Status, log *slog.Logger) (n *Node, err error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	n = &Node{
		dev:    dev,
		cfg:    cfg,
		log:    log,
		status: status,
		leased: share.NewSignal[state.DhcpLease](),
		volume: share.NewLatest[float32](volumeSubscribers),
	}

	// persisted state
	fd := dev.Flash()
	if n.store, err = flash.NewStore(fd, flash.DefaultLayout(fd)); err != nil {
		status.Set(StatFLASH, 0)
		return nil, fmt.Errorf("flash store: %w", err)
	}
	s := flash.Load(n.store, log.With(slog.String("task", "flash")))
	n.guard = state.NewGuard(s)
	n.clock = state.NewClock(s.SavedAt)
	n.syncer = flash.NewSyncer(n.store, n.guard, n.clock, log.With(slog.String("task", "sync")))
	n.syncer.Interval = time.Duration(cfg.Sync.Interval)
	n.syncer.OnError = func(error) { status.Set(StatSTATE, 3) }

	// first boot: credentials from configuration; picked up by the
	// next sync
	if err = n.guard.Update(func(s *state.DeviceState) error {
		_, err := cfg.Seed(s)
		return err
	}); err != nil {
		return nil, err
	}

	// lease server
	lc, err := cfg.LeaseServer()
	if err != nil {
		return nil, err
	}
	if n.leases, err = lease.NewServer(lc, n.guard, n.clock, log.With(slog.String("task", "dhcp"))); err != nil {
		return nil, err
	}
	n.leases.Leased = n.leased

	// shared buses
	adc := share.NewBus[sensor.ADC](dev.ADC())
	if n.pot, err = sensor.NewPotentiometer(adc, cfg.Volume.Min, cfg.Volume.Max); err != nil {
		return nil, err
	}
	i2c := share.NewBus[drivers.I2C](dev.I2C())
	n.panel = sensor.NewPanel(i2c, cfg.Device.PanelAddr)

	// provisioning namespace
	if n.ns, err = NewStateNamespace(n.guard, n.clock, cfg.NineP.User, cfg.NineP.Group); err != nil {
		status.Set(StatNS, 0)
		return nil, err
	}
	return n, nil
}

// Guard returns the shared device state.
func (n *Node) Guard() *state.Guard {
	return n.guard
}

// Store returns the flash store.
func (n *Node) Store() *flash.Store {
	return n.store
}

// Volume returns the volume channel.
func (n *Node) Volume() *share.Latest[float32] {
	return n.volume
}

// Run connects the device and runs all tasks until ctx is done. Task
// failures are logged and shown on the status LED; only cancellation
// ends Run.
func (n *Node) Run(ctx context.Context) error {
	cfg := *n.cfg
	s := n.guard.Snapshot()
	cfg.STA = WifiConfig{SSID: s.STA.SSID, Password: s.STA.Password}
	cfg.AP = WifiConfig{SSID: s.AP.SSID, Password: s.AP.Password}
	if st := n.dev.Connect(&cfg, n.log.With(slog.String("task", "net"))); st != StatOK {
		n.status.Set(st, 0)
		n.log.Error("network setup failed", slog.Int("status", st))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.syncer.Run(ctx)
	})
	g.Go(func() error {
		conn, err := n.dev.ListenPacket(n.cfg.Lease.Port)
		if err != nil {
			n.status.Set(StatLEASE, 0)
			n.log.Error("lease server can't bind", slog.String("err", err.Error()))
			return nil
		}
		defer conn.Close()
		return n.leases.Serve(ctx, conn)
	})
	g.Go(func() error {
		return n.announce(ctx)
	})
	g.Go(func() error {
		return sensor.PublishVolume(ctx, n.pot, n.volume,
			time.Duration(n.cfg.Volume.Period), n.cfg.Volume.Hysteresis,
			n.log.With(slog.String("task", "volume")))
	})
	g.Go(func() error {
		log := n.log.With(slog.String("task", "display"))
		sub, err := n.volume.Subscribe()
		if err != nil {
			return err
		}
		defer sub.Close()
		if err = sensor.WaitPanel(ctx, n.panel, log); err != nil {
			return err
		}
		return sensor.DisplayVolume(ctx, n.panel, sub, log)
	})
	g.Go(func() error {
		lst, err := n.dev.Listen(n.cfg.NineP.Port)
		if err != nil {
			n.status.Set(StatLISTEN1, 0)
			n.log.Error("9p listener failed", slog.String("err", err.Error()))
			return nil
		}
		return n.ns.Serve(ctx, lst, n.log.With(slog.String("task", "9p")))
	})
	return g.Wait()
}

// announce logs every granted lease.
func (n *Node) announce(ctx context.Context) error {
	for {
		l, err := n.leased.Wait(ctx)
		if err != nil {
			return err
		}
		n.log.Info("client joined",
			slog.String("ip", l.Addr().String()),
			slog.String("mac", l.HardwareAddr().String()),
		)
	}
}

// sleep waits for d; false if ctx ended first.
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
