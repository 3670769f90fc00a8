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
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/bfix/teeny/flash"
	"github.com/bfix/teeny/lease"
	"github.com/bfix/teeny/sensor"
	"github.com/bfix/teeny/state"
)

// Duration is a time.Duration read from and written as "5s"-style text.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

//----------------------------------------------------------------------

// Config holds all configuration for the node
type Config struct {
	Device DeviceConfig `toml:"device"`
	AP     WifiConfig   `toml:"ap"`
	STA    WifiConfig   `toml:"sta"`
	Lease  LeaseConfig  `toml:"lease"`
	NineP  NinePConfig  `toml:"ninep"`
	Sync   SyncConfig   `toml:"sync"`
	Volume VolumeConfig `toml:"volume"`
	Log    LogConfig    `toml:"log"`
}

// DeviceConfig holds identity and flash geometry
type DeviceConfig struct {
	Hostname   string `toml:"hostname"`
	IP         string `toml:"ip"` // static fallback address of the station link
	FlashImage string `toml:"flash_image"`
	FlashSize  uint32 `toml:"flash_size"`
	EraseBlock uint32 `toml:"erase_block"`
	WriteBlock uint32 `toml:"write_block"`
	PanelAddr  uint16 `toml:"panel_addr"`
}

// WifiConfig holds network credentials
type WifiConfig struct {
	SSID     string `toml:"ssid"`
	Password string `toml:"password"`
}

// LeaseConfig holds the lease server settings
type LeaseConfig struct {
	Port       uint16   `toml:"port"`
	Server     string   `toml:"server"`
	Address    string   `toml:"address"`
	Pool       int      `toml:"pool"`
	PrefixLen  int      `toml:"prefix_len"`
	LeaseTime  Duration `toml:"lease_time"`
	RenewTime  Duration `toml:"renew_time"`
	RebindTime Duration `toml:"rebind_time"`
	Allow      []string `toml:"allow"`
	Filter     bool     `toml:"filter"`
}

// NinePConfig holds the provisioning namespace settings
type NinePConfig struct {
	Port  uint16 `toml:"port"`
	User  string `toml:"user"`
	Group string `toml:"group"`
}

// SyncConfig holds the persistence settings
type SyncConfig struct {
	Interval Duration `toml:"interval"`
}

// VolumeConfig holds the potentiometer calibration
type VolumeConfig struct {
	Min        uint16   `toml:"min"`
	Max        uint16   `toml:"max"`
	Period     Duration `toml:"period"`
	Hysteresis float32  `toml:"hysteresis"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `toml:"level"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	cfg := &Config{
		Lease: LeaseConfig{Filter: true},
	}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	dl := lease.DefaultConfig()
	if c.Device.Hostname == "" {
		c.Device.Hostname = "teeny"
	}
	if c.Device.FlashImage == "" {
		c.Device.FlashImage = "teeny.flash"
	}
	if c.Device.FlashSize == 0 {
		c.Device.FlashSize = 64 * 1024
	}
	if c.Device.EraseBlock == 0 {
		c.Device.EraseBlock = 4096
	}
	if c.Device.WriteBlock == 0 {
		c.Device.WriteBlock = 4
	}
	if c.Device.PanelAddr == 0 {
		c.Device.PanelAddr = sensor.PanelAddress
	}
	if c.AP.SSID == "" {
		c.AP.SSID = "Teeny"
	}
	if c.Lease.Port == 0 {
		c.Lease.Port = lease.ServerPort
	}
	if c.Lease.Server == "" {
		c.Lease.Server = dl.ServerIP.String()
	}
	if c.Lease.Address == "" {
		c.Lease.Address = dl.Address.String()
	}
	if c.Lease.Pool == 0 {
		c.Lease.Pool = dl.PoolSize
	}
	if c.Lease.PrefixLen == 0 {
		c.Lease.PrefixLen = 24
	}
	if c.Lease.LeaseTime == 0 {
		c.Lease.LeaseTime = Duration(dl.LeaseTime)
	}
	if c.Lease.RenewTime == 0 {
		c.Lease.RenewTime = Duration(dl.RenewTime)
	}
	if c.Lease.RebindTime == 0 {
		c.Lease.RebindTime = Duration(dl.RebindTime)
	}
	if c.Lease.Allow == nil {
		for _, hw := range dl.Allow {
			c.Lease.Allow = append(c.Lease.Allow, hw.String())
		}
	}
	if c.NineP.Port == 0 {
		c.NineP.Port = 564
	}
	if c.NineP.User == "" {
		c.NineP.User = "sys"
	}
	if c.NineP.Group == "" {
		c.NineP.Group = "sys"
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = Duration(flash.DefaultSyncInterval)
	}
	if c.Volume.Max == 0 {
		c.Volume.Max = 2754
	}
	if c.Volume.Period == 0 {
		c.Volume.Period = Duration(sensor.VolumePeriod)
	}
	if c.Volume.Hysteresis == 0 {
		c.Volume.Hysteresis = sensor.VolumeHysteresis
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// LeaseServer converts the lease section into a validated server config.
func (c *Config) LeaseServer() (cfg lease.Config, err error) {
	cfg = lease.Config{
		ServerIP:   net.ParseIP(c.Lease.Server),
		Address:    net.ParseIP(c.Lease.Address),
		PoolSize:   c.Lease.Pool,
		Netmask:    net.CIDRMask(c.Lease.PrefixLen, 32),
		LeaseTime:  time.Duration(c.Lease.LeaseTime),
		RenewTime:  time.Duration(c.Lease.RenewTime),
		RebindTime: time.Duration(c.Lease.RebindTime),
		ClientPort: lease.ClientPort,
		Filter:     c.Lease.Filter,
	}
	if cfg.Netmask == nil {
		return cfg, fmt.Errorf("lease prefix length %d invalid", c.Lease.PrefixLen)
	}
	for _, s := range c.Lease.Allow {
		hw, err := net.ParseMAC(s)
		if err != nil {
			return cfg, fmt.Errorf("lease allow-list: %w", err)
		}
		cfg.Allow = append(cfg.Allow, hw)
	}
	err = cfg.Validate()
	return
}

// LogLevel parses the configured log level.
func (c *Config) LogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Seed fills unset credentials of a loaded state from the configuration.
// It reports whether the state was changed.
func (c *Config) Seed(s *state.DeviceState) (bool, error) {
	changed := false
	if s.AP.SSID == "" && c.AP.SSID != "" {
		creds, err := state.NewWifiCredentials(c.AP.SSID, c.AP.Password)
		if err != nil {
			return false, fmt.Errorf("ap: %w", err)
		}
		s.AP, changed = creds, true
	}
	if s.STA.SSID == "" && c.STA.SSID != "" {
		creds, err := state.NewWifiCredentials(c.STA.SSID, c.STA.Password)
		if err != nil {
			return false, fmt.Errorf("sta: %w", err)
		}
		s.STA, changed = creds, true
	}
	return changed, nil
}
