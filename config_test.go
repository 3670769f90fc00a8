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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bfix/teeny/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Setenv(EnvSSID, "")
	t.Setenv(EnvPassword, "")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "teeny", cfg.Device.Hostname)
	assert.Equal(t, uint16(67), cfg.Lease.Port)
	assert.Equal(t, uint16(564), cfg.NineP.Port)
	assert.True(t, cfg.Lease.Filter)
	assert.Equal(t, []string{"5c:e9:fe:ac:d5:df"}, cfg.Lease.Allow)
	assert.Equal(t, Duration(5*time.Second), cfg.Sync.Interval)

	lc, err := cfg.LeaseServer()
	require.NoError(t, err)
	assert.Equal(t, net.IPv4(192, 168, 2, 1).To4(), lc.ServerIP)
	assert.Equal(t, net.IPv4(192, 168, 2, 100).To4(), lc.Address)
	assert.Equal(t, net.CIDRMask(24, 32), lc.Netmask)
	assert.Equal(t, 24*time.Hour, lc.LeaseTime)
	assert.Equal(t, 12*time.Hour, lc.RenewTime)
	assert.Equal(t, 21*time.Hour, lc.RebindTime)
	require.Len(t, lc.Allow, 1)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel())
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "teeny.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[device]
hostname = "kitchen"
flash_image = "/tmp/kitchen.flash"

[lease]
address = "192.168.2.150"
pool = 4
lease_time = "2h"
renew_time = "1h"
rebind_time = "90m"
allow = ["02:00:00:00:00:01", "02:00:00:00:00:02"]
filter = false

[log]
level = "debug"
`), 0600))
	env := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(env, []byte("SSID=home\nPASSWORD=secret-pass\n"), 0600))

	cfg, err := LoadConfig(path, env)
	require.NoError(t, err)
	assert.Equal(t, "kitchen", cfg.Device.Hostname)
	assert.Equal(t, "/tmp/kitchen.flash", cfg.Device.FlashImage)
	assert.Equal(t, uint32(64*1024), cfg.Device.FlashSize)
	assert.Equal(t, 4, cfg.Lease.Pool)
	assert.Equal(t, Duration(2*time.Hour), cfg.Lease.LeaseTime)
	assert.False(t, cfg.Lease.Filter)
	assert.Equal(t, "home", cfg.STA.SSID)
	assert.Equal(t, "secret-pass", cfg.STA.Password)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())

	lc, err := cfg.LeaseServer()
	require.NoError(t, err)
	assert.Equal(t, 4, lc.PoolSize)
	assert.Equal(t, 90*time.Minute, lc.RebindTime)
	assert.Len(t, lc.Allow, 2)

	// process environment wins over the env file
	t.Setenv(EnvSSID, "office")
	cfg, err = LoadConfig(path, env)
	require.NoError(t, err)
	assert.Equal(t, "office", cfg.STA.SSID)
	assert.Equal(t, "secret-pass", cfg.STA.Password)
}

func TestLoadConfigMissing(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfg, err := LoadConfig(filepath.Join(dir, "none.toml"), filepath.Join(dir, "none.env"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigBad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[sync]\ninterval = \"soon\"\n"), 0600))
	_, err := LoadConfig(path, "")
	assert.Error(t, err)
}

func TestConfigSave(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "teeny.toml")
	cfg := DefaultConfig()
	cfg.Device.Hostname = "hall"
	cfg.Lease.RenewTime = Duration(6 * time.Hour)
	require.NoError(t, cfg.Save(path))

	back, err := LoadConfig(path, "")
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestLeaseServerInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lease.Allow = []string{"not-a-mac"}
	_, err := cfg.LeaseServer()
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Lease.PrefixLen = 40
	_, err = cfg.LeaseServer()
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Lease.RenewTime = Duration(48 * time.Hour)
	_, err = cfg.LeaseServer()
	assert.Error(t, err)
}

func TestConfigSeed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.STA = WifiConfig{SSID: "home", Password: "secret-pass"}

	s := state.Default()
	changed, err := cfg.Seed(&s)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "Teeny", s.AP.SSID)
	assert.Equal(t, "home", s.STA.SSID)

	// provisioned credentials are never overwritten
	cfg.STA.SSID = "other"
	changed, err = cfg.Seed(&s)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "home", s.STA.SSID)

	cfg.STA.SSID = string(make([]byte, 200))
	fresh := state.Default()
	_, err = cfg.Seed(&fresh)
	assert.ErrorIs(t, err, state.ErrTooLong)
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, Duration(90*time.Second), d)
	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(b))
	assert.Error(t, d.UnmarshalText([]byte("later")))
}
