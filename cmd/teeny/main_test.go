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

package main

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/bfix/teeny/state"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewMasksSecrets(t *testing.T) {
	s := state.Default()
	s.SavedAt = state.Instant(0).Add(time.Minute)
	s.AP = state.WifiCredentials{SSID: "Teeny", Password: "ap-secret"}
	s.STA = state.WifiCredentials{SSID: "home"}
	s.Token = state.TokenRecord{
		Token:    state.AccessToken{AccessToken: "abc", RefreshToken: "def", Expires: s.SavedAt.Add(time.Hour)},
		ClientID: "client",
	}
	s.HasToken = true
	l, err := state.NewLease(net.IPv4(192, 168, 2, 100), net.HardwareAddr{2, 0, 0, 0, 0, 1}, s.SavedAt.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.Leases.Upsert(l, s.SavedAt))

	v := viewOf(&s, false)
	assert.Equal(t, "*********", v.AP.Password)
	assert.Equal(t, "", v.STA.Password)
	require.NotNil(t, v.Token)
	assert.Equal(t, "***", v.Token.AccessToken)
	assert.Equal(t, "client", v.Token.ClientID)
	assert.Equal(t, "1h1m0s", v.Token.Expires)
	assert.Equal(t, []string{"192.168.2.100 02:00:00:00:00:01 1h0m0s"}, v.Leases)

	out, err := toml.Marshal(v)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "ap-secret")

	v = viewOf(&s, true)
	assert.Equal(t, "ap-secret", v.AP.Password)
	assert.Equal(t, "def", v.Token.RefreshToken)
}

func TestViewWithoutToken(t *testing.T) {
	s := state.Default()
	v := viewOf(&s, false)
	assert.Nil(t, v.Token)
	assert.Empty(t, v.Leases)

	out, err := toml.Marshal(v)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(out), "[token]"))
}

func provisioned(t *testing.T, args ...string) state.DeviceState {
	t.Helper()
	s := state.Default()
	s.AP = state.WifiCredentials{SSID: "Teeny", Password: "ap-secret"}
	s.STA = state.WifiCredentials{SSID: "home", Password: "sta-secret"}
	g := state.NewGuard(s)

	cmd := provisionCmd()
	require.NoError(t, cmd.Flags().Parse(args))
	require.NoError(t, provision(cmd, g))
	return g.Snapshot()
}

func TestProvisionKeepsPassword(t *testing.T) {
	s := provisioned(t, "--ap-ssid", "Kitchen", "--sta-ssid", "office")
	assert.Equal(t, state.WifiCredentials{SSID: "Kitchen", Password: "ap-secret"}, s.AP)
	assert.Equal(t, state.WifiCredentials{SSID: "office", Password: "sta-secret"}, s.STA)
	assert.True(t, s.AP.Secured())
	assert.True(t, s.STA.Secured())
}

func TestProvisionPasswordOnly(t *testing.T) {
	s := provisioned(t, "--sta-pass", "new-secret")
	assert.Equal(t, state.WifiCredentials{SSID: "home", Password: "new-secret"}, s.STA)
	assert.Equal(t, "ap-secret", s.AP.Password)

	// an explicitly empty password opens the network
	s = provisioned(t, "--ap-pass", "")
	assert.False(t, s.AP.Secured())
	assert.Equal(t, "Teeny", s.AP.SSID)
}

func TestProvisionToken(t *testing.T) {
	s := provisioned(t, "--client-id", "client", "--access-token", "abc", "--expires", "2h")
	require.True(t, s.HasToken)
	assert.Equal(t, "abc", s.Token.Token.AccessToken)
	assert.Equal(t, state.Instant(0).Add(2*time.Hour), s.Token.Token.Expires)

	s = provisioned(t, "--clear-token")
	assert.False(t, s.HasToken)

	cmd := provisionCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--sta-ssid", strings.Repeat("x", 40)}))
	assert.ErrorIs(t, provision(cmd, state.NewGuard(state.Default())), state.ErrTooLong)
}
