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
	"net"
	"testing"
	"time"

	"git.sr.ht/~moody/ninep"
	"github.com/bfix/teeny/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// build a test namespace
func newNamespace(t *testing.T) *Namespace {
	ns := NewNamespace("sys", "sys")
	require.NoError(t, ns.NewFile("/readme", 0444, NewTextFile("Just a test...\n")))
	require.NoError(t, ns.NewDir("/sensors", 0777))
	n := 0
	require.NoError(t, ns.NewFile("/sensors/count", 0444, NewFuncFile(
		func() ([]byte, error) {
			n++
			return []byte(fmt.Sprintf("%d\n", n)), nil
		},
	)))
	return ns
}

func readFile(t *testing.T, ns *Namespace, p string) string {
	t.Helper()
	e, err := ns.Get(p)
	require.NoError(t, err)
	require.False(t, e.IsDir(), p)
	data, err := e.file.Read()
	require.NoError(t, err)
	return string(data)
}

func TestNamespaceNew(t *testing.T) {
	ns := newNamespace(t)

	root := ns.Root()
	require.NotNil(t, root)
	assert.True(t, root.IsDir())
	assert.Equal(t, uint32(0555|ninep.DMDir), root.ref.Mode)

	assert.Equal(t, "Just a test...\n", readFile(t, ns, "/readme"))
	assert.Equal(t, "1\n", readFile(t, ns, "/sensors/count"))
	assert.Equal(t, "2\n", readFile(t, ns, "/sensors//count"))

	dir, err := ns.Get("/sensors")
	require.NoError(t, err)
	assert.True(t, dir.IsDir())
	assert.Equal(t, "sensors", dir.Name())
	assert.Equal(t, byte(ninep.QTDir), dir.ref.Qid.Type)
}

func TestNamespaceErrors(t *testing.T) {
	ns := newNamespace(t)

	_, err := ns.Get("readme")
	assert.ErrorIs(t, err, errNoAbs)
	_, err = ns.Get("/missing")
	assert.ErrorIs(t, err, errNoFile)
	_, err = ns.Get("/readme/deeper")
	assert.ErrorIs(t, err, errNoDir)

	assert.ErrorIs(t, ns.NewDir("/sensors", 0555), errExists)
	assert.ErrorIs(t, ns.NewDir("/", 0555), errExists)
	assert.ErrorIs(t, ns.NewDir("/nowhere/dir", 0555), errNoFile)
	assert.ErrorIs(t, ns.NewFile("/readme/x", 0444, NewTextFile("")), errNoDir)
	assert.ErrorIs(t, ns.NewFile("/empty", 0444, nil), errNoFile)
	assert.ErrorIs(t, ns.NewFile("rel", 0444, NewTextFile("")), errNoAbs)
}

func TestNamespaceWalk(t *testing.T) {
	ns := newNamespace(t)
	root := ns.Root()

	q := ns.Walk(&root.ref.Qid, "sensors")
	require.NotNil(t, q)
	q = ns.Walk(q, "count")
	require.NotNil(t, q)
	assert.Equal(t, byte(ninep.QTFile), q.Type)

	assert.Nil(t, ns.Walk(q, "anything"))
	assert.Nil(t, ns.Walk(&root.ref.Qid, "missing"))
	assert.Nil(t, ns.Walk(&ninep.Qid{Path: 99}, "readme"))
}

func TestNamespaceListing(t *testing.T) {
	ns := newNamespace(t)
	require.NoError(t, ns.NewDir("/alpha", 0555))

	var names []string
	for _, d := range ns.Root().listing() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"alpha", "readme", "sensors"}, names)
}

func TestStateNamespace(t *testing.T) {
	s := state.Default()
	s.AP = state.WifiCredentials{SSID: "Teeny"}
	s.STA = state.WifiCredentials{SSID: "home", Password: "secret-pass"}
	g := state.NewGuard(s)
	clk := state.NewManualClock(0)

	ns, err := NewStateNamespace(g, clk, "sys", "sys")
	require.NoError(t, err)

	assert.Equal(t, "0\n", readFile(t, ns, "/version"))
	assert.Equal(t, "Teeny\n", readFile(t, ns, "/ap/ssid"))
	assert.Equal(t, "false\n", readFile(t, ns, "/ap/secured"))
	assert.Equal(t, "home\n", readFile(t, ns, "/sta/ssid"))
	assert.Equal(t, "true\n", readFile(t, ns, "/sta/secured"))
	assert.Equal(t, "\n", readFile(t, ns, "/token/client_id"))
	assert.Equal(t, "", readFile(t, ns, "/leases"))

	// files follow the live state
	require.NoError(t, g.SetToken(state.TokenRecord{
		Token:    state.AccessToken{AccessToken: "a", Expires: 42},
		ClientID: "client",
	}))
	l, err := state.NewLease(net.IPv4(192, 168, 2, 100),
		net.HardwareAddr{0x5c, 0xe9, 0xfe, 0xac, 0xd5, 0xdf}, state.Instant(0).Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, g.Update(func(s *state.DeviceState) error {
		return s.Leases.Upsert(l, clk.Now())
	}))
	assert.Equal(t, "client\n", readFile(t, ns, "/token/client_id"))
	assert.Equal(t, "42\n", readFile(t, ns, "/token/expires"))
	assert.Equal(t, "192.168.2.100 5c:e9:fe:ac:d5:df 1h0m0s\n", readFile(t, ns, "/leases"))

	// no secrets exposed
	for _, p := range []string{"/ap/password", "/sta/password", "/token/access_token"} {
		_, err := ns.Get(p)
		assert.ErrorIs(t, err, errNoFile, p)
	}
}

func TestFormatLeases(t *testing.T) {
	mk := func(last byte, exp state.Instant) state.DhcpLease {
		l, err := state.NewLease(net.IPv4(10, 0, 0, last), net.HardwareAddr{2, 0, 0, 0, 0, last}, exp)
		require.NoError(t, err)
		return l
	}
	now := state.Instant(0).Add(10 * time.Second)
	out := FormatLeases([]state.DhcpLease{
		mk(1, now.Add(90*time.Second+500*time.Millisecond)),
		mk(2, now),
	}, now)
	assert.Equal(t, "10.0.0.1 02:00:00:00:00:01 1m30s\n10.0.0.2 02:00:00:00:00:02 expired\n", out)
}
