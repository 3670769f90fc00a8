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
	"strconv"
	"strings"
	"time"

	"github.com/bfix/teeny/state"
)

// NewStateNamespace builds the read-only provisioning tree over the live
// device state. Every read takes a fresh snapshot; passwords and tokens
// are never exposed.
//
//	/version           state format version
//	/ap/ssid           access point name
//	/ap/secured        "true" if the access point needs a password
//	/sta/ssid          upstream network name
//	/sta/secured       "true" if the upstream network needs a password
//	/leases            one "ip mac remaining" line per lease
//	/token/client_id   client id of the stored token (empty if none)
//	/token/expires     token expiry instant (empty if none)
func NewStateNamespace(g *state.Guard, clk state.Clock, user, group string) (*Namespace, error) {
	ns := NewNamespace(user, group)
	snap := func(fn func(s *state.DeviceState) string) File {
		return NewFuncFile(func() ([]byte, error) {
			s := g.Snapshot()
			return []byte(fn(&s) + "\n"), nil
		})
	}
	for _, d := range []string{"/ap", "/sta", "/token"} {
		if err := ns.NewDir(d, 0555); err != nil {
			return nil, err
		}
	}
	files := []struct {
		path string
		file File
	}{
		{"/version", snap(func(s *state.DeviceState) string {
			return strconv.Itoa(int(s.Version))
		})},
		{"/ap/ssid", snap(func(s *state.DeviceState) string { return s.AP.SSID })},
		{"/ap/secured", snap(func(s *state.DeviceState) string {
			return strconv.FormatBool(s.AP.Secured())
		})},
		{"/sta/ssid", snap(func(s *state.DeviceState) string { return s.STA.SSID })},
		{"/sta/secured", snap(func(s *state.DeviceState) string {
			return strconv.FormatBool(s.STA.Secured())
		})},
		{"/leases", NewFuncFile(func() ([]byte, error) {
			return []byte(FormatLeases(g.Leases(), clk.Now())), nil
		})},
		{"/token/client_id", snap(func(s *state.DeviceState) string {
			if !s.HasToken {
				return ""
			}
			return s.Token.ClientID
		})},
		{"/token/expires", snap(func(s *state.DeviceState) string {
			if !s.HasToken {
				return ""
			}
			return strconv.FormatUint(uint64(s.Token.Token.Expires), 10)
		})},
	}
	for _, f := range files {
		if err := ns.NewFile(f.path, 0444, f.file); err != nil {
			return nil, fmt.Errorf("%s: %w", f.path, err)
		}
	}
	return ns, nil
}

// FormatLeases lists leases one per line with their remaining time
// ("expired" once past).
func FormatLeases(leases []state.DhcpLease, now state.Instant) string {
	var sb strings.Builder
	for _, l := range leases {
		left := "expired"
		if !l.Expired(now) {
			left = l.Expires.Sub(now).Truncate(time.Second).String()
		}
		fmt.Fprintf(&sb, "%s %s %s\n", l.Addr(), l.HardwareAddr(), left)
	}
	return sb.String()
}
