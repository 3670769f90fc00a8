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

// Package lease implements the subset of a DHCPv4 server needed to hand
// out addresses on the device's own network: Discover/Offer,
// Request/Ack|Nak and Release. Issued leases live in the shared device
// state and are persisted with it.
package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/bfix/teeny/share"
	"github.com/bfix/teeny/state"
	"github.com/insomniacslk/dhcp/dhcpv4"
)

// Error codes for dropped packets
var (
	ErrMalformed     = errors.New("malformed DHCP packet")
	ErrZeroMAC       = errors.New("zero client hardware address")
	ErrNotAllowed    = errors.New("client not allow-listed")
	ErrOtherServer   = errors.New("request addressed to another server")
	ErrUnsupported   = errors.New("unsupported DHCP message type")
	ErrPoolExhausted = errors.New("address pool exhausted")
)

// Backoff after transport errors.
const Backoff = time.Second

// maxPacket is the receive buffer size (one Ethernet MTU).
const maxPacket = 1536

// Reply to send back; a nil Data means no reply.
type Reply struct {
	Data []byte
	Dst  *net.UDPAddr
	Type dhcpv4.MessageType
}

// Server answers DHCPv4 requests from the configured pool.
type Server struct {
	cfg   Config
	guard *state.Guard
	clock state.Clock
	log   *slog.Logger

	// Leased is signalled with every acknowledged lease (optional).
	Leased *share.Signal[state.DhcpLease]
}

// NewServer creates a lease server over the shared device state.
func NewServer(cfg Config, guard *state.Guard, clk state.Clock, log *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Server{
		cfg:   cfg,
		guard: guard,
		clock: clk,
		log:   log,
	}, nil
}

// Config returns the validated server configuration.
func (srv *Server) Config() Config {
	return srv.cfg
}

// Handle processes one received packet and returns the reply to send.
// Packets that are dropped return an error and an empty reply.
func (srv *Server) Handle(pkt []byte) (Reply, error) {
	req, err := dhcpv4.FromBytes(pkt)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if req.OpCode != dhcpv4.OpcodeBootRequest {
		return Reply{}, fmt.Errorf("%w: op code %v", ErrMalformed, req.OpCode)
	}
	if len(req.ClientHWAddr) != 6 {
		return Reply{}, fmt.Errorf("%w: hardware address length %d", ErrMalformed, len(req.ClientHWAddr))
	}
	var mac [6]byte
	copy(mac[:], req.ClientHWAddr)
	if mac == ([6]byte{}) {
		return Reply{}, ErrZeroMAC
	}
	if srv.cfg.Filter && !srv.cfg.allowed(req.ClientHWAddr) {
		return Reply{}, fmt.Errorf("%w: %s", ErrNotAllowed, req.ClientHWAddr)
	}

	switch mt := req.MessageType(); mt {
	case dhcpv4.MessageTypeDiscover:
		return srv.offer(req, mac)
	case dhcpv4.MessageTypeRequest:
		return srv.request(req, mac)
	case dhcpv4.MessageTypeRelease:
		srv.release(req, mac)
		return Reply{}, nil
	default:
		return Reply{}, fmt.Errorf("%w: %s", ErrUnsupported, mt)
	}
}

// offer answers a Discover with the client's address.
func (srv *Server) offer(req *dhcpv4.DHCPv4, mac [6]byte) (Reply, error) {
	ip, ok := srv.pick(mac)
	if !ok {
		return Reply{}, ErrPoolExhausted
	}
	return srv.reply(req, dhcpv4.MessageTypeOffer, ip)
}

// request commits a lease (Ack) or refuses the requested address (Nak).
func (srv *Server) request(req *dhcpv4.DHCPv4, mac [6]byte) (Reply, error) {
	if sid := req.ServerIdentifier(); sid != nil && !sid.Equal(srv.cfg.ServerIP) {
		return Reply{}, fmt.Errorf("%w: %s", ErrOtherServer, sid)
	}
	want := req.RequestedIPAddress()
	if want == nil && req.ClientIPAddr != nil && !req.ClientIPAddr.IsUnspecified() {
		// renewing clients name their address in ciaddr
		want = req.ClientIPAddr
	}
	var ip [4]byte
	if want != nil {
		if w4 := want.To4(); w4 != nil {
			copy(ip[:], w4)
		}
		if !srv.cfg.inPool(ip) {
			srv.log.Warn("DHCP request for foreign address",
				slog.String("mac", net.HardwareAddr(mac[:]).String()),
				slog.String("ip", want.String()),
			)
			return srv.nak(req)
		}
	} else {
		var ok bool
		if ip, ok = srv.pick(mac); !ok {
			return srv.nak(req)
		}
	}

	now := srv.clock.Now()
	l := state.DhcpLease{IP: ip, MAC: mac, Expires: now.Add(srv.cfg.LeaseTime)}
	err := srv.guard.Update(func(s *state.DeviceState) error {
		if heldByOther(s.Leases.All(), ip, mac, now) {
			return fmt.Errorf("%w: %s in use", ErrPoolExhausted, l.Addr())
		}
		return s.Leases.Upsert(l, now)
	})
	if err != nil {
		srv.log.Warn("DHCP lease refused",
			slog.String("mac", l.HardwareAddr().String()),
			slog.String("err", err.Error()),
		)
		return srv.nak(req)
	}
	if srv.Leased != nil {
		srv.Leased.Signal(l)
	}
	srv.log.Info("DHCP lease granted",
		slog.String("mac", l.HardwareAddr().String()),
		slog.String("ip", l.Addr().String()),
		slog.Duration("time", srv.cfg.LeaseTime),
	)
	return srv.reply(req, dhcpv4.MessageTypeAck, ip)
}

// release drops the client's lease.
func (srv *Server) release(req *dhcpv4.DHCPv4, mac [6]byte) {
	var removed bool
	_ = srv.guard.Update(func(s *state.DeviceState) error {
		removed = s.Leases.Remove(mac)
		return nil
	})
	srv.log.Info("DHCP lease released",
		slog.String("mac", req.ClientHWAddr.String()),
		slog.Bool("known", removed),
	)
}

// pick selects the client's current address or the first free pool
// address. A previous address that another client holds by now is not
// offered again.
func (srv *Server) pick(mac [6]byte) (ip [4]byte, ok bool) {
	now := srv.clock.Now()
	leases := srv.guard.Leases()
	for _, l := range leases {
		if l.MAC == mac && srv.cfg.inPool(l.IP) && !heldByOther(leases, l.IP, mac, now) {
			return l.IP, true
		}
	}
	for i := range srv.cfg.PoolSize {
		ip = srv.cfg.poolAddr(i)
		if !heldByOther(leases, ip, mac, now) {
			return ip, true
		}
	}
	return ip, false
}

// heldByOther reports whether a client other than mac holds a live
// lease on ip.
func heldByOther(leases []state.DhcpLease, ip [4]byte, mac [6]byte, now state.Instant) bool {
	for _, l := range leases {
		if l.IP == ip && l.MAC != mac && !l.Expired(now) {
			return true
		}
	}
	return false
}

// reply builds an Offer or Ack carrying the full option set.
func (srv *Server) reply(req *dhcpv4.DHCPv4, mt dhcpv4.MessageType, ip [4]byte) (Reply, error) {
	yiaddr := net.IP(ip[:])
	resp, err := dhcpv4.NewReplyFromRequest(req,
		dhcpv4.WithMessageType(mt),
		dhcpv4.WithYourIP(yiaddr),
		dhcpv4.WithServerIP(srv.cfg.ServerIP),
		dhcpv4.WithRouter(srv.cfg.ServerIP),
		dhcpv4.WithNetmask(srv.cfg.Netmask),
		dhcpv4.WithDNS(srv.cfg.DNS...),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(srv.cfg.ServerIP)),
		dhcpv4.WithLeaseTime(uint32(srv.cfg.LeaseTime/time.Second)),
		dhcpv4.WithOption(dhcpv4.Option{
			Code:  dhcpv4.OptionRenewTimeValue,
			Value: dhcpv4.Duration(srv.cfg.RenewTime),
		}),
		dhcpv4.WithOption(dhcpv4.Option{
			Code:  dhcpv4.OptionRebindingTimeValue,
			Value: dhcpv4.Duration(srv.cfg.RebindTime),
		}),
	)
	if err != nil {
		return Reply{}, err
	}
	dst := net.IPv4bcast
	if srv.cfg.allowed(clientIdentity(req)) {
		dst = yiaddr
	}
	return Reply{
		Data: resp.ToBytes(),
		Dst:  &net.UDPAddr{IP: dst, Port: srv.cfg.ClientPort},
		Type: mt,
	}, nil
}

// nak refuses a request; always broadcast as the client has no address.
func (srv *Server) nak(req *dhcpv4.DHCPv4) (Reply, error) {
	resp, err := dhcpv4.NewReplyFromRequest(req,
		dhcpv4.WithMessageType(dhcpv4.MessageTypeNak),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(srv.cfg.ServerIP)),
	)
	if err != nil {
		return Reply{}, err
	}
	return Reply{
		Data: resp.ToBytes(),
		Dst:  &net.UDPAddr{IP: net.IPv4bcast, Port: srv.cfg.ClientPort},
		Type: dhcpv4.MessageTypeNak,
	}, nil
}

// clientIdentity returns the hardware address named in the client
// identifier option (type 1, Ethernet), else the chaddr.
func clientIdentity(req *dhcpv4.DHCPv4) net.HardwareAddr {
	id := req.GetOneOption(dhcpv4.OptionClientIdentifier)
	switch {
	case len(id) == 7 && id[0] == 1:
		return net.HardwareAddr(id[1:])
	case len(id) == 6:
		return net.HardwareAddr(id)
	}
	return req.ClientHWAddr
}

//----------------------------------------------------------------------

// Serve runs the receive loop on conn until ctx is cancelled. Dropped
// packets are logged; transport errors are logged and retried after
// Backoff.
func (srv *Server) Serve(ctx context.Context, conn net.PacketConn) error {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, maxPacket)
	srv.log.Info("DHCP server running",
		slog.String("addr", conn.LocalAddr().String()),
		slog.String("pool", srv.cfg.Address.String()),
	)
	for {
		n, from, err := conn.ReadFrom(buf)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			srv.log.Error("DHCP receive failed", slog.String("err", err.Error()))
			if !sleep(ctx, Backoff) {
				return ctx.Err()
			}
			continue
		}
		rpl, err := srv.Handle(buf[:n])
		if err != nil {
			srv.log.Warn("DHCP packet dropped",
				slog.String("from", from.String()),
				slog.String("err", err.Error()),
			)
			continue
		}
		if rpl.Data == nil {
			continue
		}
		if _, err = conn.WriteTo(rpl.Data, rpl.Dst); err != nil {
			srv.log.Error("DHCP send failed",
				slog.String("to", rpl.Dst.String()),
				slog.String("err", err.Error()),
			)
			if !sleep(ctx, Backoff) {
				return ctx.Err()
			}
			continue
		}
		srv.log.Debug("DHCP reply sent",
			slog.String("type", rpl.Type.String()),
			slog.String("to", rpl.Dst.String()),
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
