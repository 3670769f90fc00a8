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

package teeny

import (
	"errors"
	"fmt"
	"log/slog"
	"machine"
	"net"
	"net/netip"
	"time"

	"github.com/bfix/teeny/flash"
	"github.com/bfix/teeny/sensor"
	"github.com/soypat/cyw43439"
	"github.com/soypat/seqs/eth/dhcp"
	"github.com/soypat/seqs/stacks"
	"tinygo.org/x/drivers"
)

const mtu = cyw43439.MTU

// Raspberry Pico2 W  [RP2350]
type Pico2WDevice struct {
	ref   *cyw43439.Device // reference to device
	flash *picoFlash
	i2c   *machine.I2C
	adc   machine.ADC
	stack *stacks.PortStack
	tap   *UDPTap
	ap    bool // radio runs its own access point
}

// InitDevice sets up the on-board peripherals. The WiFi chip is
// brought up later by Connect.
func InitDevice(cfg *Config) (Device, error) {
	dev := new(Pico2WDevice)
	dev.ref = cyw43439.NewPicoWDevice()

	size := uint32(min(machine.Flash.Size(), int64(cfg.Device.FlashSize)))
	ebs := uint32(machine.Flash.EraseBlockSize())
	dev.flash = &picoFlash{size: size / ebs * ebs}

	dev.i2c = machine.I2C0
	if err := dev.i2c.Configure(machine.I2CConfig{
		Frequency: 400 * machine.KHz,
		SDA:       machine.GP4,
		SCL:       machine.GP5,
	}); err != nil {
		return nil, fmt.Errorf("i2c: %w", err)
	}
	machine.InitADC()
	dev.adc = machine.ADC{Pin: machine.ADC0}
	dev.adc.Configure(machine.ADCConfig{})
	return dev, nil
}

// LED on or off (if applicable)
func (dev *Pico2WDevice) LED(on bool) {
	dev.ref.GPIOSet(0, on)
}

func (dev *Pico2WDevice) Flash() flash.Device { return dev.flash }
func (dev *Pico2WDevice) I2C() drivers.I2C    { return dev.i2c }
func (dev *Pico2WDevice) ADC() sensor.ADC     { return dev.adc }

// Connect joins the configured station network. If DHCP fails, the
// configured IP is used as static address.
func (dev *Pico2WDevice) Connect(cfg *Config, logger *slog.Logger) (state int) {
	time.Sleep(2 * time.Second)
	dev.stack, dev.tap, state = SetupWithDHCP(dev.ref, SetupConfig{
		Hostname:    cfg.Device.Hostname,
		RequestedIP: cfg.Device.IP,
		TCPPorts:    3,
		SSID:        cfg.STA.SSID,
		Passwd:      cfg.STA.Password,
		TapPort:     cfg.Lease.Port,
		Logger:      logger,
	})
	return
}

// Listen returns a TCP listener on the given port.
func (dev *Pico2WDevice) Listen(port uint16) (net.Listener, error) {
	if dev.stack == nil {
		return nil, errNoLink
	}
	listener, err := stacks.NewTCPListener(dev.stack, stacks.TCPListenerConfig{
		MaxConnections: 3,
		ConnTxBufSize:  512,
		ConnRxBufSize:  512,
	})
	if err != nil {
		return nil, err
	}
	if err = listener.StartListening(port); err != nil {
		return nil, err
	}
	return listener, nil
}

// ListenPacket returns the tap for the lease server port. Connect only
// joins the upstream network as a station, where offers from the lease
// server would race the router's, so the tap stays unbound until the
// radio runs an access point.
func (dev *Pico2WDevice) ListenPacket(port uint16) (net.PacketConn, error) {
	if !dev.ap {
		return nil, errNoAP
	}
	if dev.tap == nil {
		return nil, errNoLink
	}
	if port != dev.tap.port {
		return nil, fmt.Errorf("udp port %d: only %d is tapped", port, dev.tap.port)
	}
	return dev.tap, nil
}

var (
	errNoLink = errors.New("network not connected")
	errNoAP   = errors.New("lease server needs access point mode")
)

//----------------------------------------------------------------------

// picoFlash is the flash area behind the firmware image.
type picoFlash struct {
	size uint32
}

func (f *picoFlash) SizeBytes() uint32       { return f.size }
func (f *picoFlash) EraseBlockBytes() uint32 { return uint32(machine.Flash.EraseBlockSize()) }
func (f *picoFlash) WriteBlockBytes() uint32 { return uint32(machine.Flash.WriteBlockSize()) }

func (f *picoFlash) ReadAt(p []byte, off uint32) (int, error) {
	if uint64(off)+uint64(len(p)) > uint64(f.size) {
		return 0, flash.ErrOutOfRange
	}
	n, err := machine.Flash.ReadAt(p, int64(off))
	if err != nil {
		return n, fmt.Errorf("flash read at %d: %w", off, err)
	}
	return n, nil
}

func (f *picoFlash) WriteAt(p []byte, off uint32) (int, error) {
	if uint64(off)+uint64(len(p)) > uint64(f.size) {
		return 0, flash.ErrOutOfRange
	}
	n, err := machine.Flash.WriteAt(p, int64(off))
	if err != nil {
		return n, fmt.Errorf("flash write at %d: %w", off, err)
	}
	return n, nil
}

func (f *picoFlash) Erase(off, size uint32) error {
	ebs := f.EraseBlockBytes()
	if off%ebs != 0 || size%ebs != 0 {
		return flash.ErrUnaligned
	}
	if uint64(off)+uint64(size) > uint64(f.size) {
		return flash.ErrOutOfRange
	}
	return machine.Flash.EraseBlocks(int64(off/ebs), int64(size/ebs))
}

//======================================================================
// adapted from https://raw.githubusercontent.com/soypat/cyw43439,
// file '/examples/common/common.go'.
//======================================================================

type SetupConfig struct {
	// DHCP requested hostname.
	Hostname string
	// DHCP requested IP address. On failing to find DHCP server is used as static IP.
	RequestedIP string
	Logger      *slog.Logger
	// Number of UDP ports to open for the stack. (we'll actually open one more than this for DHCP)
	UDPPorts uint16
	// Number of TCP ports to open for the stack.
	TCPPorts uint16
	// UDP port diverted to the tap (lease server)
	TapPort uint16

	SSID   string
	Passwd string
}

func SetupWithDHCP(dev *cyw43439.Device, cfg SetupConfig) (*stacks.PortStack, *UDPTap, int) {
	cfg.UDPPorts++ // Add extra UDP port for DHCP client.
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var err error
	var reqAddr netip.Addr
	if cfg.RequestedIP != "" {
		reqAddr, err = netip.ParseAddr(cfg.RequestedIP)
		if err != nil {
			return nil, nil, StatIP
		}
	}
	if cfg.SSID == "" {
		logger.Error("no station network provisioned")
		return nil, nil, StatWPA2
	}

	wificfg := cyw43439.DefaultWifiConfig()
	wificfg.Logger = logger
	logger.Info("initializing pico W device...")
	devInitTime := time.Now()

	if err = dev.Init(wificfg); err != nil {
		return nil, nil, StatWIFI
	}
	logger.Info("cyw43439:Init", slog.Duration("duration", time.Since(devInitTime)))
	if len(cfg.Passwd) == 0 {
		logger.Info("joining open network:", slog.String("ssid", cfg.SSID))
	} else {
		logger.Info("joining WPA secure network", slog.String("ssid", cfg.SSID), slog.Int("passlen", len(cfg.Passwd)))
	}
	for range 5 {
		err = dev.JoinWPA2(cfg.SSID, cfg.Passwd)
		if err == nil {
			break
		}
		logger.Error("wifi join failed", slog.String("err", err.Error()))
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		return nil, nil, StatWPA2
	}
	mac, _ := dev.HardwareAddr6()
	logger.Info("wifi join success!", slog.String("mac", net.HardwareAddr(mac[:]).String()))

	stack := stacks.NewPortStack(stacks.PortStackConfig{
		MAC:             mac,
		MaxOpenPortsUDP: int(cfg.UDPPorts),
		MaxOpenPortsTCP: int(cfg.TCPPorts),
		MTU:             mtu,
		Logger:          logger,
	})
	tap := NewUDPTap(cfg.TapPort, mac, [4]byte{}, mtu)

	dev.RecvEthHandle(func(pkt []byte) error {
		if tap.Intercept(pkt) {
			return nil
		}
		return stack.RecvEth(pkt)
	})

	// Begin asynchronous packet handling.
	go nicLoop(dev, stack, tap)

	setAddr := func(ip netip.Addr) {
		stack.SetAddr(ip)
		tap.SetAddr(ip.As4())
	}

	// Perform DHCP request.
	dhcpClient := stacks.NewDHCPClient(stack, dhcp.DefaultClientPort)
	err = dhcpClient.BeginRequest(stacks.DHCPRequestConfig{
		RequestedAddr: reqAddr,
		Xid:           uint32(time.Now().Nanosecond()),
		Hostname:      cfg.Hostname,
	})
	if err != nil {
		return stack, tap, StatDHCP1
	}
	i := 0
	for dhcpClient.State() != dhcp.StateBound {
		i++
		logger.Info("DHCP ongoing...")
		time.Sleep(time.Second / 2)
		if i > 15 {
			if !reqAddr.IsValid() {
				return stack, tap, StatDHCP2
			}
			logger.Info("DHCP did not complete, assigning static IP", slog.String("ip", cfg.RequestedIP))
			setAddr(reqAddr)
			return stack, tap, StatOK
		}
	}
	ip := dhcpClient.Offer()
	logger.Info("DHCP complete",
		slog.Uint64("cidrbits", uint64(dhcpClient.CIDRBits())),
		slog.String("ourIP", ip.String()),
		slog.String("router", dhcpClient.Router().String()),
		slog.Duration("lease", dhcpClient.IPLeaseTime()),
	)

	setAddr(ip) // It's important to set the IP address after DHCP completes.
	return stack, tap, StatOK
}

func nicLoop(dev *cyw43439.Device, Stack *stacks.PortStack, tap *UDPTap) {
	// Maximum number of packets to queue before sending them.
	const (
		queueSize                = 3
		maxRetriesBeforeDropping = 3
	)
	var queue [queueSize][mtu]byte
	var lenBuf [queueSize]int
	var retries [queueSize]int
	markSent := func(i int) {
		lenBuf[i] = 0
		retries[i] = 0
	}
	for {
		stallRx := true
		// Poll for incoming packets.
		for i := 0; i < 1; i++ {
			gotPacket, err := dev.PollOne()
			if err != nil {
				println("poll error:", err.Error())
			}
			if !gotPacket {
				break
			}
			stallRx = false
		}

		// Lease server replies bypass the stack.
		stallTap := true
		for frame, ok := tap.Frame(); ok; frame, ok = tap.Frame() {
			stallTap = false
			if err := dev.SendEth(frame); err != nil {
				println("dropped lease reply:", err.Error())
			}
		}

		// Queue packets to be sent.
		for i := range queue {
			if retries[i] != 0 {
				continue // Packet currently queued for retransmission.
			}
			var err error
			buf := queue[i][:]
			lenBuf[i], err = Stack.HandleEth(buf[:])
			if err != nil {
				println("stack error n(should be 0)=", lenBuf[i], "err=", err.Error())
				lenBuf[i] = 0
				continue
			}
			if lenBuf[i] == 0 {
				break
			}
		}
		stallTx := lenBuf == [queueSize]int{}
		if stallTx {
			if stallRx && stallTap {
				// Avoid busy waiting when both Rx and Tx stall.
				time.Sleep(51 * time.Millisecond)
			}
			continue
		}

		// Send queued packets.
		for i := range queue {
			n := lenBuf[i]
			if n <= 0 {
				continue
			}
			err := dev.SendEth(queue[i][:n])
			if err != nil {
				// Queue packet for retransmission.
				retries[i]++
				if retries[i] > maxRetriesBeforeDropping {
					markSent(i)
					println("dropped outgoing packet:", err.Error())
				}
			} else {
				markSent(i)
			}
		}
	}
}
