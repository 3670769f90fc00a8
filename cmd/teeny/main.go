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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bfix/teeny"
	"github.com/bfix/teeny/flash"
	"github.com/bfix/teeny/state"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	envFile  string
	logLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "teeny",
		Short: "Teeny node - provisioning, lease server and volume panel",
		Long: `Host build of the teeny node. The flash store is emulated by an image
file; the lease server and 9P namespace bind regular sockets.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "teeny.toml", "config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "file with SSID/PASSWORD overrides")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(dumpCmd())
	rootCmd.AddCommand(provisionCmd())
	rootCmd.AddCommand(leasesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*teeny.Config, error) {
	cfg, err := teeny.LoadConfig(cfgFile, envFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// openStore opens the flash image named in the config.
func openStore(cfg *teeny.Config) (*flash.FileDevice, *flash.Store, error) {
	dev, err := flash.OpenFile(cfg.Device.FlashImage, cfg.Device.FlashSize, cfg.Device.EraseBlock, cfg.Device.WriteBlock)
	if err != nil {
		return nil, nil, err
	}
	st, err := flash.NewStore(dev, flash.DefaultLayout(dev))
	if err != nil {
		dev.Close()
		return nil, nil, err
	}
	return dev, st, nil
}

// loadState reads the persisted state; an empty image yields the
// first-boot state.
func loadState(st *flash.Store) (state.DeviceState, error) {
	s, err := st.Read()
	if errors.Is(err, flash.ErrNoState) {
		return state.Default(), nil
	}
	return s, err
}

//----------------------------------------------------------------------

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file and a seeded flash image",
		RunE:  runInit,
	}
	cmd.Flags().Bool("force", false, "overwrite existing config and state")
	return cmd
}

func runInit(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if _, err := os.Stat(cfgFile); err == nil && !force {
		return fmt.Errorf("%s exists (use --force)", cfgFile)
	}
	if err := cfg.Save(cfgFile); err != nil {
		return err
	}

	dev, st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer dev.Close()
	if _, err := st.Read(); err == nil && !force {
		return fmt.Errorf("%s already holds a state (use --force)", cfg.Device.FlashImage)
	}
	s := state.Default()
	if _, err := cfg.Seed(&s); err != nil {
		return err
	}
	if err := st.Write(&s); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	fmt.Printf("Config saved to: %s\n", cfgFile)
	fmt.Printf("Flash image:     %s (%d bytes)\n", cfg.Device.FlashImage, cfg.Device.FlashSize)
	return nil
}

//----------------------------------------------------------------------

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the node until interrupted",
		RunE:  runNode,
	}
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dev, err := teeny.InitDevice(cfg)
	if err != nil {
		return err
	}
	if c, ok := dev.(interface{ Close() error }); ok {
		defer c.Close()
	}
	status := teeny.NewStatus(dev, log)
	node, err := teeny.NewNode(dev, cfg, status, log)
	if err != nil {
		return err
	}
	log.Info("node started",
		slog.Int("lease_port", int(cfg.Lease.Port)),
		slog.Int("9p_port", int(cfg.NineP.Port)))
	if err = node.Run(ctx); errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("node stopped")
	return err
}

//----------------------------------------------------------------------

// stateView is the printable form of a state. Secrets are masked.
type stateView struct {
	Version uint8      `toml:"version"`
	SavedAt string     `toml:"saved_at"`
	AP      wifiView   `toml:"ap"`
	STA     wifiView   `toml:"sta"`
	Token   *tokenView `toml:"token,omitempty"`
	Leases  []string   `toml:"leases"`
}

type wifiView struct {
	SSID     string `toml:"ssid"`
	Password string `toml:"password"`
}

type tokenView struct {
	ClientID     string `toml:"client_id"`
	AccessToken  string `toml:"access_token"`
	RefreshToken string `toml:"refresh_token"`
	Expires      string `toml:"expires"`
}

func mask(s string, reveal bool) string {
	if reveal || s == "" {
		return s
	}
	return strings.Repeat("*", len(s))
}

func viewOf(s *state.DeviceState, reveal bool) stateView {
	v := stateView{
		Version: s.Version,
		SavedAt: s.SavedAt.Sub(0).String(),
		AP:      wifiView{s.AP.SSID, mask(s.AP.Password, reveal)},
		STA:     wifiView{s.STA.SSID, mask(s.STA.Password, reveal)},
		Leases:  []string{},
	}
	if s.HasToken {
		v.Token = &tokenView{
			ClientID:     s.Token.ClientID,
			AccessToken:  mask(s.Token.Token.AccessToken, reveal),
			RefreshToken: mask(s.Token.Token.RefreshToken, reveal),
			Expires:      s.Token.Token.Expires.Sub(0).String(),
		}
	}
	for _, line := range strings.Split(strings.TrimSpace(teeny.FormatLeases(s.Leases.All(), s.SavedAt)), "\n") {
		if line != "" {
			v.Leases = append(v.Leases, line)
		}
	}
	return v
}

func dumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the persisted state",
		RunE: func(cmd *cobra.Command, args []string) error {
			reveal, _ := cmd.Flags().GetBool("reveal")
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			dev, st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer dev.Close()
			s, err := st.Read()
			if err != nil {
				return fmt.Errorf("failed to read state: %w", err)
			}
			out, err := toml.Marshal(viewOf(&s, reveal))
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(out)
			return err
		},
	}
	cmd.Flags().Bool("reveal", false, "show passwords and tokens")
	return cmd
}

//----------------------------------------------------------------------

func provisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Change credentials and token in the persisted state",
		RunE:  runProvision,
	}
	f := cmd.Flags()
	f.String("ap-ssid", "", "access point SSID")
	f.String("ap-pass", "", "access point password")
	f.String("sta-ssid", "", "station SSID")
	f.String("sta-pass", "", "station password")
	f.String("client-id", "", "token client id")
	f.String("access-token", "", "access token")
	f.String("refresh-token", "", "refresh token")
	f.Duration("expires", time.Hour, "token lifetime from the last save")
	f.Bool("clear-token", false, "forget the stored token")
	return cmd
}

func runProvision(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	dev, st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer dev.Close()
	s, err := loadState(st)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	g := state.NewGuard(s)
	if err := provision(cmd, g); err != nil {
		return err
	}

	next := g.Snapshot()
	if next == s {
		fmt.Println("Nothing changed.")
		return nil
	}
	if err := st.Write(&next); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	fmt.Println("State updated.")
	return nil
}

// provision applies the changed flags of cmd to the state in g.
func provision(cmd *cobra.Command, g *state.Guard) error {
	f := cmd.Flags()
	s := g.Snapshot()
	if c, ok := credentials(cmd, "ap", s.AP); ok {
		if err := g.SetAPCredentials(c); err != nil {
			return fmt.Errorf("ap: %w", err)
		}
	}
	if c, ok := credentials(cmd, "sta", s.STA); ok {
		if err := g.SetSTACredentials(c); err != nil {
			return fmt.Errorf("sta: %w", err)
		}
	}
	if drop, _ := f.GetBool("clear-token"); drop {
		g.ClearToken()
	} else if f.Changed("access-token") {
		id, _ := f.GetString("client-id")
		access, _ := f.GetString("access-token")
		refresh, _ := f.GetString("refresh-token")
		life, _ := f.GetDuration("expires")
		err := g.SetToken(state.TokenRecord{
			Token: state.AccessToken{
				AccessToken:  access,
				RefreshToken: refresh,
				Expires:      s.SavedAt.Add(life),
			},
			ClientID: id,
		})
		if err != nil {
			return fmt.Errorf("token: %w", err)
		}
	}
	return nil
}

// credentials overlays the <prefix>-ssid and <prefix>-pass flags on
// cur. Only flags given on the command line replace a stored value.
func credentials(cmd *cobra.Command, prefix string, cur state.WifiCredentials) (state.WifiCredentials, bool) {
	f := cmd.Flags()
	changed := false
	if f.Changed(prefix + "-ssid") {
		cur.SSID, _ = f.GetString(prefix + "-ssid")
		changed = true
	}
	if f.Changed(prefix + "-pass") {
		cur.Password, _ = f.GetString(prefix + "-pass")
		changed = true
	}
	return cur, changed
}

//----------------------------------------------------------------------

func leasesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leases",
		Short: "List persisted leases",
		RunE: func(cmd *cobra.Command, args []string) error {
			expire, _ := cmd.Flags().GetBool("expire")
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			dev, st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer dev.Close()
			s, err := loadState(st)
			if err != nil {
				return fmt.Errorf("failed to read state: %w", err)
			}
			fmt.Println("# ip mac remaining")
			fmt.Print(teeny.FormatLeases(s.Leases.All(), s.SavedAt))

			if expire {
				if n := s.Leases.Expire(s.SavedAt); n > 0 {
					if err := st.Write(&s); err != nil {
						return fmt.Errorf("failed to write state: %w", err)
					}
					fmt.Printf("%d expired lease(s) removed.\n", n)
				}
			}
			return nil
		},
	}
	cmd.Flags().Bool("expire", false, "remove expired leases")
	return cmd
}
