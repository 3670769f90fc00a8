//go:build !tinygo

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
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Environment keys for the station credentials.
const (
	EnvSSID     = "SSID"
	EnvPassword = "PASSWORD"
)

// LoadConfig reads the TOML configuration at path. A missing file yields
// the defaults. Station credentials are then overridden from envFile (if
// it exists) and finally from the process environment.
func LoadConfig(path, envFile string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err = toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		cfg.setDefaults()
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if envFile != "" {
		env, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			cfg.applyEnv(env)
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read env file: %w", err)
		}
	}
	cfg.applyEnv(map[string]string{
		EnvSSID:     os.Getenv(EnvSSID),
		EnvPassword: os.Getenv(EnvPassword),
	})
	return cfg, nil
}

func (c *Config) applyEnv(env map[string]string) {
	if v := env[EnvSSID]; v != "" {
		c.STA.SSID = v
	}
	if v := env[EnvPassword]; v != "" {
		c.STA.Password = v
	}
}

// Save writes the configuration to a TOML file.
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
