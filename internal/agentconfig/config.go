// Copyright 2023 qbee.io
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package agentconfig loads the daemon's own configuration file (spec
// 6, "Configuration (consumed from external loader)").
package agentconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Recognized defaults (spec 6).
const (
	DefaultFullUpdatePeriod = 3600 * time.Second
	DefaultFullUpdateJitter = 600 * time.Second
	DefaultUserTableName    = "Users"
	DefaultGroupTableName   = "Groups"
	DefaultLockTimeout      = 10 * time.Second

	configFileName = "shadowsync.json"
)

// Config is the daemon's own configuration, as recognized from the
// external loader (spec 6). Remote credentials are opaque to the core:
// they are kept unparsed in RemoteCredentials. No snapshot source in
// this repository reads them; the file-backed source wired up by
// cmd/shadow-agentd takes only a path.
type Config struct {
	// Directory the config file was loaded from; not persisted.
	Directory string `json:"-"`

	FullUpdatePeriodSeconds int `json:"full_update_period"`
	FullUpdateJitterSeconds int `json:"full_update_jitter"`

	UserTableName  string `json:"user_table_name"`
	GroupTableName string `json:"group_table_name"`

	LockTimeoutSeconds int `json:"lock_timeout"`

	RemoteCredentials json.RawMessage `json:"remote_credentials,omitempty"`
}

// FullUpdatePeriod returns the configured base interval, or the default
// when unset.
func (c *Config) FullUpdatePeriod() time.Duration {
	if c.FullUpdatePeriodSeconds <= 0 {
		return DefaultFullUpdatePeriod
	}
	return time.Duration(c.FullUpdatePeriodSeconds) * time.Second
}

// FullUpdateJitter returns the configured jitter ceiling, or the default
// when unset.
func (c *Config) FullUpdateJitter() time.Duration {
	if c.FullUpdateJitterSeconds <= 0 {
		return DefaultFullUpdateJitter
	}
	return time.Duration(c.FullUpdateJitterSeconds) * time.Second
}

// LockTimeout returns the configured per-cycle lock acquisition timeout,
// or the default when unset.
func (c *Config) LockTimeout() time.Duration {
	if c.LockTimeoutSeconds <= 0 {
		return DefaultLockTimeout
	}
	return time.Duration(c.LockTimeoutSeconds) * time.Second
}

// applyDefaultSettings fills in the zero-value fields that carry a
// documented default (spec 6).
func (c *Config) applyDefaultSettings() {
	if c.UserTableName == "" {
		c.UserTableName = DefaultUserTableName
	}
	if c.GroupTableName == "" {
		c.GroupTableName = DefaultGroupTableName
	}
}

// Load reads and parses the configuration file from configDir.
func Load(configDir string) (*Config, error) {
	path := filepath.Join(configDir, configFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error loading config from file %s: %w", path, err)
	}

	cfg := new(Config)
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
	}

	cfg.Directory = configDir
	cfg.applyDefaultSettings()

	return cfg, nil
}
