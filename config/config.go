// Copyright (C) 2025 kademesh
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadFromFile loads configuration from a YAML or JSON file. A path ending
// in .json is parsed as JSON only; any other path is parsed as YAML, with
// JSON attempted as a fallback if the YAML parse fails.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file as JSON: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)
	return cfg, nil
}

// SaveToFile saves configuration to a file, choosing format by extension.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// setDefaults fills in defaults for any field left zero-valued by the
// loaded file, so a config stanza only needs to mention what it overrides.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Node.Host == "" {
		cfg.Node.Host = "0.0.0.0"
	}
	if cfg.Node.ListenPort == 0 {
		cfg.Node.ListenPort = 7946
	}
	if cfg.Node.AppProtocolVersion == "" {
		cfg.Node.AppProtocolVersion = "1.0.0"
	}
	if cfg.Node.RefreshInterval == 0 {
		cfg.Node.RefreshInterval = 10 * time.Second
	}
	if cfg.Node.RebuildInterval == 0 {
		cfg.Node.RebuildInterval = 30 * time.Minute
	}
	if cfg.Node.HistorySize == 0 {
		cfg.Node.HistorySize = 30
	}

	if cfg.Identity.KeyType == "" {
		cfg.Identity.KeyType = "Ed25519"
	}
	if cfg.Identity.KeyStoreDir == "" {
		cfg.Identity.KeyStoreDir = ".kademesh/keys"
	}

	if cfg.Table.BucketSize == 0 {
		cfg.Table.BucketSize = 20
	}
	if cfg.Table.ReplacementCacheSize == 0 {
		cfg.Table.ReplacementCacheSize = 20
	}
	if cfg.Table.Concurrency == 0 {
		cfg.Table.Concurrency = 3
	}

	if cfg.Dispatch.Workers == 0 {
		cfg.Dispatch.Workers = 8
	}
	if cfg.Dispatch.MaxRetries == 0 {
		cfg.Dispatch.MaxRetries = 10
	}
	if cfg.Dispatch.RetryBackoff == 0 {
		cfg.Dispatch.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.Dispatch.RequestTimeout == 0 {
		cfg.Dispatch.RequestTimeout = 5 * time.Second
	}
	if cfg.Dispatch.BroadcastTimeout == 0 {
		cfg.Dispatch.BroadcastTimeout = 3 * time.Second
	}
	if cfg.Dispatch.DealerSendTimeout == 0 {
		cfg.Dispatch.DealerSendTimeout = 3 * time.Second
	}
	if cfg.Dispatch.ReplyTimeout == 0 {
		cfg.Dispatch.ReplyTimeout = time.Second
	}

	if cfg.TURN.AllocationLifetime == 0 {
		cfg.TURN.AllocationLifetime = 777 * time.Second
	}
	if cfg.TURN.PermissionLifetime == 0 {
		cfg.TURN.PermissionLifetime = 300 * time.Second
	}
	if cfg.TURN.RefreshMargin == 0 {
		cfg.TURN.RefreshMargin = time.Minute
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Health.Port == 0 {
		cfg.Health.Port = 8080
	}
}
