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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDefaultsFillsEmptyConfig(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "0.0.0.0", cfg.Node.Host)
	assert.Equal(t, 7946, cfg.Node.ListenPort)
	assert.Equal(t, 10*time.Second, cfg.Node.RefreshInterval)
	assert.Equal(t, 30*time.Minute, cfg.Node.RebuildInterval)
	assert.Equal(t, 30, cfg.Node.HistorySize)
	assert.Equal(t, "Ed25519", cfg.Identity.KeyType)
	assert.Equal(t, 20, cfg.Table.BucketSize)
	assert.Equal(t, 8, cfg.Dispatch.Workers)
	assert.Equal(t, 10, cfg.Dispatch.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Dispatch.RetryBackoff)
	assert.Equal(t, 777*time.Second, cfg.TURN.AllocationLifetime)
	assert.Equal(t, 300*time.Second, cfg.TURN.PermissionLifetime)
	assert.Equal(t, time.Minute, cfg.TURN.RefreshMargin)
}

func TestSetDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := &Config{Node: NodeConfig{ListenPort: 9999}}
	setDefaults(cfg)

	assert.Equal(t, 9999, cfg.Node.ListenPort)
}

func TestLoadSaveRoundTripYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")

	cfg := &Config{}
	setDefaults(cfg)
	cfg.Node.Host = "127.0.0.1"
	cfg.Node.BootstrapPeers = []string{"peer1.example.com:7946"}

	require.NoError(t, SaveToFile(cfg, path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", loaded.Node.Host)
	assert.Equal(t, []string{"peer1.example.com:7946"}, loaded.Node.BootstrapPeers)
}

func TestLoadSaveRoundTripJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.json")

	cfg := &Config{}
	setDefaults(cfg)
	cfg.Node.ListenPort = 12345

	require.NoError(t, SaveToFile(cfg, path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 12345, loaded.Node.ListenPort)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/node.yaml")
	assert.Error(t, err)
}
