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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFallsBackToDefaultsWhenNoFilesExist(t *testing.T) {
	cfg, err := Load(LoaderOptions{ConfigDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, 7946, cfg.Node.ListenPort)
}

func TestLoadPrefersEnvironmentSpecificFile(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{}
	setDefaults(cfg)
	cfg.Node.ListenPort = 4242
	require.NoError(t, SaveToFile(cfg, filepath.Join(dir, "staging.yaml")))

	loaded, err := Load(LoaderOptions{ConfigDir: dir, Environment: "staging"})
	require.NoError(t, err)
	assert.Equal(t, 4242, loaded.Node.ListenPort)
	assert.Equal(t, "staging", loaded.Environment)
}

func TestLoadAppliesEnvironmentOverrides(t *testing.T) {
	t.Setenv("KADEMESH_LISTEN_PORT", "5555")

	cfg, err := Load(LoaderOptions{ConfigDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, 5555, cfg.Node.ListenPort)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{}
	setDefaults(cfg)
	cfg.Table.BucketSize = -1
	require.NoError(t, SaveToFile(cfg, filepath.Join(dir, "config.yaml")))

	_, err := Load(LoaderOptions{ConfigDir: dir})
	assert.Error(t, err)
}

func TestMustLoadPanicsOnInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{}
	setDefaults(cfg)
	cfg.Table.BucketSize = -1
	require.NoError(t, SaveToFile(cfg, filepath.Join(dir, "config.yaml")))

	assert.Panics(t, func() {
		MustLoad(LoaderOptions{ConfigDir: dir})
	})
}
