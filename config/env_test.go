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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubstituteEnvVarsUsesEnvironment(t *testing.T) {
	t.Setenv("KADEMESH_TEST_HOST", "10.0.0.5")
	assert.Equal(t, "10.0.0.5", SubstituteEnvVars("${KADEMESH_TEST_HOST}"))
}

func TestSubstituteEnvVarsFallsBackToDefault(t *testing.T) {
	assert.Equal(t, "fallback", SubstituteEnvVars("${KADEMESH_UNSET_VAR:fallback}"))
}

func TestSubstituteEnvVarsNoMatchPassesThrough(t *testing.T) {
	assert.Equal(t, "plain-value", SubstituteEnvVars("plain-value"))
}

func TestSubstituteEnvVarsInConfigWalksTURNServers(t *testing.T) {
	t.Setenv("KADEMESH_TURN_USER", "alice")

	cfg := &Config{
		TURN: TURNConfig{
			Servers: []ICEServer{
				{URLs: []string{"turn:${KADEMESH_UNSET_VAR:turn.example.com}:3478"}, Username: "${KADEMESH_TURN_USER}"},
			},
		},
	}
	SubstituteEnvVarsInConfig(cfg)

	assert.Equal(t, "alice", cfg.TURN.Servers[0].Username)
	assert.Equal(t, "turn:turn.example.com:3478", cfg.TURN.Servers[0].URLs[0])
}

func TestGetEnvironmentDefaultsToDevelopment(t *testing.T) {
	t.Setenv("KADEMESH_ENV", "")
	t.Setenv("ENVIRONMENT", "")
	assert.Equal(t, "development", GetEnvironment())
}

func TestIsProduction(t *testing.T) {
	t.Setenv("KADEMESH_ENV", "production")
	assert.True(t, IsProduction())
	assert.False(t, IsDevelopment())
}
