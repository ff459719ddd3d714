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

func TestValidateAcceptsDefaultedConfig(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	assert.Empty(t, Validate(cfg))
}

func TestValidateRejectsBadListenPort(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	cfg.Node.ListenPort = 70000

	errs := Validate(cfg)
	assert.Len(t, errs, 1)
	assert.Equal(t, "node.listen_port", errs[0].Field)
}

func TestValidateRejectsUnknownKeyType(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	cfg.Identity.KeyType = "rsa"

	errs := Validate(cfg)
	assert.Len(t, errs, 1)
	assert.Equal(t, "identity.key_type", errs[0].Field)
}

func TestValidateRejectsTURNEnabledWithoutServers(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	cfg.TURN.Enabled = true

	errs := Validate(cfg)
	assert.Len(t, errs, 1)
	assert.Equal(t, "turn.servers", errs[0].Field)
}
