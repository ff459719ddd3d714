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

import "fmt"

// ValidationError reports a single invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a loaded Config for values that would make a node
// unable to start or behave incorrectly. It does not mutate cfg.
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.Node.ListenPort <= 0 || cfg.Node.ListenPort > 65535 {
		errs = append(errs, ValidationError{"node.listen_port", "must be between 1 and 65535"})
	}
	if cfg.Identity.KeyType != "Ed25519" && cfg.Identity.KeyType != "Secp256k1" {
		errs = append(errs, ValidationError{"identity.key_type", "must be Ed25519 or Secp256k1"})
	}
	if cfg.Table.BucketSize <= 0 {
		errs = append(errs, ValidationError{"table.bucket_size", "must be positive"})
	}
	if cfg.Dispatch.Workers <= 0 {
		errs = append(errs, ValidationError{"dispatch.workers", "must be positive"})
	}
	if cfg.Dispatch.MaxRetries < 0 {
		errs = append(errs, ValidationError{"dispatch.max_retries", "must not be negative"})
	}
	if cfg.TURN.Enabled && len(cfg.TURN.Servers) == 0 {
		errs = append(errs, ValidationError{"turn.servers", "must be non-empty when turn.enabled is true"})
	}

	return errs
}
