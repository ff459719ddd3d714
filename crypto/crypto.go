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

// Package crypto provides the key-pair and signing abstractions used to
// authenticate peer-to-peer transport messages.
package crypto

// This file is intentionally minimal to avoid circular dependencies.
// The actual implementations live in subpackages:
//   - crypto/keys: key pair generation and signing (Ed25519, Secp256k1)
//   - crypto/storage: in-memory key storage for a node's own identity
