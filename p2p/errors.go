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

package p2p

import "github.com/kademesh/kademesh/p2p/kerrors"

// Error kinds returned by a Node's public operations. These are aliases
// of the shared sentinels in p2p/kerrors so that callers can write
// errors.Is(err, p2p.ErrTimeout) without reaching into an internal
// package.
var (
	ErrInvalidMessage              = kerrors.ErrInvalidMessage
	ErrDifferentAppProtocolVersion = kerrors.ErrDifferentAppProtocolVersion
	ErrTimeout                     = kerrors.ErrTimeout
	ErrCancelled                   = kerrors.ErrCancelled
	ErrNoSwarmContext              = kerrors.ErrNoSwarmContext
	ErrAlreadyRunning              = kerrors.ErrAlreadyRunning
	ErrSocketError                 = kerrors.ErrSocketError
	ErrRetriesExhausted            = kerrors.ErrRetriesExhausted
	ErrUnknownPeer                 = kerrors.ErrUnknownPeer
)
