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

// Package kerrors defines the sentinel error kinds shared across every
// transport layer, so that message, gate, turn, transport, dispatch,
// kademlia, and the top-level node can all produce and check the same
// errors.Is targets without import cycles.
package kerrors

import "errors"

// Sentinel error kinds returned across the transport. All satisfy
// errors.Is; wrapped occurrences should use fmt.Errorf("...: %w", ErrX).
var (
	// ErrInvalidMessage is returned when the codec rejects a frame
	// sequence's structure or signature.
	ErrInvalidMessage = errors.New("kademesh/p2p: invalid message")

	// ErrDifferentAppProtocolVersion is returned when the version gate
	// rejects a peer whose app-protocol-version is incompatible.
	ErrDifferentAppProtocolVersion = errors.New("kademesh/p2p: different app protocol version")

	// ErrTimeout is returned when a network call's timeout elapses.
	ErrTimeout = errors.New("kademesh/p2p: timeout")

	// ErrCancelled is returned when an operation observes cancellation.
	ErrCancelled = errors.New("kademesh/p2p: cancelled")

	// ErrNoSwarmContext is returned when an operation is invoked before
	// the node has completed Run.
	ErrNoSwarmContext = errors.New("kademesh/p2p: no swarm context, node is not running")

	// ErrAlreadyRunning is returned by Start or Run when re-entered.
	ErrAlreadyRunning = errors.New("kademesh/p2p: already running")

	// ErrSocketError is returned on a transport-level fault (router,
	// dealer, or TURN socket). In TURN paths this triggers client
	// teardown and re-creation.
	ErrSocketError = errors.New("kademesh/p2p: socket error")

	// ErrRetriesExhausted is returned when a dispatched request's
	// retry_count exceeds the configured cap without completing.
	ErrRetriesExhausted = errors.New("kademesh/p2p: retries exhausted")

	// ErrUnknownPeer is returned when an operation names a peer address
	// absent from the routing table and no bound endpoint was supplied.
	ErrUnknownPeer = errors.New("kademesh/p2p: unknown peer")
)
