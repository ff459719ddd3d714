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

// Package gate validates that an inbound peer's app-protocol-version is
// compatible with ours before its message reaches the rest of the
// transport.
package gate

import (
	"encoding/hex"

	"github.com/kademesh/kademesh/p2p/kerrors"
	"github.com/kademesh/kademesh/p2p/message"
)

// OnDifferentVersion is a notification hook invoked whenever a peer's
// app-protocol-version differs from ours, whether or not it ends up
// being accepted via the trusted-signer set. It is a side effect only:
// its return has no influence on the gate's verdict.
type OnDifferentVersion func(peer message.Peer, expected, actual message.AppProtocolVersion)

// Gate is a single pure predicate over a peer's advertised version,
// configured once at construction with our own version and the set of
// signers we trust to attest a different one.
type Gate struct {
	ourVersion     message.AppProtocolVersion
	trustedSigners map[string]struct{}
	onDifferent    OnDifferentVersion
}

// New builds a Gate. trustedSigners holds the raw public key bytes of
// signers whose attestation of a different app-protocol-version we
// accept.
func New(ourVersion message.AppProtocolVersion, trustedSigners [][]byte, onDifferent OnDifferentVersion) *Gate {
	set := make(map[string]struct{}, len(trustedSigners))
	for _, signer := range trustedSigners {
		set[hex.EncodeToString(signer)] = struct{}{}
	}
	return &Gate{
		ourVersion:     ourVersion,
		trustedSigners: set,
		onDifferent:    onDifferent,
	}
}

// ValidateSender reports whether peer's app-protocol-version is
// compatible with ours: either it is numerically identical, or its
// signer is in our trusted set. Either way, if the version differs from
// ours the notification hook fires first.
func (g *Gate) ValidateSender(peer message.Peer) error {
	if peer.Version.Version == g.ourVersion.Version {
		return nil
	}

	if g.onDifferent != nil {
		g.onDifferent(peer, g.ourVersion, peer.Version)
	}

	if g.isTrustedSigner(peer.Version.SignerPublicKey) {
		return nil
	}
	return kerrors.ErrDifferentAppProtocolVersion
}

// ValidateMessage applies ValidateSender to an inbound message's sender,
// except for Ping, which is exempt so that bootstrap discovery can
// tolerate an unknown version replying to a liveness probe.
func (g *Gate) ValidateMessage(m *message.Message) error {
	if m.Kind == message.KindPing {
		return nil
	}
	return g.ValidateSender(m.Sender)
}

func (g *Gate) isTrustedSigner(signerPublicKey []byte) bool {
	_, ok := g.trustedSigners[hex.EncodeToString(signerPublicKey)]
	return ok
}
