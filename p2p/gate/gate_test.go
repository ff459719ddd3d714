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

package gate

import (
	"testing"

	"github.com/kademesh/kademesh/p2p/kerrors"
	"github.com/kademesh/kademesh/p2p/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func peerWithVersion(v int, signer []byte) message.Peer {
	return message.Peer{
		PeerInfo: message.PeerInfo{PublicKey: []byte("peer-pubkey")},
		Version:  message.AppProtocolVersion{Version: v, SignerPublicKey: signer},
	}
}

func TestValidateSenderAcceptsMatchingVersion(t *testing.T) {
	g := New(message.AppProtocolVersion{Version: 1}, nil, nil)
	require.NoError(t, g.ValidateSender(peerWithVersion(1, nil)))
}

func TestValidateSenderRejectsUntrustedMismatch(t *testing.T) {
	g := New(message.AppProtocolVersion{Version: 1}, nil, nil)
	err := g.ValidateSender(peerWithVersion(2, []byte("unknown-signer")))
	assert.ErrorIs(t, err, kerrors.ErrDifferentAppProtocolVersion)
}

func TestValidateSenderAcceptsTrustedSignerMismatch(t *testing.T) {
	signer := []byte("trusted-signer-key")
	g := New(message.AppProtocolVersion{Version: 1}, [][]byte{signer}, nil)
	require.NoError(t, g.ValidateSender(peerWithVersion(2, signer)))
}

func TestValidateSenderInvokesHookOnMismatch(t *testing.T) {
	var called bool
	var gotExpected, gotActual message.AppProtocolVersion
	hook := func(peer message.Peer, expected, actual message.AppProtocolVersion) {
		called = true
		gotExpected = expected
		gotActual = actual
	}

	g := New(message.AppProtocolVersion{Version: 1}, nil, hook)
	_ = g.ValidateSender(peerWithVersion(5, nil))

	assert.True(t, called)
	assert.Equal(t, 1, gotExpected.Version)
	assert.Equal(t, 5, gotActual.Version)
}

func TestValidateSenderDoesNotInvokeHookOnMatch(t *testing.T) {
	called := false
	hook := func(message.Peer, message.AppProtocolVersion, message.AppProtocolVersion) { called = true }

	g := New(message.AppProtocolVersion{Version: 7}, nil, hook)
	require.NoError(t, g.ValidateSender(peerWithVersion(7, nil)))
	assert.False(t, called)
}

func TestValidateMessageExemptsPing(t *testing.T) {
	g := New(message.AppProtocolVersion{Version: 1}, nil, nil)
	m := &message.Message{Kind: message.KindPing, Sender: peerWithVersion(99, nil)}
	assert.NoError(t, g.ValidateMessage(m))
}

func TestValidateMessageAppliesGateToNonPing(t *testing.T) {
	g := New(message.AppProtocolVersion{Version: 1}, nil, nil)
	m := &message.Message{Kind: message.KindPong, Sender: peerWithVersion(99, nil)}
	assert.ErrorIs(t, g.ValidateMessage(m), kerrors.ErrDifferentAppProtocolVersion)
}
