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

package message

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kademesh/kademesh/crypto"
	"github.com/kademesh/kademesh/crypto/keys"
	"github.com/kademesh/kademesh/p2p/kerrors"
)

// ErrInvalidMessage is the codec's frame-structure/signature rejection,
// aliased from the shared sentinel so callers can use either import.
var ErrInvalidMessage = kerrors.ErrInvalidMessage

// header is the first wire frame: the message's tag and, for user
// messages, the host-registered kind_id.
type header struct {
	Kind     Kind   `json:"kind"`
	UserKind string `json:"user_kind,omitempty"`
}

// frameCount is the number of frames in a message with no identity
// prefix: header, payload, version, peer, signature.
const frameCount = 5

// Serialize frames m as a dealer-outbound sequence: header, payload,
// version, peer, signature. No identity frame is included; dealers never
// emit one.
func Serialize(m *Message) ([][]byte, error) {
	headerFrame, payloadFrame, versionFrame, peerFrame, err := signableFrames(m)
	if err != nil {
		return nil, err
	}
	if len(m.Signature) == 0 {
		return nil, fmt.Errorf("%w: message is unsigned", ErrInvalidMessage)
	}
	return [][]byte{headerFrame, payloadFrame, versionFrame, peerFrame, m.Signature}, nil
}

// SerializeReply frames m as a router-outbound reply: the same five
// frames prefixed with the identity the original inbound frame carried.
func SerializeReply(m *Message) ([][]byte, error) {
	frames, err := Serialize(m)
	if err != nil {
		return nil, err
	}
	return append([][]byte{m.Identity}, frames...), nil
}

// Parse reconstructs a Message from a frame sequence and verifies its
// signature. When hasIdentity is true, frames[0] is taken as the
// router-assigned identity token (inbound-via-router case); otherwise the
// sequence is expected to start directly with the header frame
// (dealer-received reply case).
func Parse(frames [][]byte, hasIdentity bool) (*Message, error) {
	var identity []byte
	if hasIdentity {
		if len(frames) != frameCount+1 {
			return nil, fmt.Errorf("%w: expected %d frames with identity, got %d", ErrInvalidMessage, frameCount+1, len(frames))
		}
		identity = frames[0]
		frames = frames[1:]
	} else if len(frames) != frameCount {
		return nil, fmt.Errorf("%w: expected %d frames, got %d", ErrInvalidMessage, frameCount, len(frames))
	}

	var h header
	if err := json.Unmarshal(frames[0], &h); err != nil {
		return nil, fmt.Errorf("%w: malformed header frame: %v", ErrInvalidMessage, err)
	}

	var version AppProtocolVersion
	if err := json.Unmarshal(frames[2], &version); err != nil {
		return nil, fmt.Errorf("%w: malformed version frame: %v", ErrInvalidMessage, err)
	}

	var info PeerInfo
	if err := json.Unmarshal(frames[3], &info); err != nil {
		return nil, fmt.Errorf("%w: malformed peer frame: %v", ErrInvalidMessage, err)
	}

	signature := frames[4]
	if len(signature) == 0 {
		return nil, fmt.Errorf("%w: empty signature frame", ErrInvalidMessage)
	}

	m := &Message{
		Identity:  identity,
		Kind:      h.Kind,
		UserKind:  h.UserKind,
		Payload:   frames[1],
		Sender:    Peer{PeerInfo: info, Version: version},
		Signature: signature,
	}

	signable, err := signableRegion(frames[0], frames[1], frames[2], frames[3])
	if err != nil {
		return nil, err
	}
	if err := verify(m.Sender, signable, signature); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	return m, nil
}

// Sign builds frames for kind/userKind/payload under the given sender
// identity and app-protocol-version, signs the canonical region with
// key, and returns a ready-to-serialize Message.
func Sign(key crypto.KeyPair, version AppProtocolVersion, publicIP string, kind Kind, userKind string, payload []byte) (*Message, error) {
	info := PeerInfo{
		PublicKey: key.PublicKeyBytes(),
		KeyType:   string(key.Type()),
		PublicIP:  publicIP,
	}
	m := &Message{
		Kind:     kind,
		UserKind: userKind,
		Payload:  payload,
		Sender:   Peer{PeerInfo: info, Version: version},
	}

	headerFrame, payloadFrame, versionFrame, peerFrame, err := signableFrames(m)
	if err != nil {
		return nil, err
	}
	region, err := signableRegion(headerFrame, payloadFrame, versionFrame, peerFrame)
	if err != nil {
		return nil, err
	}

	sig, err := key.Sign(region)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}
	m.Signature = sig
	return m, nil
}

// signableFrames builds the four frames that make up the canonical
// signable region, in wire order.
func signableFrames(m *Message) (headerFrame, payloadFrame, versionFrame, peerFrame []byte, err error) {
	headerFrame, err = json.Marshal(header{Kind: m.Kind, UserKind: m.UserKind})
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal header frame: %w", err)
	}
	payloadFrame = m.Payload
	versionFrame, err = json.Marshal(m.Sender.Version)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal version frame: %w", err)
	}
	peerFrame, err = json.Marshal(m.Sender.PeerInfo)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal peer frame: %w", err)
	}
	return headerFrame, payloadFrame, versionFrame, peerFrame, nil
}

// signableRegion concatenates the frames that a signature covers, in the
// order header, payload, version, peer — identity and the signature frame
// itself are excluded.
func signableRegion(headerFrame, payloadFrame, versionFrame, peerFrame []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(headerFrame)
	buf.Write(payloadFrame)
	buf.Write(versionFrame)
	buf.Write(peerFrame)
	return buf.Bytes(), nil
}

// verify checks signature against region using sender's claimed public
// key and key type. It does not decide whether the sender is trusted —
// only that the signature is valid for the claimed key.
func verify(sender Peer, region, signature []byte) error {
	return keys.VerifyPublicKeyBytes(crypto.KeyType(sender.KeyType), sender.PublicKey, region, signature)
}
