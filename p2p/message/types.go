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

// Package message defines the signed, versioned envelope exchanged
// between nodes, and the codec that frames it for a router/dealer
// socket pair.
package message

import (
	"net"
	"strconv"

	"github.com/kademesh/kademesh/crypto/address"
)

// AppProtocolVersion identifies the application protocol a peer speaks,
// attested by a signer the receiving node may or may not trust.
type AppProtocolVersion struct {
	Version         int    `json:"version"`
	Extra           []byte `json:"extra,omitempty"`
	Signature       []byte `json:"signature"`
	SignerPublicKey []byte `json:"signer_public_key"`
}

// PeerInfo is the identity portion of a peer: its public key, the key
// algorithm it was generated with, and an optional public IP it has
// self-reported (e.g. its TURN-mapped address).
type PeerInfo struct {
	PublicKey []byte `json:"public_key"`
	KeyType   string `json:"key_type"`
	PublicIP  string `json:"public_ip,omitempty"`
}

// Address derives this peer's routing-table address from its public key.
func (p PeerInfo) Address() address.Address {
	return address.FromPublicKey(p.PublicKey)
}

// Peer is a value-typed, immutable identity: a public key plus the
// app-protocol-version it advertises. Peers are compared by Address, not
// by the rest of their fields.
type Peer struct {
	PeerInfo
	Version AppProtocolVersion `json:"version"`
}

// BoundPeer is a Peer with a known network endpoint, as stored in the
// routing table.
type BoundPeer struct {
	Peer
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Endpoint returns the host:port string dealers dial.
func (b BoundPeer) Endpoint() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// Kind tags a Message's variant. Ping/Pong/FindNeighbors/Neighbors are
// built in; User carries a host-registered application message type.
type Kind uint8

const (
	KindPing Kind = iota
	KindPong
	KindFindNeighbors
	KindNeighbors
	KindUser
)

// String renders a Kind for logging.
func (k Kind) String() string {
	switch k {
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	case KindFindNeighbors:
		return "find_neighbors"
	case KindNeighbors:
		return "neighbors"
	case KindUser:
		return "user"
	default:
		return "unknown"
	}
}

// Message is an enveloped, signed application payload exchanged between
// nodes. Identity is opaque and set by the router on inbound frames; it
// is never part of the signable region.
type Message struct {
	Identity []byte `json:"-"`

	Kind     Kind   `json:"kind"`
	UserKind string `json:"user_kind,omitempty"`
	Payload  []byte `json:"payload,omitempty"`

	Sender    Peer   `json:"sender"`
	Signature []byte `json:"-"`
}
