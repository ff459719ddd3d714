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

package kademlia

import (
	"testing"

	"github.com/kademesh/kademesh/crypto/address"
	"github.com/kademesh/kademesh/p2p/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func peerWithKey(t *testing.T, key byte, host string, port int) message.BoundPeer {
	t.Helper()
	pub := make([]byte, 32)
	pub[0] = key
	return message.BoundPeer{
		Peer: message.Peer{PeerInfo: message.PeerInfo{PublicKey: pub, KeyType: "Ed25519"}},
		Host: host,
		Port: port,
	}
}

func TestObserveAddsToLiveBucket(t *testing.T) {
	self := address.Address{}
	tbl := NewTable(self, 4, 2)
	p := peerWithKey(t, 1, "10.0.0.1", 9000)

	tbl.Observe(p)
	assert.Equal(t, 1, tbl.Size())

	all := tbl.All()
	require.Len(t, all, 1)
	assert.Equal(t, p.Address(), all[0].Address())
}

func TestObserveOverflowGoesToReplacementCache(t *testing.T) {
	self := address.Address{}
	tbl := NewTable(self, 1, 2)

	p1 := peerWithKey(t, 1, "10.0.0.1", 9000)
	p2 := peerWithKey(t, 5, "10.0.0.2", 9000)

	// Keys 1 and 5 derive addresses with the same common prefix length
	// (2 bits) relative to self (all-zero address), so both land in
	// bucket 2 and the second overflows the size-1 bucket.
	tbl.Observe(p1)
	tbl.Observe(p2)

	assert.LessOrEqual(t, tbl.Size(), 1)
}

func TestRemoveEvictsLivePeer(t *testing.T) {
	self := address.Address{}
	tbl := NewTable(self, 4, 2)
	p := peerWithKey(t, 1, "10.0.0.1", 9000)
	tbl.Observe(p)
	require.Equal(t, 1, tbl.Size())

	tbl.Remove(p.Address())
	assert.Equal(t, 0, tbl.Size())
}

func TestClosestOrdersByXORDistance(t *testing.T) {
	self := address.Address{}
	tbl := NewTable(self, 20, 2)

	for i := byte(1); i <= 5; i++ {
		tbl.Observe(peerWithKey(t, i, "10.0.0.1", 9000+int(i)))
	}

	target := address.Address{}
	closest := tbl.Closest(target, 3)
	assert.Len(t, closest, 3)
	for i := 1; i < len(closest); i++ {
		prev := address.Distance(target, closest[i-1].Address())
		cur := address.Distance(target, closest[i].Address())
		assert.False(t, address.Less(cur, prev))
	}
}

func TestPopReplacementReturnsMostRecentCandidate(t *testing.T) {
	self := address.Address{}
	tbl := NewTable(self, 1, 2)
	p1 := peerWithKey(t, 1, "10.0.0.1", 9000)
	p2 := peerWithKey(t, 5, "10.0.0.2", 9000)
	tbl.Observe(p1)
	tbl.Observe(p2)

	cand, ok := tbl.PopReplacement(p1.Address())
	assert.True(t, ok)
	assert.Equal(t, p2.Address(), cand.Address())

	_, ok = tbl.PopReplacement(p1.Address())
	assert.False(t, ok)
}
