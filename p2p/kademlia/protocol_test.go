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
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/kademesh/kademesh/crypto/address"
	"github.com/kademesh/kademesh/p2p/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessenger struct {
	mu       sync.Mutex
	replies  map[message.Kind][]*message.Message
	sentTo   []message.BoundPeer
	replied  []message.Kind
	failPing bool
}

func (f *fakeMessenger) SendWithReply(ctx context.Context, peer message.BoundPeer, kind message.Kind, userKind string, payload []byte, timeout time.Duration, expected int) ([]*message.Message, error) {
	f.mu.Lock()
	f.sentTo = append(f.sentTo, peer)
	f.mu.Unlock()

	if kind == message.KindPing && f.failPing {
		return nil, nil
	}
	return f.replies[kind], nil
}

func (f *fakeMessenger) Broadcast(ctx context.Context, peers []message.BoundPeer, kind message.Kind, userKind string, payload []byte) error {
	return nil
}

func (f *fakeMessenger) Reply(ctx context.Context, identity []byte, kind message.Kind, userKind string, payload []byte) error {
	f.mu.Lock()
	f.replied = append(f.replied, kind)
	f.mu.Unlock()
	return nil
}

func selfPeer(t *testing.T, key byte) message.BoundPeer {
	return peerWithKey(t, key, "127.0.0.1", 8000)
}

func TestPingObservesPeerOnSuccess(t *testing.T) {
	fm := &fakeMessenger{replies: map[message.Kind][]*message.Message{message.KindPing: {{Kind: message.KindPong}}}}
	tbl := NewTable(selfPeer(t, 0).Address(), 8, 2)
	p := NewProtocol(selfPeer(t, 0), tbl, fm, 8, 3, nil, nil, nil)

	peer := peerWithKey(t, 9, "10.0.0.9", 9000)
	require.NoError(t, p.Ping(context.Background(), peer))
	assert.Equal(t, 1, tbl.Size())
}

func TestPingFailsWhenNoReply(t *testing.T) {
	fm := &fakeMessenger{failPing: true}
	tbl := NewTable(selfPeer(t, 0).Address(), 8, 2)
	p := NewProtocol(selfPeer(t, 0), tbl, fm, 8, 3, nil, nil, nil)

	err := p.Ping(context.Background(), peerWithKey(t, 9, "10.0.0.9", 9000))
	assert.Error(t, err)
	assert.Equal(t, 0, tbl.Size())
}

func TestReceiveMessagePingRepliesPong(t *testing.T) {
	fm := &fakeMessenger{}
	tbl := NewTable(selfPeer(t, 0).Address(), 8, 2)
	p := NewProtocol(selfPeer(t, 0), tbl, fm, 8, 3, nil, nil, nil)

	sender := peerWithKey(t, 5, "10.0.0.5", 9000)
	msg := &message.Message{Identity: []byte("conn-1"), Kind: message.KindPing, Sender: sender.Peer}
	msg.Sender.PublicIP = "10.0.0.5"
	p.ReceiveMessage(context.Background(), msg)

	require.Len(t, fm.replied, 1)
	assert.Equal(t, message.KindPong, fm.replied[0])
	assert.Equal(t, 1, tbl.Size())
}

func TestReceiveMessageFindNeighborsRepliesWithClosest(t *testing.T) {
	fm := &fakeMessenger{}
	self := selfPeer(t, 0)
	tbl := NewTable(self.Address(), 8, 2)
	tbl.Observe(peerWithKey(t, 3, "10.0.0.3", 9000))
	p := NewProtocol(self, tbl, fm, 8, 3, nil, nil, nil)

	target := peerWithKey(t, 7, "10.0.0.7", 9000).Address()
	payload, err := json.Marshal(findPayload{Target: target})
	require.NoError(t, err)

	sender := peerWithKey(t, 5, "10.0.0.5", 9000)
	sender.PublicIP = "10.0.0.5"
	msg := &message.Message{Identity: []byte("conn-2"), Kind: message.KindFindNeighbors, Sender: sender.Peer, Payload: payload}
	p.ReceiveMessage(context.Background(), msg)

	require.Len(t, fm.replied, 1)
	assert.Equal(t, message.KindNeighbors, fm.replied[0])
}

func TestReceiveMessageUserDelegatesToHandler(t *testing.T) {
	fm := &fakeMessenger{}
	self := selfPeer(t, 0)
	tbl := NewTable(self.Address(), 8, 2)
	var got *message.Message
	p := NewProtocol(self, tbl, fm, 8, 3, nil, nil, func(ctx context.Context, msg *message.Message) {
		got = msg
	})

	sender := peerWithKey(t, 5, "10.0.0.5", 9000)
	msg := &message.Message{Kind: message.KindUser, UserKind: "greeting", Sender: sender.Peer}
	p.ReceiveMessage(context.Background(), msg)
	require.NotNil(t, got)
	assert.Equal(t, "greeting", got.UserKind)
}

func TestPeersToBroadcastExcludesGivenSet(t *testing.T) {
	self := selfPeer(t, 0)
	tbl := NewTable(self.Address(), 8, 2)
	p1 := peerWithKey(t, 1, "10.0.0.1", 9000)
	p2 := peerWithKey(t, 2, "10.0.0.2", 9000)
	tbl.Observe(p1)
	tbl.Observe(p2)

	p := NewProtocol(self, tbl, &fakeMessenger{}, 8, 3, nil, nil, nil)
	out := p.PeersToBroadcast(map[address.Address]bool{p1.Address(): true})
	require.Len(t, out, 1)
	assert.Equal(t, p2.Address(), out[0].Address())
}

func TestCheckReplacementCachePromotesCandidateOnPingFailure(t *testing.T) {
	self := selfPeer(t, 0)
	tbl := NewTable(self.Address(), 1, 2)
	p1 := peerWithKey(t, 1, "10.0.0.1", 9000)
	p2 := peerWithKey(t, 5, "10.0.0.2", 9000)
	tbl.Observe(p1)
	tbl.Observe(p2) // bucket full -> p2 goes to replacement cache

	fm := &fakeMessenger{failPing: true}
	p := NewProtocol(self, tbl, fm, 1, 3, nil, nil, nil)
	p.CheckReplacementCache(context.Background(), p1.Address())

	all := tbl.All()
	require.Len(t, all, 1)
	assert.Equal(t, p2.Address(), all[0].Address())
}
