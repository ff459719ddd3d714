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
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/kademesh/kademesh/crypto/address"
	"github.com/kademesh/kademesh/internal/metrics"
	"github.com/kademesh/kademesh/p2p/history"
	"github.com/kademesh/kademesh/p2p/kerrors"
	"github.com/kademesh/kademesh/p2p/message"
	"go.uber.org/zap"
)

// Messenger is the narrow capability the protocol needs from the
// transport/dispatch layers. Depending on this interface instead of
// importing the dispatcher directly keeps the routing logic free of any
// socket concern and avoids a kademlia <-> dispatch import cycle, since
// the dispatcher in turn needs the routing table to resolve broadcast
// targets.
type Messenger interface {
	SendWithReply(ctx context.Context, peer message.BoundPeer, kind message.Kind, userKind string, payload []byte, timeout time.Duration, expectedResponses int) ([]*message.Message, error)
	Broadcast(ctx context.Context, peers []message.BoundPeer, kind message.Kind, userKind string, payload []byte) error
	Reply(ctx context.Context, identity []byte, kind message.Kind, userKind string, payload []byte) error
}

// UserHandler processes an inbound user-kind message; the protocol layer
// only owns Ping/Pong/FindNeighbors/Neighbors.
type UserHandler func(ctx context.Context, msg *message.Message)

// neighborsPayload is the JSON body of a Neighbors reply.
type neighborsPayload struct {
	Peers []message.BoundPeer `json:"peers"`
}

// findPayload is the JSON body of a FindNeighbors request.
type findPayload struct {
	Target address.Address `json:"target"`
}

// Protocol implements the Kademlia operations against a routing Table
// and an injected Messenger.
type Protocol struct {
	self     message.BoundPeer
	table    *Table
	messenger Messenger
	bucketSize int
	concurrency int
	log      *zap.Logger
	history  *history.Ring
	onUser   UserHandler

	mu           sync.Mutex
	bucketTouched [address.NumBuckets]time.Time
}

// NewProtocol builds a Protocol rooted at self's own routing table.
func NewProtocol(self message.BoundPeer, table *Table, messenger Messenger, bucketSize, concurrency int, log *zap.Logger, hist *history.Ring, onUser UserHandler) *Protocol {
	if log == nil {
		log = zap.NewNop()
	}
	return &Protocol{
		self:        self,
		table:       table,
		messenger:   messenger,
		bucketSize:  bucketSize,
		concurrency: concurrency,
		log:         log.Named("kademlia"),
		history:     hist,
		onUser:      onUser,
	}
}

// Ping checks liveness of peer, observing it in the table on success.
func (p *Protocol) Ping(ctx context.Context, peer message.BoundPeer) error {
	replies, err := p.messenger.SendWithReply(ctx, peer, message.KindPing, "", nil, 3*time.Second, 1)
	if err != nil {
		return fmt.Errorf("ping %s: %w", peer.Address(), err)
	}
	if len(replies) == 0 {
		return kerrors.ErrTimeout
	}
	p.table.Observe(peer)
	p.recordTouch(peer.Address())
	return nil
}

// FindSpecificPeer performs an iterative Kademlia lookup for target,
// querying up to concurrency peers at a time and following the closest
// responses until a round makes no further progress.
func (p *Protocol) FindSpecificPeer(ctx context.Context, target address.Address) ([]message.BoundPeer, error) {
	shortlist := p.table.Closest(target, p.bucketSize)
	queried := make(map[address.Address]bool)
	best := shortlist

	for {
		batch := make([]message.BoundPeer, 0, p.concurrency)
		for _, c := range shortlist {
			if queried[c.Address()] {
				continue
			}
			batch = append(batch, c)
			if len(batch) == p.concurrency {
				break
			}
		}
		if len(batch) == 0 {
			return best, nil
		}

		var mu sync.Mutex
		var wg sync.WaitGroup
		merged := append([]message.BoundPeer(nil), best...)
		for _, c := range batch {
			queried[c.Address()] = true
			wg.Add(1)
			go func(peer message.BoundPeer) {
				defer wg.Done()
				found, err := p.queryFindNeighbors(ctx, peer, target)
				if err != nil {
					return
				}
				mu.Lock()
				merged = append(merged, found...)
				mu.Unlock()
			}(c)
		}
		wg.Wait()

		merged = closestUnique(target, merged, p.bucketSize)
		if sameSet(merged, best) {
			return best, nil
		}
		best = merged
		shortlist = merged
	}
}

func (p *Protocol) queryFindNeighbors(ctx context.Context, peer message.BoundPeer, target address.Address) ([]message.BoundPeer, error) {
	payload, err := json.Marshal(findPayload{Target: target})
	if err != nil {
		return nil, err
	}
	replies, err := p.messenger.SendWithReply(ctx, peer, message.KindFindNeighbors, "", payload, 3*time.Second, 1)
	if err != nil || len(replies) == 0 {
		return nil, kerrors.ErrTimeout
	}
	var body neighborsPayload
	if err := json.Unmarshal(replies[0].Payload, &body); err != nil {
		return nil, fmt.Errorf("%w: decode neighbors payload: %v", kerrors.ErrInvalidMessage, err)
	}
	p.table.Observe(peer)
	return body.Peers, nil
}

func closestUnique(target address.Address, peers []message.BoundPeer, n int) []message.BoundPeer {
	seen := make(map[address.Address]bool)
	var unique []message.BoundPeer
	for _, pr := range peers {
		if seen[pr.Address()] {
			continue
		}
		seen[pr.Address()] = true
		unique = append(unique, pr)
	}
	for i := 1; i < len(unique); i++ {
		for j := i; j > 0 && address.Less(address.Distance(target, unique[j].Address()), address.Distance(target, unique[j-1].Address())); j-- {
			unique[j], unique[j-1] = unique[j-1], unique[j]
		}
	}
	if len(unique) > n {
		unique = unique[:n]
	}
	return unique
}

func sameSet(a, b []message.BoundPeer) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Address() != b[i].Address() {
			return false
		}
	}
	return true
}

// Bootstrap pings every seed and then looks up our own address, the
// standard way of populating a fresh routing table from a known set of
// entry points.
func (p *Protocol) Bootstrap(ctx context.Context, seeds []message.BoundPeer) error {
	for _, seed := range seeds {
		if err := p.Ping(ctx, seed); err != nil {
			p.log.Warn("bootstrap seed unreachable", zap.String("peer", seed.Endpoint()), zap.Error(err))
			continue
		}
	}
	_, err := p.FindSpecificPeer(ctx, p.self.Address())
	return err
}

// ReceiveMessage dispatches an inbound message by kind. Ping/FindNeighbors
// are answered here; Pong/Neighbors are reply traffic already consumed by
// the dispatcher's request correlation and never reach this method; User
// messages are handed to the application handler.
func (p *Protocol) ReceiveMessage(ctx context.Context, msg *message.Message) {
	if p.history != nil {
		p.history.Record(history.Entry{Direction: history.Received, Kind: msg.Kind, Peer: msg.Sender.Address().String(), At: time.Now()})
	}

	switch msg.Kind {
	case message.KindPing:
		p.table.Observe(boundFromSender(msg))
		if err := p.messenger.Reply(ctx, msg.Identity, message.KindPong, "", nil); err != nil {
			p.log.Debug("failed to reply to ping", zap.Error(err))
		}
	case message.KindFindNeighbors:
		p.table.Observe(boundFromSender(msg))
		var req findPayload
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			p.log.Warn("malformed find_neighbors payload", zap.Error(err))
			return
		}
		body, err := json.Marshal(neighborsPayload{Peers: p.table.Closest(req.Target, p.bucketSize)})
		if err != nil {
			return
		}
		if err := p.messenger.Reply(ctx, msg.Identity, message.KindNeighbors, "", body); err != nil {
			p.log.Debug("failed to reply to find_neighbors", zap.Error(err))
		}
	case message.KindUser:
		p.table.Observe(boundFromSender(msg))
		if p.onUser != nil {
			p.onUser(ctx, msg)
		}
	default:
		p.log.Debug("ignoring unexpected message kind on protocol path", zap.String("kind", msg.Kind.String()))
	}
}

// boundFromSender reconstructs a routable BoundPeer from a message's
// self-reported sender info. The host is taken from the sender's
// self-reported public IP; callers relying on a specific listen port must
// overwrite it once the handshake carries one (carried in User kind
// payloads by convention at the application layer).
func boundFromSender(msg *message.Message) message.BoundPeer {
	return message.BoundPeer{Peer: msg.Sender, Host: msg.Sender.PublicIP}
}

func (p *Protocol) recordTouch(addr address.Address) {
	idx := address.BucketIndex(address.Distance(p.self.Address(), addr))
	if idx < 0 {
		return
	}
	p.mu.Lock()
	p.bucketTouched[idx] = time.Now()
	p.mu.Unlock()
}

// RefreshTable probes every bucket that has not been touched within
// staleAfter by looking up a random address falling in that bucket,
// keeping distant, rarely-contacted regions of the address space fresh.
func (p *Protocol) RefreshTable(ctx context.Context, staleAfter time.Duration) {
	now := time.Now()
	for idx := 0; idx < address.NumBuckets; idx++ {
		p.mu.Lock()
		last := p.bucketTouched[idx]
		p.mu.Unlock()
		if now.Sub(last) < staleAfter {
			continue
		}
		target := RandomAddressInBucket(p.self.Address(), idx, func() byte { return byte(rand.Intn(256)) })
		if _, err := p.FindSpecificPeer(ctx, target); err != nil {
			metrics.BucketRefreshes.WithLabelValues("failure").Inc()
			continue
		}
		metrics.BucketRefreshes.WithLabelValues("success").Inc()
		p.recordTouch(target)
	}
}

// CheckReplacementCache pings the oldest live peer in addr's bucket; if
// it fails to respond, it is evicted and the most recent replacement
// candidate is promoted in its place.
func (p *Protocol) CheckReplacementCache(ctx context.Context, addr address.Address) {
	oldest, ok := p.table.OldestLive(addr)
	if !ok {
		return
	}
	if err := p.Ping(ctx, oldest); err == nil {
		return
	}
	p.table.Remove(oldest.Address())
	if replacement, ok := p.table.PopReplacement(addr); ok {
		p.table.Observe(replacement)
	}
}

// RebuildConnection re-pings every known peer, used after a TURN
// reallocation invalidates previously established NAT permissions.
func (p *Protocol) RebuildConnection(ctx context.Context) {
	for _, peer := range p.table.All() {
		if err := p.Ping(ctx, peer); err != nil {
			p.log.Debug("peer unreachable during connection rebuild", zap.String("peer", peer.Endpoint()), zap.Error(err))
		}
	}
}

// PeersToBroadcast returns every live peer except those in except, the
// fan-out target set for a broadcast message.
func (p *Protocol) PeersToBroadcast(except map[address.Address]bool) []message.BoundPeer {
	all := p.table.All()
	if len(except) == 0 {
		return all
	}
	out := make([]message.BoundPeer, 0, len(all))
	for _, peer := range all {
		if !except[peer.Address()] {
			out = append(out, peer)
		}
	}
	return out
}

// Trace returns a snapshot of recent message history plus the current
// table occupancy, the data backing an operator-facing introspection
// endpoint.
func (p *Protocol) Trace() (entries []history.Entry, tableSize, nonEmptyBuckets int) {
	if p.history != nil {
		entries = p.history.Snapshot()
	}
	return entries, p.table.Size(), p.table.NonEmptyBuckets()
}
