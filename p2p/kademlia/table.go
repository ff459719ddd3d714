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

// Package kademlia implements the routing table and protocol operations
// of a Kademlia-style DHT over an injected messaging capability, kept
// independent of any particular transport.
package kademlia

import (
	"sync"
	"time"

	"github.com/kademesh/kademesh/crypto/address"
	"github.com/kademesh/kademesh/internal/metrics"
	"github.com/kademesh/kademesh/p2p/message"
)

// entry is one known peer plus the last time it was seen alive.
type entry struct {
	peer    message.BoundPeer
	lastSeen time.Time
}

// bucket holds up to k live entries, most-recently-seen last, plus a
// bounded replacement cache of candidates waiting for a slot to free up.
type bucket struct {
	mu           sync.Mutex
	live         []entry
	replacements []entry
}

// Table is the Kademlia routing table: NumBuckets buckets indexed by
// common-prefix-length of the XOR distance to self.
type Table struct {
	self                 address.Address
	bucketSize           int
	replacementCacheSize int

	buckets [address.NumBuckets]*bucket
}

// NewTable builds an empty table for self with the given per-bucket
// capacities.
func NewTable(self address.Address, bucketSize, replacementCacheSize int) *Table {
	t := &Table{self: self, bucketSize: bucketSize, replacementCacheSize: replacementCacheSize}
	for i := range t.buckets {
		t.buckets[i] = &bucket{}
	}
	t.refreshMetrics()
	return t
}

func (t *Table) bucketFor(addr address.Address) (*bucket, int) {
	idx := address.BucketIndex(address.Distance(t.self, addr))
	if idx < 0 {
		idx = 0
	}
	return t.buckets[idx], idx
}

// Observe records that peer is alive. If its bucket is full and the peer
// is new, it is parked in the replacement cache instead of evicting a
// live, presumed-good entry; the caller (Ping via check_replacement_cache)
// decides whether to evict a stale entry later.
func (t *Table) Observe(peer message.BoundPeer) {
	b, _ := t.bucketFor(peer.Address())
	dirty := func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()

		for i, e := range b.live {
			if e.peer.Address() == peer.Address() {
				b.live[i].lastSeen = time.Now()
				b.live = append(append(b.live[:i], b.live[i+1:]...), entry{peer, time.Now()})
				return false
			}
		}

		if len(b.live) < t.bucketSize {
			b.live = append(b.live, entry{peer, time.Now()})
			return true
		}

		for i, e := range b.replacements {
			if e.peer.Address() == peer.Address() {
				b.replacements[i] = entry{peer, time.Now()}
				return false
			}
		}
		b.replacements = append(b.replacements, entry{peer, time.Now()})
		if len(b.replacements) > t.replacementCacheSize {
			b.replacements = b.replacements[len(b.replacements)-t.replacementCacheSize:]
		}
		return true
	}()
	if dirty {
		t.refreshMetrics()
	}
}

// Remove evicts peer from its bucket's live set, called when a peer is
// confirmed unreachable.
func (t *Table) Remove(addr address.Address) {
	b, _ := t.bucketFor(addr)
	removed := func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, e := range b.live {
			if e.peer.Address() == addr {
				b.live = append(b.live[:i], b.live[i+1:]...)
				return true
			}
		}
		return false
	}()
	if removed {
		metrics.PeerEvictions.WithLabelValues("stale").Inc()
		t.refreshMetrics()
	}
}

// OldestLive returns the least-recently-seen live entry in addr's bucket,
// the natural ping target when deciding whether to evict it in favor of a
// replacement candidate.
func (t *Table) OldestLive(addr address.Address) (message.BoundPeer, bool) {
	b, _ := t.bucketFor(addr)
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.live) == 0 {
		return message.BoundPeer{}, false
	}
	return b.live[0].peer, true
}

// PopReplacement removes and returns the most recently seen replacement
// candidate for addr's bucket, if any.
func (t *Table) PopReplacement(addr address.Address) (message.BoundPeer, bool) {
	b, _ := t.bucketFor(addr)
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.replacements) == 0 {
		return message.BoundPeer{}, false
	}
	last := b.replacements[len(b.replacements)-1]
	b.replacements = b.replacements[:len(b.replacements)-1]
	return last.peer, true
}

// Closest returns up to n live peers ordered by ascending XOR distance to
// target, the core primitive behind find_specific_peer and bootstrap.
func (t *Table) Closest(target address.Address, n int) []message.BoundPeer {
	type cand struct {
		peer message.BoundPeer
		dist address.Address
	}
	var all []cand
	for _, b := range t.buckets {
		b.mu.Lock()
		for _, e := range b.live {
			all = append(all, cand{e.peer, address.Distance(target, e.peer.Address())})
		}
		b.mu.Unlock()
	}
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && address.Less(all[j].dist, all[j-1].dist); j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}
	if len(all) > n {
		all = all[:n]
	}
	out := make([]message.BoundPeer, len(all))
	for i, c := range all {
		out[i] = c.peer
	}
	return out
}

// All returns every live peer, used by broadcast's peers_to_broadcast and
// CheckAllPeers.
func (t *Table) All() []message.BoundPeer {
	var out []message.BoundPeer
	for _, b := range t.buckets {
		b.mu.Lock()
		for _, e := range b.live {
			out = append(out, e.peer)
		}
		b.mu.Unlock()
	}
	return out
}

// NonEmptyBuckets reports how many buckets hold at least one live entry,
// a routing table health signal.
func (t *Table) NonEmptyBuckets() int {
	n := 0
	for _, b := range t.buckets {
		b.mu.Lock()
		if len(b.live) > 0 {
			n++
		}
		b.mu.Unlock()
	}
	return n
}

// Size returns the total number of live entries across all buckets.
func (t *Table) Size() int {
	n := 0
	for _, b := range t.buckets {
		b.mu.Lock()
		n += len(b.live)
		b.mu.Unlock()
	}
	return n
}

// RandomAddressInBucket returns a random address whose common-prefix
// length with self equals idx, used by refresh_table to probe buckets
// that have gone quiet.
func RandomAddressInBucket(self address.Address, idx int, randByte func() byte) address.Address {
	addr := self
	byteIdx := idx / 8
	bitInByte := uint(idx % 8)
	// Flip the first differing bit at position idx, then randomize the
	// remaining, less significant bits.
	addr[byteIdx] ^= 1 << (7 - bitInByte)
	for i := byteIdx + 1; i < address.Size; i++ {
		addr[i] = randByte()
	}
	return addr
}

func (t *Table) refreshMetrics() {
	metrics.RoutingTableSize.Set(float64(t.Size()))
	metrics.NonEmptyBuckets.Set(float64(t.NonEmptyBuckets()))

	replacements := 0
	for _, b := range t.buckets {
		b.mu.Lock()
		replacements += len(b.replacements)
		b.mu.Unlock()
	}
	metrics.ReplacementCacheSize.Set(float64(replacements))
}
