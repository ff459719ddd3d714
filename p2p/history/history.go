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

// Package history keeps a fixed-size ring of recently sent and received
// messages for diagnostics (trace()), independent of the routing table
// or any delivery guarantee.
package history

import (
	"sync"
	"time"

	"github.com/kademesh/kademesh/p2p/message"
)

// Direction marks whether an Entry was sent or received.
type Direction string

const (
	Sent     Direction = "sent"
	Received Direction = "received"
)

// Entry is one recorded message, timestamped when it was recorded.
type Entry struct {
	Direction Direction
	Kind      message.Kind
	Peer      string // peer address hex, empty if unknown at record time
	At        time.Time
}

// Ring is a concurrency-safe fixed-size ring buffer: the last N entries
// recorded, overwriting the oldest on overflow.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

// New creates a Ring holding at most size entries. size must be positive.
func New(size int) *Ring {
	if size <= 0 {
		size = 1
	}
	return &Ring{entries: make([]Entry, size)}
}

// Record appends an entry, overwriting the oldest if the ring is full.
func (r *Ring) Record(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// Snapshot returns a copy of the recorded entries, oldest first.
func (r *Ring) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]Entry, r.next)
		copy(out, r.entries[:r.next])
		return out
	}

	out := make([]Entry, len(r.entries))
	copy(out, r.entries[r.next:])
	copy(out[len(r.entries)-r.next:], r.entries[:r.next])
	return out
}
