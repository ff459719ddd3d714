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

// Package dispatch implements the request dispatcher and the reply and
// broadcast queues: the only components that open sockets on a caller's
// behalf and correlate replies back to a completion handle.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kademesh/kademesh/p2p/message"
)

// requestResult is what a MessageRequest's completion handle is resolved
// with: either the replies the dedicated dealer collected, or an error.
type requestResult struct {
	replies []*message.Message
	err     error
}

// MessageRequest is one outbound request/reply exchange in flight: the unit
// the worker pool takes off the request queue. Invariant: RetryCount never
// exceeds the dispatcher's configured cap; once it would, the request is
// discarded with an error instead of being re-enqueued.
type MessageRequest struct {
	ID                string
	Peer              message.BoundPeer
	Kind              message.Kind
	UserKind          string
	Payload           []byte
	RequestedAt       time.Time
	Timeout           time.Duration
	ExpectedResponses int
	RetryCount        int

	ctx  context.Context
	done chan requestResult
	once sync.Once
}

func newMessageRequest(ctx context.Context, peer message.BoundPeer, kind message.Kind, userKind string, payload []byte, timeout time.Duration, expectedResponses int) *MessageRequest {
	return &MessageRequest{
		ID:                uuid.NewString(),
		Peer:              peer,
		Kind:              kind,
		UserKind:          userKind,
		Payload:           payload,
		RequestedAt:       time.Now(),
		Timeout:           timeout,
		ExpectedResponses: expectedResponses,
		ctx:               ctx,
		done:              make(chan requestResult, 1),
	}
}

// resolve delivers the request's outcome to its completion handle exactly
// once; later calls (e.g. a cancellation racing a worker's own resolution)
// are no-ops.
func (r *MessageRequest) resolve(replies []*message.Message, err error) {
	r.once.Do(func() {
		r.done <- requestResult{replies: replies, err: err}
	})
}
