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

package dispatch

import (
	"github.com/kademesh/kademesh/internal/metrics"
)

// queue is an unbounded single-consumer FIFO backed by a pump goroutine
// bridging an unbuffered intake channel to a buffered-by-slice outtake
// channel. Request/broadcast/reply enqueue must never block the caller on
// a full channel, and a plain Go channel has no unbounded variant.
type queue[T any] struct {
	label string
	in    chan T
	out   chan T
}

// newQueue builds a queue and starts its pump goroutine. label is the
// metrics.QueueDepth series this queue reports under ("requests", "reply",
// "broadcast").
func newQueue[T any](label string) *queue[T] {
	q := &queue[T]{label: label, in: make(chan T), out: make(chan T)}
	go q.pump()
	return q
}

func (q *queue[T]) pump() {
	var buf []T
	for {
		if len(buf) == 0 {
			v, ok := <-q.in
			if !ok {
				close(q.out)
				return
			}
			buf = append(buf, v)
			metrics.QueueDepth.WithLabelValues(q.label).Set(float64(len(buf)))
		}

		select {
		case v, ok := <-q.in:
			if !ok {
				for _, item := range buf {
					q.out <- item
				}
				metrics.QueueDepth.WithLabelValues(q.label).Set(0)
				close(q.out)
				return
			}
			buf = append(buf, v)
			metrics.QueueDepth.WithLabelValues(q.label).Set(float64(len(buf)))
		case q.out <- buf[0]:
			buf = buf[1:]
			metrics.QueueDepth.WithLabelValues(q.label).Set(float64(len(buf)))
		}
	}
}

// Push enqueues v. Never blocks for longer than it takes the pump to accept
// the value into its buffer.
func (q *queue[T]) Push(v T) {
	q.in <- v
}

// Chan returns the consumer-facing channel; it closes once Close has
// drained every buffered item.
func (q *queue[T]) Chan() <-chan T {
	return q.out
}

// Close stops accepting new items and lets the pump drain the remainder
// before closing Chan().
func (q *queue[T]) Close() {
	close(q.in)
}
