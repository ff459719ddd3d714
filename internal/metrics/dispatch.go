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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsInitiated tracks requests submitted to the dispatcher.
	RequestsInitiated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "requests_initiated_total",
			Help:      "Total number of message requests submitted to the dispatcher",
		},
		[]string{"message_type"},
	)

	// RequestsCompleted tracks requests that reached a terminal outcome.
	RequestsCompleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "requests_completed_total",
			Help:      "Total number of message requests that reached a terminal outcome",
		},
		[]string{"message_type", "outcome"}, // success, timeout, retries_exhausted, cancelled
	)

	// RequestRetries tracks retry attempts.
	RequestRetries = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "request_retries_total",
			Help:      "Total number of request retry attempts",
		},
		[]string{"message_type"},
	)

	// RequestsInFlight tracks the live in-flight request count.
	RequestsInFlight = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "requests_in_flight",
			Help:      "Number of requests currently awaiting a reply",
		},
	)

	// RequestDuration tracks end-to-end request/reply latency.
	RequestDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "request_duration_seconds",
			Help:      "End-to-end request/reply latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"message_type"},
	)

	// QueueDepth tracks the reply/broadcast queue backlog.
	QueueDepth = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Number of messages waiting in a dispatch queue",
		},
		[]string{"queue"}, // requests, reply, broadcast
	)
)
