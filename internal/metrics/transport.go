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
	// RouterConnections tracks inbound connections held by the router socket.
	RouterConnections = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "router_connections",
			Help:      "Number of inbound peer connections currently held by the router socket",
		},
	)

	// DealerConnections tracks outbound connections held by the dealer pool.
	DealerConnections = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "dealer_connections",
			Help:      "Number of outbound peer connections currently held by the dealer pool",
		},
	)

	// FramesSent tracks frames written to a peer connection.
	FramesSent = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_sent_total",
			Help:      "Total number of message frames sent",
		},
		[]string{"socket", "status"}, // router/dealer, success/failure/timeout
	)

	// FramesReceived tracks frames read from a peer connection.
	FramesReceived = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_received_total",
			Help:      "Total number of message frames received",
		},
		[]string{"socket"}, // router/dealer
	)

	// ConnectionsDisposed tracks connection teardown by reason.
	ConnectionsDisposed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connections_disposed_total",
			Help:      "Total number of peer connections torn down",
		},
		[]string{"socket", "reason"}, // send_failure, send_timeout, table_churn, shutdown, exchange_complete, closed
	)
)
