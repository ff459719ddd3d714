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
	// AllocationsActive tracks live TURN allocations.
	AllocationsActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "turn",
			Name:      "allocations_active",
			Help:      "Number of active TURN allocations held by this node",
		},
	)

	// AllocationRefreshes tracks allocation refresh attempts.
	AllocationRefreshes = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "turn",
			Name:      "allocation_refreshes_total",
			Help:      "Total number of TURN allocation refresh attempts",
		},
		[]string{"status"}, // success, failure
	)

	// PermissionsCreated tracks create_permission calls.
	PermissionsCreated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "turn",
			Name:      "permissions_created_total",
			Help:      "Total number of TURN permission installations",
		},
		[]string{"status"},
	)

	// SocketErrors tracks TURN client socket errors that trigger teardown.
	SocketErrors = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "turn",
			Name:      "socket_errors_total",
			Help:      "Total number of TURN client socket errors that triggered a reconnect",
		},
	)

	// NATBehindDetections tracks is_behind_nat outcomes.
	NATBehindDetections = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "turn",
			Name:      "nat_detections_total",
			Help:      "Total number of NAT presence detections",
		},
		[]string{"behind_nat"}, // true, false
	)
)
