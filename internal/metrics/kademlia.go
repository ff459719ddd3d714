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
	// RoutingTableSize tracks the number of peers currently held.
	RoutingTableSize = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "kademlia",
			Name:      "routing_table_size",
			Help:      "Number of peers currently held in the routing table",
		},
	)

	// NonEmptyBuckets tracks how many of the k-buckets hold at least one peer.
	NonEmptyBuckets = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "kademlia",
			Name:      "non_empty_buckets",
			Help:      "Number of k-buckets holding at least one peer",
		},
	)

	// ReplacementCacheSize tracks pending replacement candidates per bucket.
	ReplacementCacheSize = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "kademlia",
			Name:      "replacement_cache_size",
			Help:      "Total number of peers waiting in replacement caches",
		},
	)

	// BucketRefreshes tracks table refresh lookups.
	BucketRefreshes = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kademlia",
			Name:      "bucket_refreshes_total",
			Help:      "Total number of bucket refresh lookups performed",
		},
		[]string{"status"}, // success, failure
	)

	// PeerEvictions tracks peers dropped from the table.
	PeerEvictions = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kademlia",
			Name:      "peer_evictions_total",
			Help:      "Total number of peers evicted from the routing table",
		},
		[]string{"reason"}, // stale, replaced, version_mismatch
	)
)
