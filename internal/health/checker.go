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

package health

import "time"

// TableSnapshotFunc reports the current size of a node's routing table. The
// transport supplies this from its live kademlia table rather than the
// checker importing the table package directly, keeping health a leaf
// dependency of the node rather than the other way around.
type TableSnapshotFunc func() (peerCount, nonEmptyBuckets int)

// Checker performs health checks against a running node.
type Checker struct {
	snapshot TableSnapshotFunc
}

// NewChecker creates a new health checker. snapshot may be nil, in which
// case routing table health is omitted from the report.
func NewChecker(snapshot TableSnapshotFunc) *Checker {
	return &Checker{snapshot: snapshot}
}

// CheckAll performs all health checks.
func (c *Checker) CheckAll() *HealthStatus {
	status := &HealthStatus{
		Timestamp: time.Now(),
		Status:    StatusHealthy,
		Errors:    make([]string, 0),
	}

	if c.snapshot != nil {
		status.TableStatus = checkTable(c.snapshot)
		if status.TableStatus.Status != StatusHealthy {
			status.Status = status.TableStatus.Status
			if status.TableStatus.Error != "" {
				status.Errors = append(status.Errors, "RoutingTable: "+status.TableStatus.Error)
			}
		}
	}

	status.SystemStatus = CheckSystem()
	if status.SystemStatus.Status != StatusHealthy {
		if status.Status == StatusHealthy {
			status.Status = status.SystemStatus.Status
		} else if status.SystemStatus.Status == StatusUnhealthy {
			status.Status = StatusUnhealthy
		}
		if status.SystemStatus.Error != "" {
			status.Errors = append(status.Errors, "System: "+status.SystemStatus.Error)
		}
	}

	return status
}

// checkTable classifies routing table health by peer population: zero
// peers is unhealthy (the node is isolated), a handful is degraded, a
// well-populated table is healthy.
func checkTable(snapshot TableSnapshotFunc) *TableHealth {
	peerCount, bucketCount := snapshot()
	h := &TableHealth{PeerCount: peerCount, BucketCount: bucketCount}

	switch {
	case peerCount == 0:
		h.Status = StatusUnhealthy
		h.Error = "routing table has no peers"
	case peerCount < 5:
		h.Status = StatusDegraded
	default:
		h.Status = StatusHealthy
	}

	return h
}
