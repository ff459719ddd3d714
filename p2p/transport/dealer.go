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

package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kademesh/kademesh/internal/metrics"
	"go.uber.org/zap"
)

// Dealer is one lazily-dialed outbound connection to a single peer.
type Dealer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func dialDealer(ctx context.Context, endpoint string) (*Dealer, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, "ws://"+endpoint+"/", nil)
	if err != nil {
		return nil, fmt.Errorf("dial peer %s: %w", endpoint, err)
	}
	return &Dealer{conn: conn}, nil
}

// Send tries to write frames within timeout. The caller is responsible
// for disposing the dealer (via Pool.Remove) on error, since a send
// failure means the connection is no longer usable.
func (d *Dealer) Send(frames [][]byte, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_ = d.conn.SetWriteDeadline(time.Now().Add(timeout))
	return d.conn.WriteMessage(websocket.BinaryMessage, EncodeFrames(frames))
}

// Receive waits up to timeout for one frame set, used by the dispatcher
// while a request's dedicated dealer socket awaits its reply.
func (d *Dealer) Receive(timeout time.Duration) ([][]byte, error) {
	_ = d.conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := d.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return DecodeFrames(data)
}

// Close tears down the underlying connection.
func (d *Dealer) Close() error {
	return d.conn.Close()
}

// Pool lazily dials and caches one outbound Dealer per caller-chosen key
// (the dispatcher uses the peer's hex routing address, suffixed with the
// request ID for a dedicated exchange). Entries are removed on send
// failure, by an explicit Remove or Sweep, and on Close; leaving the
// routing table does not by itself remove a peer's entry.
type Pool struct {
	log         *zap.Logger
	mu          sync.Mutex
	dealers     map[string]*Dealer
	dialTimeout time.Duration
}

// NewPool builds an empty dealer pool.
func NewPool(log *zap.Logger, dialTimeout time.Duration) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		log:         log.Named("dealer"),
		dealers:     make(map[string]*Dealer),
		dialTimeout: dialTimeout,
	}
}

// GetOrDial returns the cached dealer for key, dialing endpoint if none
// exists yet.
func (p *Pool) GetOrDial(key, endpoint string) (*Dealer, error) {
	p.mu.Lock()
	if d, ok := p.dealers[key]; ok {
		p.mu.Unlock()
		return d, nil
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.dialTimeout)
	defer cancel()
	d, err := dialDealer(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if existing, ok := p.dealers[key]; ok {
		p.mu.Unlock()
		_ = d.Close()
		return existing, nil
	}
	p.dealers[key] = d
	p.mu.Unlock()
	metrics.DealerConnections.Inc()
	return d, nil
}

// Remove disposes and evicts the dealer for key, if present. reason is a
// metrics label (send_failure, send_timeout, table_churn, shutdown,
// exchange_complete).
func (p *Pool) Remove(key, reason string) {
	p.mu.Lock()
	d, ok := p.dealers[key]
	if ok {
		delete(p.dealers, key)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	_ = d.Close()
	metrics.DealerConnections.Dec()
	metrics.ConnectionsDisposed.WithLabelValues("dealer", reason).Inc()
}

// Sweep disposes every dealer whose key fails keep. It runs only when
// called; Node does not call it.
func (p *Pool) Sweep(keep func(key string) bool) {
	p.mu.Lock()
	var stale []string
	for key := range p.dealers {
		if !keep(key) {
			stale = append(stale, key)
		}
	}
	p.mu.Unlock()
	for _, key := range stale {
		p.Remove(key, "table_churn")
	}
}

// Len reports how many dealers are currently open.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dealers)
}

// Close tears down every dealer in the pool.
func (p *Pool) Close() {
	p.mu.Lock()
	keys := make([]string, 0, len(p.dealers))
	for key := range p.dealers {
		keys = append(keys, key)
	}
	p.mu.Unlock()
	for _, key := range keys {
		p.Remove(key, "shutdown")
	}
}

// SendWithTimeout writes frames to a peer, dialing lazily if needed, and
// disposes the dealer automatically on failure so the next attempt
// re-dials cleanly.
func (p *Pool) SendWithTimeout(key, endpoint string, frames [][]byte, timeout time.Duration) error {
	d, err := p.GetOrDial(key, endpoint)
	if err != nil {
		metrics.FramesSent.WithLabelValues("dealer", "failure").Inc()
		return err
	}
	if err := d.Send(frames, timeout); err != nil {
		p.Remove(key, "send_failure")
		metrics.FramesSent.WithLabelValues("dealer", "failure").Inc()
		return fmt.Errorf("send to peer: %w", err)
	}
	metrics.FramesSent.WithLabelValues("dealer", "success").Inc()
	return nil
}
