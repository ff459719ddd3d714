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
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kademesh/kademesh/internal/metrics"
	"go.uber.org/zap"
)

// InboundHandler is invoked once per frame set received by the router. The
// identity is the connection's opaque routing token; the router sends
// replies addressed to it via SendTo. Handler errors are logged and never
// propagate back into the read loop: one bad message from one peer must
// never take the router socket down.
type InboundHandler func(identity []byte, frames [][]byte)

// Router is the single bound inbound socket: every peer connection is
// upgraded to a WebSocket, tracked by an assigned identity, and read in
// its own goroutine. Replies route back to an identity by looking up its
// live connection; concurrent replies to the same identity are written
// one after another under that connection's write lock, and none is
// dropped or superseded.
type Router struct {
	log      *zap.Logger
	handler  InboundHandler
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	conns    map[string]*websocket.Conn
	writeMus map[string]*sync.Mutex

	httpServer *http.Server
	listener   net.Listener
	served     chan error
}

// NewRouter builds a Router that dispatches every inbound frame set to
// handler.
func NewRouter(log *zap.Logger, handler InboundHandler) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		log:      log.Named("router"),
		handler:  handler,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns:    make(map[string]*websocket.Conn),
		writeMus: make(map[string]*sync.Mutex),
		served:   make(chan error, 1),
	}
}

// Start binds addr (host:port, port 0 for an ephemeral port) and begins
// accepting connections in the background.
func (r *Router) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind router socket: %w", err)
	}
	r.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/", r.handleConnection)
	r.httpServer = &http.Server{Handler: mux}

	go func() {
		err := r.httpServer.Serve(ln)
		if err != nil && err != http.ErrServerClosed {
			r.log.Error("router socket serve exited", zap.Error(err))
			r.served <- err
			return
		}
		r.served <- nil
	}()
	return nil
}

// Addr returns the bound listener address. Valid only after Start.
func (r *Router) Addr() net.Addr {
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Done reports the outcome of the accept loop started by Start: nil once
// Close stops it deliberately, a non-nil error if the socket dies
// unexpectedly. Intended for the lifecycle supervisor to treat an
// unexpected router failure as fatal to the run.
func (r *Router) Done() <-chan error {
	return r.served
}

func (r *Router) handleConnection(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	token := uuid.New()
	identity := token[:]
	key := string(identity)

	r.mu.Lock()
	r.conns[key] = conn
	r.writeMus[key] = &sync.Mutex{}
	r.mu.Unlock()
	metrics.RouterConnections.Inc()

	defer func() {
		r.mu.Lock()
		delete(r.conns, key)
		delete(r.writeMus, key)
		r.mu.Unlock()
		metrics.RouterConnections.Dec()
		metrics.ConnectionsDisposed.WithLabelValues("router", "closed").Inc()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			r.log.Debug("router connection read ended", zap.Error(err))
			return
		}
		frames, err := DecodeFrames(data)
		if err != nil {
			r.log.Warn("dropping malformed frame set", zap.Error(err))
			continue
		}
		metrics.FramesReceived.WithLabelValues("router").Inc()
		r.dispatch(identity, frames)
	}
}

// dispatch invokes the handler, recovering from and logging any panic so
// one malformed or unexpected message never tears down the read loop
// serving every other peer on this router.
func (r *Router) dispatch(identity []byte, frames [][]byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("inbound handler panicked", zap.Any("panic", rec))
		}
	}()
	r.handler(identity, frames)
}

// SendTo writes a reply addressed to identity. If the identity's
// connection is no longer live (the peer disconnected, or never
// connected), ErrUnknownPeer-shaped behavior is left to the caller: SendTo
// returns a plain error and does nothing else, since the reply queue
// (component G) is responsible for logging and dropping failed replies.
func (r *Router) SendTo(ctx context.Context, identity []byte, frames [][]byte, timeout time.Duration) error {
	key := string(identity)
	r.mu.RLock()
	conn, ok := r.conns[key]
	writeMu := r.writeMus[key]
	r.mu.RUnlock()
	if !ok {
		metrics.FramesSent.WithLabelValues("router", "unknown_peer").Inc()
		return fmt.Errorf("no live connection for identity")
	}

	writeMu.Lock()
	defer writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, EncodeFrames(frames)); err != nil {
		metrics.FramesSent.WithLabelValues("router", "failure").Inc()
		return fmt.Errorf("write reply: %w", err)
	}
	metrics.FramesSent.WithLabelValues("router", "success").Inc()
	return nil
}

// Close stops accepting new connections and closes every tracked one.
func (r *Router) Close() error {
	if r.httpServer != nil {
		_ = r.httpServer.Close()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, conn := range r.conns {
		_ = conn.Close()
		delete(r.conns, key)
		delete(r.writeMus, key)
	}
	return nil
}
