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

// Package turn allocates a TURN relay and maintains its lifetime and
// per-peer permissions for nodes with no directly reachable public
// address.
package turn

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/kademesh/kademesh/internal/metrics"
	"github.com/kademesh/kademesh/p2p/kerrors"
	"go.uber.org/zap"
)

// ICEServer names one STUN/TURN relay candidate.
type ICEServer struct {
	URL        string
	Username   string
	Credential string
}

// session abstracts the subset of a TURN/STUN control channel the Client
// depends on, so unit tests can substitute a fake instead of dialing a
// real relay.
type session interface {
	MappedAddress() (net.Addr, error)
	Allocate() (net.Addr, error)
	Refresh(lifetime time.Duration) (time.Duration, error)
	CreatePermission(addr net.Addr) error
	Close() error
}

// dialFunc establishes a session with one ICE server; the default is
// dialPion, replaced in tests.
type dialFunc func(ctx context.Context, server ICEServer) (session, error)

// Client allocates a relay address, refreshes it before expiry, and
// issues per-peer permissions. All operations funnel through a single
// mutex: the source's single-threaded TURN client is replicated here by
// serializing allocate/refresh/permission/dispose, since pion's client is
// not safe for concurrent use from independent goroutines.
type Client struct {
	log     *zap.Logger
	servers []ICEServer
	dial    dialFunc

	permissionTTL time.Duration
	refreshMargin time.Duration

	localAddrs func() ([]net.Addr, error)

	mu          sync.Mutex
	sess        session
	mappedAddr  net.Addr
	lifetime    time.Duration
	relayAddr   net.Addr
	permissions map[string]time.Time // peer endpoint -> expiry
}

// New builds a Client that will, on first use, race the given ICE
// servers and use whichever answers first.
func New(log *zap.Logger, servers []ICEServer, permissionTTL, refreshMargin time.Duration) *Client {
	return newClient(log, servers, permissionTTL, refreshMargin, dialPion, net.InterfaceAddrs)
}

func newClient(log *zap.Logger, servers []ICEServer, permissionTTL, refreshMargin time.Duration, dial dialFunc, localAddrs func() ([]net.Addr, error)) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		log:           log.Named("turn"),
		servers:       servers,
		dial:          dial,
		permissionTTL: permissionTTL,
		refreshMargin: refreshMargin,
		localAddrs:    localAddrs,
		permissions:   make(map[string]time.Time),
	}
}

// connectLocked races the configured ICE servers and keeps the first
// session that answers. Caller must hold mu.
func (c *Client) connectLocked(ctx context.Context) error {
	if c.sess != nil {
		return nil
	}
	if len(c.servers) == 0 {
		return fmt.Errorf("%w: no ICE servers configured", kerrors.ErrSocketError)
	}

	type result struct {
		sess session
		err  error
	}
	results := make(chan result, len(c.servers))
	for _, server := range c.servers {
		server := server
		go func() {
			sess, err := c.dial(ctx, server)
			results <- result{sess, err}
		}()
	}

	var lastErr error
	for range c.servers {
		r := <-results
		if r.err == nil {
			c.sess = r.sess
			return nil
		}
		lastErr = r.err
	}
	return fmt.Errorf("%w: no usable ICE server: %v", kerrors.ErrSocketError, lastErr)
}

// GetMappedAddress returns our server-reflexive address as seen by the
// relay.
func (c *Client) GetMappedAddress(ctx context.Context) (net.Addr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}
	addr, err := c.sess.MappedAddress()
	if err != nil {
		return nil, c.teardownLocked(fmt.Errorf("get mapped address: %w", err))
	}
	c.mappedAddr = addr
	return addr, nil
}

// IsBehindNAT reports whether the mapped address differs from every
// local interface address, meaning packets from peers cannot reach us
// directly and must be relayed.
func (c *Client) IsBehindNAT(ctx context.Context) (bool, error) {
	mapped, err := c.GetMappedAddress(ctx)
	if err != nil {
		return false, err
	}
	mappedHost, _, err := net.SplitHostPort(mapped.String())
	if err != nil {
		mappedHost = mapped.String()
	}

	addrs, err := c.localAddrs()
	if err != nil {
		return false, fmt.Errorf("enumerate local interfaces: %w", err)
	}
	for _, a := range addrs {
		host, _, err := net.SplitHostPort(a.String())
		if err != nil {
			host = a.String()
		}
		if ipOnly(host) == ipOnly(mappedHost) {
			return false, nil
		}
	}
	return true, nil
}

func ipOnly(host string) string {
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return host
}

// AllocateRequest reserves a relay address and records lifetime as the
// allocation's current lifetime. It does not start any refresh; that is
// RunRefreshLoop's job.
func (c *Client) AllocateRequest(ctx context.Context, lifetime time.Duration) (net.Addr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}
	addr, err := c.sess.Allocate()
	if err != nil {
		return nil, c.teardownLocked(fmt.Errorf("allocate relay: %w", err))
	}
	c.relayAddr = addr
	c.lifetime = lifetime
	metrics.AllocationsActive.Inc()
	return addr, nil
}

// RefreshAllocation extends the current allocation. The relay may grant
// a shorter lifetime than requested; the returned value is authoritative.
func (c *Client) RefreshAllocation(ctx context.Context, lifetime time.Duration) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil {
		return 0, fmt.Errorf("%w: no active session", kerrors.ErrSocketError)
	}
	granted, err := c.sess.Refresh(lifetime)
	if err != nil {
		metrics.AllocationRefreshes.WithLabelValues("failure").Inc()
		return 0, c.teardownLocked(fmt.Errorf("%w: refresh allocation: %v", kerrors.ErrSocketError, err))
	}
	metrics.AllocationRefreshes.WithLabelValues("success").Inc()
	c.lifetime = granted
	return granted, nil
}

// RunRefreshLoop refreshes the allocation one refreshMargin before its
// lifetime elapses, looping until ctx is cancelled. When a refresh fails
// the session has already been disposed; the loop then calls reallocate,
// which re-dials from the ICE server list and re-establishes the
// allocation and every known permission. It returns nil on cancellation
// and returns the error only if that reallocation fails.
func (c *Client) RunRefreshLoop(ctx context.Context, lifetime time.Duration) error {
	current := lifetime
	for {
		delay := current - c.refreshMargin
		if delay < 0 {
			delay = 0
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		granted, err := c.RefreshAllocation(ctx, lifetime)
		if err != nil {
			if reallocErr := c.reallocate(ctx, lifetime); reallocErr != nil {
				return reallocErr
			}
			current = lifetime
			continue
		}
		current = granted
	}
}

// reallocate tears down the current session (already done by
// teardownLocked inside RefreshAllocation) and re-establishes a fresh
// allocation plus every outstanding permission.
func (c *Client) reallocate(ctx context.Context, lifetime time.Duration) error {
	c.mu.Lock()
	known := make([]string, 0, len(c.permissions))
	for endpoint := range c.permissions {
		known = append(known, endpoint)
	}
	c.mu.Unlock()

	if _, err := c.AllocateRequest(ctx, lifetime); err != nil {
		return err
	}
	for _, endpoint := range known {
		addr, err := net.ResolveUDPAddr("udp", endpoint)
		if err != nil {
			continue
		}
		if err := c.CreatePermission(ctx, addr); err != nil {
			c.log.Warn("failed to re-establish permission after reallocation", zap.String("peer", endpoint), zap.Error(err))
		}
	}
	return nil
}

// CreatePermission authorizes inbound traffic from peerAddr. If peerAddr
// is a loopback address (the test-fixture case where peer and relay run
// on the same host), the relay's own mapped address is substituted,
// since a real relay will never forward traffic whose claimed source is
// loopback.
func (c *Client) CreatePermission(ctx context.Context, peerAddr net.Addr) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return err
	}

	effective := peerAddr
	if host, _, err := net.SplitHostPort(peerAddr.String()); err == nil {
		if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() && c.mappedAddr != nil {
			effective = c.mappedAddr
		}
	}

	if err := c.sess.CreatePermission(effective); err != nil {
		metrics.PermissionsCreated.WithLabelValues("failure").Inc()
		return c.teardownLocked(fmt.Errorf("create permission: %w", err))
	}
	metrics.PermissionsCreated.WithLabelValues("success").Inc()
	c.permissions[peerAddr.String()] = time.Now().Add(c.permissionTTL)
	return nil
}

// RefreshPermissions re-issues a permission for every peer endpoint whose
// permission is unknown or will expire within refreshMargin. It runs only
// when called; Node does not call it, so permissions are not re-issued on
// a schedule.
func (c *Client) RefreshPermissions(ctx context.Context, peers []net.Addr) error {
	now := time.Now()
	for _, peer := range peers {
		c.mu.Lock()
		expiry, known := c.permissions[peer.String()]
		c.mu.Unlock()

		if known && expiry.Sub(now) > c.refreshMargin {
			continue
		}
		if err := c.CreatePermission(ctx, peer); err != nil {
			return err
		}
	}
	return nil
}

// BindProxies holds a UDP socket on localPort open until ctx is
// cancelled, reading and discarding every datagram that arrives on it.
// It forwards nothing: packets are not copied between the relay address
// and localPort in either direction.
func (c *Client) BindProxies(ctx context.Context, localPort int) error {
	local, err := net.ListenUDP("udp4", &net.UDPAddr{Port: localPort})
	if err != nil {
		return fmt.Errorf("bind local proxy port: %w", err)
	}
	defer local.Close()

	go func() {
		<-ctx.Done()
		_ = local.Close()
	}()

	buf := make([]byte, 64*1024)
	for {
		n, from, err := local.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			metrics.SocketErrors.Inc()
			return fmt.Errorf("%w: proxy read: %v", kerrors.ErrSocketError, err)
		}
		_ = n
		_ = from
		// The datagram is dropped; neither this loop nor the session
		// passes it on to the relay connection.
	}
}

// Dispose closes the active session, if any.
func (c *Client) Dispose() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.teardownLocked(nil)
}

// teardownLocked closes the current session and clears it so the next
// operation re-dials. It returns origErr unchanged, or ErrSocketError if
// origErr was nil but the close itself failed.
func (c *Client) teardownLocked(origErr error) error {
	if c.sess == nil {
		return origErr
	}
	closeErr := c.sess.Close()
	c.sess = nil
	metrics.AllocationsActive.Dec()
	if origErr != nil {
		return origErr
	}
	if closeErr != nil {
		return fmt.Errorf("%w: %v", kerrors.ErrSocketError, closeErr)
	}
	return nil
}
