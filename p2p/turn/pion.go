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

package turn

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pion/logging"
	pionturn "github.com/pion/turn/v2"
)

// pionSession implements session over a real pion/turn/v2 client and its
// negotiated relay connection.
type pionSession struct {
	conn  net.PacketConn
	tc    *pionturn.Client
	relay *pionturn.UDPConn
}

// dialPion is the default dialFunc: it opens a UDP socket, builds a
// pion/turn/v2 client against the given ICE server, and starts its
// control-message loop.
func dialPion(ctx context.Context, server ICEServer) (session, error) {
	conn, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		return nil, fmt.Errorf("open local UDP socket: %w", err)
	}

	cfg := &pionturn.ClientConfig{
		STUNServerAddr: server.URL,
		TURNServerAddr: server.URL,
		Conn:           conn,
		Username:       server.Username,
		Password:       server.Credential,
		LoggerFactory:  logging.NewDefaultLoggerFactory(),
	}

	tc, err := pionturn.NewClient(cfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("build turn client for %s: %w", server.URL, err)
	}
	if err := tc.Listen(); err != nil {
		tc.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("listen on turn client for %s: %w", server.URL, err)
	}

	return &pionSession{conn: conn, tc: tc}, nil
}

func (s *pionSession) MappedAddress() (net.Addr, error) {
	return s.tc.SendBindingRequest()
}

func (s *pionSession) Allocate() (net.Addr, error) {
	pc, err := s.tc.Allocate()
	if err != nil {
		return nil, err
	}
	relay, ok := pc.(*pionturn.UDPConn)
	if !ok {
		return nil, fmt.Errorf("unexpected relay connection type %T", pc)
	}
	s.relay = relay
	return relay.LocalAddr(), nil
}

func (s *pionSession) Refresh(lifetime time.Duration) (time.Duration, error) {
	if s.relay == nil {
		return 0, fmt.Errorf("no active allocation to refresh")
	}
	if err := s.relay.Refresh(lifetime); err != nil {
		return 0, err
	}
	return lifetime, nil
}

func (s *pionSession) CreatePermission(addr net.Addr) error {
	if s.relay == nil {
		return fmt.Errorf("no active allocation")
	}
	return s.relay.CreatePermission(addr)
}

func (s *pionSession) Close() error {
	if s.relay != nil {
		_ = s.relay.Close()
	}
	s.tc.Close()
	return s.conn.Close()
}
