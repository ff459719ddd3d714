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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func TestDealerSendAndReceiveRoundTrip(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()
	endpoint := strings.TrimPrefix(srv.URL, "http://")

	pool := NewPool(nil, time.Second)
	defer pool.Close()

	frames := [][]byte{[]byte("ping")}
	require.NoError(t, pool.SendWithTimeout("peer-a", endpoint, frames, time.Second))

	d, err := pool.GetOrDial("peer-a", endpoint)
	require.NoError(t, err)
	got, err := d.Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, frames, got)
	assert.Equal(t, 1, pool.Len())
}

func TestPoolGetOrDialReusesConnection(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()
	endpoint := strings.TrimPrefix(srv.URL, "http://")

	pool := NewPool(nil, time.Second)
	defer pool.Close()

	d1, err := pool.GetOrDial("peer-a", endpoint)
	require.NoError(t, err)
	d2, err := pool.GetOrDial("peer-a", endpoint)
	require.NoError(t, err)
	assert.Same(t, d1, d2)
}

func TestPoolRemoveDisposesDealer(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()
	endpoint := strings.TrimPrefix(srv.URL, "http://")

	pool := NewPool(nil, time.Second)
	defer pool.Close()

	_, err := pool.GetOrDial("peer-a", endpoint)
	require.NoError(t, err)
	pool.Remove("peer-a", "table_churn")
	assert.Equal(t, 0, pool.Len())
}

func TestPoolSweepEvictsNonKeptEntries(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()
	endpoint := strings.TrimPrefix(srv.URL, "http://")

	pool := NewPool(nil, time.Second)
	defer pool.Close()

	_, err := pool.GetOrDial("peer-a", endpoint)
	require.NoError(t, err)
	_, err = pool.GetOrDial("peer-b", endpoint)
	require.NoError(t, err)

	pool.Sweep(func(key string) bool { return key == "peer-a" })
	assert.Equal(t, 1, pool.Len())
}

func TestDealerSendAfterServerCloseReturns(t *testing.T) {
	srv := echoServer(t)
	endpoint := strings.TrimPrefix(srv.URL, "http://")

	pool := NewPool(nil, time.Second)
	defer pool.Close()

	require.NoError(t, pool.SendWithTimeout("peer-a", endpoint, [][]byte{[]byte("x")}, time.Second))
	srv.Close()

	// Allow the TCP teardown to propagate before the next send attempt.
	time.Sleep(50 * time.Millisecond)
	_ = pool.SendWithTimeout("peer-a", endpoint, [][]byte{[]byte("y")}, time.Second)
}
