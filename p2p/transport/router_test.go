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
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterReceivesAndReplies(t *testing.T) {
	var mu sync.Mutex
	var gotIdentity []byte
	var gotFrames [][]byte

	r := NewRouter(nil, func(identity []byte, frames [][]byte) {
		mu.Lock()
		defer mu.Unlock()
		gotIdentity = identity
		gotFrames = frames
	})

	mux := httptest.NewServer(http.HandlerFunc(r.handleConnection))
	defer mux.Close()
	wsURL := "ws" + strings.TrimPrefix(mux.URL, "http")

	dialer := websocket.Dialer{}
	conn, _, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	sent := [][]byte{[]byte("hdr"), []byte("payload")}
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, EncodeFrames(sent)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotFrames != nil
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, sent, gotFrames)
	identity := append([]byte(nil), gotIdentity...)
	mu.Unlock()
	require.NotEmpty(t, identity)

	require.NoError(t, r.SendTo(context.Background(), identity, [][]byte{[]byte("reply")}, time.Second))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	reply, err := DecodeFrames(data)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("reply")}, reply)
}

func TestRouterSendToUnknownIdentityFails(t *testing.T) {
	r := NewRouter(nil, func([]byte, [][]byte) {})
	err := r.SendTo(context.Background(), []byte("ghost"), [][]byte{[]byte("x")}, time.Second)
	assert.Error(t, err)
}

func TestRouterHandlerPanicDoesNotKillReadLoop(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	r := NewRouter(nil, func(identity []byte, frames [][]byte) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			panic("boom")
		}
	})

	mux := httptest.NewServer(http.HandlerFunc(r.handleConnection))
	defer mux.Close()
	wsURL := "ws" + strings.TrimPrefix(mux.URL, "http")

	dialer := websocket.Dialer{}
	conn, _, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, EncodeFrames([][]byte{[]byte("one")})))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, EncodeFrames([][]byte{[]byte("two")})))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, time.Second, 10*time.Millisecond)
}
