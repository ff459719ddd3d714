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

package dispatch

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/kademesh/kademesh/crypto"
	"github.com/kademesh/kademesh/crypto/keys"
	"github.com/kademesh/kademesh/p2p/gate"
	"github.com/kademesh/kademesh/p2p/kerrors"
	"github.com/kademesh/kademesh/p2p/message"
	"github.com/kademesh/kademesh/p2p/transport"
	"github.com/stretchr/testify/require"
)

var testVersion = message.AppProtocolVersion{Version: 1}

func mustKeyPair(t *testing.T) crypto.KeyPair {
	t.Helper()
	kp, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	return kp
}

func boundPeerFor(key crypto.KeyPair, host string, port int) message.BoundPeer {
	return message.BoundPeer{
		Peer: message.Peer{
			PeerInfo: message.PeerInfo{PublicKey: key.PublicKeyBytes(), KeyType: string(key.Type())},
			Version:  testVersion,
		},
		Host: host,
		Port: port,
	}
}

func routerAddr(t *testing.T, r *transport.Router) (string, int) {
	t.Helper()
	addr, ok := r.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return "127.0.0.1", addr.Port
}

// startEchoPeer runs a minimal remote node: ping requests get a signed
// pong reply; every inbound frame set is also pushed onto received for
// broadcast-style assertions.
func startEchoPeer(t *testing.T) (*transport.Router, crypto.KeyPair, message.BoundPeer, chan *message.Message) {
	t.Helper()
	key := mustKeyPair(t)
	received := make(chan *message.Message, 16)

	var router *transport.Router
	router = transport.NewRouter(nil, func(identity []byte, frames [][]byte) {
		msg, err := message.Parse(frames, false)
		if err != nil {
			return
		}
		msg.Identity = identity
		received <- msg

		if msg.Kind != message.KindPing {
			return
		}
		reply, err := message.Sign(key, testVersion, "", message.KindPong, "", nil)
		if err != nil {
			return
		}
		replyFrames, err := message.Serialize(reply)
		if err != nil {
			return
		}
		_ = router.SendTo(context.Background(), identity, replyFrames, time.Second)
	})
	require.NoError(t, router.Start("127.0.0.1:0"))

	host, port := routerAddr(t, router)
	return router, key, boundPeerFor(key, host, port), received
}

func newTestDispatcher(t *testing.T, opts Options) *Dispatcher {
	t.Helper()
	if opts.Signer == nil {
		opts.Signer = mustKeyPair(t)
	}
	opts.Version = testVersion
	if opts.Gate == nil {
		opts.Gate = gate.New(testVersion, nil, nil)
	}
	if opts.Pool == nil {
		opts.Pool = transport.NewPool(nil, time.Second)
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 2
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = 20 * time.Millisecond
	}
	if opts.BroadcastTimeout == 0 {
		opts.BroadcastTimeout = time.Second
	}
	if opts.ReplyTimeout == 0 {
		opts.ReplyTimeout = time.Second
	}
	d := New(opts)
	t.Cleanup(d.Stop)
	return d
}

func TestSendWithReplyReturnsRemotePong(t *testing.T) {
	remote, _, remotePeer, _ := startEchoPeer(t)
	defer remote.Close()

	d := newTestDispatcher(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Run(ctx, 2)

	replies, err := d.SendWithReply(context.Background(), remotePeer, message.KindPing, "", nil, time.Second, 1)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	require.Equal(t, message.KindPong, replies[0].Kind)
}

func TestSendWithReplyExhaustsRetriesAgainstDeadPeer(t *testing.T) {
	key := mustKeyPair(t)
	// An address nothing listens on: dialing it must fail every time.
	deadPeer := boundPeerFor(key, "127.0.0.1", 1)

	d := newTestDispatcher(t, Options{MaxRetries: 1, RetryBackoff: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Run(ctx, 1)

	start := time.Now()
	_, err := d.SendWithReply(context.Background(), deadPeer, message.KindPing, "", nil, 100*time.Millisecond, 1)
	require.Error(t, err)
	require.True(t, errors.Is(err, kerrors.ErrRetriesExhausted))
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestSendWithReplyCancellationResolvesPromptly(t *testing.T) {
	key := mustKeyPair(t)
	deadPeer := boundPeerFor(key, "127.0.0.1", 1)

	d := newTestDispatcher(t, Options{MaxRetries: 10, RetryBackoff: 200 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Run(ctx, 1)

	callCtx, callCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer callCancel()

	start := time.Now()
	_, err := d.SendWithReply(callCtx, deadPeer, message.KindPing, "", nil, 10*time.Second, 1)
	require.Error(t, err)
	require.True(t, errors.Is(err, kerrors.ErrCancelled))
	require.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestBroadcastReachesRecipient(t *testing.T) {
	remote, _, remotePeer, received := startEchoPeer(t)
	defer remote.Close()

	d := newTestDispatcher(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.RunBroadcastPoller(ctx)

	require.NoError(t, d.Broadcast(context.Background(), []message.BoundPeer{remotePeer}, message.KindUser, "greeting", []byte("hi")))

	select {
	case msg := <-received:
		require.Equal(t, message.KindUser, msg.Kind)
		require.Equal(t, "greeting", msg.UserKind)
		require.Equal(t, []byte("hi"), msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("broadcast never reached recipient")
	}
}

func TestReplySendsBackToOriginatingIdentity(t *testing.T) {
	d := newTestDispatcher(t, Options{})
	identities := make(chan []byte, 1)
	router := transport.NewRouter(nil, func(identity []byte, frames [][]byte) {
		identities <- identity
	})
	require.NoError(t, router.Start("127.0.0.1:0"))
	defer router.Close()
	d.router = router

	host, port := routerAddr(t, router)
	pool := transport.NewPool(nil, time.Second)
	defer pool.Close()

	dialerFrames := [][]byte{[]byte("hello")}
	endpoint := net.JoinHostPort(host, strconv.Itoa(port))
	require.NoError(t, pool.SendWithTimeout("probe", endpoint, dialerFrames, time.Second))

	var identity []byte
	select {
	case identity = <-identities:
	case <-time.After(time.Second):
		t.Fatal("router never observed inbound connection")
	}

	dealer, err := pool.GetOrDial("probe", endpoint)
	require.NoError(t, err)

	require.NoError(t, d.Reply(context.Background(), identity, message.KindPong, "", nil))
	go d.runReplyPoller(context.Background())

	frames, err := dealer.Receive(time.Second)
	require.NoError(t, err)
	reply, err := message.Parse(frames, false)
	require.NoError(t, err)
	require.Equal(t, message.KindPong, reply.Kind)
}
