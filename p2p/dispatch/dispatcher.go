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
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kademesh/kademesh/crypto"
	"github.com/kademesh/kademesh/internal/metrics"
	"github.com/kademesh/kademesh/p2p/gate"
	"github.com/kademesh/kademesh/p2p/kerrors"
	"github.com/kademesh/kademesh/p2p/message"
	"github.com/kademesh/kademesh/p2p/transport"
	"go.uber.org/zap"
)

// natPermissioner is the narrow slice of turn.Client the dispatcher needs
// to ensure an inbound path exists before sending to a NAT'd peer. A
// *turn.Client satisfies this without either package importing the other.
type natPermissioner interface {
	IsBehindNAT(ctx context.Context) (bool, error)
	CreatePermission(ctx context.Context, peerAddr net.Addr) error
}

// Options configures a Dispatcher. Workers, MaxRetries, RetryBackoff,
// BroadcastTimeout, and ReplyTimeout mirror config.DispatchConfig field for
// field; the caller (the node's constructor) is expected to pass them
// straight through.
type Options struct {
	Log    *zap.Logger
	Signer crypto.KeyPair

	Version  message.AppProtocolVersion
	PublicIP string

	Pool   *transport.Pool
	Router *transport.Router
	Gate   *gate.Gate
	NAT    natPermissioner // nil when TURN is disabled

	Workers          int
	MaxRetries       int
	RetryBackoff     time.Duration
	BroadcastTimeout time.Duration
	ReplyTimeout     time.Duration

	// OnReply is invoked once per request with the peer that sent its
	// first reply, so the Kademlia routing table can observe it without
	// this package importing kademlia.
	OnReply func(peer message.BoundPeer, reply *message.Message)
}

type broadcastJob struct {
	peers    []message.BoundPeer
	kind     message.Kind
	userKind string
	payload  []byte
}

type replyJob struct {
	identity []byte
	kind     message.Kind
	userKind string
	payload  []byte
}

// Dispatcher is the Request Dispatcher plus the reply and broadcast
// queues: it implements kademlia.Messenger so the routing protocol can
// drive it without depending on any socket concern directly.
type Dispatcher struct {
	log    *zap.Logger
	signer crypto.KeyPair

	version  message.AppProtocolVersion
	publicIP string

	pool   *transport.Pool
	router *transport.Router
	gate   *gate.Gate
	nat    natPermissioner

	maxRetries       int
	retryBackoff     time.Duration
	broadcastTimeout time.Duration
	replyTimeout     time.Duration
	onReply          func(peer message.BoundPeer, reply *message.Message)

	requests   *queue[*MessageRequest]
	broadcasts *queue[broadcastJob]
	replies    *queue[replyJob]

	inFlight atomic.Int64

	workerWG sync.WaitGroup
	pollerWG sync.WaitGroup
}

// New builds a Dispatcher. It does not start any goroutines; call Run once
// the lifecycle supervisor transitions to Running.
func New(opts Options) *Dispatcher {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 10
	}
	return &Dispatcher{
		log:              log.Named("dispatch"),
		signer:           opts.Signer,
		version:          opts.Version,
		publicIP:         opts.PublicIP,
		pool:             opts.Pool,
		router:           opts.Router,
		gate:             opts.Gate,
		nat:              opts.NAT,
		maxRetries:       maxRetries,
		retryBackoff:     opts.RetryBackoff,
		broadcastTimeout: opts.BroadcastTimeout,
		replyTimeout:     opts.ReplyTimeout,
		onReply:          opts.OnReply,
		requests:         newQueue[*MessageRequest]("requests"),
		broadcasts:       newQueue[broadcastJob]("broadcast"),
		replies:          newQueue[replyJob]("reply"),
	}
}

// Run launches the worker pool and the reply poller. It returns
// immediately; every launched goroutine exits once ctx is cancelled and
// Stop has closed the queues.
//
// The broadcast queue's consumer is not started here: RunBroadcastPoller is
// exported so the lifecycle supervisor can run it as one of its four
// supervised tasks directly, rather than hiding a fourth failure surface
// inside this method.
func (d *Dispatcher) Run(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	d.pollerWG.Add(1)
	go func() {
		defer d.pollerWG.Done()
		d.runReplyPoller(ctx)
	}()

	for i := 0; i < workers; i++ {
		d.workerWG.Add(1)
		go d.runWorker(ctx)
	}
}

// RunBroadcastPoller drains the broadcast queue until ctx is cancelled or
// the queue is closed by Stop. Intended to be run directly by the
// lifecycle supervisor as its "broadcast poller" supervised task.
func (d *Dispatcher) RunBroadcastPoller(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job, ok := <-d.broadcasts.Chan():
			if !ok {
				return nil
			}
			d.fanOut(job)
		}
	}
}

// Stop closes every queue and waits for the worker pool and pollers to
// drain and exit. Callers are expected to have already cancelled the ctx
// passed to Run so in-flight work unwinds promptly.
func (d *Dispatcher) Stop() {
	d.requests.Close()
	d.broadcasts.Close()
	d.replies.Close()
	d.workerWG.Wait()
	d.pollerWG.Wait()
}

// InFlight reports the number of requests currently awaiting a reply.
func (d *Dispatcher) InFlight() int64 {
	return d.inFlight.Load()
}

// SendWithReply implements kademlia.Messenger: it enqueues a MessageRequest
// and blocks until the worker pool resolves its completion handle or ctx is
// cancelled first.
func (d *Dispatcher) SendWithReply(ctx context.Context, peer message.BoundPeer, kind message.Kind, userKind string, payload []byte, timeout time.Duration, expectedResponses int) ([]*message.Message, error) {
	if expectedResponses <= 0 {
		expectedResponses = 1
	}
	req := newMessageRequest(ctx, peer, kind, userKind, payload, timeout, expectedResponses)

	metrics.RequestsInitiated.WithLabelValues(userKind).Inc()
	metrics.RequestsInFlight.Inc()
	d.inFlight.Add(1)
	start := time.Now()
	defer func() {
		d.inFlight.Add(-1)
		metrics.RequestsInFlight.Dec()
		metrics.RequestDuration.WithLabelValues(userKind).Observe(time.Since(start).Seconds())
	}()

	d.requests.Push(req)

	select {
	case res := <-req.done:
		return res.replies, res.err
	case <-ctx.Done():
		return nil, kerrors.ErrCancelled
	}
}

// Broadcast implements kademlia.Messenger: it hands the resolved recipient
// set to the broadcast queue and returns without waiting on any reply.
func (d *Dispatcher) Broadcast(ctx context.Context, peers []message.BoundPeer, kind message.Kind, userKind string, payload []byte) error {
	d.broadcasts.Push(broadcastJob{peers: peers, kind: kind, userKind: userKind, payload: payload})
	return nil
}

// Reply implements kademlia.Messenger: it hands the reply to the reply
// queue, addressed to the inbound connection identity that prompted it.
func (d *Dispatcher) Reply(ctx context.Context, identity []byte, kind message.Kind, userKind string, payload []byte) error {
	d.replies.Push(replyJob{identity: identity, kind: kind, userKind: userKind, payload: payload})
	return nil
}

func (d *Dispatcher) runWorker(ctx context.Context) {
	defer d.workerWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-d.requests.Chan():
			if !ok {
				return
			}
			d.process(ctx, req)
		}
	}
}

// process implements the worker loop's single-request body: NAT permission
// check, sign and send, await expectedResponses frames, validate, resolve.
func (d *Dispatcher) process(ctx context.Context, req *MessageRequest) {
	if req.ctx.Err() != nil {
		metrics.RequestsCompleted.WithLabelValues(req.UserKind, "cancelled").Inc()
		req.resolve(nil, kerrors.ErrCancelled)
		return
	}

	if d.nat != nil {
		if behind, err := d.nat.IsBehindNAT(ctx); err == nil && behind {
			if addr, err := net.ResolveUDPAddr("udp", req.Peer.Endpoint()); err == nil {
				if err := d.nat.CreatePermission(ctx, addr); err != nil {
					d.log.Debug("failed to create NAT permission", zap.String("peer", req.Peer.Endpoint()), zap.Error(err))
				}
			}
		}
	}

	signed, err := message.Sign(d.signer, d.version, d.publicIP, req.Kind, req.UserKind, req.Payload)
	if err != nil {
		d.fail(req, fmt.Errorf("sign request: %w", err))
		return
	}
	frames, err := message.Serialize(signed)
	if err != nil {
		d.fail(req, fmt.Errorf("serialize request: %w", err))
		return
	}

	dealerKey := req.Peer.Address().String() + "#" + req.ID
	defer d.pool.Remove(dealerKey, "exchange_complete")

	if err := d.pool.SendWithTimeout(dealerKey, req.Peer.Endpoint(), frames, req.Timeout); err != nil {
		d.retryOrFail(req, fmt.Errorf("%w: %v", kerrors.ErrSocketError, err))
		return
	}
	dealer, err := d.pool.GetOrDial(dealerKey, req.Peer.Endpoint())
	if err != nil {
		d.retryOrFail(req, fmt.Errorf("%w: %v", kerrors.ErrSocketError, err))
		return
	}

	// A cancellation watcher closes the dedicated dealer so a blocked
	// Receive returns promptly instead of riding out its full timeout.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-req.ctx.Done():
			_ = dealer.Close()
		case <-watchDone:
		}
	}()

	replies := make([]*message.Message, 0, req.ExpectedResponses)
	for i := 0; i < req.ExpectedResponses; i++ {
		respFrames, err := dealer.Receive(req.Timeout)
		if err != nil {
			if req.ctx.Err() != nil {
				metrics.RequestsCompleted.WithLabelValues(req.UserKind, "cancelled").Inc()
				req.resolve(nil, kerrors.ErrCancelled)
				return
			}
			d.retryOrFail(req, fmt.Errorf("%w: %v", kerrors.ErrTimeout, err))
			return
		}

		reply, err := message.Parse(respFrames, false)
		if err != nil {
			d.retryOrFail(req, err)
			return
		}
		if err := d.gate.ValidateMessage(reply); err != nil {
			metrics.RequestsCompleted.WithLabelValues(req.UserKind, "success").Inc()
			req.resolve(nil, err)
			return
		}

		replies = append(replies, reply)
		if i == 0 && d.onReply != nil {
			d.onReply(boundPeerFromReply(req.Peer, reply), reply)
		}
	}

	metrics.RequestsCompleted.WithLabelValues(req.UserKind, "success").Inc()
	req.resolve(replies, nil)
}

// boundPeerFromReply attaches the endpoint we actually dialed to the
// reply's self-reported identity, since a reply frame carries no host/port.
func boundPeerFromReply(dialed message.BoundPeer, reply *message.Message) message.BoundPeer {
	return message.BoundPeer{Peer: reply.Sender, Host: dialed.Host, Port: dialed.Port}
}

// fail resolves req immediately with err, bypassing the retry policy. Used
// for errors that retrying cannot fix, like a signing failure.
func (d *Dispatcher) fail(req *MessageRequest, err error) {
	metrics.RequestsCompleted.WithLabelValues(req.UserKind, "retries_exhausted").Inc()
	req.resolve(nil, err)
}

// retryOrFail re-enqueues req after the backoff if its retry cap allows,
// otherwise resolves it with err wrapped in ErrRetriesExhausted. err still
// satisfies errors.Is against its original cause (Timeout, SocketError,
// ...) so a caller checking for a specific kind still sees it.
func (d *Dispatcher) retryOrFail(req *MessageRequest, err error) {
	if req.ctx.Err() != nil {
		metrics.RequestsCompleted.WithLabelValues(req.UserKind, "cancelled").Inc()
		req.resolve(nil, kerrors.ErrCancelled)
		return
	}
	if req.RetryCount >= d.maxRetries {
		metrics.RequestsCompleted.WithLabelValues(req.UserKind, "retries_exhausted").Inc()
		req.resolve(nil, fmt.Errorf("%w: %w", kerrors.ErrRetriesExhausted, err))
		return
	}

	req.RetryCount++
	metrics.RequestRetries.WithLabelValues(req.UserKind).Inc()
	backoff := d.retryBackoff
	go func() {
		timer := time.NewTimer(backoff)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-req.ctx.Done():
		}
		d.requests.Push(req)
	}()
}

// fanOut signs the broadcast once and sends it to every recipient through
// the Dealer Pool; no reply is awaited and a failed send is only logged,
// since the next broadcast round will reach the peer if it is still live.
func (d *Dispatcher) fanOut(job broadcastJob) {
	signed, err := message.Sign(d.signer, d.version, d.publicIP, job.kind, job.userKind, job.payload)
	if err != nil {
		d.log.Warn("failed to sign broadcast", zap.Error(err))
		return
	}
	frames, err := message.Serialize(signed)
	if err != nil {
		d.log.Warn("failed to serialize broadcast", zap.Error(err))
		return
	}

	for _, peer := range job.peers {
		key := peer.Address().String()
		if err := d.pool.SendWithTimeout(key, peer.Endpoint(), frames, d.broadcastTimeout); err != nil {
			d.log.Debug("broadcast send failed", zap.String("peer", peer.Endpoint()), zap.Error(err))
		}
	}
}

func (d *Dispatcher) runReplyPoller(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-d.replies.Chan():
			if !ok {
				return
			}
			d.sendReply(ctx, job)
		}
	}
}

// sendReply signs and sends one reply through the router socket back to
// the identity that prompted it. Failures are logged, never retried: the
// peer's own request-side retry loop will produce a fresh one if needed.
//
// SendTo already takes identity as a separate routing argument and writes
// frames verbatim to the wire, so the wire frames themselves carry no
// identity prefix — they are exactly what the remote dealer's
// message.Parse(_, false) expects.
func (d *Dispatcher) sendReply(ctx context.Context, job replyJob) {
	signed, err := message.Sign(d.signer, d.version, d.publicIP, job.kind, job.userKind, job.payload)
	if err != nil {
		d.log.Warn("failed to sign reply", zap.Error(err))
		return
	}
	frames, err := message.Serialize(signed)
	if err != nil {
		d.log.Warn("failed to serialize reply", zap.Error(err))
		return
	}

	if err := d.router.SendTo(ctx, job.identity, frames, d.replyTimeout); err != nil {
		d.log.Debug("reply send failed", zap.Error(err))
	}
}
