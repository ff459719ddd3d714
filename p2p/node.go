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

// Package p2p wires the message codec, version gate, TURN client, router,
// dealer pool, dispatcher, and Kademlia protocol into one lifecycle: a
// Node that a host process constructs once from Config and then drives
// through Start, Run, and Stop.
package p2p

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kademesh/kademesh/config"
	"github.com/kademesh/kademesh/crypto"
	"github.com/kademesh/kademesh/crypto/address"
	"github.com/kademesh/kademesh/crypto/keys"
	"github.com/kademesh/kademesh/crypto/storage"
	"github.com/kademesh/kademesh/internal/health"
	"github.com/kademesh/kademesh/internal/log"
	"github.com/kademesh/kademesh/internal/metrics"
	"github.com/kademesh/kademesh/p2p/dispatch"
	"github.com/kademesh/kademesh/p2p/gate"
	"github.com/kademesh/kademesh/p2p/history"
	"github.com/kademesh/kademesh/p2p/kademlia"
	"github.com/kademesh/kademesh/p2p/kerrors"
	"github.com/kademesh/kademesh/p2p/message"
	"github.com/kademesh/kademesh/p2p/transport"
	"github.com/kademesh/kademesh/p2p/turn"
	"go.uber.org/zap"
)

// state is the Node's lifecycle stage: Created -> Started -> Running ->
// Stopped. There is no path back to an earlier stage.
type state int32

const (
	stateCreated state = iota
	stateStarted
	stateRunning
	stateStopped
)

// UserHandler processes an application-defined message kind. It is an
// alias of kademlia.UserHandler so callers never need to import that
// package directly to construct a Node.
type UserHandler = kademlia.UserHandler

// OnDifferentVersion is invoked whenever a peer's app-protocol-version
// differs from ours. It never vetoes the exchange; see p2p/gate.
type OnDifferentVersion = gate.OnDifferentVersion

// Node is the assembled transport: every component wired together behind
// the public operations spec.md §6 names.
type Node struct {
	cfg config.Config
	log *zap.Logger

	key  crypto.KeyPair
	self message.BoundPeer

	gate       *gate.Gate
	turnClient *turn.Client
	router     *transport.Router
	pool       *transport.Pool
	table      *kademlia.Table
	protocol   *kademlia.Protocol
	dispatcher *dispatch.Dispatcher
	hist       *history.Ring

	healthChecker *health.Checker
	healthServer  *health.Server

	mu        sync.Mutex
	state     state
	cancel    context.CancelFunc
	runningCh chan struct{}
	doneCh    chan struct{}
	runErr    error
}

// New assembles a Node from cfg. onUser is invoked for every inbound
// KindUser message; onDifferentVersion is invoked (but never consulted)
// whenever a peer's app-protocol-version differs from ours. Either may be
// nil.
func New(cfg config.Config, onUser UserHandler, onDifferentVersion OnDifferentVersion) (*Node, error) {
	logger, err := log.New(log.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	key, err := loadOrCreateIdentity(cfg.Identity)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}

	ourVersion := message.AppProtocolVersion{Version: parseAppProtocolVersion(cfg.Node.AppProtocolVersion)}

	trustedSigners := make([][]byte, 0, len(cfg.Node.TrustedVersionSigners))
	for _, hexKey := range cfg.Node.TrustedVersionSigners {
		pub, err := decodeHexPublicKey(hexKey)
		if err != nil {
			return nil, fmt.Errorf("trusted_version_signers: %w", err)
		}
		trustedSigners = append(trustedSigners, pub)
	}

	publicIP := cfg.Node.Host
	var turnClient *turn.Client
	if cfg.TURN.Enabled {
		turnClient = turn.New(log.Named(logger, "turn"), flattenICEServers(cfg.TURN.Servers), cfg.TURN.PermissionLifetime, cfg.TURN.RefreshMargin)
	}

	self := message.BoundPeer{
		Peer: message.Peer{
			PeerInfo: message.PeerInfo{PublicKey: key.PublicKeyBytes(), KeyType: string(key.Type()), PublicIP: publicIP},
			Version:  ourVersion,
		},
		Host: cfg.Node.Host,
		Port: cfg.Node.ListenPort,
	}

	g := gate.New(ourVersion, trustedSigners, onDifferentVersion)
	hist := history.New(cfg.Node.HistorySize)
	table := kademlia.NewTable(self.Address(), cfg.Table.BucketSize, cfg.Table.ReplacementCacheSize)
	pool := transport.NewPool(log.Named(logger, "dealer-pool"), cfg.Dispatch.DealerSendTimeout)

	n := &Node{
		cfg:   cfg,
		log:   logger,
		key:   key,
		self:  self,
		gate:  g,
		turnClient: turnClient,
		pool:  pool,
		table: table,
		hist:  hist,
	}

	n.router = transport.NewRouter(log.Named(logger, "router"), n.handleInbound)

	var nat natPermissioner
	if turnClient != nil {
		nat = turnClient
	}
	n.dispatcher = dispatch.New(dispatch.Options{
		Log:              log.Named(logger, "dispatch"),
		Signer:           key,
		Version:          ourVersion,
		PublicIP:         publicIP,
		Pool:             pool,
		Router:           n.router,
		Gate:             g,
		NAT:              nat,
		Workers:          cfg.Dispatch.Workers,
		MaxRetries:       cfg.Dispatch.MaxRetries,
		RetryBackoff:     cfg.Dispatch.RetryBackoff,
		BroadcastTimeout: cfg.Dispatch.BroadcastTimeout,
		ReplyTimeout:     cfg.Dispatch.ReplyTimeout,
		OnReply: func(peer message.BoundPeer, reply *message.Message) {
			table.Observe(peer)
		},
	})

	n.protocol = kademlia.NewProtocol(self, table, n.dispatcher, cfg.Table.BucketSize, cfg.Table.Concurrency, log.Named(logger, "kademlia"), hist, onUser)

	n.healthChecker = health.NewChecker(func() (int, int) {
		return table.Size(), table.NonEmptyBuckets()
	})
	if cfg.Health.Enabled {
		var gatherer = metrics.Registry
		if !cfg.Metrics.Enabled {
			gatherer = nil
		}
		n.healthServer = health.NewServer(n.healthChecker, log.Named(logger, "health"), gatherer, cfg.Health.Port)
	}

	return n, nil
}

// natPermissioner mirrors dispatch's unexported interface structurally;
// *turn.Client already satisfies it.
type natPermissioner interface {
	IsBehindNAT(ctx context.Context) (bool, error)
	CreatePermission(ctx context.Context, peerAddr net.Addr) error
}

// parseAppProtocolVersion extracts the leading numeric component of a
// dotted version string ("1.4.2" -> 1), since AppProtocolVersion carries
// a single comparable integer rather than a semver triple. An empty or
// unparseable string yields version 0, which only ever matches another
// unconfigured node.
func parseAppProtocolVersion(s string) int {
	major := strings.SplitN(s, ".", 2)[0]
	n, err := strconv.Atoi(major)
	if err != nil {
		return 0
	}
	return n
}

// flattenICEServers fans out each config.ICEServer's URL list into one
// turn.ICEServer candidate per URL, since turn.Client races a flat list
// of single-URL candidates rather than a list of multi-URL groups.
func flattenICEServers(servers []config.ICEServer) []turn.ICEServer {
	var out []turn.ICEServer
	for _, s := range servers {
		for _, u := range s.URLs {
			out = append(out, turn.ICEServer{URL: u, Username: s.Username, Credential: s.Credential})
		}
	}
	return out
}

// loadOrCreateIdentity returns a key pair of the configured type. The
// in-memory KeyStorage it consults is created fresh on every call, so the
// lookup never finds a key and each call generates a new one; no key is
// reused across calls or kept across process restarts. See DESIGN.md for
// why no file-backed store was wired in its place.
func loadOrCreateIdentity(cfg config.IdentityConfig) (crypto.KeyPair, error) {
	id := cfg.KeyID
	if id == "" {
		id = "default"
	}
	store := storage.NewMemoryKeyStorage()
	if store.Exists(id) {
		return store.Load(id)
	}

	var kp crypto.KeyPair
	var err error
	switch cfg.KeyType {
	case "", "Ed25519":
		kp, err = keys.GenerateEd25519KeyPair()
	case "Secp256k1":
		kp, err = keys.GenerateSecp256k1KeyPair()
	default:
		return nil, fmt.Errorf("unknown key_type %q", cfg.KeyType)
	}
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}
	if err := store.Store(id, kp); err != nil {
		return nil, fmt.Errorf("store key pair: %w", err)
	}
	return kp, nil
}

func decodeHexPublicKey(hexKey string) ([]byte, error) {
	return hex.DecodeString(hexKey)
}

// handleInbound is the router's InboundHandler: parse, gate, and hand
// off to the Kademlia protocol. A rejected or malformed message is
// logged and dropped; it never reaches the protocol.
//
// The router assigns identity locally per connection; it is never part
// of the wire frames themselves (those are exactly what the remote
// dealer's message.Serialize produced), so frames is parsed with
// hasIdentity false and identity is attached to the message afterward.
func (n *Node) handleInbound(identity []byte, frames [][]byte) {
	msg, err := message.Parse(frames, false)
	if err != nil {
		n.log.Debug("dropping malformed inbound message", zap.Error(err))
		return
	}
	msg.Identity = identity
	if err := n.gate.ValidateMessage(msg); err != nil {
		n.log.Debug("rejected inbound message", zap.String("peer", msg.Sender.Address().String()), zap.Error(err))
		return
	}
	n.protocol.ReceiveMessage(context.Background(), msg)
}

// Start binds the router socket, allocates a TURN relay if configured,
// and starts the health/metrics server. It does not launch any of the
// supervised background tasks; call Run for that.
func (n *Node) Start() error {
	n.mu.Lock()
	if n.state != stateCreated {
		n.mu.Unlock()
		return kerrors.ErrAlreadyRunning
	}
	n.state = stateStarted
	n.mu.Unlock()

	addr := net.JoinHostPort(n.cfg.Node.Host, strconv.Itoa(n.cfg.Node.ListenPort))
	if err := n.router.Start(addr); err != nil {
		return fmt.Errorf("start router: %w", err)
	}
	if bound, ok := n.router.Addr().(*net.TCPAddr); ok {
		n.self.Port = bound.Port
	}

	if n.turnClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := n.turnClient.AllocateRequest(ctx, n.cfg.TURN.AllocationLifetime); err != nil {
			return fmt.Errorf("allocate TURN relay: %w", err)
		}
	}

	if n.healthServer != nil {
		if err := n.healthServer.Start(); err != nil {
			return fmt.Errorf("start health server: %w", err)
		}
	}

	return nil
}

// Run launches the dispatcher's worker pool and the four supervised
// background tasks (table refresh, connection rebuild, router poller,
// broadcast poller), then blocks until ctx is cancelled or one of them
// fails. Failure of any one is fatal to Run; the others are cancelled
// and Run returns that task's error.
func (n *Node) Run(ctx context.Context) error {
	n.mu.Lock()
	if n.state != stateStarted {
		n.mu.Unlock()
		return kerrors.ErrAlreadyRunning
	}
	n.state = stateRunning
	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.runningCh = make(chan struct{})
	n.doneCh = make(chan struct{})
	close(n.runningCh)
	n.mu.Unlock()

	defer close(n.doneCh)
	defer cancel()

	n.dispatcher.Run(runCtx, n.cfg.Dispatch.Workers)
	if n.turnClient != nil {
		go n.runTURNRefresh(runCtx)
	}

	tasks := []func(context.Context) error{
		n.runTableRefresh,
		n.runConnectionRebuild,
		n.runRouterPoller,
		n.dispatcher.RunBroadcastPoller,
	}

	errCh := make(chan error, len(tasks))
	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for _, task := range tasks {
		task := task
		go func() {
			defer wg.Done()
			errCh <- runSupervised(runCtx, task)
		}()
	}

	var first error
	for i := 0; i < len(tasks); i++ {
		if err := <-errCh; err != nil && first == nil {
			first = err
			cancel()
		}
	}
	wg.Wait()

	n.dispatcher.Stop()

	n.mu.Lock()
	n.runErr = first
	n.mu.Unlock()
	return first
}

// runSupervised recovers a panicking task into an error so one crashing
// supervised task cannot take the whole process down silently; the
// recovered error still makes that task's failure fatal to Run, matching
// spec.md §4.H's "failure of any one is fatal to run".
func runSupervised(ctx context.Context, task func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("supervised task panicked: %v", rec)
		}
	}()
	return task(ctx)
}

func (n *Node) runTableRefresh(ctx context.Context) error {
	ticker := time.NewTicker(n.cfg.Node.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n.protocol.RefreshTable(ctx, n.cfg.Node.RefreshInterval)
		}
	}
}

// runConnectionRebuild rebuilds immediately, then every RebuildInterval,
// per spec.md §9's resolution of the source's "rebuild before the first
// delay" ordering.
func (n *Node) runConnectionRebuild(ctx context.Context) error {
	n.protocol.RebuildConnection(ctx)

	ticker := time.NewTicker(n.cfg.Node.RebuildInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n.protocol.RebuildConnection(ctx)
		}
	}
}

// runRouterPoller watches the router's accept loop; an unexpected socket
// failure here is fatal to Run.
func (n *Node) runRouterPoller(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-n.router.Done():
		return err
	}
}

// runTURNRefresh keeps the TURN allocation alive for the node's lifetime.
// It is not one of the four supervised tasks: a transient relay hiccup
// is logged and retried rather than tearing down the whole node, per the
// resolution of spec.md §9's TURN-socket-error open question recorded in
// DESIGN.md.
func (n *Node) runTURNRefresh(ctx context.Context) {
	for {
		if err := n.turnClient.RunRefreshLoop(ctx, n.cfg.TURN.AllocationLifetime); err != nil {
			n.log.Error("TURN refresh loop exited with error", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(n.cfg.TURN.RefreshMargin):
		}
	}
}

// WaitForRunning blocks until Run has transitioned the Node into the
// Running state, or ctx is cancelled first.
func (n *Node) WaitForRunning(ctx context.Context) error {
	n.mu.Lock()
	ch := n.runningCh
	n.mu.Unlock()
	if ch == nil {
		return kerrors.ErrNoSwarmContext
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the root context and waits up to waitFor for Run to
// return. A zero waitFor waits indefinitely.
func (n *Node) Stop(waitFor time.Duration) error {
	n.mu.Lock()
	if n.state != stateRunning {
		n.mu.Unlock()
		return kerrors.ErrNoSwarmContext
	}
	cancel := n.cancel
	done := n.doneCh
	n.state = stateStopped
	n.mu.Unlock()

	cancel()

	if waitFor <= 0 {
		<-done
	} else {
		select {
		case <-done:
		case <-time.After(waitFor):
			return kerrors.ErrTimeout
		}
	}

	n.router.Close()
	n.pool.Close()
	if n.healthServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = n.healthServer.Stop(ctx)
	}
	if n.turnClient != nil {
		_ = n.turnClient.Dispose()
	}
	return nil
}

// Dispose stops a running node as Stop(0) does and returns nil if the
// node is already stopped. On a node that is not running it returns
// ErrNoSwarmContext and releases nothing, so a node that was started but
// never run keeps its router and health server bound.
func (n *Node) Dispose() error {
	n.mu.Lock()
	alreadyStopped := n.state == stateStopped
	n.mu.Unlock()
	if alreadyStopped {
		return nil
	}
	return n.Stop(0)
}

// Bootstrap pings each seed and walks find_neighbors outward from self,
// populating the routing table.
func (n *Node) Bootstrap(ctx context.Context, seeds []message.BoundPeer) error {
	return n.protocol.Bootstrap(ctx, seeds)
}

// AddPeers pings every given peer so successful ones are observed into
// the routing table.
func (n *Node) AddPeers(ctx context.Context, peers []message.BoundPeer) error {
	var lastErr error
	for _, peer := range peers {
		if err := n.protocol.Ping(ctx, peer); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// FindSpecificPeer walks the Kademlia find_neighbors protocol toward
// target and returns the closest peers discovered.
func (n *Node) FindSpecificPeer(ctx context.Context, target address.Address) ([]message.BoundPeer, error) {
	return n.protocol.FindSpecificPeer(ctx, target)
}

// SendMessage is a fire-and-forget send: it waits only for the dispatcher
// to accept the request onto its broadcast queue, not for delivery or any
// reply. The send itself is bounded by the dispatcher's broadcast timeout.
func (n *Node) SendMessage(peer message.BoundPeer, kind message.Kind, userKind string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return n.dispatcher.Broadcast(ctx, []message.BoundPeer{peer}, kind, userKind, payload)
}

// SendMessageWithReply sends and awaits a single reply.
func (n *Node) SendMessageWithReply(ctx context.Context, peer message.BoundPeer, kind message.Kind, userKind string, payload []byte, timeout time.Duration) (*message.Message, error) {
	replies, err := n.dispatcher.SendWithReply(ctx, peer, kind, userKind, payload, timeout, 1)
	if err != nil {
		return nil, err
	}
	if len(replies) == 0 {
		return nil, kerrors.ErrTimeout
	}
	return replies[0], nil
}

// SendMessageWithReplies sends and awaits exactly expectedResponses
// replies.
func (n *Node) SendMessageWithReplies(ctx context.Context, peer message.BoundPeer, kind message.Kind, userKind string, payload []byte, timeout time.Duration, expectedResponses int) ([]*message.Message, error) {
	return n.dispatcher.SendWithReply(ctx, peer, kind, userKind, payload, timeout, expectedResponses)
}

// BroadcastMessage fans out a message to every routing-table peer except
// the given set.
func (n *Node) BroadcastMessage(ctx context.Context, except map[address.Address]bool, kind message.Kind, userKind string, payload []byte) error {
	peers := n.protocol.PeersToBroadcast(except)
	return n.dispatcher.Broadcast(ctx, peers, kind, userKind, payload)
}

// ReplyMessage replies to the inbound connection that produced msg.
func (n *Node) ReplyMessage(ctx context.Context, msg *message.Message, kind message.Kind, userKind string, payload []byte) error {
	return n.dispatcher.Reply(ctx, msg.Identity, kind, userKind, payload)
}

// CheckAllPeers pings every peer currently in the routing table and
// returns the ones that failed to respond within timeout.
func (n *Node) CheckAllPeers(ctx context.Context, timeout time.Duration) []message.BoundPeer {
	var dead []message.BoundPeer
	for _, peer := range n.table.All() {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		err := n.protocol.Ping(callCtx, peer)
		cancel()
		if err != nil {
			dead = append(dead, peer)
		}
	}
	return dead
}

// Trace returns recent message history and a routing-table size snapshot
// for diagnostics.
func (n *Node) Trace() (entries []history.Entry, tableSize, nonEmptyBuckets int) {
	return n.protocol.Trace()
}

// Self returns this node's bound peer identity.
func (n *Node) Self() message.BoundPeer {
	return n.self
}
