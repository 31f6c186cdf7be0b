// Copyright 2015 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package dht wires components A-G into the public Node type from
// spec.md §6, following the single-goroutine, select-based event loop
// design of SPEC_FULL.md §5, modeled on the teacher's Table.refreshLoop
// (one goroutine multiplexing timers, a stop channel, and triggered
// work in one `for { select {...} }`).
package dht

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/rootkad/dht/kbucket"
	"github.com/rootkad/dht/logger"
	"github.com/rootkad/dht/natfsm"
	"github.com/rootkad/dht/query"
	"github.com/rootkad/dht/rpcio"
	"github.com/rootkad/dht/seeddb"
	"github.com/rootkad/dht/token"
	"github.com/rootkad/dht/wire"
)

// knownPeerCacheSize bounds the pre-promotion known-peer set: while
// ephemeral (no routing table yet), every bonded peer is remembered here
// so onPersistent can seed a fresh kbucket.Table in one pass, capped at
// the table's own eventual capacity (NumBuckets*K).
const knownPeerCacheSize = kbucket.NumBuckets * kbucket.K

// Node is one DHT participant: a bound UDP socket, an RPC transport, a
// token manager, an identity/NAT state machine, and (once persistent) a
// routing table, all serialized the way spec.md §5 requires.
type Node struct {
	opts Options

	sock      *rpcio.Socket
	transport *rpcio.Transport
	tokens    *token.Manager
	fsm       *natfsm.FSM
	prober    *natfsm.Prober

	mu        sync.Mutex
	table     *kbucket.Table
	known     *lru.Cache
	destroyed bool

	readyCh   chan struct{}
	readyOnce sync.Once

	events chan Event

	refreshNow chan struct{}

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs and starts a Node: opens (or adopts) a socket, starts
// the NAT FSM's heartbeat, starts routing-table maintenance, and kicks
// off bootstrap in the background. Ready() reports when bootstrap
// finishes.
func New(opts ...Option) (*Node, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}

	conn := o.socket
	if conn == nil {
		var err error
		conn, err = net.ListenPacket("udp4", fmt.Sprintf(":%d", o.bindPort))
		if err != nil {
			return nil, err
		}
	}

	knownCache, err := lru.New(knownPeerCacheSize)
	if err != nil {
		return nil, err
	}

	n := &Node{
		opts:       o,
		sock:       rpcio.NewSocket(conn),
		known:      knownCache,
		readyCh:    make(chan struct{}),
		events:     make(chan Event, eventBacklog),
		refreshNow: make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}

	n.tokens = token.NewManager(o.tokenRotation)
	n.fsm = natfsm.New(natfsm.Options{
		Hooks: natfsm.Hooks{
			OnPersistent: n.onPersistent,
			OnEphemeral:  n.onEphemeral,
			OnWake:       n.onWake,
		},
		ForceEphemeral:    o.ephemeral,
		SeedNotFirewalled: !o.firewalled,
		WindowSize:        o.windowSize,
		Agreement:         o.agreement,
		AdaptPeriod:       o.adaptPeriod,
		Heartbeat:         o.heartbeat,
		SleepThreshold:    o.sleepThresh,
	})
	n.transport = rpcio.NewTransport(n.sock, n.handleRequest, n.localIDFunc, n.tokens)
	n.transport.SetTokenDeriver(n.tokens)
	if o.requestTimeout > 0 {
		n.transport.SetRequestTimeout(o.requestTimeout)
	}
	n.prober = natfsm.NewProber(o.natGateway)

	n.fsm.Run()
	n.emit(Event{Type: EventListening, Addr: n.sock.LocalAddr()})

	n.wg.Add(1)
	go n.maintenanceLoop()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		natfsm.RunOnStartup(n.fsm, n.prober, localUDPPort(n.sock.LocalAddr()))
		natfsm.RunPeriodically(n.fsm, n.prober, localUDPPort(n.sock.LocalAddr()), n.stop)
	}()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.bootstrap()
	}()

	return n, nil
}

func (n *Node) localIDFunc() ([32]byte, bool) { return n.fsm.LocalID() }

func (n *Node) requestTimeoutOrDefault() time.Duration {
	if n.opts.requestTimeout > 0 {
		return n.opts.requestTimeout
	}
	return rpcio.DefaultRequestTimeout
}

func (n *Node) emit(e Event) {
	select {
	case n.events <- e:
	default:
		logger.V(logger.Debug).Infof("dht: dropped %s event, listener too slow", e.Type)
	}
}

// Events returns the lifecycle event stream (ready, listening, bootstrap,
// persistent, wake-up). Closed on Destroy.
func (n *Node) Events() <-chan Event { return n.events }

// Ready returns a channel closed once the initial bootstrap pass
// completes, per spec.md §6's `ready()`.
func (n *Node) Ready() <-chan struct{} { return n.readyCh }

func (n *Node) bootstrap() {
	endpoints := append([]Endpoint{}, n.opts.bootstrap...)
	if n.opts.seedDB != nil {
		if seeds, err := n.opts.seedDB.Bootstrap(24 * time.Hour); err == nil {
			for _, p := range seeds {
				endpoints = append(endpoints, Endpoint{Host: p.IP.String(), Port: p.Port})
			}
		}
	}

	for _, ep := range endpoints {
		addr, err := ep.udpAddr()
		if err != nil {
			logger.V(logger.Warn).Infof("dht: bad bootstrap endpoint %s:%d: %v", ep.Host, ep.Port, err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), n.requestTimeoutOrDefault())
		reply, err := n.transport.Request(ctx, addr, &wire.Frame{Command: wire.CommandPingNAT}, rpcio.RequestOptions{Retry: true})
		cancel()
		if err != nil || reply == nil {
			continue
		}
		n.observePingNATReply(reply)
		if reply.HasFromID() {
			peer := &kbucket.Peer{ID: reply.FromID, IP: addr.IP, Port: uint16(addr.Port), LastSeen: time.Now()}
			n.registerPeer(peer)
			if n.opts.seedDB != nil {
				n.opts.seedDB.Put(seeddb.Entry{ID: peer.ID, IP: peer.IP, Port: peer.Port, LastSeen: peer.LastSeen})
			}
		}
	}

	n.emit(Event{Type: EventBootstrap})
	n.readyOnce.Do(func() {
		close(n.readyCh)
		n.emit(Event{Type: EventReady})
	})
}

func (n *Node) registerPeer(p *kbucket.Peer) {
	n.mu.Lock()
	n.known.Add(p.Key(), p)
	table := n.table
	n.mu.Unlock()

	if table != nil {
		go table.Insert(context.Background(), p)
	}
}

func (n *Node) onPersistent(id kbucket.ID, ip net.IP, port uint16) {
	n.mu.Lock()
	table := kbucket.NewTable(id, n.transport.Ping)
	keys := n.known.Keys()
	known := make([]*kbucket.Peer, 0, len(keys))
	for _, k := range keys {
		if v, ok := n.known.Get(k); ok {
			known = append(known, v.(*kbucket.Peer))
		}
	}
	n.table = table
	n.mu.Unlock()

	for _, p := range known {
		go table.Insert(context.Background(), p)
	}
	n.emit(Event{Type: EventPersistent, Addr: &net.UDPAddr{IP: ip, Port: int(port)}})
}

func (n *Node) onEphemeral() {
	n.mu.Lock()
	n.table = nil
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.bootstrap()
	}()
}

func (n *Node) onWake() {
	n.emit(Event{Type: EventWakeUp})
}

// handleRequest is the rpcio.Handler bound to the transport: it answers
// reserved commands itself (PING, PING_NAT, FIND_NODE, DOWN_HINT) and
// forwards anything above wire.CommandReservedMax to the application's
// RequestHandler.
func (n *Node) handleRequest(req *rpcio.Request) {
	n.fsm.ObserveUnsolicitedRequest()

	if udp, ok := req.From.(*net.UDPAddr); ok && req.Frame.HasFromID() {
		n.registerPeer(&kbucket.Peer{ID: req.Frame.FromID, IP: udp.IP, Port: uint16(udp.Port), LastSeen: time.Now()})
	}

	switch req.Frame.Command {
	case wire.CommandPing:
		if err := req.Reply(nil, wire.StatusOK); err != nil {
			logger.V(logger.Debug).Infof("dht: ping reply failed: %v", err)
		}
	case wire.CommandPingNAT:
		n.handlePingNAT(req)
	case wire.CommandFindNode:
		n.handleFindNode(req)
	case wire.CommandDownHint:
		n.handleDownHint(req)
	default:
		if req.Frame.Command <= wire.CommandReservedMax || n.opts.handler == nil {
			req.Reply(nil, wire.StatusUnknownCommand)
			return
		}
		n.opts.handler(&Request{
			Target:  req.Frame.Target,
			Command: req.Frame.Command,
			Value:   req.Frame.Value,
			Token:   req.TokenValid,
			From:    req.From,
			inner:   req,
		})
	}
}

// handlePingNAT answers PING_NAT with the requester's observed endpoint,
// the carrier spec.md §4.1's fixed frame layout lacks a dedicated field
// for: this is how a peer learns what the rest of the network sees it
// as, feeding the identity/NAT FSM's endpoint histogram (spec.md §4.7).
func (n *Node) handlePingNAT(req *rpcio.Request) {
	udp, ok := req.From.(*net.UDPAddr)
	if !ok {
		req.Reply(nil, wire.StatusOK)
		return
	}
	if err := req.Reply(wire.EncodeEndpoint(udp.IP, uint16(udp.Port)), wire.StatusOK); err != nil {
		logger.V(logger.Debug).Infof("dht: ping_nat reply failed: %v", err)
	}
}

func (n *Node) handleFindNode(req *rpcio.Request) {
	n.mu.Lock()
	table := n.table
	n.mu.Unlock()

	var peers []*kbucket.Peer
	if table != nil {
		peers = table.Closest(req.Frame.Target, kbucket.K)
	}
	entries := make([]wire.NeighborEntry, 0, len(peers))
	for _, p := range peers {
		entries = append(entries, wire.NeighborEntry{IP: p.IP, Port: p.Port, ID: p.ID})
	}
	if err := req.Reply(wire.EncodeNeighbors(entries), wire.StatusOK); err != nil {
		logger.V(logger.Debug).Infof("dht: find_node reply failed: %v", err)
	}
}

// handleDownHint answers DOWN_HINT by dropping any table entry at the
// reported endpoint, mirroring devp2p's ping-to-verify-then-evict idiom
// but triggered by a peer's own report instead of a local probe failure.
func (n *Node) handleDownHint(req *rpcio.Request) {
	n.mu.Lock()
	table := n.table
	n.mu.Unlock()

	if table != nil {
		if hints, err := wire.DecodeNeighbors(req.Frame.Value); err == nil {
			for _, h := range hints {
				table.Remove(h.IP, h.Port)
			}
		}
	}
	req.Reply(nil, wire.StatusOK)
}

// Request sends a single RPC to an endpoint and awaits its reply, per
// spec.md §6's `request(frame, to, opts)`.
func (n *Node) Request(ctx context.Context, to Endpoint, frame *wire.Frame, opts rpcio.RequestOptions) (*wire.Frame, error) {
	if n.Destroyed() {
		return nil, ErrDestroyed
	}
	addr, err := to.udpAddr()
	if err != nil {
		return nil, err
	}
	return n.transport.Request(ctx, addr, frame, opts)
}

// Ping sends the internal PING_NAT command to an endpoint, registering
// the responder in the routing table if it answers with a from_id and
// folding its view of our endpoint into the NAT FSM.
func (n *Node) Ping(ctx context.Context, to Endpoint) (bool, error) {
	reply, err := n.Request(ctx, to, &wire.Frame{Command: wire.CommandPingNAT}, rpcio.RequestOptions{Retry: true})
	if err != nil {
		return false, err
	}
	n.observePingNATReply(reply)
	if reply.HasFromID() {
		addr, _ := to.udpAddr()
		n.registerPeer(&kbucket.Peer{ID: reply.FromID, IP: addr.IP, Port: uint16(addr.Port), LastSeen: time.Now()})
	}
	return true, nil
}

// observePingNATReply decodes a PING_NAT reply's endpoint observation and
// feeds it to the identity/NAT FSM. Ignores malformed or absent payloads
// (e.g. replies from peers that don't know our UDP source, per
// handlePingNAT's fallback).
func (n *Node) observePingNATReply(reply *wire.Frame) {
	if reply == nil || len(reply.Value) == 0 {
		return
	}
	ip, port, err := wire.DecodeEndpoint(reply.Value)
	if err != nil {
		return
	}
	n.fsm.ObserveReportedEndpoint(ip, port)
}

// AddNode pings an endpoint and, if reachable, adds it as a known peer
// candidate, per spec.md §6's `add_node({host, port})`.
func (n *Node) AddNode(ctx context.Context, host string, port uint16) error {
	_, err := n.Ping(ctx, Endpoint{Host: host, Port: port})
	return err
}

// QueryOptions configures an iterative lookup, per spec.md §6's
// `query({target, command, value?}, {commit?, nodes?, ...})`.
type QueryOptions struct {
	Target     kbucket.ID
	Command    uint64
	Value      []byte
	Candidates []*kbucket.Peer
	Bootstrap  []Endpoint

	Commit     bool
	CommitFunc query.CommitFunc

	Alpha            int
	ConcurrencyLimit int
	RequestTimeout   time.Duration
}

// Query starts an iterative lookup toward Target using Command, per
// spec.md §6. The returned *query.Query exposes Stream(), Finished(),
// ClosestNodes(), and ClosestReplies().
func (n *Node) Query(ctx context.Context, qo QueryOptions) (*query.Query, error) {
	if n.Destroyed() {
		return nil, ErrDestroyed
	}

	n.mu.Lock()
	table := n.table
	n.mu.Unlock()

	var bootstrapPeers []*kbucket.Peer
	for _, ep := range qo.Bootstrap {
		if addr, err := ep.udpAddr(); err == nil {
			bootstrapPeers = append(bootstrapPeers, &kbucket.Peer{IP: addr.IP, Port: uint16(addr.Port)})
		}
	}

	alpha := qo.Alpha
	if alpha <= 0 {
		alpha = n.opts.alpha
	}
	conc := qo.ConcurrencyLimit
	if conc <= 0 {
		conc = n.opts.concurrency
	}
	reqTimeout := qo.RequestTimeout
	if reqTimeout <= 0 {
		reqTimeout = n.opts.requestTimeout
	}

	localID, _ := n.fsm.LocalID()
	localIP, localPort := n.fsm.PublicEndpoint()

	q := query.Start(ctx, n.transport, query.Options{
		Target:           qo.Target,
		Command:          qo.Command,
		Value:            qo.Value,
		Candidates:       qo.Candidates,
		Table:            table,
		Bootstrap:        bootstrapPeers,
		LocalID:          localID,
		LocalIP:          localIP,
		LocalPort:        localPort,
		Commit:           qo.Commit,
		CommitFunc:       qo.CommitFunc,
		Alpha:            alpha,
		ConcurrencyLimit: conc,
		RequestTimeout:   reqTimeout,
	})
	return q, nil
}

// FindNode runs a query using the internal FIND_NODE command, per
// spec.md §6's `find_node(target, opts)`.
func (n *Node) FindNode(ctx context.Context, target kbucket.ID, opts QueryOptions) (*query.Query, error) {
	opts.Target = target
	opts.Command = wire.CommandFindNode
	return n.Query(ctx, opts)
}

// ToArray dumps the routing table's current contents, per spec.md §6's
// `to_array()`. Empty while ephemeral.
func (n *Node) ToArray() []*kbucket.Peer {
	n.mu.Lock()
	table := n.table
	n.mu.Unlock()
	if table == nil {
		return nil
	}
	local, _ := n.fsm.LocalID()
	return table.Closest(local, kbucket.NumBuckets*kbucket.K)
}

// Refresh triggers an immediate routing-table maintenance round instead
// of waiting for the next tick, per spec.md §6's `refresh()`.
func (n *Node) Refresh() {
	select {
	case n.refreshNow <- struct{}{}:
	default:
	}
}

// ID returns the node's stable ID and whether it currently has one.
func (n *Node) ID() (kbucket.ID, bool) { return n.fsm.LocalID() }

// Ephemeral reports whether the node is currently in ephemeral mode.
func (n *Node) Ephemeral() bool { return n.fsm.Mode() == natfsm.Ephemeral }

// Firewalled reports the current firewall belief.
func (n *Node) Firewalled() bool { return n.fsm.Firewalled() }

// Host returns the believed public IP, or nil if not yet established.
func (n *Node) Host() net.IP {
	ip, _ := n.fsm.PublicEndpoint()
	return ip
}

// Port returns the believed public port, or 0 if not yet established.
func (n *Node) Port() uint16 {
	_, port := n.fsm.PublicEndpoint()
	return port
}

// Address returns the locally bound socket address.
func (n *Node) Address() net.Addr { return n.sock.LocalAddr() }

// Destroyed reports whether Destroy has been called.
func (n *Node) Destroyed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.destroyed
}

func (n *Node) maintenanceLoop() {
	defer n.wg.Done()
	t := time.NewTicker(n.opts.refreshInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			n.doMaintenance()
		case <-n.refreshNow:
			n.doMaintenance()
		case <-n.stop:
			return
		}
	}
}

// doMaintenance implements spec.md §4.5: issue a find_node toward a
// random ID in the bucket with the oldest aging peer, and reprobe every
// peer not heard from within T_stale, evicting non-responders. Lives
// here rather than in kbucket (despite SPEC_FULL.md §4.5's literal
// `kbucket.refreshLoop` placement) because it drives both kbucket.Table
// and the query engine together, and kbucket cannot import query without
// an import cycle (query already imports kbucket) — see DESIGN.md.
func (n *Node) doMaintenance() {
	n.mu.Lock()
	table := n.table
	n.mu.Unlock()
	if table == nil {
		return
	}

	if idx := table.AgingBucket(); idx >= 0 {
		target := table.RandomIDInBucket(idx)
		localID, _ := n.fsm.LocalID()
		localIP, localPort := n.fsm.PublicEndpoint()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		q := query.Start(ctx, n.transport, query.Options{
			Target:    target,
			Command:   wire.CommandFindNode,
			Table:     table,
			LocalID:   localID,
			LocalIP:   localIP,
			LocalPort: localPort,
		})
		<-q.Finished()
		cancel()
	}

	for _, p := range table.Stale(n.opts.staleAge) {
		p := p
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), n.requestTimeoutOrDefault())
			defer cancel()
			if !n.transport.Ping(ctx, p) {
				table.Remove(p.IP, p.Port)
			}
		}()
	}
}

// Destroy tears the node down: every pending request fails with
// Destroyed, sockets close, and no further operations are accepted, per
// spec.md §6/§7.
func (n *Node) Destroy() error {
	var err error
	n.stopOnce.Do(func() {
		n.mu.Lock()
		n.destroyed = true
		n.mu.Unlock()

		close(n.stop)
		err = n.transport.Close()
		n.tokens.Close()
		n.fsm.Close()
		n.wg.Wait()
		close(n.events)
	})
	return err
}

func localUDPPort(addr net.Addr) uint16 {
	if udp, ok := addr.(*net.UDPAddr); ok {
		return uint16(udp.Port)
	}
	return 0
}
