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

// Package query implements spec.md §4.6's iterative lookup engine:
// Kademlia-style alpha-parallel walk toward a target ID, generalizing the
// teacher's fixed-target, fixed-findnode Table.lookup (p2p/discover/table.go)
// into a streaming, command-parametrized, optionally-committing query.
package query

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/JekaMas/workerpool"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/rootkad/dht/kbucket"
	"github.com/rootkad/dht/logger"
	"github.com/rootkad/dht/metrics"
	"github.com/rootkad/dht/rpcio"
	"github.com/rootkad/dht/wire"
)

// Defaults from spec.md §3's Query state.
const (
	DefaultAlpha            = 3
	DefaultConcurrencyLimit = 16
)

// Requester is the subset of rpcio.Transport the query engine needs;
// accepted as an interface so tests can substitute a fake without a real
// socket.
type Requester interface {
	Request(ctx context.Context, dest net.Addr, frame *wire.Frame, opts rpcio.RequestOptions) (*wire.Frame, error)
}

// Reply pairs a query response frame with the peer that sent it, ordered
// by arrival (not XOR order) when read from Stream, per spec.md §5's
// ordering guarantee.
type Reply struct {
	Peer  *kbucket.Peer
	Frame *wire.Frame
}

// CommitFunc replaces the default commit behavior (re-requesting Command
// with the peer's echoed token) with custom per-reply logic, per spec.md
// §4.6 step 6.
type CommitFunc func(ctx context.Context, peer *kbucket.Peer, reply *Reply) error

// Options configures one query.
type Options struct {
	Target  kbucket.ID
	Command uint64
	Value   []byte

	// Candidates seeds the query explicitly; if empty, Table's K closest
	// peers are used; if that is also empty, Bootstrap is used.
	Candidates []*kbucket.Peer
	Table      *kbucket.Table
	Bootstrap  []*kbucket.Peer

	// LocalID and LocalIP/LocalPort identify this node so a neighbor-list
	// merge (spec.md §4.6 step 3) can skip self-references: a zero LocalID
	// or nil LocalIP disables the corresponding check (e.g. while the node
	// is still ephemeral and has neither).
	LocalID   kbucket.ID
	LocalIP   net.IP
	LocalPort uint16

	Commit     bool
	CommitFunc CommitFunc

	Alpha            int
	ConcurrencyLimit int
	RequestTimeout   time.Duration
}

func (o *Options) setDefaults() {
	if o.Alpha <= 0 {
		o.Alpha = DefaultAlpha
	}
	if o.ConcurrencyLimit <= 0 {
		o.ConcurrencyLimit = DefaultConcurrencyLimit
	}
}

// Query is one in-progress (or finished) iterative lookup.
type Query struct {
	opts      Options
	requester Requester
	pool      *workerpool.WorkerPool

	mu       sync.Mutex
	set      *candidateSet
	seen     mapset.Set[string]
	inFlight int

	events chan event

	stream chan *Reply
	doneCh chan struct{}

	cancelCh   chan struct{}
	cancelOnce sync.Once

	closestNodes   []*kbucket.Peer
	closestReplies []*Reply
}

type event struct {
	entry *candidateEntry
	reply *Reply
	err   error
}

// Start launches a query and returns immediately; the caller reads results
// from Stream() and waits on Finished().
func Start(ctx context.Context, requester Requester, opts Options) *Query {
	opts.setDefaults()

	q := &Query{
		opts:      opts,
		requester: requester,
		pool:      workerpool.New(opts.ConcurrencyLimit),
		set:       newCandidateSet(opts.Target, kbucket.K),
		seen:      mapset.NewSet[string](),
		events:    make(chan event, opts.ConcurrencyLimit),
		stream:    make(chan *Reply, opts.ConcurrencyLimit),
		doneCh:    make(chan struct{}),
		cancelCh:  make(chan struct{}),
	}

	q.seed()
	metrics.QueriesStarted.Mark(1)
	go q.loop(ctx)
	return q
}

func (q *Query) seed() {
	seeds := q.opts.Candidates
	if len(seeds) == 0 && q.opts.Table != nil {
		seeds = q.opts.Table.Closest(q.opts.Target, kbucket.K)
	}
	if len(seeds) == 0 {
		seeds = q.opts.Bootstrap
	}
	for _, p := range seeds {
		q.addCandidate(p)
	}
}

// isSelf reports whether a merged neighbor entry is this node itself,
// either by ID or by its self-reported public endpoint, per spec.md §4.6
// step 3's "skipping self, duplicates, and self-reported public endpoint".
func (q *Query) isSelf(n wire.NeighborEntry) bool {
	if !q.opts.LocalID.IsZero() && kbucket.ID(n.ID) == q.opts.LocalID {
		return true
	}
	if q.opts.LocalIP != nil && q.opts.LocalPort != 0 &&
		n.Port == q.opts.LocalPort && n.IP.Equal(q.opts.LocalIP) {
		return true
	}
	return false
}

func (q *Query) addCandidate(p *kbucket.Peer) {
	key := p.Key()
	if q.seen.Contains(key) {
		return
	}
	q.seen.Add(key)
	q.set.add(p)
}

// Stream returns the channel of replies in arrival order. It is closed
// when the query finishes or is cancelled.
func (q *Query) Stream() <-chan *Reply { return q.stream }

// Finished is closed once the query has terminated and any commit phase
// has completed.
func (q *Query) Finished() <-chan struct{} { return q.doneCh }

// ClosestNodes returns the terminal K candidates, per spec.md §4.6 step 7.
func (q *Query) ClosestNodes() []*kbucket.Peer {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closestNodes
}

// ClosestReplies returns the K best replies by distance.
func (q *Query) ClosestReplies() []*Reply {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closestReplies
}

// Cancel destroys the query handle: no new sends are issued, in-flight
// requests are detached (their eventual replies are discarded), and the
// stream ends, per spec.md §4.6's cancellation rule.
func (q *Query) Cancel() {
	q.cancelOnce.Do(func() { close(q.cancelCh) })
}

func (q *Query) loop(ctx context.Context) {
	defer close(q.doneCh)
	defer close(q.stream)

	cancelled := false

dispatch:
	for {
		q.mu.Lock()
		for q.inFlight < q.opts.Alpha {
			c := q.set.closestUntried()
			if c == nil {
				break
			}
			c.status = inFlight
			q.inFlight++
			q.dispatch(ctx, c)
		}
		terminal := q.set.terminal() && q.inFlight == 0
		q.mu.Unlock()

		if terminal {
			break dispatch
		}

		select {
		case ev := <-q.events:
			q.handleEvent(ev)
		case <-ctx.Done():
			cancelled = true
			break dispatch
		case <-q.cancelCh:
			cancelled = true
			break dispatch
		}
	}

	q.mu.Lock()
	closest := q.set.closestK()
	nodes := make([]*kbucket.Peer, len(closest))
	for i, e := range closest {
		nodes[i] = e.peer
	}
	q.closestNodes = nodes
	q.mu.Unlock()

	if !cancelled && q.opts.Commit {
		q.commit(ctx)
	}
	metrics.QueriesConverged.Mark(1)
}

func (q *Query) dispatch(ctx context.Context, c *candidateEntry) {
	q.pool.Submit(func() {
		start := time.Now()
		frame := &wire.Frame{Command: q.opts.Command, Value: q.opts.Value}
		frame.SetTarget(q.opts.Target)
		if c.hasToken {
			frame.SetToken(c.token)
		}

		addr := &net.UDPAddr{IP: c.peer.IP, Port: int(c.peer.Port)}
		reply, err := q.requester.Request(ctx, addr, frame, rpcio.RequestOptions{Timeout: q.opts.RequestTimeout})
		metrics.QueryRounds.UpdateSince(start)

		select {
		case q.events <- event{entry: c, reply: wrapReply(c.peer, reply), err: err}:
		case <-q.cancelCh:
		}
	})
}

func wrapReply(peer *kbucket.Peer, frame *wire.Frame) *Reply {
	if frame == nil {
		return nil
	}
	return &Reply{Peer: peer, Frame: frame}
}

func (q *Query) handleEvent(ev event) {
	q.mu.Lock()
	q.inFlight--

	if ev.err != nil || ev.reply == nil {
		ev.entry.status = failed
		q.mu.Unlock()
		return
	}

	ev.entry.status = responded
	if ev.reply.Frame.HasToken() {
		ev.entry.token = ev.reply.Frame.Token
		ev.entry.hasToken = true
	}
	q.recordReply(ev.reply)

	if neighbors, err := wire.DecodeNeighbors(ev.reply.Frame.Value); err == nil {
		for _, n := range neighbors {
			if n.ID == ([wire.IDSize]byte{}) {
				continue
			}
			if q.isSelf(n) {
				continue
			}
			q.addCandidate(&kbucket.Peer{ID: n.ID, IP: n.IP, Port: n.Port})
		}
	}
	q.mu.Unlock()

	select {
	case q.stream <- ev.reply:
	case <-q.cancelCh:
	}
}

// recordReply maintains closestReplies capped at K, ordered by XOR
// distance of the replying peer's ID to target, per spec.md §4.6 step 3.
// Caller must hold q.mu.
func (q *Query) recordReply(r *Reply) {
	idx := 0
	for idx < len(q.closestReplies) && kbucket.DistCmp(q.opts.Target, q.closestReplies[idx].Peer.ID, r.Peer.ID) < 0 {
		idx++
	}
	if idx >= kbucket.K {
		return
	}
	q.closestReplies = append(q.closestReplies, nil)
	copy(q.closestReplies[idx+1:], q.closestReplies[idx:])
	q.closestReplies[idx] = r
	if len(q.closestReplies) > kbucket.K {
		q.closestReplies = q.closestReplies[:kbucket.K]
	}
}

func (q *Query) commit(ctx context.Context) {
	q.mu.Lock()
	responded := q.set.respondedK()
	q.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range responded {
		e := e
		wg.Add(1)
		q.pool.Submit(func() {
			defer wg.Done()
			q.commitOne(ctx, e)
		})
	}
	wg.Wait()
}

func (q *Query) commitOne(ctx context.Context, e *candidateEntry) {
	if q.opts.CommitFunc != nil {
		reply := q.latestReplyFor(e.peer)
		if err := q.opts.CommitFunc(ctx, e.peer, reply); err != nil {
			logger.V(logger.Debug).Infof("query: commit hook failed for %s: %v", e.peer.Key(), err)
		}
		return
	}

	frame := &wire.Frame{Command: q.opts.Command, Value: q.opts.Value}
	frame.SetTarget(q.opts.Target)
	if e.hasToken {
		frame.SetToken(e.token)
	}
	addr := &net.UDPAddr{IP: e.peer.IP, Port: int(e.peer.Port)}
	if _, err := q.requester.Request(ctx, addr, frame, rpcio.RequestOptions{Timeout: q.opts.RequestTimeout}); err != nil {
		// commit failures do not abort the query, per spec.md §4.6 step 6.
		logger.V(logger.Debug).Infof("query: commit request failed for %s: %v", e.peer.Key(), err)
	}
}

func (q *Query) latestReplyFor(peer *kbucket.Peer) *Reply {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range q.closestReplies {
		if r.Peer.Equal(peer) {
			return r
		}
	}
	return nil
}
