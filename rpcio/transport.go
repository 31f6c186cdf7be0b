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

// Package rpcio implements spec.md §4.4's RPC layer: the pending-request
// table, timeout/retry state machine, and datagram dispatch, generalizing
// the teacher's bond/pingpong handshake (p2p/discover/udp.go) from a fixed
// two-message ping/pong exchange to arbitrary request/reply frames keyed
// by a wire.Frame's tid.
package rpcio

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/JekaMas/workerpool"
	"github.com/pkg/errors"

	"github.com/rootkad/dht/kbucket"
	"github.com/rootkad/dht/logger"
	"github.com/rootkad/dht/metrics"
	"github.com/rootkad/dht/wire"
)

// Defaults from spec.md §4.4/§5.
const (
	DefaultRequestTimeout = time.Second
	DefaultOverflow       = 2048
	defaultPoolSize       = 64
)

// TokenVerifier is implemented by token.Manager; accepted as an interface
// here so rpcio does not need to import token's concrete rotation timer.
type TokenVerifier interface {
	Verify(tok [32]byte, ip net.IP, port uint16) bool
}

// TokenDeriver is implemented by token.Manager; when set on a Transport,
// every outbound reply echoes a freshly-derived token for the requester's
// endpoint, so the query engine (spec.md §4.6 step 3) always has a token
// on hand for a later commit phase regardless of which command answered.
type TokenDeriver interface {
	Derive(ip net.IP, port uint16) [32]byte
}

// Handler processes an inbound request frame that did not match a pending
// reply. One handler per Transport, per spec.md §9's "one capability, no
// deep hierarchy" design note.
type Handler func(*Request)

// Request is an inbound frame delivered to the application handler.
type Request struct {
	Frame      *wire.Frame
	From       net.Addr
	TokenValid bool

	t *Transport
}

// Reply sends a reply frame back to the requester, echoing its tid.
func (r *Request) Reply(value []byte, status uint8) error {
	reply := &wire.Frame{
		TID:     r.Frame.TID,
		Command: r.Frame.Command,
		Status:  status,
		Value:   value,
	}
	reply.SetReply(true)
	if id, ok := r.t.localID(); ok {
		reply.SetFromID(id)
	}
	if r.t.deriver != nil {
		if udp, ok := r.From.(*net.UDPAddr); ok {
			reply.SetToken(r.t.deriver.Derive(udp.IP, uint16(udp.Port)))
		}
	}
	return r.t.sendFrame(r.From, reply)
}

// RequestOptions controls a single outbound request.
type RequestOptions struct {
	// Retry requests the one additional resend on timeout described in
	// spec.md §4.4. PING and PING_NAT requests always retry regardless of
	// this field.
	Retry bool
	// Timeout overrides DefaultRequestTimeout / the Transport's configured
	// T_req for this request only.
	Timeout time.Duration
	// Socket routes this request over a secondary socket instead of the
	// Transport's primary one (spec.md §5's "shared resources").
	Socket *Socket
}

// Transport is the RPC layer bound to one primary socket.
type Transport struct {
	socket  *Socket
	pending *pendingTable
	pool    *workerpool.WorkerPool
	handler Handler

	localID  func() ([32]byte, bool)
	verifier TokenVerifier
	deriver  TokenDeriver

	reqTimeout time.Duration

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewTransport binds an RPC layer to socket. localID reports the node's
// current (id, non-ephemeral?) pair so request frames only ever carry
// from_id when the node is persistent (spec.md §8's "ephemeral nodes never
// send a from_id" invariant).
func NewTransport(socket *Socket, handler Handler, localID func() ([32]byte, bool), verifier TokenVerifier) *Transport {
	t := &Transport{
		socket:     socket,
		pending:    newPendingTable(DefaultOverflow),
		pool:       workerpool.New(defaultPoolSize),
		handler:    handler,
		localID:    localID,
		verifier:   verifier,
		reqTimeout: DefaultRequestTimeout,
		closed:     make(chan struct{}),
	}
	t.wg.Add(1)
	go t.readLoop()
	return t
}

// SetTokenDeriver installs the deriver used to attach an echoable token to
// every outbound reply.
func (t *Transport) SetTokenDeriver(d TokenDeriver) { t.deriver = d }

// SetRequestTimeout overrides T_req for subsequent requests.
func (t *Transport) SetRequestTimeout(d time.Duration) {
	if d > 0 {
		t.reqTimeout = d
	}
}

// PendingCount reports the number of in-flight requests, for tests and
// diagnostics.
func (t *Transport) PendingCount() int { return t.pending.len() }

// Request implements spec.md §4.4's request operation: allocate a tid,
// attach from_id if non-ephemeral, send, await a matching reply within
// T_req, retrying once if opts.Retry (or the frame is a PING or PING_NAT) and the
// first attempt times out.
func (t *Transport) Request(ctx context.Context, dest net.Addr, frame *wire.Frame, opts RequestOptions) (*wire.Frame, error) {
	select {
	case <-t.closed:
		return nil, ErrDestroyed
	default:
	}

	p, err := t.pending.add(dest)
	if err != nil {
		return nil, err
	}
	frame.TID = p.tid
	if id, ok := t.localID(); ok {
		frame.SetFromID(id)
	}

	sock := t.socket
	if opts.Socket != nil {
		sock = opts.Socket
	}
	timeout := t.reqTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	retry := opts.Retry || frame.Command == wire.CommandPing || frame.Command == wire.CommandPingNAT

	resultCh := make(chan result, 1)
	t.wg.Add(1)
	t.pool.Submit(func() {
		defer t.wg.Done()
		resultCh <- t.runRequest(ctx, sock, dest, frame, p, timeout, retry)
	})

	select {
	case r := <-resultCh:
		return r.frame, r.err
	case <-ctx.Done():
		t.pending.remove(p.tid)
		return nil, ctx.Err()
	case <-t.closed:
		t.pending.remove(p.tid)
		return nil, ErrDestroyed
	}
}

type result struct {
	frame *wire.Frame
	err   error
}

func (t *Transport) runRequest(ctx context.Context, sock *Socket, dest net.Addr, frame *wire.Frame, p *pendingRequest, timeout time.Duration, retry bool) result {
	defer t.pending.remove(p.tid)

	retriesLeft := 0
	if retry {
		retriesLeft = 1
	}

	if err := t.sendFrame2(sock, dest, frame); err != nil {
		return result{err: errors.Wrap(err, "rpcio: send request")}
	}
	metrics.RequestsSent.Mark(1)

	for {
		timer := time.NewTimer(timeout)
		select {
		case reply := <-p.done:
			timer.Stop()
			metrics.RepliesReceived.Mark(1)
			return result{frame: reply}
		case err := <-p.err:
			timer.Stop()
			return result{err: err}
		case <-timer.C:
			if retriesLeft > 0 {
				retriesLeft--
				metrics.RequestRetries.Mark(1)
				if err := t.sendFrame2(sock, dest, frame); err != nil {
					return result{err: errors.Wrap(err, "rpcio: retry send")}
				}
				continue
			}
			metrics.RequestTimeouts.Mark(1)
			return result{err: ErrTimeout}
		case <-ctx.Done():
			timer.Stop()
			return result{err: ctx.Err()}
		case <-t.closed:
			timer.Stop()
			return result{err: ErrDestroyed}
		}
	}
}

// Ping implements kbucket.Prober: probes p's liveness over the transport.
func (t *Transport) Ping(ctx context.Context, p *kbucket.Peer) bool {
	addr := &net.UDPAddr{IP: p.IP, Port: int(p.Port)}
	frame := &wire.Frame{Command: wire.CommandPing}
	_, err := t.Request(ctx, addr, frame, RequestOptions{Retry: true})
	metrics.BondsStarted.Mark(1)
	if err == nil {
		metrics.BondsVerified.Mark(1)
		return true
	}
	metrics.BondsFailed.Mark(1)
	return false
}

// sendFrame encodes and sends a frame that is not part of a pending
// request (a reply).
func (t *Transport) sendFrame(dest net.Addr, frame *wire.Frame) error {
	return t.sendFrame2(t.socket, dest, frame)
}

func (t *Transport) sendFrame2(sock *Socket, dest net.Addr, frame *wire.Frame) error {
	raw, err := wire.Encode(frame)
	if err != nil {
		return errors.Wrap(err, "rpcio: encode frame")
	}
	if err := sock.Send(dest, raw); err != nil {
		return errors.Wrap(ErrSocketError, err.Error())
	}
	return nil
}

// readLoop decodes inbound datagrams and dispatches them as replies
// (matching tid + origin) or requests (forwarded to the handler), per
// spec.md §4.4.
func (t *Transport) readLoop() {
	defer t.wg.Done()
	buf := make([]byte, 4096)
	for {
		n, addr, err := t.socket.Recv(buf)
		select {
		case <-t.closed:
			return
		default:
		}
		if err != nil {
			logger.V(logger.Warn).Infof("rpcio: recv error: %v", err)
			return
		}
		frame, err := wire.Decode(buf[:n])
		if err != nil {
			metrics.DecodeErrors.Mark(1)
			if frame != nil {
				t.failPending(frame.TID, addr, errors.Wrap(ErrInvalidReply, err.Error()))
			}
			continue
		}
		t.dispatch(frame, addr)
	}
}

// failPending delivers err to the pending request matched by tid+origin,
// used when an inbound datagram decodes far enough to expose its tid but
// fails full validation (spec.md §4.4's InvalidReply kind).
func (t *Transport) failPending(tid uint16, from net.Addr, err error) {
	if p, ok := t.pending.get(tid); ok && sameEndpoint(from, p.dest) {
		t.pending.remove(tid)
		select {
		case p.err <- err:
		default:
		}
	}
}

func (t *Transport) dispatch(frame *wire.Frame, from net.Addr) {
	if p, ok := t.pending.get(frame.TID); ok && sameEndpoint(from, p.dest) {
		t.pending.remove(frame.TID)
		select {
		case p.done <- frame:
		default:
		}
		return
	}

	metrics.RequestsReceived.Mark(1)
	logger.Mlog(mlogFrameHandleFrom.SetDetailValues(from.String(), frame.Command, frame.IsReply()))

	req := &Request{Frame: frame, From: from, t: t}
	if frame.HasToken() && t.verifier != nil {
		if udp, ok := from.(*net.UDPAddr); ok {
			req.TokenValid = t.verifier.Verify(frame.Token, udp.IP, uint16(udp.Port))
		}
	}
	if t.handler != nil {
		t.handler(req)
	}
}

func sameEndpoint(a, b net.Addr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.String() == b.String()
}

// Close destroys the transport: every pending request fails with
// ErrDestroyed, the read loop stops, and the socket is closed.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		t.pending.drain(ErrDestroyed)
		err = t.socket.Close()
		t.pool.StopWait()
	})
	t.wg.Wait()
	return err
}
