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

package rpcio

import (
	"net"
	"sync"

	"github.com/rootkad/dht/wire"
)

// pendingRequest is one in-flight request awaiting a reply, generalizing
// the teacher's bond/pingpong transaction (p2p/discover/udp.go's
// `pending` struct: an ID-keyed entry with a callback and an error/done
// channel) from a fixed ping/pong handshake to an arbitrary frame keyed by
// tid.
type pendingRequest struct {
	tid  uint16
	dest net.Addr

	done chan *wire.Frame
	err  chan error

	cancel func()
}

// pendingTable is the per-socket table of in-flight requests, keyed by
// tid. Per spec.md §3, tid values are pairwise distinct among currently
// pending requests.
type pendingTable struct {
	mu      sync.Mutex
	entries map[uint16]*pendingRequest
	nextTID uint16
	limit   int
}

func newPendingTable(limit int) *pendingTable {
	return &pendingTable{
		entries: make(map[uint16]*pendingRequest),
		limit:   limit,
	}
}

// allocTID reserves the next free transaction id, wrapping on overflow.
// Returns false if every tid in the 16-bit space is in use (would require
// 65536 simultaneous pending requests, far past the overflow cap).
func (t *pendingTable) allocTID() (uint16, bool) {
	for i := 0; i < 1<<16; i++ {
		tid := t.nextTID
		t.nextTID++
		if _, taken := t.entries[tid]; !taken {
			return tid, true
		}
	}
	return 0, false
}

// add registers a new pending request, enforcing the overflow cap from
// spec.md §4.4.
func (t *pendingTable) add(dest net.Addr) (*pendingRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entries) >= t.limit {
		return nil, ErrOverflow
	}
	tid, ok := t.allocTID()
	if !ok {
		return nil, ErrOverflow
	}
	p := &pendingRequest{
		tid:  tid,
		dest: dest,
		done: make(chan *wire.Frame, 1),
		err:  make(chan error, 1),
	}
	t.entries[tid] = p
	return p, nil
}

func (t *pendingTable) get(tid uint16) (*pendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[tid]
	return p, ok
}

func (t *pendingTable) remove(tid uint16) {
	t.mu.Lock()
	delete(t.entries, tid)
	t.mu.Unlock()
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// drain fails every pending request with err, used when the transport is
// destroyed (spec.md §7's "destroy during any pending operation causes it
// to fail with Destroyed").
func (t *pendingTable) drain(err error) {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[uint16]*pendingRequest)
	t.mu.Unlock()

	for _, p := range entries {
		select {
		case p.err <- err:
		default:
		}
	}
}
