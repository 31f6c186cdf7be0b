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

// Package kbucket implements the Kademlia routing table: 256 buckets of
// up to K peers each, indexed by shared-prefix length with the local ID,
// ordered least-recently-seen to most-recently-seen.
//
// This generalizes p2p/discover/table.go's fixed devp2p layout (a 512-bit
// NodeID, a 16-entry bucket, log-distance indexing) to the spec's 256-bit
// ID / K=20 / shared-prefix-length indexing, but keeps the same bond-on-
// full-bucket eviction strategy and IP-diversity limiting.
package kbucket

import (
	"context"
	"crypto/rand"
	"math"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/rootkad/dht/distip"
	"github.com/rootkad/dht/logger"
	"github.com/rootkad/dht/metrics"
)

// K is the bucket capacity and lookup width, per spec.md's glossary.
const K = 20

// NumBuckets is the number of prefix-length buckets for a 256-bit ID
// space: one bucket per possible shared-prefix length, 0..255.
const NumBuckets = 256

const tableIPLimit, tableSubnet = 10, 24

// Prober probes a peer's liveness, used when a bucket is full and its
// least-recently-seen entry must be revalidated before eviction. It is
// implemented by the RPC layer (rpcio.Transport.Ping); kbucket takes it as
// a function value to avoid an import cycle, mirroring the `transport`
// interface p2p/discover/table.go injects into the teacher's Table.
type Prober func(ctx context.Context, p *Peer) bool

// Table is the k-bucket routing table for one local ID. It is empty while
// the owning node is ephemeral (spec.md §3).
type Table struct {
	mu      sync.Mutex
	local   ID
	buckets [NumBuckets]*bucket
	ips     distip.DistinctNetSet

	probe        Prober
	probeTimeout time.Duration

	onAdded, onRemoved func(*Peer)
}

// NewTable creates a routing table for the given local ID. probe may be
// nil, in which case a full bucket always rejects new candidates (no
// eviction-by-probe).
func NewTable(local ID, probe Prober) *Table {
	t := &Table{
		local:        local,
		ips:          distip.DistinctNetSet{Subnet: tableSubnet, Limit: tableIPLimit},
		probe:        probe,
		probeTimeout: time.Second,
	}
	for i := range t.buckets {
		t.buckets[i] = newBucket()
	}
	return t
}

// SetHooks installs callbacks invoked after a peer is added to or removed
// from the table, used for tests and for structured logging/metrics.
func (t *Table) SetHooks(onAdded, onRemoved func(*Peer)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onAdded, t.onRemoved = onAdded, onRemoved
}

// SetProbeTimeout overrides the default 1s T_probe used when revalidating
// a bucket's head before eviction.
func (t *Table) SetProbeTimeout(d time.Duration) {
	t.mu.Lock()
	t.probeTimeout = d
	t.mu.Unlock()
}

func (t *Table) bucketIndex(id ID) int {
	i := commonPrefixLen(t.local, id)
	if i >= NumBuckets {
		i = NumBuckets - 1
	}
	return i
}

// Insert implements spec.md §4.3's insert operation. If the peer is
// already present it is refreshed and moved to the most-recently-seen
// position. Otherwise it is appended if the bucket has room, or, if the
// bucket is full, the least-recently-seen entry is probed (bounded by
// T_probe): a live head keeps its slot and the candidate is dropped (but
// held as a replacement); a dead head is evicted and replaced.
//
// Insert may block for up to T_probe; callers on a hot path should run it
// in its own goroutine.
func (t *Table) Insert(ctx context.Context, p *Peer) bool {
	if p.ID == t.local {
		return false
	}
	t.mu.Lock()
	b := t.buckets[t.bucketIndex(p.ID)]

	if b.bump(p) {
		idx := b.indexOf(p)
		b.entries[idx].LastSeen = time.Now()
		t.mu.Unlock()
		return true
	}

	if !b.full(K) {
		if !b.addIP(p.IP, &t.ips) {
			t.mu.Unlock()
			return false
		}
		p.Added = time.Now()
		p.LastSeen = p.Added
		b.entries = append(b.entries, p)
		t.mu.Unlock()
		metrics.BucketAdds.Mark(1)
		t.added(p)
		return true
	}

	head := b.head()
	t.mu.Unlock()

	if t.probe == nil || head == nil {
		t.addReplacementLocked(b, p)
		return false
	}

	probeCtx := ctx
	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); !ok {
		probeCtx, cancel = context.WithTimeout(ctx, t.probeTimeout)
		defer cancel()
	}
	alive := t.probe(probeCtx, head)

	t.mu.Lock()
	defer t.mu.Unlock()
	if alive {
		t.addReplacementLockedNoLock(b, p)
		return false
	}

	// head failed to respond: evict it and seat the candidate.
	if idx := b.indexOf(head); idx >= 0 {
		b.removeIP(head.IP, &t.ips)
		b.removeAt(idx)
		metrics.BucketEvictions.Mark(1)
		t.removed(head)
	}
	if !b.addIP(p.IP, &t.ips) {
		return false
	}
	p.Added = time.Now()
	p.LastSeen = p.Added
	b.entries = append(b.entries, p)
	metrics.BucketAdds.Mark(1)
	t.added(p)
	return true
}

func (t *Table) addReplacementLocked(b *bucket, p *Peer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addReplacementLockedNoLock(b, p)
}

func (t *Table) addReplacementLockedNoLock(b *bucket, p *Peer) {
	b.addReplacement(p, &t.ips)
}

func (t *Table) added(p *Peer) {
	if t.onAdded != nil {
		t.onAdded(p)
	}
	logger.Mlog(mlogPeerAdded.SetDetailValues(p.IP.String(), int(p.Port), p.ID.String()))
}

func (t *Table) removed(p *Peer) {
	if t.onRemoved != nil {
		t.onRemoved(p)
	}
	logger.Mlog(mlogPeerRemoved.SetDetailValues(p.IP.String(), int(p.Port), p.ID.String()))
}

// Remove erases the peer at the given endpoint, leaving its bucket
// sparse, per spec.md §4.3.
func (t *Table) Remove(ip net.IP, port uint16) {
	probe := &Peer{IP: ip, Port: port}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range t.buckets {
		if idx := b.indexOf(probe); idx >= 0 {
			p := b.entries[idx]
			b.removeIP(p.IP, &t.ips)
			b.removeAt(idx)
			metrics.BucketEvictions.Mark(1)
			go t.removed(p)
			return
		}
		b.removeReplacement(probe)
	}
}

// Closest returns up to n peers of minimal XOR distance to target, tied
// bytewise by (IP, Port), deterministic for a frozen table per spec.md §8.
func (t *Table) Closest(target ID, n int) []*Peer {
	t.mu.Lock()
	all := make([]*Peer, 0, K*4)
	for _, b := range t.buckets {
		all = append(all, b.entries...)
	}
	t.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if c := distCmp(target, all[i].ID, all[j].ID); c != 0 {
			return c < 0
		}
		return endpointLess(all[i], all[j])
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

func endpointLess(a, b *Peer) bool {
	if c := compareBytes(a.IP, b.IP); c != 0 {
		return c < 0
	}
	return a.Port < b.Port
}

func compareBytes(a, b net.IP) int {
	a4, b4 := a.To16(), b.To16()
	for i := range a4 {
		if a4[i] != b4[i] {
			if a4[i] < b4[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Len returns the total number of peers held across all buckets.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, b := range t.buckets {
		n += len(b.entries)
	}
	return n
}

// RandomIDInBucket returns an ID whose shared-prefix length with the
// local ID is exactly i, for maintenance lookups (spec.md §4.5).
func (t *Table) RandomIDInBucket(i int) ID {
	if i < 0 {
		i = 0
	}
	if i > NumBuckets-1 {
		i = NumBuckets - 1
	}
	return randomIDInBucket(t.local, i, func(b []byte) { rand.Read(b) })
}

// AgingBucket returns the index of a non-empty bucket whose
// least-recently-seen entry is oldest, used by the refresh loop to decide
// which random target to look up next. Returns -1 if the table is empty.
func (t *Table) AgingBucket() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	best, bestAge := -1, time.Duration(math.MinInt64)
	now := time.Now()
	for i, b := range t.buckets {
		if head := b.head(); head != nil {
			if age := now.Sub(head.LastSeen); age > bestAge {
				best, bestAge = i, age
			}
		}
	}
	return best
}

// Stale returns every peer not heard from within maxAge, for the
// maintenance task to revalidate (spec.md §4.5's T_stale).
func (t *Table) Stale(maxAge time.Duration) []*Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	var out []*Peer
	for _, b := range t.buckets {
		for _, p := range b.entries {
			if now.Sub(p.LastSeen) > maxAge {
				out = append(out, p)
			}
		}
	}
	return out
}

// Clear empties the table in place. dht.Node does not call it on a
// Persistent→Ephemeral downgrade; it drops the whole Table instead.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.buckets {
		t.buckets[i] = newBucket()
	}
	t.ips = distip.DistinctNetSet{Subnet: tableSubnet, Limit: tableIPLimit}
}
