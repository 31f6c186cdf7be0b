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

package query

import (
	"sort"

	"github.com/rootkad/dht/kbucket"
)

// status is a candidate's progress through one request, per spec.md §3's
// Query state: untried -> inFlight -> {responded, failed}.
type status int

const (
	untried status = iota
	inFlight
	responded
	failed
)

type candidateEntry struct {
	peer     *kbucket.Peer
	status   status
	token    [32]byte
	hasToken bool
}

// candidateSet tracks candidates sorted by XOR distance to target,
// generalizing the teacher's p2p/discover/table.go `closest` helper (a
// fixed-size, insertion-sorted, XOR-ordered accumulator used by
// Table.lookup) to carry a per-candidate request status instead of just a
// flat list of nodes.
//
// Only the closestCap nearest candidates are retained; anything farther is
// irrelevant to convergence (spec.md §4.6 only ever asks about the "K
// currently-closest" candidates). closestCap is kept a few multiples of K
// so that a handful of better candidates can surface from merged replies
// before older, farther ones are dropped.
type candidateSet struct {
	target     kbucket.ID
	k          int
	closestCap int
	entries    []*candidateEntry
	known      map[string]bool // endpoint key -> present, for merge dedup
}

func newCandidateSet(target kbucket.ID, k int) *candidateSet {
	return &candidateSet{
		target:     target,
		k:          k,
		closestCap: k * 3,
		known:      make(map[string]bool),
	}
}

// add inserts p as an untried candidate unless its endpoint is already
// tracked. Returns the new entry, or nil if it was a duplicate or farther
// than every tracked candidate once the set is at capacity.
func (s *candidateSet) add(p *kbucket.Peer) *candidateEntry {
	key := p.Key()
	if s.known[key] {
		return nil
	}
	e := &candidateEntry{peer: p, status: untried}

	idx := sort.Search(len(s.entries), func(i int) bool {
		return kbucket.DistCmp(s.target, s.entries[i].peer.ID, p.ID) >= 0
	})
	if idx >= s.closestCap {
		return nil
	}
	s.entries = append(s.entries, nil)
	copy(s.entries[idx+1:], s.entries[idx:])
	s.entries[idx] = e
	if len(s.entries) > s.closestCap {
		dropped := s.entries[len(s.entries)-1]
		delete(s.known, dropped.peer.Key())
		s.entries = s.entries[:s.closestCap]
	}
	s.known[key] = true
	return e
}

// closestUntried returns the nearest candidate with status untried among
// the k closest, or nil if none.
func (s *candidateSet) closestUntried() *candidateEntry {
	n := len(s.entries)
	if n > s.k {
		n = s.k
	}
	for i := 0; i < n; i++ {
		if s.entries[i].status == untried {
			return s.entries[i]
		}
	}
	return nil
}

// terminal reports whether every one of the k closest candidates has
// reached a terminal status (responded or failed).
func (s *candidateSet) terminal() bool {
	n := len(s.entries)
	if n > s.k {
		n = s.k
	}
	for i := 0; i < n; i++ {
		if s.entries[i].status == untried || s.entries[i].status == inFlight {
			return false
		}
	}
	return true
}

// closestK returns up to k tracked candidates, closest first.
func (s *candidateSet) closestK() []*candidateEntry {
	n := len(s.entries)
	if n > s.k {
		n = s.k
	}
	out := make([]*candidateEntry, n)
	copy(out, s.entries[:n])
	return out
}

// respondedK returns, among the closest k, those that responded.
func (s *candidateSet) respondedK() []*candidateEntry {
	var out []*candidateEntry
	for _, e := range s.closestK() {
		if e.status == responded {
			out = append(out, e)
		}
	}
	return out
}
