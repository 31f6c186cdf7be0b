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

package kbucket

import (
	"net"

	"github.com/rootkad/dht/distip"
)

const (
	// maxReplacements bounds the per-bucket replacement list, mirroring
	// p2p/discover/table.go's maxReplacements.
	maxReplacements = 10

	bucketIPLimit, bucketSubnet = 2, 24 // at most 2 addresses from the same /24 per bucket
)

// bucket holds up to K peers ordered least-recently-seen -> most-recently
// seen (entries[0] is LRU, entries[len-1] is MRU), plus a replacement list
// used when the bucket is full and its head fails a probe.
type bucket struct {
	entries      []*Peer
	replacements []*Peer
	ips          distip.DistinctNetSet
}

func newBucket() *bucket {
	return &bucket{ips: distip.DistinctNetSet{Subnet: bucketSubnet, Limit: bucketIPLimit}}
}

// bump moves an existing entry to the most-recently-seen position and
// reports whether it was found.
func (b *bucket) bump(p *Peer) bool {
	for i, e := range b.entries {
		if e.Equal(p) {
			copy(b.entries[i:], b.entries[i+1:])
			b.entries[len(b.entries)-1] = e
			return true
		}
	}
	return false
}

// indexOf returns the index of the entry matching p's endpoint, or -1.
func (b *bucket) indexOf(p *Peer) int {
	for i, e := range b.entries {
		if e.Equal(p) {
			return i
		}
	}
	return -1
}

func (b *bucket) removeAt(i int) {
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
}

func (b *bucket) head() *Peer {
	if len(b.entries) == 0 {
		return nil
	}
	return b.entries[0]
}

func (b *bucket) full(k int) bool { return len(b.entries) >= k }

func (b *bucket) addIP(ip net.IP, table *distip.DistinctNetSet) bool {
	if distip.IsLAN(ip) {
		return true
	}
	if !table.Add(ip) {
		return false
	}
	if !b.ips.Add(ip) {
		table.Remove(ip)
		return false
	}
	return true
}

func (b *bucket) removeIP(ip net.IP, table *distip.DistinctNetSet) {
	if distip.IsLAN(ip) {
		return
	}
	table.Remove(ip)
	b.ips.Remove(ip)
}

// addReplacement appends p to the end (most recent) of the replacement
// list, evicting the oldest (first) entry if the list is full.
func (b *bucket) addReplacement(p *Peer, table *distip.DistinctNetSet) {
	for _, e := range b.replacements {
		if e.Equal(p) {
			return
		}
	}
	if !b.addIP(p.IP, table) {
		return
	}
	if len(b.replacements) >= maxReplacements {
		removed := b.replacements[0]
		b.replacements = b.replacements[1:]
		b.removeIP(removed.IP, table)
	}
	b.replacements = append(b.replacements, p)
}

func (b *bucket) removeReplacement(p *Peer) {
	for i, e := range b.replacements {
		if e.Equal(p) {
			b.replacements = append(b.replacements[:i], b.replacements[i+1:]...)
			return
		}
	}
}

// popReplacement removes and returns the most recently seen replacement.
// Table.Insert does not call it: an evicted head's slot goes to the
// candidate being inserted.
func (b *bucket) popReplacement() *Peer {
	if len(b.replacements) == 0 {
		return nil
	}
	p := b.replacements[len(b.replacements)-1]
	b.replacements = b.replacements[:len(b.replacements)-1]
	return p
}
