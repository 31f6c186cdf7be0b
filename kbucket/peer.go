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
	"strconv"
	"time"
)

// rttSamples is the size of a peer's round-trip-time ring, per spec.md's
// "rtt_samples: small ring".
const rttSamples = 8

// Peer is a routing table entry. Two peers are equal iff their (IP, Port)
// match — ID is advisory metadata carried alongside, exactly as spec.md
// §3 specifies.
type Peer struct {
	ID ID
	IP net.IP
	// Port is the UDP port the peer was last reachable at.
	Port uint16

	LastSeen   time.Time
	LastPinged time.Time
	Added      time.Time

	rtt    [rttSamples]time.Duration
	rttLen int
	rttPos int
}

// Key identifies a peer by its endpoint, the equality relation spec.md
// mandates for the routing table (not by ID).
func (p *Peer) Key() string {
	return p.IP.String() + "/" + strconv.Itoa(int(p.Port))
}

// Equal reports whether two peers share the same (IP, Port) endpoint.
func (p *Peer) Equal(o *Peer) bool {
	return o != nil && p.Port == o.Port && p.IP.Equal(o.IP)
}

// RecordRTT appends a round-trip sample to the peer's ring buffer.
func (p *Peer) RecordRTT(d time.Duration) {
	p.rtt[p.rttPos] = d
	p.rttPos = (p.rttPos + 1) % rttSamples
	if p.rttLen < rttSamples {
		p.rttLen++
	}
}

// AverageRTT returns the mean of the recorded round-trip samples, or 0 if
// none have been recorded yet.
func (p *Peer) AverageRTT() time.Duration {
	if p.rttLen == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < p.rttLen; i++ {
		sum += p.rtt[i]
	}
	return sum / time.Duration(p.rttLen)
}
