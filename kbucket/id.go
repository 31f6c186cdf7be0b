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
	"encoding/hex"
	"math/bits"
	"net"

	sha256simd "github.com/minio/sha256-simd"
)

// ID is a 256-bit node identifier. Persistent nodes derive it from their
// observed public endpoint (HashID); ephemeral nodes have none and are
// never inserted into a Table.
type ID [32]byte

// HashID derives a node ID from a node's public endpoint: H(ip || port).
// H is SHA-256, using the SIMD-accelerated implementation rather than
// crypto/sha256 — the same drop-in swap diogo464-go-libp2p-kbucket makes
// for its own peer-ID hashing.
func HashID(ip net.IP, port uint16) ID {
	h := sha256simd.New()
	if v4 := ip.To4(); v4 != nil {
		h.Write(v4)
	} else {
		h.Write(ip.To16())
	}
	h.Write([]byte{byte(port >> 8), byte(port)})
	var id ID
	copy(id[:], h.Sum(nil))
	return id
}

func (id ID) String() string { return hex.EncodeToString(id[:]) }

// IsZero reports whether id is the zero value, used as the sentinel for
// "ephemeral, no stable ID".
func (id ID) IsZero() bool { return id == ID{} }

// commonPrefixLen returns the number of leading bits shared by a and b —
// the bucket index a peer with ID b belongs to relative to local ID a.
func commonPrefixLen(a, b ID) int {
	for i := 0; i < len(a); i++ {
		x := a[i] ^ b[i]
		if x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return len(a) * 8
}

// distCmp compares the XOR distance of a and b to target, returning -1, 0
// or 1 the way bytes.Compare does. Smaller XOR distance means closer.
func distCmp(target, a, b ID) int {
	for i := range target {
		da := a[i] ^ target[i]
		db := b[i] ^ target[i]
		if da != db {
			if da < db {
				return -1
			}
			return 1
		}
	}
	return 0
}

// DistCmp exports distCmp for other packages (query's candidate-set
// ordering) that need the same XOR-distance comparator the routing table
// uses internally.
func DistCmp(target, a, b ID) int { return distCmp(target, a, b) }

// logDist returns the bit length of a XOR b, i.e. 256 minus the common
// prefix length (or 0 when a == b). Exposed mainly so property tests can
// cross-check commonPrefixLen against a big.Int based reference.
func logDist(a, b ID) int {
	return len(a)*8 - commonPrefixLen(a, b)
}

// randomIDInBucket returns an ID whose shared-prefix length with local is
// exactly i: the first i bits copy local, bit i is flipped, and the
// remainder is random.
func randomIDInBucket(local ID, i int, rand func([]byte)) ID {
	var id ID
	buf := make([]byte, len(id))
	rand(buf)
	copy(id[:], buf)

	nb := i / 8
	copy(id[:nb], local[:nb])
	if nb < len(id) {
		bit := uint(7 - i%8)
		mask := byte(1) << bit
		// Match local's higher bits within this byte, then force the
		// (i+1)-th bit to differ so the common prefix is exactly i.
		higherMask := ^(mask | (mask - 1))
		id[nb] = (local[nb] & higherMask) | (id[nb] &^ higherMask)
		if local[nb]&mask != 0 {
			id[nb] &^= mask
		} else {
			id[nb] |= mask
		}
	}
	return id
}
