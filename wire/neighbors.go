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

package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"

	"github.com/pkg/errors"
)

// NeighborEntry is one peer endpoint carried in a FIND_NODE reply's value,
// the wire encoding of spec.md §4.6's "merge any peer-list the reply
// carries into candidates" step. Grounded on the teacher's Neighbors
// packet (p2p/discover/udp.go's `rpcNode` list), here a compact
// length-prefixed encoding instead of RLP since this codec has no RLP
// dependency elsewhere.
type NeighborEntry struct {
	IP   net.IP
	Port uint16
	ID   [IDSize]byte
}

// maxNeighbors bounds a single FIND_NODE reply's neighbor count.
const maxNeighbors = 256

// EncodeNeighbors serializes a neighbor list for use as a Frame.Value.
func EncodeNeighbors(entries []NeighborEntry) []byte {
	var buf bytes.Buffer

	var varintBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(varintBuf[:], uint64(len(entries)))
	buf.Write(varintBuf[:n])

	for _, e := range entries {
		ip4 := e.IP.To4()
		if ip4 != nil {
			buf.WriteByte(4)
			buf.Write(ip4)
		} else {
			buf.WriteByte(16)
			buf.Write(e.IP.To16())
		}
		var portBuf [2]byte
		binary.BigEndian.PutUint16(portBuf[:], e.Port)
		buf.Write(portBuf[:])
		buf.Write(e.ID[:])
	}
	return buf.Bytes()
}

// DecodeNeighbors parses a neighbor list previously produced by
// EncodeNeighbors.
func DecodeNeighbors(raw []byte) ([]NeighborEntry, error) {
	r := bytes.NewReader(raw)

	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, errors.Wrap(ErrShortFrame, "neighbor count")
	}
	if count > maxNeighbors {
		return nil, errors.Errorf("wire: neighbor count %d exceeds max %d", count, maxNeighbors)
	}

	entries := make([]NeighborEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		iplen, err := r.ReadByte()
		if err != nil {
			return nil, errors.Wrap(ErrShortFrame, "neighbor ip length")
		}
		if iplen != 4 && iplen != 16 {
			return nil, errors.Errorf("wire: invalid neighbor ip length %d", iplen)
		}
		ip := make([]byte, iplen)
		if _, err := io.ReadFull(r, ip); err != nil {
			return nil, errors.Wrap(ErrShortFrame, "neighbor ip")
		}

		var portBuf [2]byte
		if _, err := io.ReadFull(r, portBuf[:]); err != nil {
			return nil, errors.Wrap(ErrShortFrame, "neighbor port")
		}

		var e NeighborEntry
		e.IP = net.IP(ip)
		e.Port = binary.BigEndian.Uint16(portBuf[:])
		if _, err := io.ReadFull(r, e.ID[:]); err != nil {
			return nil, errors.Wrap(ErrShortFrame, "neighbor id")
		}
		entries = append(entries, e)
	}
	return entries, nil
}
