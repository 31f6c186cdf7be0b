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
	"encoding/binary"
	"net"

	"github.com/pkg/errors"
)

// EncodeEndpoint serializes an (ip, port) pair for use as a PING_NAT
// reply's Value: the responder's view of the requester's public address,
// which feeds the identity/NAT FSM's endpoint histogram (spec.md §4.7).
// Shares NeighborEntry's ip-length-prefix convention minus the ID field,
// since an endpoint observation carries no peer identity.
func EncodeEndpoint(ip net.IP, port uint16) []byte {
	ip4 := ip.To4()
	out := make([]byte, 0, 19)
	if ip4 != nil {
		out = append(out, 4)
		out = append(out, ip4...)
	} else {
		out = append(out, 16)
		out = append(out, ip.To16()...)
	}
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], port)
	return append(out, portBuf[:]...)
}

// DecodeEndpoint parses a PING_NAT reply's Value produced by
// EncodeEndpoint.
func DecodeEndpoint(raw []byte) (net.IP, uint16, error) {
	if len(raw) < 1 {
		return nil, 0, errors.Wrap(ErrShortFrame, "endpoint ip length")
	}
	iplen := raw[0]
	if iplen != 4 && iplen != 16 {
		return nil, 0, errors.Errorf("wire: invalid endpoint ip length %d", iplen)
	}
	if len(raw) < 1+int(iplen)+2 {
		return nil, 0, errors.Wrap(ErrShortFrame, "endpoint body")
	}
	ip := net.IP(raw[1 : 1+iplen])
	port := binary.BigEndian.Uint16(raw[1+int(iplen):])
	return ip, port, nil
}
