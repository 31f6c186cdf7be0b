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

	"github.com/rootkad/dht/metrics"
)

// Socket is the abstract datagram endpoint of spec.md §2 component A: it
// wraps any net.PacketConn with byte/packet counters, adapted from the
// teacher's p2p/metrics.go meteredConn (there wrapping a TCP net.Conn for
// the peer-to-peer protocol; here wrapping the UDP PacketConn the DHT
// layer sends/receives frames over).
type Socket struct {
	conn net.PacketConn
}

// NewSocket wraps conn for use by a Transport.
func NewSocket(conn net.PacketConn) *Socket {
	return &Socket{conn: conn}
}

// LocalAddr returns the socket's bound local address.
func (s *Socket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Send writes a single datagram to addr, recording metrics.
func (s *Socket) Send(addr net.Addr, data []byte) error {
	n, err := s.conn.WriteTo(data, addr)
	if err != nil {
		return err
	}
	metrics.SocketOut.Mark(1)
	metrics.SocketOutBytes.Mark(int64(n))
	return nil
}

// Recv blocks for the next inbound datagram, recording metrics.
func (s *Socket) Recv(buf []byte) (int, net.Addr, error) {
	n, addr, err := s.conn.ReadFrom(buf)
	if err != nil {
		return n, addr, err
	}
	metrics.SocketIn.Mark(1)
	metrics.SocketInBytes.Mark(int64(n))
	return n, addr, nil
}

// Close closes the underlying connection.
func (s *Socket) Close() error {
	return s.conn.Close()
}
