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

package dht

import (
	"net"

	"github.com/rootkad/dht/rpcio"
	"github.com/rootkad/dht/wire"
)

// Request is the application-facing view of an inbound RPC, per spec.md
// §6's `req` shape: `{target, command, value, token, from, reply(value),
// error(code)}`.
type Request struct {
	Target  [32]byte
	Command uint64
	Value   []byte
	Token   bool
	From    net.Addr

	inner *rpcio.Request
}

// Reply sends a successful (status OK) reply carrying value.
func (r *Request) Reply(value []byte) error {
	return r.inner.Reply(value, wire.StatusOK)
}

// Error sends a reply carrying an application-defined non-OK status code.
// code must be >= wire.StatusApplicationMin; reserved codes below that are
// clamped to StatusUnknownCommand to avoid an application accidentally
// forging a reserved wire status.
func (r *Request) Error(code uint8) error {
	if code < wire.StatusApplicationMin {
		code = wire.StatusUnknownCommand
	}
	return r.inner.Reply(nil, code)
}
