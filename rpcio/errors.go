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

import "github.com/pkg/errors"

// Error kinds from spec.md §7, declared as sentinel values per the
// teacher's c6ai-hlf-easy/node/peer.go pattern of wrapping
// github.com/pkg/errors sentinels with call-site context.
var (
	ErrTimeout      = errors.New("rpcio: request timed out")
	ErrDestroyed    = errors.New("rpcio: transport destroyed")
	ErrOverflow     = errors.New("rpcio: too many pending requests")
	ErrInvalidReply = errors.New("rpcio: malformed frame matched to pending tid")
	ErrSocketError  = errors.New("rpcio: socket error")
)
