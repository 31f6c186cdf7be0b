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

import "github.com/rootkad/dht/logger"

// mlogFrameHandleFrom generalizes the teacher's per-command handle-from
// lines (mlogPingHandleFrom, mlogFindNodeHandleFrom, ... in
// p2p/discover/mlog.go) into one line parametrized by command, since this
// transport dispatches an open set of application commands rather than
// four fixed devp2p packet kinds.
var mlogFrameHandleFrom = logger.MLogT{
	Description: "Emitted for each inbound frame not matched to a pending request.",
	Receiver:    "FRAME",
	Verb:        "HANDLE",
	Subject:     "FROM",
	Details: []logger.MLogDetailT{
		{Owner: "FROM", Key: "UDP_ADDRESS"},
		{Owner: "FRAME", Key: "COMMAND"},
		{Owner: "FRAME", Key: "IS_REPLY"},
	},
}

var _ = logger.MLogRegisterAvailable("rpcio", []logger.MLogT{mlogFrameHandleFrom})
