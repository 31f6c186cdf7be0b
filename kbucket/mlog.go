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

import "github.com/rootkad/dht/logger"

// mlog lines for routing-table membership changes, adapted from the
// teacher's p2p/mlog.go mlogServerPeerAdded/mlogServerPeerRemove templates
// to the table's own add/evict events instead of the Server's connection
// lifecycle.
var (
	mlogPeerAdded = logger.MLogT{
		Description: "Emitted when a peer is inserted into the routing table.",
		Receiver:    "TABLE",
		Verb:        "ADD",
		Subject:     "PEER",
		Details: []logger.MLogDetailT{
			{Owner: "PEER", Key: "REMOTE_ADDR"},
			{Owner: "PEER", Key: "REMOTE_PORT"},
			{Owner: "PEER", Key: "ID"},
		},
	}

	mlogPeerRemoved = logger.MLogT{
		Description: "Emitted when a peer is evicted from the routing table.",
		Receiver:    "TABLE",
		Verb:        "REMOVE",
		Subject:     "PEER",
		Details: []logger.MLogDetailT{
			{Owner: "PEER", Key: "REMOTE_ADDR"},
			{Owner: "PEER", Key: "REMOTE_PORT"},
			{Owner: "PEER", Key: "ID"},
		},
	}
)

var mlogComponentName = logger.MLogRegisterAvailable("table", []logger.MLogT{
	mlogPeerAdded,
	mlogPeerRemoved,
})
