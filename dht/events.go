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

import "net"

// EventType names one of the lifecycle events from spec.md §6. The
// `request(req)` event is delivered separately, via the RequestHandler
// installed with WithRequestHandler, rather than through this channel —
// it carries a reply()/error() closure bound to one in-flight frame,
// which doesn't fit a value broadcast to every listener.
type EventType string

const (
	EventReady      EventType = "ready"
	EventListening  EventType = "listening"
	EventBootstrap  EventType = "bootstrap"
	EventPersistent EventType = "persistent"
	EventWakeUp     EventType = "wake-up"
)

// Event is one lifecycle notification. Addr is populated for Listening
// (the bound local socket) and Persistent (the adopted public endpoint).
type Event struct {
	Type EventType
	Addr net.Addr
}

// eventBacklog bounds how many unconsumed events Node buffers; once the
// buffer is full, each new notification is dropped rather than blocking a
// request-handling goroutine on a slow listener.
const eventBacklog = 64
