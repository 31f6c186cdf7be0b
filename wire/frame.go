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

// Package wire implements the DHT's length-prefixed binary RPC frame: the
// encode/decode half of p2p/discover's UDP packet format (packet.go's
// implicit header + fields, grounded on readPacket/Packet.Encode's shape in
// the teacher), generalized from devp2p's four fixed packet kinds to one
// frame carrying an arbitrary varint command.
package wire

// IDSize is the length in bytes of an ID/token/target field on the wire.
const IDSize = 32

// Version is the only wire version this codec emits or accepts.
const Version = 1

// Flag bits packed into Frame.Flags.
const (
	FlagReply  = 1 << 0 // frame is a reply, not a request
	FlagFromID = 1 << 1 // FromID is present
	FlagToID   = 1 << 2 // ToID is present
	FlagToken  = 1 << 3 // Token is present
	FlagTarget = 1 << 4 // Target is present
)

// Reserved commands, per spec.md §6. Application commands must start above
// CommandReservedMax.
const (
	CommandPing        = 0
	CommandPingNAT     = 1
	CommandFindNode    = 2
	CommandDownHint    = 3
	CommandReservedMax = 15
)

// Reserved status codes, per spec.md §6.
const (
	StatusOK             = 0
	StatusUnknownCommand = 1
	StatusInvalidToken   = 2

	StatusApplicationMin = 16
)

// Frame is one decoded RPC wire frame.
type Frame struct {
	Version uint8
	Flags   uint8
	TID     uint16

	FromID [IDSize]byte
	ToID   [IDSize]byte
	Token  [IDSize]byte
	Target [IDSize]byte

	Command uint64
	Status  uint8
	Value   []byte
}

// IsReply reports whether the frame is a reply rather than a request.
func (f *Frame) IsReply() bool { return f.Flags&FlagReply != 0 }

// HasFromID reports whether FromID is meaningful.
func (f *Frame) HasFromID() bool { return f.Flags&FlagFromID != 0 }

// HasToID reports whether ToID is meaningful.
func (f *Frame) HasToID() bool { return f.Flags&FlagToID != 0 }

// HasToken reports whether Token is meaningful.
func (f *Frame) HasToken() bool { return f.Flags&FlagToken != 0 }

// HasTarget reports whether Target is meaningful.
func (f *Frame) HasTarget() bool { return f.Flags&FlagTarget != 0 }

// SetReply marks the frame as a reply.
func (f *Frame) SetReply(v bool) {
	if v {
		f.Flags |= FlagReply
	} else {
		f.Flags &^= FlagReply
	}
}

// SetFromID attaches a from_id field.
func (f *Frame) SetFromID(id [IDSize]byte) {
	f.FromID = id
	f.Flags |= FlagFromID
}

// SetToID attaches a to_id field.
func (f *Frame) SetToID(id [IDSize]byte) {
	f.ToID = id
	f.Flags |= FlagToID
}

// SetToken attaches a token field.
func (f *Frame) SetToken(tok [IDSize]byte) {
	f.Token = tok
	f.Flags |= FlagToken
}

// SetTarget attaches a target field.
func (f *Frame) SetTarget(id [IDSize]byte) {
	f.Target = id
	f.Flags |= FlagTarget
}
