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

	"github.com/pkg/errors"
)

// ErrShortFrame is returned when a frame is shorter than its own declared
// flag set requires, per spec.md §4.1's "rejects frames shorter than the
// declared field set" rule.
var ErrShortFrame = errors.New("wire: frame shorter than declared field set")

// ErrUnsupportedVersion is returned by Decode for any version other than
// Version. Per spec.md §4.1 an unknown version is dropped silently by
// callers; Decode itself still reports it so the caller can choose to log
// or simply discard.
var ErrUnsupportedVersion = errors.New("wire: unsupported frame version")

// maxValueLen bounds a single frame's value payload to guard against a
// corrupt or hostile length prefix forcing an enormous allocation.
const maxValueLen = 64 * 1024

// Encode serializes f into its wire representation.
func Encode(f *Frame) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(Version)
	buf.WriteByte(f.Flags)

	var tidBuf [2]byte
	binary.BigEndian.PutUint16(tidBuf[:], f.TID)
	buf.Write(tidBuf[:])

	if f.HasFromID() {
		buf.Write(f.FromID[:])
	}
	if f.HasToID() {
		buf.Write(f.ToID[:])
	}
	if f.HasToken() {
		buf.Write(f.Token[:])
	}
	if f.HasTarget() {
		buf.Write(f.Target[:])
	}

	var varintBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(varintBuf[:], f.Command)
	buf.Write(varintBuf[:n])

	buf.WriteByte(f.Status)

	n = binary.PutUvarint(varintBuf[:], uint64(len(f.Value)))
	buf.Write(varintBuf[:n])
	buf.Write(f.Value)

	return buf.Bytes(), nil
}

// Decode parses a wire frame from raw. It rejects truncated frames with
// ErrShortFrame and unknown versions with ErrUnsupportedVersion.
//
// Once the tid field has been read, decode failures return the partial
// frame alongside the error instead of nil: a frame that decodes far
// enough to expose its tid but fails validation afterward still needs to
// reach the pending request it was matched to, so the caller can fail
// that request with ErrInvalidReply instead of dropping it silently.
// Failures before the tid is read (no frame to attribute the error to)
// still return nil.
func Decode(raw []byte) (*Frame, error) {
	r := bytes.NewReader(raw)

	version, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(ErrShortFrame, "version")
	}
	if version != Version {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "got %d", version)
	}

	f := &Frame{Version: version}

	f.Flags, err = r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(ErrShortFrame, "flags")
	}

	var tidBuf [2]byte
	if _, err := io.ReadFull(r, tidBuf[:]); err != nil {
		return nil, errors.Wrap(ErrShortFrame, "tid")
	}
	f.TID = binary.BigEndian.Uint16(tidBuf[:])

	if f.HasFromID() {
		if _, err := io.ReadFull(r, f.FromID[:]); err != nil {
			return f, errors.Wrap(ErrShortFrame, "from_id")
		}
	}
	if f.HasToID() {
		if _, err := io.ReadFull(r, f.ToID[:]); err != nil {
			return f, errors.Wrap(ErrShortFrame, "to_id")
		}
	}
	if f.HasToken() {
		if _, err := io.ReadFull(r, f.Token[:]); err != nil {
			return f, errors.Wrap(ErrShortFrame, "token")
		}
	}
	if f.HasTarget() {
		if _, err := io.ReadFull(r, f.Target[:]); err != nil {
			return f, errors.Wrap(ErrShortFrame, "target")
		}
	}

	command, err := binary.ReadUvarint(r)
	if err != nil {
		return f, errors.Wrap(ErrShortFrame, "command")
	}
	f.Command = command

	f.Status, err = r.ReadByte()
	if err != nil {
		return f, errors.Wrap(ErrShortFrame, "status")
	}

	valueLen, err := binary.ReadUvarint(r)
	if err != nil {
		return f, errors.Wrap(ErrShortFrame, "value length")
	}
	if valueLen > maxValueLen {
		return f, errors.Errorf("wire: value length %d exceeds max %d", valueLen, maxValueLen)
	}
	if valueLen > 0 {
		f.Value = make([]byte, valueLen)
		if _, err := io.ReadFull(r, f.Value); err != nil {
			return f, errors.Wrap(ErrShortFrame, "value")
		}
	}

	return f, nil
}
