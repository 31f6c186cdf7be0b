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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fill32(b byte) [IDSize]byte {
	var a [IDSize]byte
	for i := range a {
		a[i] = b
	}
	return a
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []*Frame{
		{TID: 1, Command: CommandPing, Status: StatusOK},
		{TID: 2, Command: CommandFindNode, Status: StatusOK, Value: []byte("hello")},
	}

	withFromID := &Frame{TID: 3, Command: CommandFindNode}
	withFromID.SetFromID(fill32(0xaa))
	cases = append(cases, withFromID)

	full := &Frame{TID: 4, Command: 42, Status: StatusApplicationMin, Value: []byte("payload")}
	full.SetReply(true)
	full.SetFromID(fill32(0x11))
	full.SetToID(fill32(0x22))
	full.SetToken(fill32(0x33))
	full.SetTarget(fill32(0x44))
	cases = append(cases, full)

	for _, want := range cases {
		raw, err := Encode(want)
		require.NoError(t, err)

		got, err := Decode(raw)
		require.NoError(t, err)

		assert.Equal(t, want.Version, uint8(0), "Version is unset on the input and filled in on decode")
		assert.Equal(t, Version, got.Version)
		assert.Equal(t, want.Flags, got.Flags)
		assert.Equal(t, want.TID, got.TID)
		assert.Equal(t, want.Command, got.Command)
		assert.Equal(t, want.Status, got.Status)
		assert.True(t, bytes.Equal(want.Value, got.Value))
		if want.HasFromID() {
			assert.Equal(t, want.FromID, got.FromID)
		}
		if want.HasToID() {
			assert.Equal(t, want.ToID, got.ToID)
		}
		if want.HasToken() {
			assert.Equal(t, want.Token, got.Token)
		}
		if want.HasTarget() {
			assert.Equal(t, want.Target, got.Target)
		}
	}
}

func TestDecodeRejectsShortFrame(t *testing.T) {
	f := &Frame{TID: 1, Command: CommandPing}
	f.SetFromID(fill32(0x01))
	raw, err := Encode(f)
	require.NoError(t, err)

	truncated := raw[:len(raw)-10]
	_, err = Decode(truncated)
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	raw := []byte{2, 0, 0, 0, byte(CommandPing), StatusOK, 0}
	_, err := Decode(raw)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecodeEmptyInput(t *testing.T) {
	_, err := Decode(nil)
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestFlagsPredicatesDefaultFalse(t *testing.T) {
	f := &Frame{}
	assert.False(t, f.IsReply())
	assert.False(t, f.HasFromID())
	assert.False(t, f.HasToID())
	assert.False(t, f.HasToken())
	assert.False(t, f.HasTarget())
}
