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

package token

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestManager(t *testing.T) *Manager {
	m := NewManager(time.Hour) // rotation irrelevant to these tests
	t.Cleanup(m.Close)
	return m
}

func TestDeriveVerifyRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ip := net.ParseIP("203.0.113.7")
	tok := m.Derive(ip, 30303)
	assert.True(t, m.Verify(tok, ip, 30303))
}

func TestVerifyRejectsWrongEndpoint(t *testing.T) {
	m := newTestManager(t)
	ip := net.ParseIP("203.0.113.7")
	tok := m.Derive(ip, 30303)

	assert.False(t, m.Verify(tok, net.ParseIP("203.0.113.8"), 30303))
	assert.False(t, m.Verify(tok, ip, 30304))
}

func TestVerifyAcceptsPreviousSecretAfterRotation(t *testing.T) {
	m := newTestManager(t)
	ip := net.ParseIP("198.51.100.1")
	tok := m.Derive(ip, 1)

	m.Rotate()
	assert.True(t, m.Verify(tok, ip, 1), "token derived under S_now must still verify after one rotation (now S_prev)")

	m.Rotate()
	assert.False(t, m.Verify(tok, ip, 1), "token must not verify after two rotations (secret fully retired)")
}

func TestDeriveChangesAfterRotation(t *testing.T) {
	m := newTestManager(t)
	ip := net.ParseIP("198.51.100.1")
	before := m.Derive(ip, 1)
	m.Rotate()
	after := m.Derive(ip, 1)
	assert.NotEqual(t, before, after)
}
