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

// Package token implements the round-trip token manager described in
// spec.md §4.2: an HMAC over the sender's observed endpoint, rotated on a
// timer so tokens expire between T_secret and 2*T_secret after issuance.
// Grounded on the teacher's use of keyed hashing for endpoint-bound proofs
// (p2p/discover's handshake tokens) generalized to an explicit two-secret
// rotation instead of a single long-lived key.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"net"
	"sync"
	"time"

	sha256simd "github.com/minio/sha256-simd"
)

// Size is the length in bytes of a derived token.
const Size = 32

// DefaultRotation is T_secret from spec.md §4.2.
const DefaultRotation = 5 * time.Minute

// secretSize is the width of each HMAC key.
const secretSize = 32

// Manager holds the current and previous secrets and rotates them on a
// timer. Secrets are per-Manager, never package-global, per spec.md §9's
// "Global state" design note.
type Manager struct {
	mu   sync.RWMutex
	now  [secretSize]byte
	prev [secretSize]byte

	rotation time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// NewManager creates a Manager with freshly-drawn secrets and starts its
// rotation timer at the given interval (DefaultRotation if zero).
func NewManager(rotation time.Duration) *Manager {
	if rotation <= 0 {
		rotation = DefaultRotation
	}
	m := &Manager{rotation: rotation, stop: make(chan struct{})}
	mustRandom(m.now[:])
	mustRandom(m.prev[:])
	go m.rotateLoop()
	return m
}

func mustRandom(b []byte) {
	if _, err := rand.Read(b); err != nil {
		panic("token: failed to read random secret: " + err.Error())
	}
}

func (m *Manager) rotateLoop() {
	t := time.NewTicker(m.rotation)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.Rotate()
		case <-m.stop:
			return
		}
	}
}

// Rotate shifts S_now into S_prev and draws a fresh S_now. Exposed for
// tests that want deterministic control over rotation timing.
func (m *Manager) Rotate() {
	var fresh [secretSize]byte
	mustRandom(fresh[:])

	m.mu.Lock()
	m.prev = m.now
	m.now = fresh
	m.mu.Unlock()
}

// Close stops the rotation timer. Safe to call more than once.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Derive computes derive(ip, port) against the current secret.
func (m *Manager) Derive(ip net.IP, port uint16) [Size]byte {
	m.mu.RLock()
	secret := m.now
	m.mu.RUnlock()
	return mac(secret, ip, port)
}

// Verify reports whether tok matches either the current or previous
// secret for (ip, port), per spec.md §4.2's verify definition.
func (m *Manager) Verify(tok [Size]byte, ip net.IP, port uint16) bool {
	m.mu.RLock()
	now, prev := m.now, m.prev
	m.mu.RUnlock()

	return hmac.Equal(tok[:], mac(now, ip, port)[:]) ||
		hmac.Equal(tok[:], mac(prev, ip, port)[:])
}

func mac(secret [secretSize]byte, ip net.IP, port uint16) [Size]byte {
	h := hmac.New(sha256simd.New, secret[:])
	if v4 := ip.To4(); v4 != nil {
		h.Write(v4)
	} else {
		h.Write(ip.To16())
	}
	h.Write([]byte{byte(port >> 8), byte(port)})
	var out [Size]byte
	copy(out[:], h.Sum(nil))
	return out
}
