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

package natfsm

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rootkad/dht/kbucket"
)

func shortOptions() Options {
	return Options{
		WindowSize:     DefaultWindowSize,
		Agreement:      3,
		AdaptPeriod:    0, // zero falls back to DefaultAdaptPeriod; see newTestFSM
		Heartbeat:      20 * time.Millisecond,
		SleepThreshold: 15 * time.Millisecond,
	}
}

// AdaptPeriod of zero still passes Options.setDefaults' <= 0 check and gets
// replaced with DefaultAdaptPeriod, so tests that need promotion without
// waiting 20 minutes construct the FSM directly and backdate its start.
func newTestFSM(opts Options) *FSM {
	f := New(opts)
	f.start = time.Now().Add(-DefaultAdaptPeriod - time.Second)
	return f
}

func TestObserveReportedEndpointRequiresAgreement(t *testing.T) {
	f := newTestFSM(shortOptions())

	for i := 0; i < 2; i++ {
		f.ObserveReportedEndpoint(net.IPv4(1, 2, 3, 4), 9000)
	}
	ip, port := f.PublicEndpoint()
	assert.Nil(t, ip)
	assert.Zero(t, port)
	assert.Equal(t, Ephemeral, f.Mode())

	f.ObserveReportedEndpoint(net.IPv4(1, 2, 3, 4), 9000)
	ip, port = f.PublicEndpoint()
	assert.True(t, net.IPv4(1, 2, 3, 4).Equal(ip))
	assert.EqualValues(t, 9000, port)
}

func TestPromotesToPersistentOnceReachableAndStable(t *testing.T) {
	f := newTestFSM(shortOptions())
	f.ObserveUnsolicitedRequest() // clears the default firewalled=true seed

	for i := 0; i < 3; i++ {
		f.ObserveReportedEndpoint(net.IPv4(5, 6, 7, 8), 4000)
	}

	require.Equal(t, Persistent, f.Mode())
	id, ok := f.LocalID()
	require.True(t, ok)
	assert.Equal(t, kbucket.HashID(net.IPv4(5, 6, 7, 8), 4000), id)
}

func TestStaysEphemeralWhileFirewalled(t *testing.T) {
	f := newTestFSM(shortOptions())
	// firewalled seeds true by default (SeedNotFirewalled unset) and no
	// unsolicited request has been observed to clear it.
	for i := 0; i < 3; i++ {
		f.ObserveReportedEndpoint(net.IPv4(5, 6, 7, 8), 4000)
	}
	assert.Equal(t, Ephemeral, f.Mode())
}

func TestForceEphemeralNeverPromotes(t *testing.T) {
	opts := shortOptions()
	opts.ForceEphemeral = true
	f := newTestFSM(opts)
	f.ObserveUnsolicitedRequest()

	for i := 0; i < 5; i++ {
		f.ObserveReportedEndpoint(net.IPv4(5, 6, 7, 8), 4000)
	}
	assert.Equal(t, Ephemeral, f.Mode())
}

func TestDowngradesOnEndpointChange(t *testing.T) {
	f := newTestFSM(shortOptions())
	f.ObserveUnsolicitedRequest()
	for i := 0; i < 3; i++ {
		f.ObserveReportedEndpoint(net.IPv4(5, 6, 7, 8), 4000)
	}
	require.Equal(t, Persistent, f.Mode())

	// Four new reports outvote the three old ones still in the window.
	for i := 0; i < 4; i++ {
		f.ObserveReportedEndpoint(net.IPv4(9, 9, 9, 9), 4001)
	}
	assert.Equal(t, Ephemeral, f.Mode())
	_, ok := f.LocalID()
	assert.False(t, ok)
}

func TestHandleWakeDowngradesAndFiresHook(t *testing.T) {
	f := newTestFSM(shortOptions())
	f.ObserveUnsolicitedRequest()
	for i := 0; i < 3; i++ {
		f.ObserveReportedEndpoint(net.IPv4(5, 6, 7, 8), 4000)
	}
	require.Equal(t, Persistent, f.Mode())

	woke := make(chan struct{}, 1)
	f.opts.OnWake = func() { woke <- struct{}{} }

	// handleWake is what heartbeatLoop calls once it observes a tick delta
	// exceeding Heartbeat+SleepThreshold; invoked directly here since
	// driving the real ticker across a simulated sleep gap isn't something
	// a deterministic test can do without a fake clock.
	f.handleWake()

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("expected OnWake hook to fire")
	}
	assert.Equal(t, Ephemeral, f.Mode())
	_, ok := f.LocalID()
	assert.False(t, ok)
}

func TestObserveActiveProbeSuccessClearsFirewalledAndFeedsHistogram(t *testing.T) {
	f := newTestFSM(shortOptions())
	assert.True(t, f.Firewalled())

	for i := 0; i < 3; i++ {
		f.ObserveActiveProbeSuccess(net.IPv4(11, 12, 13, 14), 5000)
	}
	assert.False(t, f.Firewalled())
	assert.Equal(t, Persistent, f.Mode())
}
