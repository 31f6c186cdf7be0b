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

// Package natfsm implements spec.md §4.7's identity / NAT finite state
// machine: Ephemeral <-> Persistent transitions driven by a sliding-window
// histogram of peer-reported public endpoints, firewall evidence, and
// sleep detection. Grounded on the teacher's own identity bookkeeping
// pattern (Self-state fields tracked alongside p2p.Server, and the
// heartbeat/ticker idiom used throughout p2p/discover for periodic
// maintenance), generalized into an explicit, testable state machine.
package natfsm

import (
	"net"
	"sync"
	"time"

	"github.com/rootkad/dht/kbucket"
	"github.com/rootkad/dht/logger"
	"github.com/rootkad/dht/metrics"
)

// Mode is the node's current identity mode, per spec.md §3's Self-state.
type Mode int

const (
	Ephemeral Mode = iota
	Persistent
)

func (m Mode) String() string {
	if m == Persistent {
		return "persistent"
	}
	return "ephemeral"
}

// Defaults from spec.md §4.7.
const (
	DefaultWindowSize     = 10
	DefaultAgreement      = 3
	DefaultAdaptPeriod    = 20 * time.Minute
	DefaultHeartbeat      = 5 * time.Second
	DefaultSleepThreshold = 2 * time.Second
)

type endpointReport struct {
	ip   string
	port uint16
}

// Hooks are invoked on state transitions so the owning dht.Node can wire
// FSM transitions to its routing table and RPC layer (e.g. dropping the
// table on downgrade), mirroring kbucket.Table's onAdded/onRemoved injection style.
type Hooks struct {
	OnPersistent func(localID kbucket.ID, ip net.IP, port uint16)
	OnEphemeral  func()
	OnWake       func()
}

// Options configures an FSM instance.
type Options struct {
	Hooks

	// ForceEphemeral, if true, never transitions to Persistent regardless
	// of observed reachability (spec.md §6's `ephemeral: true` option).
	ForceEphemeral bool
	// SeedNotFirewalled seeds the initial firewalled belief as false, for
	// a caller that already knows it is reachable (e.g. a bootstrapper
	// forced with firewalled:false). Evidence only ever clears firewalled;
	// nothing sets it back to true once it is false.
	SeedNotFirewalled bool

	WindowSize     int
	Agreement      int
	AdaptPeriod    time.Duration
	Heartbeat      time.Duration
	SleepThreshold time.Duration
}

func (o *Options) setDefaults() {
	if o.WindowSize <= 0 {
		o.WindowSize = DefaultWindowSize
	}
	if o.Agreement <= 0 {
		o.Agreement = DefaultAgreement
	}
	if o.AdaptPeriod <= 0 {
		o.AdaptPeriod = DefaultAdaptPeriod
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = DefaultHeartbeat
	}
	if o.SleepThreshold <= 0 {
		o.SleepThreshold = DefaultSleepThreshold
	}
}

// FSM is the identity/NAT state machine. One per dht.Node; its state is
// never process-global, per spec.md §9.
type FSM struct {
	opts Options

	mu         sync.Mutex
	mode       Mode
	publicIP   net.IP
	publicPort uint16
	firewalled bool
	localID    kbucket.ID
	hasID      bool

	window []endpointReport
	start  time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates an FSM in Ephemeral mode.
func New(opts Options) *FSM {
	opts.setDefaults()
	return &FSM{
		opts:       opts,
		mode:       Ephemeral,
		firewalled: !opts.SeedNotFirewalled,
		start:      time.Now(),
		stop:       make(chan struct{}),
	}
}

// Run starts the heartbeat/sleep-detection loop. Call once.
func (f *FSM) Run() {
	go f.heartbeatLoop()
}

// Close stops the heartbeat loop.
func (f *FSM) Close() {
	f.stopOnce.Do(func() { close(f.stop) })
}

// Mode reports the current mode.
func (f *FSM) Mode() Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

// Firewalled reports the current firewall belief.
func (f *FSM) Firewalled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.firewalled
}

// PublicEndpoint returns the currently believed public endpoint, which may
// be unset (nil IP, port 0) before enough reports agree.
func (f *FSM) PublicEndpoint() (net.IP, uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.publicIP, f.publicPort
}

// LocalID returns the node's stable ID, if it has adopted one.
func (f *FSM) LocalID() (kbucket.ID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.localID, f.hasID
}

// ObserveReportedEndpoint folds a peer's view of our public endpoint into
// the sliding window and re-evaluates the modal IP/port, per spec.md
// §4.7's "External-endpoint inference".
func (f *FSM) ObserveReportedEndpoint(ip net.IP, port uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.window = append(f.window, endpointReport{ip: ip.String(), port: port})
	if len(f.window) > f.opts.WindowSize {
		f.window = f.window[len(f.window)-f.opts.WindowSize:]
	}

	modalIP, ipAgree := f.modalString(func(r endpointReport) string { return r.ip })
	if ipAgree >= f.opts.Agreement {
		f.publicIP = net.ParseIP(modalIP)
	}

	modalPort, portAgree := f.modalUint16()
	if portAgree >= f.opts.Agreement {
		downgraded := f.checkEndpointChange(f.publicIP, modalPort)
		f.publicPort = modalPort
		if downgraded {
			// The downgrade restarted the window; promotion waits for
			// fresh agreement.
			return
		}
	} else {
		f.publicPort = 0
	}

	f.maybePromote()
}

// checkEndpointChange triggers a downgrade if the modal endpoint no longer
// matches the one baked into localID, per spec.md §4.7's Persistent ->
// Ephemeral trigger (b), and reports whether it did. Caller must hold f.mu.
func (f *FSM) checkEndpointChange(ip net.IP, port uint16) bool {
	if f.mode != Persistent || !f.hasID {
		return false
	}
	if ip == nil {
		return false
	}
	if kbucket.HashID(ip, port) != f.localID {
		f.downgradeLocked()
		return true
	}
	return false
}

// ObserveUnsolicitedRequest records an inbound request from a peer we did
// not recently contact as proof of reachability, per spec.md §4.7's
// firewall inference.
func (f *FSM) ObserveUnsolicitedRequest() {
	f.mu.Lock()
	wasFirewalled := f.firewalled
	f.firewalled = false
	f.mu.Unlock()
	if wasFirewalled {
		f.mu.Lock()
		f.maybePromote()
		f.mu.Unlock()
	}
}

// ObserveActiveProbeSuccess folds a successful active NAT-PMP/UPnP probe
// result into the same histogram as peer-reported endpoints and clears
// firewalled, per SPEC_FULL.md §8's supplemented active probing — this
// adds a voter, it does not bypass the K_agree/stability rule.
func (f *FSM) ObserveActiveProbeSuccess(ip net.IP, port uint16) {
	f.mu.Lock()
	f.firewalled = false
	f.mu.Unlock()
	f.ObserveReportedEndpoint(ip, port)
	metrics.NATProbeSuccess.Mark(1)
}

// ObserveActiveProbeFailure records a failed active probe attempt. It does
// not by itself mark the node firewalled (absence of evidence is not
// evidence of absence), only feeds metrics.
func (f *FSM) ObserveActiveProbeFailure() {
	metrics.NATProbeFailures.Mark(1)
}

func (f *FSM) modalString(key func(endpointReport) string) (string, int) {
	counts := make(map[string]int, len(f.window))
	for _, r := range f.window {
		counts[key(r)]++
	}
	var best string
	var bestN int
	for k, n := range counts {
		if n > bestN {
			best, bestN = k, n
		}
	}
	return best, bestN
}

func (f *FSM) modalUint16() (uint16, int) {
	counts := make(map[uint16]int, len(f.window))
	for _, r := range f.window {
		counts[r.port]++
	}
	var best uint16
	var bestN int
	for k, n := range counts {
		if n > bestN {
			best, bestN = k, n
		}
	}
	return best, bestN
}

// maybePromote transitions Ephemeral -> Persistent once every condition in
// spec.md §4.7 holds. Caller must hold f.mu.
func (f *FSM) maybePromote() {
	if f.mode != Ephemeral || f.opts.ForceEphemeral {
		return
	}
	if f.publicIP == nil || f.publicPort == 0 {
		return
	}
	if f.firewalled {
		return
	}
	if time.Since(f.start) < f.opts.AdaptPeriod {
		return
	}

	f.localID = kbucket.HashID(f.publicIP, f.publicPort)
	f.hasID = true
	f.mode = Persistent
	metrics.NATTransitions.Mark(1)

	ip, port, id := f.publicIP, f.publicPort, f.localID
	if f.opts.OnPersistent != nil {
		go f.opts.OnPersistent(id, ip, port)
	}
	logger.V(logger.Info).Infof("natfsm: transition to persistent, id=%s addr=%s:%d", id.String(), ip, port)
}

func (f *FSM) downgradeLocked() {
	if f.mode != Persistent {
		return
	}
	f.mode = Ephemeral
	f.hasID = false
	f.localID = kbucket.ID{}
	f.window = nil
	metrics.NATTransitions.Mark(1)

	if f.opts.OnEphemeral != nil {
		go f.opts.OnEphemeral()
	}
	logger.V(logger.Info).Infof("natfsm: transition to ephemeral")
}

// heartbeatLoop fires at a fixed wall-clock interval and downgrades the
// node if the observed delta since the last fire exceeds interval plus
// SleepThreshold, per spec.md §4.7's sleep detection.
func (f *FSM) heartbeatLoop() {
	t := time.NewTicker(f.opts.Heartbeat)
	defer t.Stop()
	last := time.Now()
	for {
		select {
		case now := <-t.C:
			delta := now.Sub(last)
			last = now
			if delta > f.opts.Heartbeat+f.opts.SleepThreshold {
				f.handleWake()
			}
		case <-f.stop:
			return
		}
	}
}

func (f *FSM) handleWake() {
	f.mu.Lock()
	f.downgradeLocked()
	f.mu.Unlock()

	if f.opts.OnWake != nil {
		go f.opts.OnWake()
	}
	logger.V(logger.Warn).Infof("natfsm: wake-up detected, downgraded to ephemeral")
}
