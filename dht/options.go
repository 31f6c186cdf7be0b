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

import (
	"net"
	"time"

	"github.com/rootkad/dht/seeddb"
)

// Endpoint is a bootstrap or seed address, per spec.md §6's
// `{host, port}` construct shape.
type Endpoint struct {
	Host string
	Port uint16
}

func (e Endpoint) udpAddr() (*net.UDPAddr, error) {
	ip := net.ParseIP(e.Host)
	if ip == nil {
		resolved, err := net.ResolveIPAddr("ip", e.Host)
		if err != nil {
			return nil, err
		}
		ip = resolved.IP
	}
	return &net.UDPAddr{IP: ip, Port: int(e.Port)}, nil
}

// Options configures a Node, built with the functional-option chain style
// observed in awesome-golang-noise/skademlia/protocol.go's
// WithC1/WithC2/... builders.
type Options struct {
	bootstrap []Endpoint
	socket    net.PacketConn
	bindPort  uint16

	firewalled bool
	ephemeral  bool

	seedDB *seeddb.DB

	handler RequestHandler

	tokenRotation  time.Duration
	alpha          int
	concurrency    int
	requestTimeout time.Duration

	natGateway net.IP

	refreshInterval time.Duration
	staleAge        time.Duration

	adaptPeriod time.Duration
	windowSize  int
	agreement   int
	heartbeat   time.Duration
	sleepThresh time.Duration
}

// Option mutates Options during construction.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		firewalled:      true,
		ephemeral:       false,
		refreshInterval: 60 * time.Second,
		staleAge:        15 * time.Minute,
	}
}

// WithBootstrap sets the initial bootstrap endpoints contacted by ready().
func WithBootstrap(endpoints ...Endpoint) Option {
	return func(o *Options) { o.bootstrap = endpoints }
}

// WithSocket binds the node to an already-open net.PacketConn instead of
// letting it open its own UDP socket on construction.
func WithSocket(conn net.PacketConn) Option {
	return func(o *Options) { o.socket = conn }
}

// WithBindPort chooses the UDP port a freshly-opened socket listens on.
// Ignored if WithSocket is also given. Ephemeral nodes should leave this
// at 0 (random), per spec.md §6's "ephemeral nodes MUST use a random
// port" invariant.
func WithBindPort(port uint16) Option {
	return func(o *Options) { o.bindPort = port }
}

// WithFirewalled seeds the initial firewall belief. Detection remains
// authoritative afterward (spec.md §9's open question).
func WithFirewalled(v bool) Option {
	return func(o *Options) { o.firewalled = v }
}

// WithEphemeral forces the node to stay ephemeral forever, never adopting
// a stable ID regardless of observed reachability.
func WithEphemeral(v bool) Option {
	return func(o *Options) { o.ephemeral = v }
}

// WithSeedDB attaches a persisted bootstrap/seed store (SPEC_FULL.md §8.2).
func WithSeedDB(db *seeddb.DB) Option {
	return func(o *Options) { o.seedDB = db }
}

// RequestHandler handles an inbound application request, per spec.md §6's
// `request(req)` event.
type RequestHandler func(*Request)

// WithRequestHandler installs the application's handler for inbound
// requests carrying commands above wire.CommandReservedMax.
func WithRequestHandler(h RequestHandler) Option {
	return func(o *Options) { o.handler = h }
}

// WithTokenRotation overrides the default token secret rotation period.
func WithTokenRotation(d time.Duration) Option {
	return func(o *Options) { o.tokenRotation = d }
}

// WithAlpha overrides the query engine's parallelism parameter.
func WithAlpha(n int) Option {
	return func(o *Options) { o.alpha = n }
}

// WithConcurrencyLimit overrides the query engine's hard concurrency
// ceiling, independent of alpha (spec.md §4.6).
func WithConcurrencyLimit(n int) Option {
	return func(o *Options) { o.concurrency = n }
}

// WithRequestTimeout overrides T_req, the per-request retry timer.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Options) { o.requestTimeout = d }
}

// WithNATGateway supplies a LAN gateway address for active NAT-PMP
// probing (SPEC_FULL.md §8.1). Without it, only UPnP discovery runs.
func WithNATGateway(ip net.IP) Option {
	return func(o *Options) { o.natGateway = ip }
}

// WithRefreshInterval overrides the routing-table maintenance period
// (spec.md §4.5), default 60s.
func WithRefreshInterval(d time.Duration) Option {
	return func(o *Options) { o.refreshInterval = d }
}

// WithStaleAge overrides T_stale, the age past which a table peer is
// reprobed by maintenance (spec.md §4.5), default 15 minutes.
func WithStaleAge(d time.Duration) Option {
	return func(o *Options) { o.staleAge = d }
}

// WithAdaptPeriod overrides T_adapt, the minimum uptime before the
// identity/NAT FSM will consider promoting to Persistent (spec.md §4.7),
// default 20 minutes. Intended for tests that need promotion to happen
// on a compressed timescale.
func WithAdaptPeriod(d time.Duration) Option {
	return func(o *Options) { o.adaptPeriod = d }
}

// WithEndpointWindow overrides the identity/NAT FSM's endpoint-agreement
// histogram size and the number of agreeing observations required before
// a reported endpoint is adopted, default N=10, K_agree=3.
func WithEndpointWindow(windowSize, agreement int) Option {
	return func(o *Options) { o.windowSize = windowSize; o.agreement = agreement }
}

// WithHeartbeat overrides the identity/NAT FSM's sleep-detection
// heartbeat period and the elapsed-time threshold past which a missed
// heartbeat is treated as a sleep/wake cycle.
func WithHeartbeat(period, sleepThreshold time.Duration) Option {
	return func(o *Options) { o.heartbeat = period; o.sleepThresh = sleepThreshold }
}

