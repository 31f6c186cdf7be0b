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
	"time"

	natpmp "github.com/jackpal/go-nat-pmp"

	"github.com/huin/goupnp"
	"github.com/rootkad/dht/logger"
)

// upnpSearchTarget is the IGD service type goupnp.DiscoverDevices looks
// for; InternetGatewayDevice:1 covers the common consumer-router case.
const upnpSearchTarget = "urn:schemas-upnp-org:device:InternetGatewayDevice:1"

// Prober performs active reachability discovery on startup and then every
// periodicRecheck (it is not re-run when the public endpoint changes),
// supplementing the passive histogram in fsm.go
// with NAT-PMP and UPnP IGD discovery, per SPEC_FULL.md §8.1. This mirrors
// go-ethereum's own p2p/nat package (same project lineage as the teacher;
// jackpal/go-nat-pmp and huin/goupnp are in the teacher's go.mod but
// unused by the files retrieved into this pack).
type Prober struct {
	gateway net.IP
}

// NewProber targets a LAN gateway IP for NAT-PMP queries. If gateway is
// nil, only UPnP discovery is attempted.
func NewProber(gateway net.IP) *Prober {
	return &Prober{gateway: gateway}
}

// Probe attempts NAT-PMP first, then UPnP IGD discovery. On NAT-PMP
// success it returns the external IP/port of the mapping made for
// internalPort; on UPnP success it returns the discovered gateway's own
// address and internalPort, with no port mapping made. It reports ok =
// false if neither method succeeds.
func (p *Prober) Probe(internalPort uint16) (externalIP net.IP, externalPort uint16, ok bool) {
	if p.gateway != nil {
		if ip, port, ok := p.probeNATPMP(internalPort); ok {
			return ip, port, true
		}
	}
	return p.probeUPnP(internalPort)
}

func (p *Prober) probeNATPMP(internalPort uint16) (net.IP, uint16, bool) {
	client := natpmp.NewClient(p.gateway)

	addrResp, err := client.GetExternalAddress()
	if err != nil {
		logger.V(logger.Debug).Infof("natfsm: nat-pmp GetExternalAddress failed: %v", err)
		return nil, 0, false
	}
	ip := net.IPv4(addrResp.ExternalIPAddress[0], addrResp.ExternalIPAddress[1], addrResp.ExternalIPAddress[2], addrResp.ExternalIPAddress[3])

	mapResp, err := client.AddPortMapping("udp", int(internalPort), int(internalPort), 3600)
	if err != nil {
		logger.V(logger.Debug).Infof("natfsm: nat-pmp AddPortMapping failed: %v", err)
		return nil, 0, false
	}
	return ip, mapResp.MappedExternalPort, true
}

// probeUPnP discovers an IGD on the LAN. Full port-mapping via SOAP is a
// per-device generated client (goupnp/dcps/internetgateway{1,2}) outside
// this pack's retrieval; discovery alone is enough to treat the gateway as
// reachability evidence (a voter in the endpoint histogram), not a full
// external-address/port-mapping source the way NAT-PMP is.
func (p *Prober) probeUPnP(internalPort uint16) (net.IP, uint16, bool) {
	devices, err := goupnp.DiscoverDevices(upnpSearchTarget)
	if err != nil {
		logger.V(logger.Debug).Infof("natfsm: upnp discovery failed: %v", err)
		return nil, 0, false
	}
	for _, d := range devices {
		if d.Err != nil || d.Location == nil {
			continue
		}
		host := d.Location.Hostname()
		ip := net.ParseIP(host)
		if ip == nil {
			continue
		}
		return ip, internalPort, true
	}
	return nil, 0, false
}

// RunOnStartup probes once, feeding a successful result into fsm as
// additional histogram evidence. Called from dht.Node's construction
// sequence and by RunPeriodically on each tick.
func RunOnStartup(fsm *FSM, prober *Prober, internalPort uint16) {
	ip, port, ok := prober.Probe(internalPort)
	if !ok {
		fsm.ObserveActiveProbeFailure()
		return
	}
	fsm.ObserveActiveProbeSuccess(ip, port)
}

// periodicRecheck is the interval RunPeriodically re-probes at, chosen to
// be much coarser than the heartbeat since active probing is comparatively
// expensive (a LAN broadcast plus, for NAT-PMP, a round trip to the
// gateway).
const periodicRecheck = 10 * time.Minute

// RunPeriodically re-probes on a timer until stop is closed.
func RunPeriodically(fsm *FSM, prober *Prober, internalPort uint16, stop <-chan struct{}) {
	t := time.NewTicker(periodicRecheck)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			RunOnStartup(fsm, prober, internalPort)
		case <-stop:
			return
		}
	}
}
