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

// Package distip classifies IP addresses (LAN, special-use, WAN) and
// tracks how many peers from each distinct subnet are known, so that a
// single /24 cannot dominate a k-bucket or a lookup's candidate pool.
package distip

import (
	"bytes"
	"fmt"
	"net"
	"sort"

	"github.com/libp2p/go-cidranger"
	"github.com/pkg/errors"
)

var (
	errInvalid     = errors.New("invalid IP")
	errUnspecified = errors.New("zero address")
	errSpecial     = errors.New("special network")
	errLoopback    = errors.New("loopback address from non-loopback host")
	errLAN         = errors.New("LAN address from WAN host")
)

var lan4, lan6, special4, special6 cidranger.Ranger

func init() {
	lan4 = cidranger.NewPCTrieRanger()
	lan6 = cidranger.NewPCTrieRanger()
	special4 = cidranger.NewPCTrieRanger()
	special6 = cidranger.NewPCTrieRanger()

	// Lists from RFC 5735, RFC 5156,
	// https://www.iana.org/assignments/iana-ipv4-special-registry/
	insert(lan4, "0.0.0.0/8")              // "This" network
	insert(lan4, "10.0.0.0/8")             // Private Use
	insert(lan4, "172.16.0.0/12")          // Private Use
	insert(lan4, "192.168.0.0/16")         // Private Use
	insert(lan6, "fe80::/10")              // Link-Local
	insert(lan6, "fc00::/7")               // Unique-Local
	insert(special4, "192.0.0.0/29")       // IPv4 Service Continuity
	insert(special4, "192.0.0.9/32")       // PCP Anycast
	insert(special4, "192.0.0.170/32")     // NAT64/DNS64 Discovery
	insert(special4, "192.0.0.171/32")     // NAT64/DNS64 Discovery
	insert(special4, "192.0.2.0/24")       // TEST-NET-1
	insert(special4, "192.31.196.0/24")    // AS112
	insert(special4, "192.52.193.0/24")    // AMT
	insert(special4, "192.88.99.0/24")     // 6to4 Relay Anycast
	insert(special4, "192.175.48.0/24")    // AS112
	insert(special4, "198.18.0.0/15")      // Device Benchmark Testing
	insert(special4, "198.51.100.0/24")    // TEST-NET-2
	insert(special4, "203.0.113.0/24")     // TEST-NET-3
	insert(special4, "255.255.255.255/32") // Limited Broadcast

	// http://www.iana.org/assignments/iana-ipv6-special-registry/
	insert(special6, "100::/64")
	insert(special6, "2001::/32")
	insert(special6, "2001:1::1/128")
	insert(special6, "2001:2::/48")
	insert(special6, "2001:3::/32")
	insert(special6, "2001:4:112::/48")
	insert(special6, "2001:5::/32")
	insert(special6, "2001:10::/28")
	insert(special6, "2001:20::/28")
	insert(special6, "2001:db8::/32")
	insert(special6, "2002::/16")
}

// insert parses a CIDR mask and inserts it into the ranger. It panics for
// invalid masks and is intended to be used for setting up the static
// lists above.
func insert(r cidranger.Ranger, cidr string) {
	_, n, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(err)
	}
	if err := r.Insert(cidranger.NewBasicRangerEntry(*n)); err != nil {
		panic(err)
	}
}

func contains(r cidranger.Ranger, ip net.IP) bool {
	ok, err := r.Contains(ip)
	return err == nil && ok
}

// IsLAN reports whether an IP is a local network address.
func IsLAN(ip net.IP) bool {
	if ip.IsLoopback() {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		return contains(lan4, v4)
	}
	return contains(lan6, ip)
}

// IsSpecialNetwork reports whether an IP is located in a special-use
// network range. This includes broadcast, multicast and documentation
// addresses.
func IsSpecialNetwork(ip net.IP) bool {
	if ip.IsMulticast() {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		return contains(special4, v4)
	}
	return contains(special6, ip)
}

// CheckRelayIP reports whether an IP relayed from the given sender IP is a
// valid connection target.
//
// There are four rules:
//   - Special network addresses are never valid.
//   - Loopback addresses are OK if relayed by a loopback host.
//   - LAN addresses are OK if relayed by a LAN host.
//   - All other addresses are always acceptable.
func CheckRelayIP(sender, addr net.IP) error {
	if len(addr) != net.IPv4len && len(addr) != net.IPv6len {
		return errInvalid
	}
	if addr.IsUnspecified() {
		return errUnspecified
	}
	if IsSpecialNetwork(addr) {
		return errSpecial
	}
	if addr.IsLoopback() && !sender.IsLoopback() {
		return errLoopback
	}
	if IsLAN(addr) && !IsLAN(sender) {
		return errLAN
	}
	return nil
}

// DistinctNetSet tracks IPs, ensuring that at most N of them fall into the
// same network range. Unlike the static LAN/special-use lists above, the
// prefix here is caller-chosen and the membership is dynamic, which is not
// something a CIDR-containment trie expresses, so this stays a plain
// counting map.
type DistinctNetSet struct {
	Subnet uint // number of common prefix bits
	Limit  uint // maximum number of IPs in each subnet

	members map[string]uint
	buf     net.IP
}

// Add adds an IP address to the set. It returns false (and doesn't add the
// IP) if the number of existing IPs in the defined range exceeds the
// limit.
func (s *DistinctNetSet) Add(ip net.IP) bool {
	key := string(s.key(ip))
	n := s.members[key]
	if n < s.Limit {
		s.members[key] = n + 1
		return true
	}
	return false
}

// Remove removes an IP from the set.
func (s *DistinctNetSet) Remove(ip net.IP) {
	key := string(s.key(ip))
	if n, ok := s.members[key]; ok {
		if n == 1 {
			delete(s.members, key)
		} else {
			s.members[key] = n - 1
		}
	}
}

// Contains reports whether the given IP is tracked in the set.
func (s DistinctNetSet) Contains(ip net.IP) bool {
	key := string(s.key(ip))
	_, ok := s.members[key]
	return ok
}

// Len returns the number of tracked IPs.
func (s DistinctNetSet) Len() uint {
	n := uint(0)
	for _, i := range s.members {
		n += i
	}
	return n
}

// key encodes the map key for an address into a temporary buffer.
//
// The first byte of key is '4' or '6' to distinguish IPv4/IPv6 address
// types. The remainder of the key is the IP, truncated to the number of
// bits.
func (s *DistinctNetSet) key(ip net.IP) net.IP {
	if s.members == nil {
		s.members = make(map[string]uint)
		s.buf = make(net.IP, 17)
	}
	typ := byte('6')
	if ip4 := ip.To4(); ip4 != nil {
		typ, ip = '4', ip4
	}
	bits := s.Subnet
	if bits > uint(len(ip)*8) {
		bits = uint(len(ip) * 8)
	}
	nb := int(bits / 8)
	mask := ^byte(0xFF >> (bits % 8))
	s.buf[0] = typ
	buf := append(s.buf[:1], ip[:nb]...)
	if nb < len(ip) && mask != 0 {
		buf = append(buf, ip[nb]&mask)
	}
	return buf
}

// String implements fmt.Stringer.
func (s DistinctNetSet) String() string {
	var buf bytes.Buffer
	buf.WriteString("{")
	keys := make([]string, 0, len(s.members))
	for k := range s.members {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		var ip net.IP
		if k[0] == '4' {
			ip = make(net.IP, 4)
		} else {
			ip = make(net.IP, 16)
		}
		copy(ip, k[1:])
		fmt.Fprintf(&buf, "%v×%d", ip, s.members[k])
		if i != len(keys)-1 {
			buf.WriteString(" ")
		}
	}
	buf.WriteString("}")
	return buf.String()
}
