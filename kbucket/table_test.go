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

package kbucket

import (
	"context"
	"net"
	"testing"
	"time"
)

func testID(b byte) ID {
	var id ID
	id[0] = b
	return id
}

func testPeer(id ID, ip string, port uint16) *Peer {
	return &Peer{ID: id, IP: net.ParseIP(ip), Port: port}
}

func TestTableInsertAndBump(t *testing.T) {
	local := testID(0x00)
	tab := NewTable(local, nil)

	p := testPeer(testID(0xff), "10.0.0.1", 30303)
	if !tab.Insert(context.Background(), p) {
		t.Fatal("Insert of new peer should succeed")
	}
	if tab.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tab.Len())
	}

	// re-inserting the same endpoint should bump, not duplicate.
	again := testPeer(testID(0xff), "10.0.0.1", 30303)
	if !tab.Insert(context.Background(), again) {
		t.Fatal("re-insert of existing peer should succeed")
	}
	if tab.Len() != 1 {
		t.Fatalf("Len() after re-insert = %d, want 1", tab.Len())
	}
}

func TestTableRejectsSelf(t *testing.T) {
	local := testID(0x11)
	tab := NewTable(local, nil)
	if tab.Insert(context.Background(), testPeer(local, "10.0.0.1", 1)) {
		t.Fatal("Insert of local ID should be rejected")
	}
}

func TestTableFullBucketNoProber(t *testing.T) {
	local := testID(0x00)
	tab := NewTable(local, nil)
	b := tab.bucketIndex(testID(0xff))

	// fill the bucket to capacity with distinct /24s to dodge IP-diversity limits.
	for i := 0; i < K; i++ {
		ip := net.IPv4(10, 0, byte(i), 1).String()
		p := testPeer(testID(0xff), ip, uint16(i))
		p.ID[1] = byte(i)
		if !tab.Insert(context.Background(), p) {
			t.Fatalf("insert %d into bucket %d should succeed", i, b)
		}
	}

	// bucket is full, no prober installed: candidate is dropped.
	overflow := testPeer(testID(0xff), "10.0.99.1", 9999)
	overflow.ID[1] = 0xaa
	if tab.Insert(context.Background(), overflow) {
		t.Fatal("insert into full bucket with no prober should fail")
	}
	if tab.Len() != K {
		t.Fatalf("Len() = %d, want %d", tab.Len(), K)
	}
}

func TestTableFullBucketDeadHeadEvicted(t *testing.T) {
	local := testID(0x00)
	tab := NewTable(local, func(ctx context.Context, p *Peer) bool {
		return false // every probe reports dead
	})

	var added, removed []string
	tab.SetHooks(func(p *Peer) { added = append(added, p.Key()) }, func(p *Peer) { removed = append(removed, p.Key()) })

	for i := 0; i < K; i++ {
		ip := net.IPv4(10, 0, byte(i), 1).String()
		p := testPeer(testID(0xff), ip, uint16(i))
		p.ID[1] = byte(i)
		tab.Insert(context.Background(), p)
	}

	overflow := testPeer(testID(0xff), "10.0.99.1", 9999)
	overflow.ID[1] = 0xaa
	if !tab.Insert(context.Background(), overflow) {
		t.Fatal("insert with dead head should evict and succeed")
	}
	if tab.Len() != K {
		t.Fatalf("Len() = %d, want %d", tab.Len(), K)
	}
	if len(removed) != 1 {
		t.Fatalf("expected 1 removal, got %d", len(removed))
	}
}

func TestTableFullBucketLiveHeadKeepsSlot(t *testing.T) {
	local := testID(0x00)
	tab := NewTable(local, func(ctx context.Context, p *Peer) bool {
		return true // every probe reports alive
	})

	for i := 0; i < K; i++ {
		ip := net.IPv4(10, 0, byte(i), 1).String()
		p := testPeer(testID(0xff), ip, uint16(i))
		p.ID[1] = byte(i)
		tab.Insert(context.Background(), p)
	}

	overflow := testPeer(testID(0xff), "10.0.99.1", 9999)
	overflow.ID[1] = 0xaa
	if tab.Insert(context.Background(), overflow) {
		t.Fatal("insert with live head should fail (candidate held as replacement)")
	}
	if tab.Len() != K {
		t.Fatalf("Len() = %d, want %d", tab.Len(), K)
	}
}

func TestTableRemove(t *testing.T) {
	local := testID(0x00)
	tab := NewTable(local, nil)
	p := testPeer(testID(0xff), "10.0.0.1", 30303)
	tab.Insert(context.Background(), p)
	if tab.Len() != 1 {
		t.Fatal("expected 1 peer")
	}
	tab.Remove(net.ParseIP("10.0.0.1"), 30303)
	time.Sleep(10 * time.Millisecond) // Remove runs removed() logs/hooks in their own goroutine
	if tab.Len() != 0 {
		t.Fatalf("Len() after Remove = %d, want 0", tab.Len())
	}
}

func TestTableClosest(t *testing.T) {
	local := testID(0x00)
	tab := NewTable(local, nil)
	for i := 1; i <= 5; i++ {
		p := testPeer(testID(byte(i)), net.IPv4(10, 0, 0, byte(i)).String(), uint16(i))
		tab.Insert(context.Background(), p)
	}
	closest := tab.Closest(testID(0x00), 3)
	if len(closest) != 3 {
		t.Fatalf("Closest returned %d peers, want 3", len(closest))
	}
	// target 0x00: smallest XOR distance is the smallest ID byte.
	if closest[0].ID[0] != 1 {
		t.Errorf("closest[0].ID[0] = %d, want 1", closest[0].ID[0])
	}
}

func TestTableClear(t *testing.T) {
	local := testID(0x00)
	tab := NewTable(local, nil)
	tab.Insert(context.Background(), testPeer(testID(0xff), "10.0.0.1", 1))
	tab.Clear()
	if tab.Len() != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", tab.Len())
	}
}

func TestTableStale(t *testing.T) {
	local := testID(0x00)
	tab := NewTable(local, nil)
	p := testPeer(testID(0xff), "10.0.0.1", 1)
	tab.Insert(context.Background(), p)

	stale := tab.Stale(0)
	if len(stale) != 1 {
		t.Fatalf("Stale(0) returned %d, want 1", len(stale))
	}
	stale = tab.Stale(time.Hour)
	if len(stale) != 0 {
		t.Fatalf("Stale(1h) returned %d, want 0", len(stale))
	}
}
