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
	"math/big"
	mrand "math/rand"
	"testing"
	"testing/quick"
)

// quickcfg mirrors the teacher's distance_test.go quick-check setup: enough
// random IDs to exercise the XOR-distance edge cases without a slow run.
func quickcfg() *quick.Config {
	return &quick.Config{
		MaxCount: 5000,
		Values: func(args []interface{}, r *mrand.Rand) {
			for i := range args {
				var id ID
				for j := range id {
					id[j] = byte(r.Intn(256))
				}
				args[i] = id
			}
		},
	}
}

func TestDistCmpAgainstBigInt(t *testing.T) {
	distCmpBig := func(target, a, b ID) int {
		tbig := new(big.Int).SetBytes(target[:])
		abig := new(big.Int).SetBytes(a[:])
		bbig := new(big.Int).SetBytes(b[:])
		return new(big.Int).Xor(tbig, abig).Cmp(new(big.Int).Xor(tbig, bbig))
	}
	if err := quick.CheckEqual(distCmp, distCmpBig, quickcfg()); err != nil {
		t.Error(err)
	}
}

// the random test is unlikely to hit the case where a == b.
func TestDistCmpEqual(t *testing.T) {
	var a, b ID
	for i := range a {
		a[i] = byte(i)
		b[i] = byte(len(a) - 1 - i)
	}
	var target ID
	if distCmp(target, a, a) != 0 {
		t.Errorf("distCmp(target, a, a) != 0")
	}
	_ = b
}

func TestLogDistAgainstBigInt(t *testing.T) {
	logDistBig := func(a, b ID) int {
		abig, bbig := new(big.Int).SetBytes(a[:]), new(big.Int).SetBytes(b[:])
		return new(big.Int).Xor(abig, bbig).BitLen()
	}
	if err := quick.CheckEqual(logDist, logDistBig, quickcfg()); err != nil {
		t.Error(err)
	}
}

func TestLogDistEqual(t *testing.T) {
	var x ID
	for i := range x {
		x[i] = byte(i)
	}
	if logDist(x, x) != 0 {
		t.Errorf("logDist(x, x) != 0")
	}
}

func TestCommonPrefixLen(t *testing.T) {
	var a, b ID
	a[0] = 0xff
	b[0] = 0x7f
	if got := commonPrefixLen(a, b); got != 0 {
		t.Errorf("commonPrefixLen = %d, want 0", got)
	}
	b[0] = 0xff
	if got := commonPrefixLen(a, b); got != 256 {
		t.Errorf("commonPrefixLen = %d, want 256", got)
	}
}

func TestRandomIDInBucket(t *testing.T) {
	var local ID
	for i := range local {
		local[i] = byte(i * 7)
	}
	src := 0
	randFn := func(b []byte) {
		for i := range b {
			src++
			b[i] = byte(src)
		}
	}
	for _, i := range []int{0, 1, 7, 8, 9, 64, 255} {
		id := randomIDInBucket(local, i, randFn)
		if got := commonPrefixLen(local, id); got != i {
			t.Errorf("bucket %d: commonPrefixLen(local, id) = %d, want %d", i, got, i)
		}
	}
}
