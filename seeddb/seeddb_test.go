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

package seeddb

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rootkad/dht/kbucket"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seeds.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPutAndAll(t *testing.T) {
	db := openTestDB(t)

	e1 := Entry{ID: kbucket.ID{0x01}, IP: net.IPv4(1, 2, 3, 4), Port: 9001, LastSeen: time.Now()}
	e2 := Entry{ID: kbucket.ID{0x02}, IP: net.IPv4(5, 6, 7, 8), Port: 9002, LastSeen: time.Now()}

	require.NoError(t, db.Put(e1))
	require.NoError(t, db.Put(e2))

	all, err := db.All()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPutOverwritesSameEndpoint(t *testing.T) {
	db := openTestDB(t)
	ip, port := net.IPv4(1, 2, 3, 4), uint16(9001)

	require.NoError(t, db.Put(Entry{ID: kbucket.ID{0x01}, IP: ip, Port: port, LastSeen: time.Now()}))
	require.NoError(t, db.Put(Entry{ID: kbucket.ID{0x02}, IP: ip, Port: port, LastSeen: time.Now()}))

	all, err := db.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, kbucket.ID{0x02}, all[0].ID)
}

func TestDelete(t *testing.T) {
	db := openTestDB(t)
	ip, port := net.IPv4(1, 2, 3, 4), uint16(9001)
	require.NoError(t, db.Put(Entry{ID: kbucket.ID{0x01}, IP: ip, Port: port, LastSeen: time.Now()}))
	require.NoError(t, db.Delete(ip, port))

	all, err := db.All()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestBootstrapFiltersByAgeAndOrdersNewestFirst(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()

	require.NoError(t, db.Put(Entry{ID: kbucket.ID{0x01}, IP: net.IPv4(1, 1, 1, 1), Port: 1, LastSeen: now.Add(-2 * time.Hour)}))
	require.NoError(t, db.Put(Entry{ID: kbucket.ID{0x02}, IP: net.IPv4(2, 2, 2, 2), Port: 2, LastSeen: now.Add(-10 * time.Minute)}))
	require.NoError(t, db.Put(Entry{ID: kbucket.ID{0x03}, IP: net.IPv4(3, 3, 3, 3), Port: 3, LastSeen: now}))

	peers, err := db.Bootstrap(time.Hour)
	require.NoError(t, err)
	require.Len(t, peers, 2)
	assert.Equal(t, kbucket.ID{0x03}, peers[0].ID)
	assert.Equal(t, kbucket.ID{0x02}, peers[1].ID)
}
