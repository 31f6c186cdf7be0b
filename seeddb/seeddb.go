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

// Package seeddb persists last-known-good bootstrap endpoints across
// restarts, per SPEC_FULL.md §8.2. It plays the role of the teacher's
// p2p/discover nodeDB field (referenced throughout p2p/discover/table.go
// as self.db, though that type's own source was never part of this
// pack's retrieval) and is grounded on ethdb.LDBDatabase's
// open/Put/Get/Close shape (ethdb/database.go), swapped onto
// github.com/boltdb/bolt since no LevelDB binding is wired into this
// module's dependency stack.
package seeddb

import (
	"encoding/json"
	"net"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"

	"github.com/rootkad/dht/kbucket"
)

var bucketName = []byte("seeds")

// Entry is one persisted seed endpoint.
type Entry struct {
	ID       kbucket.ID
	IP       net.IP
	Port     uint16
	LastSeen time.Time
}

// record is Entry's on-disk encoding. IP is stored as text since net.IP's
// JSON marshaling already round-trips through this form; kept as a
// separate type so Entry itself stays a clean public API.
type record struct {
	ID       kbucket.ID
	IP       string
	Port     uint16
	LastSeen time.Time
}

// DB persists seed endpoints in a boltdb file, one bucket, keyed by
// Peer.Key() (its IP/port endpoint string).
type DB struct {
	bolt *bolt.DB
}

// Open opens (creating if needed) a seed database at path.
func Open(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "seeddb: open")
	}
	err = bdb.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, errors.Wrap(err, "seeddb: create bucket")
	}
	return &DB{bolt: bdb}, nil
}

// Close closes the underlying boltdb file.
func (db *DB) Close() error { return db.bolt.Close() }

// Put persists or refreshes a seed endpoint.
func (db *DB) Put(e Entry) error {
	rec := record{ID: e.ID, IP: e.IP.String(), Port: e.Port, LastSeen: e.LastSeen}
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "seeddb: marshal")
	}
	key := []byte((&kbucket.Peer{IP: e.IP, Port: e.Port}).Key())
	return db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(key, data)
	})
}

// Delete removes a seed endpoint, e.g. once it is confirmed unreachable.
func (db *DB) Delete(ip net.IP, port uint16) error {
	key := []byte((&kbucket.Peer{IP: ip, Port: port}).Key())
	return db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete(key)
	})
}

// All returns every persisted entry, in no particular order.
func (db *DB) All() ([]Entry, error) {
	var out []Entry
	err := db.bolt.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, v []byte) error {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return errors.Wrapf(err, "seeddb: unmarshal %s", k)
			}
			out = append(out, Entry{
				ID:       rec.ID,
				IP:       net.ParseIP(rec.IP),
				Port:     rec.Port,
				LastSeen: rec.LastSeen,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Bootstrap returns the persisted entries seen within maxAge, newest
// first, for seeding a query or a fresh routing table on startup.
func (db *DB) Bootstrap(maxAge time.Duration) ([]*kbucket.Peer, error) {
	entries, err := db.All()
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-maxAge)
	var peers []*kbucket.Peer
	for _, e := range entries {
		if e.LastSeen.Before(cutoff) {
			continue
		}
		peers = append(peers, &kbucket.Peer{ID: e.ID, IP: e.IP, Port: e.Port, LastSeen: e.LastSeen})
	}
	sortByLastSeenDesc(peers)
	return peers, nil
}

func sortByLastSeenDesc(peers []*kbucket.Peer) {
	for i := 1; i < len(peers); i++ {
		for j := i; j > 0 && peers[j].LastSeen.After(peers[j-1].LastSeen); j-- {
			peers[j], peers[j-1] = peers[j-1], peers[j]
		}
	}
}
