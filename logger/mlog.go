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

// This file is home to the 'mlog' structured-logging mechanism: each
// package establishes its own set of self-documenting log line templates
// (MLogT) up front, then fills in per-call detail values. Adapted from
// logger/mlog_file.go, trimmed of the teacher's file-rotation/symlink
// machinery (the file-writer concern is better served by glog's own
// -log_dir flag, wired in log.go) but keeping the component registry and
// the self-documenting String() format.
package logger

import (
	"fmt"
	"sync"

	"github.com/golang/glog"
)

// mlogComponent names a package's registered set of mlog lines.
type mlogComponent string

var (
	registryAvailable = make(map[mlogComponent][]MLogT)
	registryLock      sync.RWMutex
)

// MLogRegisterAvailable is called once per package (from a package-level
// var block in that package's mlog.go) to advertise its mlog lines.
func MLogRegisterAvailable(name string, lines []MLogT) mlogComponent {
	c := mlogComponent(name)
	registryLock.Lock()
	registryAvailable[c] = lines
	registryLock.Unlock()
	return c
}

// MLogT defines a single structured log line template: a
// receiver/verb/subject triple plus a fixed list of typed details that
// get filled in with SetDetailValues at each call site.
type MLogT struct {
	Description string
	Receiver    string
	Verb        string
	Subject     string
	Details     []MLogDetailT
}

// MLogDetailT describes one detail slot of an MLogT line.
type MLogDetailT struct {
	Owner string
	Key   string
	Value interface{}
}

// SetDetailValues fills in the line's detail values, in the order the
// details were declared. It panics on arity mismatch — a coding error
// in the caller, not a runtime condition.
func (m MLogT) SetDetailValues(vals ...interface{}) MLogT {
	if len(vals) != len(m.Details) {
		panic("logger: mlog detail arity mismatch")
	}
	out := m
	out.Details = make([]MLogDetailT, len(m.Details))
	copy(out.Details, m.Details)
	for i, v := range vals {
		out.Details[i].Value = v
	}
	return out
}

// String renders the line as "$RECEIVER $VERB $SUBJECT [detail]...".
func (m MLogT) String() string {
	out := m.Receiver + " " + m.Verb + " " + m.Subject
	for _, d := range m.Details {
		out += " "
		out += d.String()
	}
	return out
}

func (d MLogDetailT) String() string {
	return "[" + d.Owner + ":" + d.Key + "=" + toString(d.Value) + "]"
}

// Mlog emits a filled-in MLogT line at Detail verbosity, the structured
// equivalent of the teacher's glog.V(logger.Detail).Infoln(mlog.String())
// call sites in p2p/discover/mlog.go.
func Mlog(m MLogT) {
	if V(Detail) {
		glog.InfoDepth(1, m.String())
	}
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case interface{ String() string }:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}
