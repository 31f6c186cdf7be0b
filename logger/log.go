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

// Package logger provides the leveled, component-aware logging used
// across the dht module. It is adapted from logger/log.go and
// logger/mlog_file.go in the teacher repo, but is backed by the real
// upstream github.com/golang/glog module instead of the teacher's own
// ~1800-line vendored copy of the same V(level).Infof idiom
// (logger/glog/glog.go) — same calling convention, real dependency.
package logger

import (
	"flag"
	"strconv"

	"github.com/golang/glog"
)

// Verbosity levels, matching the V(level) gates the teacher's call sites
// use (e.g. glog.V(logger.Detail).Infof(...) in p2p/discover/table.go).
type Verbosity int32

const (
	Error Verbosity = iota
	Warn
	Info
	Debug
	Detail
)

// V reports whether logging at the given verbosity is currently enabled,
// mirroring the teacher's glog.V(logger.Detail) call sites.
func V(level Verbosity) glog.Verbose {
	return glog.V(glog.Level(level))
}

// SetVerbosity adjusts the global glog verbosity threshold at runtime.
// glog is normally configured via command-line flags; a library embedding
// dht.Node has no flags of its own, so this flips the same flag glog
// already registers.
func SetVerbosity(level Verbosity) error {
	return flag.Set("v", strconv.Itoa(int(level)))
}

// SetLogDir redirects glog's file output, when file logging is desired
// instead of stderr.
func SetLogDir(dir string) error {
	return flag.Set("log_dir", dir)
}

const (
	reset   = "\x1b[39m"
	green   = "\x1b[32m"
	blue    = "\x1b[36m"
	yellow  = "\x1b[33m"
	red     = "\x1b[31m"
	magenta = "\x1b[35m"
)

func ColorGreen(s string) string   { return green + s + reset }
func ColorRed(s string) string     { return red + s + reset }
func ColorBlue(s string) string    { return blue + s + reset }
func ColorYellow(s string) string  { return yellow + s + reset }
func ColorMagenta(s string) string { return magenta + s + reset }
