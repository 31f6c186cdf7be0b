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

// Package metrics centralizes the registration of the module's runtime
// counters, adapted from the teacher's metrics/metrics.go: same
// rcrowley/go-metrics registry and periodic Collect() dump, but the meter
// set is the DHT's own (requests/replies/timeouts, bucket churn, bond and
// NAT-transition counts) instead of the teacher's blockchain message/sync
// counters.
package metrics

import (
	"bufio"
	"encoding/json"
	"os"
	"runtime"
	"time"

	"github.com/golang/glog"
	"github.com/rcrowley/go-metrics"
)

// reg is the metrics destination for everything registered below.
var reg = metrics.NewRegistry()

// Registry exposes the underlying registry, e.g. for wiring an
// rcrowley/go-metrics reporter (graphite, statsd) in an embedding
// application.
func Registry() metrics.Registry { return reg }

var (
	// RequestsSent/RequestsReceived count outbound/inbound RPC requests
	// across all commands (not broken down by command), per spec.md §4.4.
	RequestsSent     = metrics.NewRegisteredMeter("rpc/request/sent", reg)
	RequestsReceived = metrics.NewRegisteredMeter("rpc/request/recv", reg)
	RepliesSent      = metrics.NewRegisteredMeter("rpc/reply/sent", reg)
	RepliesReceived  = metrics.NewRegisteredMeter("rpc/reply/recv", reg)
	RequestTimeouts  = metrics.NewRegisteredMeter("rpc/request/timeout", reg)
	RequestRetries   = metrics.NewRegisteredMeter("rpc/request/retry", reg)
	RequestDrops     = metrics.NewRegisteredMeter("rpc/request/drop", reg)

	RequestLatency = metrics.NewRegisteredTimer("rpc/request/latency", reg)

	DecodeErrors = metrics.NewRegisteredMeter("wire/decode/error", reg)
)

var (
	// BucketAdds/BucketEvictions track routing-table churn (kbucket.Table).
	BucketAdds      = metrics.NewRegisteredMeter("table/bucket/add", reg)
	BucketEvictions = metrics.NewRegisteredMeter("table/bucket/evict", reg)
	BucketFull      = metrics.NewRegisteredMeter("table/bucket/full", reg)

	BondsStarted  = metrics.NewRegisteredMeter("table/bond/start", reg)
	BondsVerified = metrics.NewRegisteredMeter("table/bond/verified", reg)
	BondsFailed   = metrics.NewRegisteredMeter("table/bond/failed", reg)

	TableSize = metrics.GetOrRegisterGauge("table/size", reg)
)

var (
	// QueriesStarted/QueriesConverged track the iterative lookup engine.
	QueriesStarted   = metrics.NewRegisteredMeter("query/start", reg)
	QueriesConverged = metrics.NewRegisteredMeter("query/converged", reg)
	QueryRounds      = metrics.NewRegisteredTimer("query/round", reg)
	QueryDuration    = metrics.NewRegisteredTimer("query/duration", reg)
)

var (
	// NATTransitions counts identity/NAT FSM state changes (natfsm).
	NATTransitions   = metrics.NewRegisteredMeter("natfsm/transition", reg)
	NATProbeSuccess  = metrics.NewRegisteredMeter("natfsm/probe/success", reg)
	NATProbeFailures = metrics.NewRegisteredMeter("natfsm/probe/failure", reg)
)

var (
	SocketIn       = metrics.NewRegisteredMeter("socket/in", reg)
	SocketInBytes  = metrics.NewRegisteredMeter("socket/in/bytes", reg)
	SocketOut      = metrics.NewRegisteredMeter("socket/out", reg)
	SocketOutBytes = metrics.NewRegisteredMeter("socket/out/bytes", reg)
)

var (
	MemAllocs = metrics.GetOrRegisterGauge("memory/allocs", reg)
	MemFrees  = metrics.GetOrRegisterGauge("memory/frees", reg)
	MemInuse  = metrics.GetOrRegisterGauge("memory/inuse", reg)
	MemPauses = metrics.GetOrRegisterGauge("memory/pauses", reg)

	DiskReads      = metrics.GetOrRegisterGauge("disk/readcount", reg)
	DiskReadBytes  = metrics.GetOrRegisterGauge("disk/readdata", reg)
	DiskWrites     = metrics.GetOrRegisterGauge("disk/writecount", reg)
	DiskWriteBytes = metrics.GetOrRegisterGauge("disk/writedata", reg)
)

// diskStats is the per-process disk I/O statistics.
type diskStats struct {
	ReadCount  int64
	ReadBytes  int64
	WriteCount int64
	WriteBytes int64
}

// Collect periodically dumps the full registry, plus process memory/disk
// gauges, to file as newline-delimited JSON.
func Collect(file string) {
	f, err := os.OpenFile(file, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0666)
	if err != nil {
		glog.Fatal(err)
	}
	defer f.Close()

	encoder := json.NewEncoder(bufio.NewWriter(f))

	for range time.Tick(3 * time.Second) {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		MemAllocs.Update(int64(mem.Mallocs))
		MemFrees.Update(int64(mem.Frees))
		MemInuse.Update(int64(mem.Alloc))
		MemPauses.Update(int64(mem.PauseTotalNs))

		var disk diskStats
		readDiskStats(&disk)
		DiskReads.Update(disk.ReadCount)
		DiskReadBytes.Update(disk.ReadBytes)
		DiskWrites.Update(disk.WriteCount)
		DiskWriteBytes.Update(disk.WriteBytes)

		if err := encoder.Encode(reg); err != nil {
			glog.Errorf("metrics: log to %q: %s", file, err)
		}
	}
}
