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

package rpcio

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rootkad/dht/wire"
)

func newLoopbackSocket(t *testing.T) *Socket {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	s := NewSocket(conn)
	t.Cleanup(func() { s.Close() })
	return s
}

func ephemeral() ([32]byte, bool) { return [32]byte{}, false }

func TestRequestReplyRoundTrip(t *testing.T) {
	serverSocket := newLoopbackSocket(t)
	serverAddr := serverSocket.LocalAddr()

	serverHandler := func(req *Request) {
		err := req.Reply([]byte("pong"), wire.StatusOK)
		assert.NoError(t, err)
	}
	server := NewTransport(serverSocket, serverHandler, ephemeral, nil)
	defer server.Close()

	clientSocket := newLoopbackSocket(t)
	client := NewTransport(clientSocket, nil, ephemeral, nil)
	defer client.Close()

	frame := &wire.Frame{Command: wire.CommandPing}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := client.Request(ctx, serverAddr, frame, RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "pong", string(reply.Value))
	assert.Equal(t, wire.StatusOK, reply.Status)
}

type fakeDeriver struct{ tok [32]byte }

func (f fakeDeriver) Derive(ip net.IP, port uint16) [32]byte { return f.tok }

func TestReplyEchoesTokenWhenDeriverSet(t *testing.T) {
	serverSocket := newLoopbackSocket(t)
	serverAddr := serverSocket.LocalAddr()

	server := NewTransport(serverSocket, func(req *Request) {
		require.NoError(t, req.Reply([]byte("pong"), wire.StatusOK))
	}, ephemeral, nil)
	server.SetTokenDeriver(fakeDeriver{tok: [32]byte{0xAB}})
	defer server.Close()

	clientSocket := newLoopbackSocket(t)
	client := NewTransport(clientSocket, nil, ephemeral, nil)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := client.Request(ctx, serverAddr, &wire.Frame{Command: wire.CommandPing}, RequestOptions{})
	require.NoError(t, err)
	assert.True(t, reply.HasToken())
	assert.Equal(t, [32]byte{0xAB}, reply.Token)
}

func TestRequestTimeoutNoRetry(t *testing.T) {
	// black-hole destination: nothing listens on this address.
	blackhole, err := net.ResolveUDPAddr("udp4", "127.0.0.1:1")
	require.NoError(t, err)

	clientSocket := newLoopbackSocket(t)
	client := NewTransport(clientSocket, nil, ephemeral, nil)
	defer client.Close()
	client.SetRequestTimeout(100 * time.Millisecond)

	frame := &wire.Frame{Command: 42}
	start := time.Now()
	_, err = client.Request(context.Background(), blackhole, frame, RequestOptions{Retry: false})
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, elapsed < 500*time.Millisecond, "should fail after ~T_req, not longer")
}

func TestRequestOverflow(t *testing.T) {
	clientSocket := newLoopbackSocket(t)
	client := NewTransport(clientSocket, nil, ephemeral, nil)
	defer client.Close()
	client.pending.limit = 1

	blackhole, _ := net.ResolveUDPAddr("udp4", "127.0.0.1:1")
	client.SetRequestTimeout(5 * time.Second)

	_, err := client.pending.add(blackhole)
	require.NoError(t, err)

	_, err = client.Request(context.Background(), blackhole, &wire.Frame{Command: 1}, RequestOptions{})
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestMalformedDatagramDeliversInvalidReplyToPendingRequest(t *testing.T) {
	clientSocket := newLoopbackSocket(t)
	client := NewTransport(clientSocket, nil, ephemeral, nil)
	defer client.Close()

	rawConn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer rawConn.Close()

	p, err := client.pending.add(rawConn.LocalAddr())
	require.NoError(t, err)

	frame := &wire.Frame{TID: p.tid, Command: wire.CommandPing}
	frame.SetFromID([32]byte{0xAA})
	raw, err := wire.Encode(frame)
	require.NoError(t, err)

	// cut the datagram inside the from_id field: tid survives intact, but
	// the frame fails full decode.
	truncated := raw[:10]
	_, err = rawConn.WriteTo(truncated, clientSocket.LocalAddr())
	require.NoError(t, err)

	select {
	case err := <-p.err:
		assert.ErrorIs(t, err, ErrInvalidReply)
	case <-time.After(2 * time.Second):
		t.Fatal("expected ErrInvalidReply delivered to the pending request")
	}
}

func TestCloseFailsPending(t *testing.T) {
	blackhole, _ := net.ResolveUDPAddr("udp4", "127.0.0.1:1")
	clientSocket := newLoopbackSocket(t)
	client := NewTransport(clientSocket, nil, ephemeral, nil)
	client.SetRequestTimeout(5 * time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := client.Request(context.Background(), blackhole, &wire.Frame{Command: 1}, RequestOptions{})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	client.Close()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Request did not return after Close")
	}
}
