// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package swarm_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blinklabs-io/gokate/protocol/handshake"
	"github.com/blinklabs-io/gokate/swarm"
)

const testNetworkMagic = 1234567

func newTestSwarm(t *testing.T, opts ...swarm.SwarmOptionFunc) *swarm.Swarm {
	t.Helper()
	s, err := swarm.New(
		append(
			[]swarm.SwarmOptionFunc{swarm.WithNetworkMagic(testNetworkMagic)},
			opts...,
		)...,
	)
	require.NoError(t, err)
	return s
}

func listenAddr(t *testing.T, s *swarm.Swarm) swarm.PeerAddress {
	t.Helper()
	require.NoError(t, s.Listen("127.0.0.1:0"))
	tcpAddr, ok := s.ListenAddr().(*net.TCPAddr)
	require.True(t, ok)
	return swarm.PeerAddress{
		Address: "127.0.0.1",
		Port:    uint(tcpAddr.Port),
	}
}

// waitEvent returns the next event of type T, skipping any others
func waitEvent[T swarm.Event](t *testing.T, s *swarm.Swarm) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		event, err := s.NextEvent(ctx)
		require.NoError(t, err, "waiting for %T", *new(T))
		if ret, ok := event.(T); ok {
			return ret
		}
	}
}

// connect dials from client to server and waits for both sides to report the peer
func connect(t *testing.T, client, server *swarm.Swarm) {
	t.Helper()
	addr := listenAddr(t, server)
	peerId, err := client.Dial(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, server.LocalPeerId(), peerId)
	connected := waitEvent[swarm.PeerConnectedEvent](t, client)
	assert.False(t, connected.Inbound)
	assert.Equal(t, server.LocalPeerId(), connected.Peer)
	connected = waitEvent[swarm.PeerConnectedEvent](t, server)
	assert.True(t, connected.Inbound)
	assert.Equal(t, client.LocalPeerId(), connected.Peer)
}

func evenHeaders(blockNum uint32) ([]byte, error) {
	if blockNum%2 != 0 {
		return nil, nil
	}
	return []byte(fmt.Sprintf("header-%d", blockNum)), nil
}

func TestSwarmBlockRequest(t *testing.T) {
	defer goleak.VerifyNone(t)
	server := newTestSwarm(t, swarm.WithHeaderProviderFunc(evenHeaders))
	defer server.Close()
	client := newTestSwarm(t)
	defer client.Close()
	connect(t, client, server)

	require.NoError(t, client.SendBlockRequest(1, 2))
	resp := waitEvent[swarm.BlockResponseEvent](t, client)
	assert.Equal(t, uint64(1), resp.RequestId)
	assert.Equal(t, []byte("header-2"), resp.Header)
	assert.Equal(t, server.LocalPeerId(), resp.Peer)
	inbound := waitEvent[swarm.InboundRequestEvent](t, server)
	assert.Equal(t, uint32(2), inbound.BlockNum)
	assert.True(t, inbound.Found)

	require.NoError(t, client.SendBlockRequest(2, 3))
	failed := waitEvent[swarm.RequestFailedEvent](t, client)
	assert.Equal(t, uint64(2), failed.RequestId)
	assert.ErrorIs(t, failed.Err, swarm.ErrNotFound)
}

func TestSwarmDuplicateRequestId(t *testing.T) {
	defer goleak.VerifyNone(t)
	release := make(chan struct{})
	server := newTestSwarm(t, swarm.WithHeaderProviderFunc(func(blockNum uint32) ([]byte, error) {
		<-release
		return nil, nil
	}))
	defer server.Close()
	client := newTestSwarm(t)
	defer client.Close()
	connect(t, client, server)

	require.NoError(t, client.SendBlockRequest(5, 1))
	assert.ErrorIs(t, client.SendBlockRequest(5, 2), swarm.ErrDuplicateRequest)
	close(release)
	failed := waitEvent[swarm.RequestFailedEvent](t, client)
	assert.Equal(t, uint64(5), failed.RequestId)
}

func TestSwarmRoundRobin(t *testing.T) {
	defer goleak.VerifyNone(t)
	server1 := newTestSwarm(t, swarm.WithHeaderProviderFunc(evenHeaders))
	defer server1.Close()
	server2 := newTestSwarm(t, swarm.WithHeaderProviderFunc(evenHeaders))
	defer server2.Close()
	client := newTestSwarm(t)
	defer client.Close()
	connect(t, client, server1)
	connect(t, client, server2)
	assert.Len(t, client.Peers(), 2)

	seen := map[swarm.PeerId]int{}
	for i := range 4 {
		require.NoError(t, client.SendBlockRequest(uint64(i+1), 0))
		resp := waitEvent[swarm.BlockResponseEvent](t, client)
		seen[resp.Peer]++
	}
	assert.Equal(t, 2, seen[server1.LocalPeerId()])
	assert.Equal(t, 2, seen[server2.LocalPeerId()])
}

func TestSwarmNoPeers(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := newTestSwarm(t)
	defer s.Close()
	assert.ErrorIs(t, s.SendBlockRequest(1, 1), swarm.ErrNoPeers)
	_, err := s.BroadcastAnnouncement([][]byte{[]byte("header")})
	assert.ErrorIs(t, err, swarm.ErrNoPeers)
}

func TestSwarmAnnouncementDedupe(t *testing.T) {
	defer goleak.VerifyNone(t)
	server := newTestSwarm(t)
	defer server.Close()
	client := newTestSwarm(t)
	defer client.Close()
	connect(t, client, server)

	reached, err := client.BroadcastAnnouncement([][]byte{[]byte("h1"), []byte("h2")})
	require.NoError(t, err)
	assert.Equal(t, 1, reached)
	announced := waitEvent[swarm.AnnouncementEvent](t, server)
	assert.Equal(t, client.LocalPeerId(), announced.Peer)
	assert.Equal(t, [][]byte{[]byte("h1"), []byte("h2")}, announced.Headers)

	// A repeat produces no event, so the next one carries only the new header
	_, err = client.BroadcastAnnouncement([][]byte{[]byte("h1")})
	require.NoError(t, err)
	_, err = client.BroadcastAnnouncement([][]byte{[]byte("h2"), []byte("h3")})
	require.NoError(t, err)
	announced = waitEvent[swarm.AnnouncementEvent](t, server)
	assert.Equal(t, [][]byte{[]byte("h3")}, announced.Headers)

	// Our own announcements echoed back are dropped too
	_, err = server.BroadcastAnnouncement([][]byte{[]byte("h2")})
	require.NoError(t, err)
	_, err = server.BroadcastAnnouncement([][]byte{[]byte("h4")})
	require.NoError(t, err)
	announced = waitEvent[swarm.AnnouncementEvent](t, client)
	assert.Equal(t, [][]byte{[]byte("h4")}, announced.Headers)
}

func TestSwarmRequestTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)
	release := make(chan struct{})
	server := newTestSwarm(t, swarm.WithHeaderProviderFunc(func(blockNum uint32) ([]byte, error) {
		<-release
		return []byte("late"), nil
	}))
	defer server.Close()
	mockClock := clock.NewMock()
	client := newTestSwarm(t, swarm.WithClock(mockClock))
	defer client.Close()
	connect(t, client, server)

	require.NoError(t, client.SendBlockRequest(7, 1))
	mockClock.Add(swarm.DefaultRequestTimeout)
	failed := waitEvent[swarm.RequestFailedEvent](t, client)
	assert.Equal(t, uint64(7), failed.RequestId)
	assert.ErrorIs(t, failed.Err, swarm.ErrRequestTimeout)

	// The late response is still reported
	close(release)
	resp := waitEvent[swarm.BlockResponseEvent](t, client)
	assert.Equal(t, uint64(7), resp.RequestId)
	assert.Equal(t, []byte("late"), resp.Header)
}

func TestSwarmDisconnectFailsPending(t *testing.T) {
	defer goleak.VerifyNone(t)
	release := make(chan struct{})
	server := newTestSwarm(t, swarm.WithHeaderProviderFunc(func(blockNum uint32) ([]byte, error) {
		<-release
		return nil, nil
	}))
	client := newTestSwarm(t)
	defer client.Close()
	connect(t, client, server)

	require.NoError(t, client.SendBlockRequest(3, 1))
	require.NoError(t, server.Close())
	close(release)

	failed := waitEvent[swarm.RequestFailedEvent](t, client)
	assert.Equal(t, uint64(3), failed.RequestId)
	assert.ErrorIs(t, failed.Err, swarm.ErrConnectionClosed)
	disconnected := waitEvent[swarm.PeerDisconnectedEvent](t, client)
	assert.Equal(t, server.LocalPeerId(), disconnected.Peer)
	assert.Empty(t, client.Peers())
}

func TestSwarmDialErrors(t *testing.T) {
	defer goleak.VerifyNone(t)
	server := newTestSwarm(t)
	defer server.Close()
	addr := listenAddr(t, server)

	other, err := swarm.GenerateIdentity()
	require.NoError(t, err)
	wrongPeer := other.PeerId()

	testDefs := []struct {
		name        string
		opts        []swarm.SwarmOptionFunc
		peerId      *swarm.PeerId
		expectedErr error
	}{
		{
			name:        "network magic",
			opts:        []swarm.SwarmOptionFunc{swarm.WithNetworkMagic(1)},
			expectedErr: handshake.ErrNetworkMagicMismatch,
		},
		{
			name:        "peer id",
			peerId:      &wrongPeer,
			expectedErr: swarm.ErrPeerIdMismatch,
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			client := newTestSwarm(t, testDef.opts...)
			defer client.Close()
			dialAddr := addr
			dialAddr.PeerId = testDef.peerId
			_, err := client.Dial(context.Background(), dialAddr)
			assert.ErrorIs(t, err, testDef.expectedErr)
			assert.Empty(t, client.Peers())
		})
	}
}

func TestSwarmSelfConnection(t *testing.T) {
	defer goleak.VerifyNone(t)
	identity, err := swarm.GenerateIdentity()
	require.NoError(t, err)
	server := newTestSwarm(t, swarm.WithIdentity(identity))
	defer server.Close()
	client := newTestSwarm(t, swarm.WithIdentity(identity))
	defer client.Close()
	_, err = client.Dial(context.Background(), listenAddr(t, server))
	assert.ErrorIs(t, err, swarm.ErrSelfConnection)
}

func TestSwarmDialKnownPeers(t *testing.T) {
	defer goleak.VerifyNone(t)
	server := newTestSwarm(t)
	defer server.Close()
	addr := listenAddr(t, server)
	client := newTestSwarm(t, swarm.WithKnownPeers(addr, swarm.PeerAddress{Address: "127.0.0.1", Port: 1}))
	defer client.Close()
	connected, err := client.DialKnownPeers(context.Background())
	assert.Equal(t, 1, connected)
	assert.Error(t, err)
	assert.Equal(t, []swarm.PeerId{server.LocalPeerId()}, client.Peers())
}

func TestSwarmClosed(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := newTestSwarm(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err := s.NextEvent(context.Background())
	assert.ErrorIs(t, err, swarm.ErrClosed)
	assert.ErrorIs(t, s.SendBlockRequest(1, 1), swarm.ErrClosed)
	assert.ErrorIs(t, s.Listen("127.0.0.1:0"), swarm.ErrClosed)
}
