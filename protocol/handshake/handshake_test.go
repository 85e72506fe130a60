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

package handshake_test

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/blinklabs-io/gokate/connection"
	"github.com/blinklabs-io/gokate/muxer"
	"github.com/blinklabs-io/gokate/protocol"
	"github.com/blinklabs-io/gokate/protocol/handshake"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

type handshakeOutcome struct {
	clientResult chan handshake.Result
	serverResult chan handshake.Result
	clientErr    chan error
	serverErr    chan error
}

func runHandshake(
	t *testing.T,
	clientOpts []handshake.HandshakeOptionFunc,
	serverOpts []handshake.HandshakeOptionFunc,
	serverFinished func(handshake.Result) error,
) (*handshakeOutcome, func()) {
	t.Helper()
	connA, connB := net.Pipe()
	muxA := muxer.New(connA)
	muxB := muxer.New(connB)
	out := &handshakeOutcome{
		clientResult: make(chan handshake.Result, 1),
		serverResult: make(chan handshake.Result, 1),
		clientErr:    make(chan error, 5),
		serverErr:    make(chan error, 5),
	}
	clientCfg := handshake.NewConfig(append(clientOpts,
		handshake.WithFinishedFunc(func(_ handshake.CallbackContext, r handshake.Result) error {
			out.clientResult <- r
			return nil
		}),
	)...)
	serverCfg := handshake.NewConfig(append(serverOpts,
		handshake.WithFinishedFunc(func(_ handshake.CallbackContext, r handshake.Result) error {
			out.serverResult <- r
			if serverFinished != nil {
				return serverFinished(r)
			}
			return nil
		}),
	)...)
	client := handshake.NewClient(
		protocol.ProtocolOptions{
			ConnectionId: connection.NewConnectionId(connA),
			Muxer:        muxA,
			ErrorChan:    out.clientErr,
		},
		&clientCfg,
	)
	server := handshake.NewServer(
		protocol.ProtocolOptions{
			ConnectionId: connection.NewConnectionId(connB),
			Muxer:        muxB,
			ErrorChan:    out.serverErr,
		},
		&serverCfg,
	)
	server.Start()
	client.Start()
	return out, func() {
		client.Stop()
		server.Stop()
		muxA.Stop()
		muxB.Stop()
	}
}

func TestHandshakeAccept(t *testing.T) {
	defer goleak.VerifyNone(t)
	out, stop := runHandshake(
		t,
		[]handshake.HandshakeOptionFunc{
			handshake.WithProtocolVersions(1, 2, 3),
			handshake.WithNetworkMagic(42),
			handshake.WithPublicKey([]byte("client-key")),
		},
		[]handshake.HandshakeOptionFunc{
			handshake.WithProtocolVersions(2, 3, 4),
			handshake.WithNetworkMagic(42),
			handshake.WithPublicKey([]byte("server-key")),
		},
		nil,
	)
	defer stop()
	select {
	case r := <-out.clientResult:
		assert.Equal(t, uint16(3), r.Version)
		assert.Equal(t, uint32(42), r.NetworkMagic)
		assert.Equal(t, []byte("server-key"), r.PeerPublicKey)
	case err := <-out.clientErr:
		t.Fatalf("client error: %s", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client handshake")
	}
	r := <-out.serverResult
	assert.Equal(t, uint16(3), r.Version)
	assert.Equal(t, []byte("client-key"), r.PeerPublicKey)
}

func TestHandshakeRefused(t *testing.T) {
	testDefs := []struct {
		name           string
		clientOpts     []handshake.HandshakeOptionFunc
		serverOpts     []handshake.HandshakeOptionFunc
		expectedErr    error
	}{
		{
			name:        "version mismatch",
			clientOpts:  []handshake.HandshakeOptionFunc{handshake.WithProtocolVersions(1)},
			serverOpts:  []handshake.HandshakeOptionFunc{handshake.WithProtocolVersions(2)},
			expectedErr: handshake.ErrVersionMismatch,
		},
		{
			name: "network magic mismatch",
			clientOpts: []handshake.HandshakeOptionFunc{
				handshake.WithProtocolVersions(1),
				handshake.WithNetworkMagic(1),
			},
			serverOpts: []handshake.HandshakeOptionFunc{
				handshake.WithProtocolVersions(1),
				handshake.WithNetworkMagic(2),
			},
			expectedErr: handshake.ErrNetworkMagicMismatch,
		},
	}
	for _, test := range testDefs {
		t.Run(test.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)
			out, stop := runHandshake(t, test.clientOpts, test.serverOpts, nil)
			defer stop()
			select {
			case err := <-out.clientErr:
				assert.ErrorIs(t, err, test.expectedErr)
			case <-out.clientResult:
				t.Fatal("handshake unexpectedly succeeded")
			case <-time.After(2 * time.Second):
				t.Fatal("timed out waiting for client error")
			}
		})
	}
}

func TestHandshakeServerRejectsPeer(t *testing.T) {
	defer goleak.VerifyNone(t)
	out, stop := runHandshake(
		t,
		[]handshake.HandshakeOptionFunc{handshake.WithProtocolVersions(1)},
		[]handshake.HandshakeOptionFunc{handshake.WithProtocolVersions(1)},
		func(handshake.Result) error {
			return errors.New("invalid public key")
		},
	)
	defer stop()
	select {
	case err := <-out.serverErr:
		assert.ErrorContains(t, err, "invalid public key")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server error")
	}
}
