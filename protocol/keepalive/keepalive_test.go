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

package keepalive_test

import (
	"net"
	"testing"
	"time"

	"github.com/blinklabs-io/gokate/connection"
	"github.com/blinklabs-io/gokate/muxer"
	"github.com/blinklabs-io/gokate/protocol"
	"github.com/blinklabs-io/gokate/protocol/keepalive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type keepAlivePair struct {
	client    *keepalive.Client
	clientErr chan error
	stop      func()
}

func newKeepAlivePair(t *testing.T, clientCfg keepalive.Config, serverCfg keepalive.Config) *keepAlivePair {
	t.Helper()
	connA, connB := net.Pipe()
	muxA := muxer.New(connA)
	muxB := muxer.New(connB)
	clientErr := make(chan error, 5)
	client := keepalive.NewClient(
		protocol.ProtocolOptions{
			ConnectionId: connection.NewConnectionId(connA),
			Muxer:        muxA,
			ErrorChan:    clientErr,
		},
		&clientCfg,
	)
	server := keepalive.NewServer(
		protocol.ProtocolOptions{
			ConnectionId: connection.NewConnectionId(connB),
			Muxer:        muxB,
			ErrorChan:    make(chan error, 5),
		},
		&serverCfg,
	)
	server.Start()
	muxA.Start()
	muxB.Start()
	client.Start()
	return &keepAlivePair{
		client:    client,
		clientErr: clientErr,
		stop: func() {
			_ = client.Stop()
			server.Stop()
			muxA.Stop()
			muxB.Stop()
		},
	}
}

func TestKeepAlivePeriodicPings(t *testing.T) {
	defer goleak.VerifyNone(t)
	cookies := make(chan uint16, 10)
	serverCookies := make(chan uint16, 10)
	pair := newKeepAlivePair(
		t,
		keepalive.NewConfig(
			keepalive.WithPeriod(10*time.Millisecond),
			keepalive.WithKeepAliveResponseFunc(func(_ keepalive.CallbackContext, cookie uint16, _ time.Duration) error {
				select {
				case cookies <- cookie:
				default:
				}
				return nil
			}),
		),
		keepalive.NewConfig(
			keepalive.WithKeepAliveFunc(func(_ keepalive.CallbackContext, cookie uint16) error {
				select {
				case serverCookies <- cookie:
				default:
				}
				return nil
			}),
		),
	)
	defer pair.stop()
	for expected := uint16(1); expected <= 3; expected++ {
		select {
		case cookie := <-cookies:
			assert.Equal(t, expected, cookie)
		case err := <-pair.clientErr:
			t.Fatalf("unexpected client error: %s", err)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for keep-alive response")
		}
	}
	assert.Equal(t, uint16(1), <-serverCookies)
	assert.Positive(t, pair.client.RoundTrip())
}

func TestKeepAliveResponseTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)
	release := make(chan struct{})
	pair := newKeepAlivePair(
		t,
		keepalive.NewConfig(keepalive.WithTimeout(50*time.Millisecond)),
		keepalive.NewConfig(
			keepalive.WithKeepAliveFunc(func(keepalive.CallbackContext, uint16) error {
				<-release
				return nil
			}),
		),
	)
	defer pair.stop()
	defer close(release)
	select {
	case err := <-pair.clientErr:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for keep-alive timeout")
	}
}
