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

package connection_test

import (
	"net"
	"testing"

	"github.com/blinklabs-io/gokate/connection"
	"github.com/stretchr/testify/assert"
)

func TestConnectionIdString(t *testing.T) {
	connId := connection.ConnectionId{
		LocalAddr:  &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 3001},
		RemoteAddr: &net.TCPAddr{IP: net.ParseIP("10.0.0.2"), Port: 4001},
	}
	assert.Equal(t, "127.0.0.1:3001<>10.0.0.2:4001", connId.String())
	assert.Equal(t, "<>", connection.ConnectionId{}.String())
}

func TestConnectionIdComparable(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()
	a := connection.NewConnectionId(local)
	b := connection.NewConnectionId(local)
	ids := map[connection.ConnectionId]bool{a: true}
	assert.True(t, ids[b])
}
