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
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/gokate/swarm"
)

func TestIdentityFromSeed(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, 32)
	id1, err := swarm.NewIdentityFromSeed(seed)
	require.NoError(t, err)
	id2, err := swarm.NewIdentityFromSeed(seed)
	require.NoError(t, err)
	assert.True(t, id1.Equal(id2))
	assert.Equal(t, id1.PeerId(), id2.PeerId())
	_, err = swarm.NewIdentityFromSeed(seed[:31])
	assert.Error(t, err)
}

func TestPeerIdString(t *testing.T) {
	identity, err := swarm.GenerateIdentity()
	require.NoError(t, err)
	peerId := identity.PeerId()
	assert.False(t, peerId.IsZero())
	str := peerId.String()
	assert.True(t, strings.HasPrefix(str, "peer1"), "unexpected peer id string %s", str)
	parsed, err := swarm.ParsePeerId(str)
	require.NoError(t, err)
	assert.Equal(t, peerId, parsed)
}

func TestParsePeerIdInvalid(t *testing.T) {
	testDefs := []string{
		"",
		"peer1qqqq",
		"addr1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh",
	}
	for _, testDef := range testDefs {
		_, err := swarm.ParsePeerId(testDef)
		assert.Error(t, err, "input %q", testDef)
	}
}

func TestPeerIdFromPublicKey(t *testing.T) {
	identity, err := swarm.GenerateIdentity()
	require.NoError(t, err)
	peerId, err := swarm.PeerIdFromPublicKey(identity.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, identity.PeerId(), peerId)

	testDefs := []struct {
		name string
		key  []byte
	}{
		{name: "short", key: make([]byte, 31)},
		{name: "long", key: make([]byte, 33)},
		// no curve point has y = 2
		{name: "not on curve", key: append([]byte{0x02}, make([]byte, 31)...)},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			_, err := swarm.PeerIdFromPublicKey(testDef.key)
			assert.ErrorIs(t, err, swarm.ErrInvalidPublicKey)
		})
	}
}
