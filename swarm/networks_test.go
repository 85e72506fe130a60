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
	"testing"

	"github.com/blinklabs-io/gokate/swarm"
)

func TestNetworkLookup(t *testing.T) {
	testDefs := []struct {
		name     string
		expected swarm.Network
	}{
		{name: "mainnet", expected: swarm.NetworkMainnet},
		{name: "turing", expected: swarm.NetworkTuring},
		{name: "local", expected: swarm.NetworkLocal},
		{name: "preview", expected: swarm.NetworkInvalid},
	}
	for _, testDef := range testDefs {
		if got := swarm.NetworkByName(testDef.name); got != testDef.expected {
			t.Fatalf("did not get expected network for %s: got %s", testDef.name, got)
		}
		if testDef.expected == swarm.NetworkInvalid {
			continue
		}
		if got := swarm.NetworkByNetworkMagic(testDef.expected.NetworkMagic); got != testDef.expected {
			t.Fatalf("did not get expected network for magic %d: got %s", testDef.expected.NetworkMagic, got)
		}
	}
}
