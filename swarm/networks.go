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

package swarm

// Network is a named peer network
type Network struct {
	Name         string
	NetworkMagic uint32
}

// Network definitions
var (
	NetworkMainnet = Network{
		Name:         "mainnet",
		NetworkMagic: 0x4b617465,
	}
	NetworkTuring = Network{
		Name:         "turing",
		NetworkMagic: 0x54757269,
	}
	NetworkLocal = Network{
		Name:         "local",
		NetworkMagic: 42,
	}

	NetworkInvalid = Network{
		Name:         "invalid",
		NetworkMagic: 0,
	} // NetworkInvalid is used as a return value for lookup functions when a network isn't found
)

// List of valid networks for use in lookup functions
var networks = []Network{
	NetworkMainnet,
	NetworkTuring,
	NetworkLocal,
}

// NetworkByName returns a predefined network by name
func NetworkByName(name string) Network {
	for _, network := range networks {
		if network.Name == name {
			return network
		}
	}
	return NetworkInvalid
}

// NetworkByNetworkMagic returns a predefined network by network magic
func NetworkByNetworkMagic(networkMagic uint32) Network {
	for _, network := range networks {
		if network.NetworkMagic == networkMagic {
			return network
		}
	}
	return NetworkInvalid
}

func (n Network) String() string {
	return n.Name
}
