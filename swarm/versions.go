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

import "slices"

type protocolVersion struct {
	// Most of these are enabled in all of the versions we support, but they
	// are here for completeness
	EnableBlockRequestProtocol  bool
	EnableBlockAnnounceProtocol bool
	EnableKeepAliveProtocol     bool
}

// Map of peer protocol versions to protocol features
var protocolVersionMap = map[uint16]protocolVersion{
	1: {
		EnableBlockRequestProtocol: true,
	},
	// added block-announce
	2: {
		EnableBlockRequestProtocol:  true,
		EnableBlockAnnounceProtocol: true,
	},
	// added keep-alive
	3: {
		EnableBlockRequestProtocol:  true,
		EnableBlockAnnounceProtocol: true,
		EnableKeepAliveProtocol:     true,
	},
}

// ProtocolVersions returns the list of supported protocol versions in ascending order
func ProtocolVersions() []uint16 {
	versions := make([]uint16, 0, len(protocolVersionMap))
	for version := range protocolVersionMap {
		versions = append(versions, version)
	}
	slices.Sort(versions)
	return versions
}

func getProtocolVersion(version uint16) protocolVersion {
	return protocolVersionMap[version]
}
