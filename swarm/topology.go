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

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
)

// TopologyConfig lists the peers a node connects to at startup
type TopologyConfig struct {
	NetworkMagic uint32               `json:"networkMagic"`
	KnownPeers   []TopologyConfigPeer `json:"knownPeers"`
}

// TopologyConfigPeer is a single known peer. PeerId is optional; when set, the
// peer must present that identity during the handshake.
type TopologyConfigPeer struct {
	Address string `json:"address"`
	Port    uint   `json:"port"`
	PeerId  string `json:"peerId,omitempty"`
}

// PeerAddress is a dialable peer address with an optional expected identity
type PeerAddress struct {
	Address string
	Port    uint
	PeerId  *PeerId
}

// String returns the host:port form of the address
func (a PeerAddress) String() string {
	return net.JoinHostPort(a.Address, strconv.FormatUint(uint64(a.Port), 10))
}

// NewTopologyConfigFromFile loads a topology config from a JSON file
func NewTopologyConfigFromFile(path string) (*TopologyConfig, error) {
	dataFile, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer dataFile.Close()
	return NewTopologyConfigFromReader(dataFile)
}

// NewTopologyConfigFromReader loads a topology config from JSON
func NewTopologyConfigFromReader(r io.Reader) (*TopologyConfig, error) {
	t := &TopologyConfig{}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, err
	}
	return t, nil
}

// PeerAddresses returns the known peers as dialable addresses
func (t *TopologyConfig) PeerAddresses() ([]PeerAddress, error) {
	ret := make([]PeerAddress, 0, len(t.KnownPeers))
	for _, peer := range t.KnownPeers {
		if peer.Address == "" || peer.Port == 0 || peer.Port > 65535 {
			return nil, fmt.Errorf("invalid known peer address %q port %d", peer.Address, peer.Port)
		}
		addr := PeerAddress{
			Address: peer.Address,
			Port:    peer.Port,
		}
		if peer.PeerId != "" {
			peerId, err := ParsePeerId(peer.PeerId)
			if err != nil {
				return nil, fmt.Errorf("known peer %s: %w", addr, err)
			}
			addr.PeerId = &peerId
		}
		ret = append(ret, addr)
	}
	return ret, nil
}
