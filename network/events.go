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

package network

import (
	"fmt"

	"github.com/blinklabs-io/gokate/block"
	"github.com/blinklabs-io/gokate/swarm"
)

// BlocksRequestId identifies an outstanding block request. Ids are allocated
// in strictly increasing order starting at zero.
type BlocksRequestId uint64

// Event is produced by Network.NextEvent
type Event interface {
	isEvent()
}

// BlocksAnnouncementReceived carries encoded block headers announced by a peer
type BlocksAnnouncementReceived struct {
	Peer    swarm.PeerId
	Headers [][]byte
}

// DecodeHeaders decodes the announced headers
func (e BlocksAnnouncementReceived) DecodeHeaders() ([]*block.Header, error) {
	ret := make([]*block.Header, 0, len(e.Headers))
	for idx, data := range e.Headers {
		header, err := block.NewHeaderFromCbor(data)
		if err != nil {
			return nil, fmt.Errorf("decode announced header %d: %w", idx, err)
		}
		ret = append(ret, header)
	}
	return ret, nil
}

// BlocksRequestFinished resolves a request started with StartBlockRequest.
// Exactly one of Block and Err is set.
type BlocksRequestFinished struct {
	Id    BlocksRequestId
	Peer  swarm.PeerId
	Block []byte
	Err   error
}

// DecodeHeader decodes the returned block header
func (e BlocksRequestFinished) DecodeHeader() (*block.Header, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	return block.NewHeaderFromCbor(e.Block)
}

// PeerConnected reports a new peer connection
type PeerConnected struct {
	Peer    swarm.PeerId
	Address string
	Inbound bool
}

// PeerDisconnected reports a lost peer connection
type PeerDisconnected struct {
	Peer swarm.PeerId
	Err  error
}

func (BlocksAnnouncementReceived) isEvent() {}
func (BlocksRequestFinished) isEvent()      {}
func (PeerConnected) isEvent()              {}
func (PeerDisconnected) isEvent()           {}
