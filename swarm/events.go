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

// Event is a notification produced by the swarm
type Event interface {
	isEvent()
}

// AnnouncementEvent carries block headers announced by a peer. Headers already
// seen from any peer are removed before the event is produced.
type AnnouncementEvent struct {
	Peer    PeerId
	Headers [][]byte
}

// BlockResponseEvent carries the header returned for a block request. It is also
// produced for responses that arrive after the request timed out.
type BlockResponseEvent struct {
	Peer      PeerId
	RequestId uint64
	Header    []byte
}

// RequestFailedEvent reports a block request that will not receive a response
type RequestFailedEvent struct {
	Peer      PeerId
	RequestId uint64
	Err       error
}

// InboundRequestEvent reports a block request from a peer that the swarm served
type InboundRequestEvent struct {
	Peer     PeerId
	BlockNum uint32
	Found    bool
}

// PeerConnectedEvent reports a completed handshake with a peer
type PeerConnectedEvent struct {
	Peer    PeerId
	Address string
	Inbound bool
}

// PeerDisconnectedEvent reports a closed peer connection
type PeerDisconnectedEvent struct {
	Peer PeerId
	Err  error
}

func (AnnouncementEvent) isEvent()     {}
func (BlockResponseEvent) isEvent()    {}
func (RequestFailedEvent) isEvent()    {}
func (InboundRequestEvent) isEvent()   {}
func (PeerConnectedEvent) isEvent()    {}
func (PeerDisconnectedEvent) isEvent() {}
