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

import "errors"

var (
	// ErrNoPeers is returned when an operation needs a connected peer and there is none
	ErrNoPeers = errors.New("swarm: no connected peers")
	// ErrRequestTimeout is reported for block requests that received no response in time
	ErrRequestTimeout = errors.New("swarm: block request timed out")
	// ErrConnectionClosed is reported for block requests outstanding on a connection that closed
	ErrConnectionClosed = errors.New("swarm: connection closed")
	// ErrNotFound is reported when the peer does not have the requested block
	ErrNotFound = errors.New("swarm: block not found")
	// ErrClosed is returned by operations on a closed swarm
	ErrClosed = errors.New("swarm: closed")
	// ErrInvalidPublicKey is returned for peer keys that are not valid ed25519 points
	ErrInvalidPublicKey = errors.New("swarm: invalid public key")
	// ErrPeerIdMismatch is returned when a dialed peer presents an unexpected identity
	ErrPeerIdMismatch = errors.New("swarm: peer id mismatch")
	// ErrSelfConnection is returned when a connection turns out to be to ourselves
	ErrSelfConnection = errors.New("swarm: connection to self")
	// ErrDuplicateRequest is returned when a request id is already outstanding
	ErrDuplicateRequest = errors.New("swarm: duplicate request id")
)
