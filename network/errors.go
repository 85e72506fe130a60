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
	"errors"
	"fmt"

	"github.com/blinklabs-io/gokate/swarm"
)

var (
	// ErrRequestIdExhausted is returned when no further request ids can be allocated
	ErrRequestIdExhausted = errors.New("network: block request ids exhausted")
	// ErrNetworkClosed is returned by NextEvent once the swarm has shut down
	ErrNetworkClosed = errors.New("network: closed")
)

// NetworkError wraps a swarm failure for a single operation
type NetworkError struct {
	Op   string
	Peer swarm.PeerId
	Err  error
}

func (e *NetworkError) Error() string {
	if e.Peer.IsZero() {
		return fmt.Sprintf("network: %s: %s", e.Op, e.Err)
	}
	return fmt.Sprintf("network: %s (peer %s): %s", e.Op, e.Peer, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
