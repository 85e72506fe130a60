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
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// SwarmOptionFunc is used to set options for the Swarm
type SwarmOptionFunc func(*Swarm)

// HeaderProviderFunc looks up the encoded header for a block number to serve a
// peer request. A nil header means the block is not available.
type HeaderProviderFunc func(blockNum uint32) ([]byte, error)

// WithIdentity specifies the local peer identity. A random identity is generated if not set.
func WithIdentity(identity *Identity) SwarmOptionFunc {
	return func(s *Swarm) {
		s.identity = identity
	}
}

// WithNetworkMagic specifies the network magic value peers must agree on
func WithNetworkMagic(networkMagic uint32) SwarmOptionFunc {
	return func(s *Swarm) {
		s.networkMagic = networkMagic
	}
}

// WithLogger specifies the logger
func WithLogger(logger *slog.Logger) SwarmOptionFunc {
	return func(s *Swarm) {
		s.logger = logger
	}
}

// WithRequestTimeout specifies how long a block request may go unanswered
func WithRequestTimeout(timeout time.Duration) SwarmOptionFunc {
	return func(s *Swarm) {
		s.requestTimeout = timeout
	}
}

// WithHandshakeTimeout specifies how long a new connection may take to complete the handshake
func WithHandshakeTimeout(timeout time.Duration) SwarmOptionFunc {
	return func(s *Swarm) {
		s.handshakeTimeout = timeout
	}
}

// WithMaxPipelined specifies how many block requests may be outstanding per connection
func WithMaxPipelined(maxPipelined int) SwarmOptionFunc {
	return func(s *Swarm) {
		s.maxPipelined = maxPipelined
	}
}

// WithKeepAlivePeriod specifies the interval between liveness pings to each
// peer. Peers drop connections that stay silent for keepalive.DefaultIdleTimeout.
func WithKeepAlivePeriod(period time.Duration) SwarmOptionFunc {
	return func(s *Swarm) {
		s.keepAlivePeriod = period
	}
}

// WithClock specifies the clock used for request timeouts
func WithClock(clk clock.Clock) SwarmOptionFunc {
	return func(s *Swarm) {
		s.clock = clk
	}
}

// WithHeaderProviderFunc specifies the lookup used to answer peer block requests
func WithHeaderProviderFunc(headerProviderFunc HeaderProviderFunc) SwarmOptionFunc {
	return func(s *Swarm) {
		s.headerProviderFunc = headerProviderFunc
	}
}

// WithEventQueueSize specifies how many events may be buffered before the swarm
// stops reading from peers
func WithEventQueueSize(size int) SwarmOptionFunc {
	return func(s *Swarm) {
		s.eventQueueSize = size
	}
}

// WithAnnouncementCacheSize specifies how many announced headers are remembered for de-duplication
func WithAnnouncementCacheSize(size int) SwarmOptionFunc {
	return func(s *Swarm) {
		s.announcementCacheSize = size
	}
}

// WithKnownPeers registers peers for DialKnownPeers
func WithKnownPeers(peers ...PeerAddress) SwarmOptionFunc {
	return func(s *Swarm) {
		s.knownPeers = append(s.knownPeers, peers...)
	}
}
