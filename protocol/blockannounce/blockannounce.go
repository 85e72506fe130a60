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

// Package blockannounce implements a push mini-protocol in which the client
// announces newly produced block headers to the server
package blockannounce

import (
	"github.com/blinklabs-io/gokate/connection"
	"github.com/blinklabs-io/gokate/protocol"
)

const (
	ProtocolName        = "block-announce"
	ProtocolId   uint16 = 2
)

// DefaultMaxHeaders limits the number of headers in one announcement
const DefaultMaxHeaders = 100

var (
	StateIdle = protocol.NewState(1, "Idle")
	StateDone = protocol.NewState(2, "Done")
)

// StateMap is the block-announce protocol state machine
var StateMap = protocol.StateMap{
	StateIdle: protocol.StateMapEntry{
		Agency: protocol.AgencyClient,
		Transitions: []protocol.StateTransition{
			{
				MsgType:  MessageTypeAnnounce,
				NewState: StateIdle,
			},
			{
				MsgType:  MessageTypeDone,
				NewState: StateDone,
			},
		},
	},
	StateDone: protocol.StateMapEntry{
		Agency: protocol.AgencyNone,
	},
}

// BlockAnnounce is a wrapper object that holds the client and server instances
type BlockAnnounce struct {
	Client *Client
	Server *Server
}

// Config is used to configure the BlockAnnounce protocol instance
type Config struct {
	AnnounceFunc AnnounceFunc
	MaxHeaders   int
}

// CallbackContext provides context to the callback functions
type CallbackContext struct {
	ConnectionId connection.ConnectionId
	Client       *Client
	Server       *Server
}

// AnnounceFunc is called on the server for every announcement received
type AnnounceFunc func(CallbackContext, [][]byte) error

// New returns a new BlockAnnounce object
func New(protoOptions protocol.ProtocolOptions, cfg *Config) *BlockAnnounce {
	b := &BlockAnnounce{
		Client: NewClient(protoOptions, cfg),
		Server: NewServer(protoOptions, cfg),
	}
	return b
}

// BlockAnnounceOptionFunc represents a function used to modify the BlockAnnounce protocol config
type BlockAnnounceOptionFunc func(*Config)

// NewConfig returns a new BlockAnnounce config object with the provided options
func NewConfig(options ...BlockAnnounceOptionFunc) Config {
	c := Config{
		MaxHeaders: DefaultMaxHeaders,
	}
	for _, option := range options {
		option(&c)
	}
	return c
}

// WithAnnounceFunc specifies the callback for received announcements
func WithAnnounceFunc(announceFunc AnnounceFunc) BlockAnnounceOptionFunc {
	return func(c *Config) {
		c.AnnounceFunc = announceFunc
	}
}

// WithMaxHeaders specifies the largest accepted announcement
func WithMaxHeaders(maxHeaders int) BlockAnnounceOptionFunc {
	return func(c *Config) {
		c.MaxHeaders = maxHeaders
	}
}
