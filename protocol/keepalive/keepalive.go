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

// Package keepalive implements a liveness mini-protocol. The client pings the
// server with a cookie at a fixed period and the server echoes it back.
package keepalive

import (
	"time"

	"github.com/blinklabs-io/gokate/connection"
	"github.com/blinklabs-io/gokate/protocol"
)

const (
	ProtocolName        = "keep-alive"
	ProtocolId   uint16 = 4
)

const (
	// DefaultPeriod is the interval between a response and the next ping
	DefaultPeriod = 30 * time.Second
	// DefaultTimeout is how long the client waits for a response
	DefaultTimeout = 10 * time.Second
	// DefaultIdleTimeout is how long the server waits for the next ping
	DefaultIdleTimeout = 90 * time.Second
)

var (
	StateClient = protocol.NewState(1, "Client")
	StateServer = protocol.NewState(2, "Server")
	StateDone   = protocol.NewState(3, "Done")
)

// StateMap is the keep-alive protocol state machine. Timeouts are filled in from the Config.
var StateMap = protocol.StateMap{
	StateClient: protocol.StateMapEntry{
		Agency: protocol.AgencyClient,
		Transitions: []protocol.StateTransition{
			{
				MsgType:  MessageTypeKeepAlive,
				NewState: StateServer,
			},
			{
				MsgType:  MessageTypeDone,
				NewState: StateDone,
			},
		},
	},
	StateServer: protocol.StateMapEntry{
		Agency: protocol.AgencyServer,
		Transitions: []protocol.StateTransition{
			{
				MsgType:  MessageTypeKeepAliveResponse,
				NewState: StateClient,
			},
		},
	},
	StateDone: protocol.StateMapEntry{
		Agency: protocol.AgencyNone,
	},
}

// KeepAlive is a wrapper object that holds the client and server instances
type KeepAlive struct {
	Client *Client
	Server *Server
}

// Config is used to configure the KeepAlive protocol instance
type Config struct {
	KeepAliveFunc         KeepAliveFunc
	KeepAliveResponseFunc KeepAliveResponseFunc
	Period                time.Duration
	Timeout               time.Duration
	IdleTimeout           time.Duration
}

// CallbackContext provides context to the callback functions
type CallbackContext struct {
	ConnectionId connection.ConnectionId
	Client       *Client
	Server       *Server
}

// KeepAliveFunc is called on the server for every ping received
type KeepAliveFunc func(CallbackContext, uint16) error

// KeepAliveResponseFunc is called on the client with the measured round trip of each ping
type KeepAliveResponseFunc func(CallbackContext, uint16, time.Duration) error

// New returns a new KeepAlive object
func New(protoOptions protocol.ProtocolOptions, cfg *Config) *KeepAlive {
	k := &KeepAlive{
		Client: NewClient(protoOptions, cfg),
		Server: NewServer(protoOptions, cfg),
	}
	return k
}

// KeepAliveOptionFunc represents a function used to modify the KeepAlive protocol config
type KeepAliveOptionFunc func(*Config)

// NewConfig returns a new KeepAlive config object with the provided options
func NewConfig(options ...KeepAliveOptionFunc) Config {
	c := Config{
		Period:      DefaultPeriod,
		Timeout:     DefaultTimeout,
		IdleTimeout: DefaultIdleTimeout,
	}
	for _, option := range options {
		option(&c)
	}
	return c
}

// WithKeepAliveFunc specifies the callback for received pings
func WithKeepAliveFunc(keepAliveFunc KeepAliveFunc) KeepAliveOptionFunc {
	return func(c *Config) {
		c.KeepAliveFunc = keepAliveFunc
	}
}

// WithKeepAliveResponseFunc specifies the callback for received responses
func WithKeepAliveResponseFunc(
	keepAliveResponseFunc KeepAliveResponseFunc,
) KeepAliveOptionFunc {
	return func(c *Config) {
		c.KeepAliveResponseFunc = keepAliveResponseFunc
	}
}

// WithPeriod specifies the interval between pings
func WithPeriod(period time.Duration) KeepAliveOptionFunc {
	return func(c *Config) {
		c.Period = period
	}
}

// WithTimeout specifies how long the client waits for a response
func WithTimeout(timeout time.Duration) KeepAliveOptionFunc {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithIdleTimeout specifies how long the server waits for the next ping. It
// should comfortably exceed the peer's period.
func WithIdleTimeout(timeout time.Duration) KeepAliveOptionFunc {
	return func(c *Config) {
		c.IdleTimeout = timeout
	}
}

func (c *Config) stateMap() protocol.StateMap {
	stateMap := StateMap.Copy()
	if entry, ok := stateMap[StateClient]; ok {
		entry.Timeout = c.IdleTimeout
		stateMap[StateClient] = entry
	}
	if entry, ok := stateMap[StateServer]; ok {
		entry.Timeout = c.Timeout
		stateMap[StateServer] = entry
	}
	return stateMap
}
