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

// Package handshake implements the connection handshake mini-protocol, which
// agrees on a protocol version and network magic and exchanges peer public keys
package handshake

import (
	"errors"
	"time"

	"github.com/blinklabs-io/gokate/connection"
	"github.com/blinklabs-io/gokate/muxer"
	"github.com/blinklabs-io/gokate/protocol"
)

// Protocol identifiers
const (
	ProtocolName        = "handshake"
	ProtocolId   uint16 = muxer.ProtocolHandshake
)

// DefaultTimeout bounds the wait for the server's answer to a proposal
const DefaultTimeout = 5 * time.Second

var (
	StatePropose = protocol.NewState(1, "Propose")
	StateConfirm = protocol.NewState(2, "Confirm")
	StateDone    = protocol.NewState(3, "Done")
)

// StateMap is the handshake protocol state machine
var StateMap = protocol.StateMap{
	StatePropose: protocol.StateMapEntry{
		Agency: protocol.AgencyClient,
		Transitions: []protocol.StateTransition{
			{
				MsgType:  MessageTypeProposeVersions,
				NewState: StateConfirm,
			},
		},
	},
	StateConfirm: protocol.StateMapEntry{
		Agency: protocol.AgencyServer,
		Transitions: []protocol.StateTransition{
			{
				MsgType:  MessageTypeAcceptVersion,
				NewState: StateDone,
			},
			{
				MsgType:  MessageTypeRefuse,
				NewState: StateDone,
			},
		},
	},
	StateDone: protocol.StateMapEntry{
		Agency: protocol.AgencyNone,
	},
}

var (
	ErrVersionMismatch      = errors.New("handshake: no common protocol version")
	ErrNetworkMagicMismatch = errors.New("handshake: network magic mismatch")
	ErrRefused              = errors.New("handshake: refused by peer")
)

// Handshake is a wrapper object that holds the client and server instances
type Handshake struct {
	Client *Client
	Server *Server
}

// Config is used to configure the Handshake protocol instance
type Config struct {
	ProtocolVersions []uint16
	NetworkMagic     uint32
	PublicKey        []byte
	FinishedFunc     FinishedFunc
	Timeout          time.Duration
}

// Result describes a completed handshake
type Result struct {
	Version       uint16
	NetworkMagic  uint32
	PeerPublicKey []byte
}

// CallbackContext provides context to the callback functions
type CallbackContext struct {
	ConnectionId connection.ConnectionId
	Client       *Client
	Server       *Server
}

// FinishedFunc is called on both sides once a version has been accepted
type FinishedFunc func(CallbackContext, Result) error

// New returns a new Handshake object
func New(protoOptions protocol.ProtocolOptions, cfg *Config) *Handshake {
	h := &Handshake{
		Client: NewClient(protoOptions, cfg),
		Server: NewServer(protoOptions, cfg),
	}
	return h
}

// HandshakeOptionFunc represents a function used to modify the Handshake protocol config
type HandshakeOptionFunc func(*Config)

// NewConfig returns a new Handshake config object with the provided options
func NewConfig(options ...HandshakeOptionFunc) Config {
	c := Config{
		Timeout: DefaultTimeout,
	}
	for _, option := range options {
		option(&c)
	}
	return c
}

// WithProtocolVersions specifies the supported protocol versions
func WithProtocolVersions(versions ...uint16) HandshakeOptionFunc {
	return func(c *Config) {
		c.ProtocolVersions = versions
	}
}

// WithNetworkMagic specifies the network magic value
func WithNetworkMagic(networkMagic uint32) HandshakeOptionFunc {
	return func(c *Config) {
		c.NetworkMagic = networkMagic
	}
}

// WithPublicKey specifies the local peer public key sent to the remote side
func WithPublicKey(publicKey []byte) HandshakeOptionFunc {
	return func(c *Config) {
		c.PublicKey = publicKey
	}
}

// WithFinishedFunc specifies the Finished callback function
func WithFinishedFunc(finishedFunc FinishedFunc) HandshakeOptionFunc {
	return func(c *Config) {
		c.FinishedFunc = finishedFunc
	}
}

// WithTimeout specifies the timeout for the handshake operation
func WithTimeout(timeout time.Duration) HandshakeOptionFunc {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// highestCommonVersion returns the highest version present in both lists
func highestCommonVersion(ours, theirs []uint16) (uint16, bool) {
	var best uint16
	found := false
	for _, a := range ours {
		for _, b := range theirs {
			if a == b && (!found || a > best) {
				best = a
				found = true
			}
		}
	}
	return best, found
}
