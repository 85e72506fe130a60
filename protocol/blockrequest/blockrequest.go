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

// Package blockrequest implements a pipelined mini-protocol for requesting
// encoded block headers by number. Every request carries an id chosen by the
// client that is echoed in the matching response.
package blockrequest

import (
	"errors"
	"sync"
	"time"

	"github.com/blinklabs-io/gokate/connection"
	"github.com/blinklabs-io/gokate/protocol"
)

const (
	ProtocolName        = "block-request"
	ProtocolId   uint16 = 3
)

const (
	DefaultMaxPipelined = 100
	DefaultBusyTimeout  = 60 * time.Second
)

var (
	StateIdle = protocol.NewState(1, "Idle")
	StateBusy = protocol.NewState(2, "Busy")
	StateDone = protocol.NewState(3, "Done")
)

// ErrPipelineFull is returned by Client.RequestBlock when the configured number
// of requests is already outstanding on the connection
var ErrPipelineFull = errors.New("block-request: pipeline full")

// StateMap is the block-request protocol state machine. The client may keep
// sending requests while the server has agency; the pipeline count decides
// whether a response returns the protocol to Idle.
var StateMap = protocol.StateMap{
	StateIdle: protocol.StateMapEntry{
		Agency: protocol.AgencyClient,
		Transitions: []protocol.StateTransition{
			{
				MsgType:   MessageTypeRequestBlock,
				NewState:  StateBusy,
				MatchFunc: IncrementPipelineCount,
			},
			{
				MsgType:  MessageTypeDone,
				NewState: StateDone,
			},
		},
	},
	StateBusy: protocol.StateMapEntry{
		Agency: protocol.AgencyServer,
		Transitions: []protocol.StateTransition{
			{
				MsgType:   MessageTypeRequestBlock,
				NewState:  StateBusy,
				MatchFunc: IncrementPipelineCount,
			},
			{
				MsgType:   MessageTypeBlock,
				NewState:  StateIdle,
				MatchFunc: DecrementPipelineCountAndIsEmpty,
			},
			{
				MsgType:   MessageTypeBlock,
				NewState:  StateBusy,
				MatchFunc: DecrementPipelineCountAndIsNotEmpty,
			},
			{
				MsgType:   MessageTypeNoBlock,
				NewState:  StateIdle,
				MatchFunc: DecrementPipelineCountAndIsEmpty,
			},
			{
				MsgType:   MessageTypeNoBlock,
				NewState:  StateBusy,
				MatchFunc: DecrementPipelineCountAndIsNotEmpty,
			},
		},
	},
	StateDone: protocol.StateMapEntry{
		Agency: protocol.AgencyNone,
	},
}

// StateContext tracks the number of requests awaiting a response
type StateContext struct {
	mu            sync.Mutex
	pipelineCount int
	pipelineLimit int
}

func newStateContext(limit int) *StateContext {
	return &StateContext{pipelineLimit: limit}
}

// PipelineCount returns the number of requests awaiting a response
func (s *StateContext) PipelineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipelineCount
}

var IncrementPipelineCount = func(context any, msg protocol.Message) bool {
	s := context.(*StateContext)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pipelineLimit > 0 && s.pipelineCount >= s.pipelineLimit {
		return false
	}
	s.pipelineCount++
	return true
}

var DecrementPipelineCountAndIsEmpty = func(context any, msg protocol.Message) bool {
	s := context.(*StateContext)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pipelineCount == 1 {
		s.pipelineCount--
		return true
	}
	return false
}

var DecrementPipelineCountAndIsNotEmpty = func(context any, msg protocol.Message) bool {
	s := context.(*StateContext)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pipelineCount > 1 {
		s.pipelineCount--
		return true
	}
	return false
}

// BlockRequest is a wrapper object that holds the client and server instances
type BlockRequest struct {
	Client *Client
	Server *Server
}

// Config is used to configure the BlockRequest protocol instance
type Config struct {
	BlockFunc        BlockFunc
	NoBlockFunc      NoBlockFunc
	RequestBlockFunc RequestBlockFunc
	MaxPipelined     int
	BusyTimeout      time.Duration
}

// CallbackContext provides context to the callback functions
type CallbackContext struct {
	ConnectionId connection.ConnectionId
	Client       *Client
	Server       *Server
}

// Callback function types
type (
	// BlockFunc is called on the client for every header received
	BlockFunc func(ctx CallbackContext, requestId uint64, header []byte) error
	// NoBlockFunc is called on the client when the server does not have the requested block
	NoBlockFunc func(ctx CallbackContext, requestId uint64) error
	// RequestBlockFunc is called on the server to look up a header. A nil header means not found.
	RequestBlockFunc func(ctx CallbackContext, blockNum uint32) ([]byte, error)
)

// New returns a new BlockRequest object
func New(protoOptions protocol.ProtocolOptions, cfg *Config) *BlockRequest {
	b := &BlockRequest{
		Client: NewClient(protoOptions, cfg),
		Server: NewServer(protoOptions, cfg),
	}
	return b
}

// BlockRequestOptionFunc represents a function used to modify the BlockRequest protocol config
type BlockRequestOptionFunc func(*Config)

// NewConfig returns a new BlockRequest config object with the provided options
func NewConfig(options ...BlockRequestOptionFunc) Config {
	c := Config{
		MaxPipelined: DefaultMaxPipelined,
		BusyTimeout:  DefaultBusyTimeout,
	}
	for _, option := range options {
		option(&c)
	}
	return c
}

// WithBlockFunc specifies the callback for received headers
func WithBlockFunc(blockFunc BlockFunc) BlockRequestOptionFunc {
	return func(c *Config) {
		c.BlockFunc = blockFunc
	}
}

// WithNoBlockFunc specifies the callback for unavailable blocks
func WithNoBlockFunc(noBlockFunc NoBlockFunc) BlockRequestOptionFunc {
	return func(c *Config) {
		c.NoBlockFunc = noBlockFunc
	}
}

// WithRequestBlockFunc specifies the server-side header lookup
func WithRequestBlockFunc(requestBlockFunc RequestBlockFunc) BlockRequestOptionFunc {
	return func(c *Config) {
		c.RequestBlockFunc = requestBlockFunc
	}
}

// WithMaxPipelined specifies how many requests may be outstanding at once
func WithMaxPipelined(maxPipelined int) BlockRequestOptionFunc {
	return func(c *Config) {
		c.MaxPipelined = maxPipelined
	}
}

// WithBusyTimeout specifies how long the client waits for the next response
func WithBusyTimeout(timeout time.Duration) BlockRequestOptionFunc {
	return func(c *Config) {
		c.BusyTimeout = timeout
	}
}
