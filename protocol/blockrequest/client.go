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

package blockrequest

import (
	"fmt"
	"sync"

	"github.com/blinklabs-io/gokate/protocol"
)

// Client implements the BlockRequest client
type Client struct {
	*protocol.Protocol
	config          *Config
	callbackContext CallbackContext
	stateContext    *StateContext
	onceStart       sync.Once
	onceStop        sync.Once
}

// NewClient returns a new BlockRequest client object
func NewClient(protoOptions protocol.ProtocolOptions, cfg *Config) *Client {
	if cfg == nil {
		tmpCfg := NewConfig()
		cfg = &tmpCfg
	}
	c := &Client{
		config:       cfg,
		stateContext: newStateContext(cfg.MaxPipelined),
	}
	c.callbackContext = CallbackContext{
		Client:       c,
		ConnectionId: protoOptions.ConnectionId,
	}
	// Update state map with timeout
	stateMap := StateMap.Copy()
	if entry, ok := stateMap[StateBusy]; ok {
		entry.Timeout = c.config.BusyTimeout
		stateMap[StateBusy] = entry
	}
	protoConfig := protocol.ProtocolConfig{
		Name:                ProtocolName,
		ProtocolId:          ProtocolId,
		Muxer:               protoOptions.Muxer,
		Logger:              protoOptions.Logger,
		ErrorChan:           protoOptions.ErrorChan,
		ConnectionId:        protoOptions.ConnectionId,
		Role:                protocol.ProtocolRoleClient,
		MessageHandlerFunc:  c.messageHandler,
		MessageFromCborFunc: NewMsgFromCbor,
		StateMap:            stateMap,
		StateContext:        c.stateContext,
		InitialState:        StateIdle,
	}
	c.Protocol = protocol.New(protoConfig)
	return c
}

// Start begins the BlockRequest client protocol. Safe to call multiple times.
func (c *Client) Start() {
	c.onceStart.Do(func() {
		c.Logger().
			Debug("starting client protocol",
				"component", "network",
				"protocol", ProtocolName,
				"connection_id", c.callbackContext.ConnectionId.String(),
			)
		c.Protocol.Start()
	})
}

// Stop sends Done if no requests are outstanding and shuts down the protocol
func (c *Client) Stop() error {
	var err error
	c.onceStop.Do(func() {
		c.Logger().
			Debug("stopping client protocol",
				"component", "network",
				"protocol", ProtocolName,
				"connection_id", c.callbackContext.ConnectionId.String(),
			)
		if !c.IsDone() && c.CurrentState() == StateIdle {
			err = c.SendMessage(NewMsgDone())
		}
		c.Protocol.Stop()
	})
	return err
}

// InFlight returns the number of requests awaiting a response
func (c *Client) InFlight() int {
	return c.stateContext.PipelineCount()
}

// RequestBlock sends a request for the header of blockNum. The response is
// delivered asynchronously to the BlockFunc or NoBlockFunc callback.
func (c *Client) RequestBlock(requestId uint64, blockNum uint32) error {
	c.Logger().
		Debug(
			fmt.Sprintf("calling RequestBlock(requestId: %d, blockNum: %d)", requestId, blockNum),
			"component", "network",
			"protocol", ProtocolName,
			"role", "client",
			"connection_id", c.callbackContext.ConnectionId.String(),
		)
	if c.config.MaxPipelined > 0 && c.InFlight() >= c.config.MaxPipelined {
		return ErrPipelineFull
	}
	return c.SendMessage(NewMsgRequestBlock(requestId, blockNum))
}

func (c *Client) messageHandler(msg protocol.Message) error {
	var err error
	switch msg.Type() {
	case MessageTypeBlock:
		err = c.handleBlock(msg)
	case MessageTypeNoBlock:
		err = c.handleNoBlock(msg)
	default:
		err = fmt.Errorf(
			"%s: received unexpected message type %d",
			ProtocolName,
			msg.Type(),
		)
	}
	return err
}

func (c *Client) handleBlock(msgGeneric protocol.Message) error {
	msg := msgGeneric.(*MsgBlock)
	if c.config.BlockFunc == nil {
		return fmt.Errorf(
			"received %s Block message but no callback function is defined",
			ProtocolName,
		)
	}
	return c.config.BlockFunc(c.callbackContext, msg.RequestId, msg.Header.Bytes())
}

func (c *Client) handleNoBlock(msgGeneric protocol.Message) error {
	msg := msgGeneric.(*MsgNoBlock)
	if c.config.NoBlockFunc == nil {
		return fmt.Errorf(
			"received %s NoBlock message but no callback function is defined",
			ProtocolName,
		)
	}
	return c.config.NoBlockFunc(c.callbackContext, msg.RequestId)
}
