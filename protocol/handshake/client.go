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

package handshake

import (
	"errors"
	"fmt"
	"sync"

	"github.com/blinklabs-io/gokate/protocol"
)

// Client implements the Handshake client
type Client struct {
	*protocol.Protocol
	config          *Config
	callbackContext CallbackContext
	onceStart       sync.Once
}

// NewClient returns a new Handshake client object
func NewClient(protoOptions protocol.ProtocolOptions, cfg *Config) *Client {
	if cfg == nil {
		tmpCfg := NewConfig()
		cfg = &tmpCfg
	}
	c := &Client{
		config: cfg,
	}
	c.callbackContext = CallbackContext{
		Client:       c,
		ConnectionId: protoOptions.ConnectionId,
	}
	// Update state map with timeout
	stateMap := StateMap.Copy()
	if entry, ok := stateMap[StateConfirm]; ok {
		entry.Timeout = c.config.Timeout
		stateMap[StateConfirm] = entry
	}
	protoConfig := protocol.ProtocolConfig{
		Name:                ProtocolName,
		ProtocolId:          ProtocolId,
		Muxer:               protoOptions.Muxer,
		Logger:              protoOptions.Logger,
		ErrorChan:           protoOptions.ErrorChan,
		ConnectionId:        protoOptions.ConnectionId,
		Role:                protocol.ProtocolRoleClient,
		MessageHandlerFunc:  c.handleMessage,
		MessageFromCborFunc: NewMsgFromCbor,
		StateMap:            stateMap,
		InitialState:        StatePropose,
	}
	c.Protocol = protocol.New(protoConfig)
	return c
}

// Start begins the handshake process by proposing our versions
func (c *Client) Start() {
	c.onceStart.Do(func() {
		c.Logger().
			Debug("starting client protocol",
				"component", "network",
				"protocol", ProtocolName,
				"connection_id", c.callbackContext.ConnectionId.String(),
			)
		c.Protocol.Start()
		msg := NewMsgProposeVersions(
			c.config.ProtocolVersions,
			c.config.NetworkMagic,
			c.config.PublicKey,
		)
		if err := c.SendMessage(msg); err != nil && !errors.Is(err, protocol.ErrProtocolShuttingDown) {
			c.SendError(err)
		}
	})
}

func (c *Client) handleMessage(msg protocol.Message) error {
	var err error
	switch msg.Type() {
	case MessageTypeAcceptVersion:
		err = c.handleAcceptVersion(msg)
	case MessageTypeRefuse:
		err = c.handleRefuse(msg)
	default:
		err = fmt.Errorf(
			"%s: received unexpected message type %d",
			ProtocolName,
			msg.Type(),
		)
	}
	return err
}

func (c *Client) handleAcceptVersion(msgGeneric protocol.Message) error {
	msg := msgGeneric.(*MsgAcceptVersion)
	if msg.NetworkMagic != c.config.NetworkMagic {
		return fmt.Errorf(
			"%w: expected %d, peer accepted with %d",
			ErrNetworkMagicMismatch,
			c.config.NetworkMagic,
			msg.NetworkMagic,
		)
	}
	if _, ok := highestCommonVersion(c.config.ProtocolVersions, []uint16{msg.Version}); !ok {
		return fmt.Errorf("%w: peer accepted unproposed version %d", ErrVersionMismatch, msg.Version)
	}
	if c.config.FinishedFunc == nil {
		return nil
	}
	return c.config.FinishedFunc(
		c.callbackContext,
		Result{
			Version:       msg.Version,
			NetworkMagic:  msg.NetworkMagic,
			PeerPublicKey: msg.PublicKey,
		},
	)
}

func (c *Client) handleRefuse(msgGeneric protocol.Message) error {
	msg := msgGeneric.(*MsgRefuse)
	switch msg.Reason {
	case RefuseReasonVersionMismatch:
		return fmt.Errorf("%w: %s", ErrVersionMismatch, msg.Message)
	case RefuseReasonNetworkMagic:
		return fmt.Errorf("%w: %s", ErrNetworkMagicMismatch, msg.Message)
	default:
		return fmt.Errorf("%w: %s", ErrRefused, msg.Message)
	}
}
