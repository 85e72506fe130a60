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

package blockannounce

import (
	"errors"
	"fmt"
	"sync"

	"github.com/blinklabs-io/gokate/protocol"
)

// ErrEmptyAnnouncement is returned when announcing no headers
var ErrEmptyAnnouncement = errors.New("block-announce: no headers to announce")

// Client implements the BlockAnnounce client
type Client struct {
	*protocol.Protocol
	config          *Config
	callbackContext CallbackContext
	onceStart       sync.Once
	onceStop        sync.Once
}

// NewClient returns a new BlockAnnounce client object
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
		StateMap:            StateMap,
		InitialState:        StateIdle,
	}
	c.Protocol = protocol.New(protoConfig)
	return c
}

// Start begins the BlockAnnounce client protocol. Safe to call multiple times.
func (c *Client) Start() {
	c.onceStart.Do(func() {
		c.Protocol.Start()
	})
}

// Stop sends Done and shuts down the protocol
func (c *Client) Stop() error {
	var err error
	c.onceStop.Do(func() {
		if !c.IsDone() {
			err = c.SendMessage(NewMsgDone())
		}
		c.Protocol.Stop()
	})
	return err
}

// Announce sends encoded block headers to the server
func (c *Client) Announce(headers [][]byte) error {
	if len(headers) == 0 {
		return ErrEmptyAnnouncement
	}
	if c.config.MaxHeaders > 0 && len(headers) > c.config.MaxHeaders {
		// Split oversized announcements to stay within the peer's limit
		for start := 0; start < len(headers); start += c.config.MaxHeaders {
			end := min(start+c.config.MaxHeaders, len(headers))
			if err := c.SendMessage(NewMsgAnnounce(headers[start:end])); err != nil {
				return err
			}
		}
		return nil
	}
	return c.SendMessage(NewMsgAnnounce(headers))
}

func (c *Client) messageHandler(msg protocol.Message) error {
	// The client has agency in every state
	return fmt.Errorf(
		"%s: received unexpected message type %d: %w",
		ProtocolName,
		msg.Type(),
		protocol.ErrProtocolViolationInvalidMessage,
	)
}
