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

package keepalive

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blinklabs-io/gokate/protocol"
)

// Client implements the KeepAlive client
type Client struct {
	*protocol.Protocol
	config          *Config
	callbackContext CallbackContext
	timer           *time.Timer
	timerMutex      sync.Mutex
	cookie          uint16
	sentAt          time.Time
	roundTrip       time.Duration
	onceStart       sync.Once
	onceStop        sync.Once
}

// NewClient returns a new KeepAlive client object
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
		StateMap:            cfg.stateMap(),
		InitialState:        StateClient,
	}
	c.Protocol = protocol.New(protoConfig)
	return c
}

// Start begins the KeepAlive client protocol and sends the first ping
func (c *Client) Start() {
	c.onceStart.Do(func() {
		c.Protocol.Start()
		// Cleanup resources on protocol shutdown
		go func() {
			<-c.DoneChan()
			c.stopTimer()
		}()
		c.sendKeepAlive()
	})
}

// Stop sends Done if no ping is outstanding and shuts down the protocol
func (c *Client) Stop() error {
	var err error
	c.onceStop.Do(func() {
		c.stopTimer()
		if !c.IsDone() && c.CurrentState() == StateClient {
			err = c.SendMessage(NewMsgDone())
		}
		c.Protocol.Stop()
	})
	return err
}

// RoundTrip returns the round trip time of the last answered ping
func (c *Client) RoundTrip() time.Duration {
	c.timerMutex.Lock()
	defer c.timerMutex.Unlock()
	return c.roundTrip
}

func (c *Client) stopTimer() {
	c.timerMutex.Lock()
	defer c.timerMutex.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) sendKeepAlive() {
	if c.IsDone() {
		return
	}
	c.timerMutex.Lock()
	c.cookie++
	cookie := c.cookie
	c.sentAt = time.Now()
	c.timerMutex.Unlock()
	if err := c.SendMessage(NewMsgKeepAlive(cookie)); err != nil {
		if !errors.Is(err, protocol.ErrProtocolShuttingDown) {
			c.SendError(err)
		}
	}
}

func (c *Client) messageHandler(msg protocol.Message) error {
	var err error
	switch msg.Type() {
	case MessageTypeKeepAliveResponse:
		err = c.handleKeepAliveResponse(msg)
	default:
		err = fmt.Errorf(
			"%s: received unexpected message type %d",
			ProtocolName,
			msg.Type(),
		)
	}
	return err
}

func (c *Client) handleKeepAliveResponse(msgGeneric protocol.Message) error {
	msg := msgGeneric.(*MsgKeepAliveResponse)
	c.timerMutex.Lock()
	if msg.Cookie != c.cookie {
		expected := c.cookie
		c.timerMutex.Unlock()
		return fmt.Errorf(
			"%s: unexpected cookie in response, expected %d but received %d: %w",
			ProtocolName,
			expected,
			msg.Cookie,
			protocol.ErrProtocolViolationInvalidMessage,
		)
	}
	roundTrip := time.Since(c.sentAt)
	c.roundTrip = roundTrip
	select {
	case <-c.DoneChan():
	default:
		c.timer = time.AfterFunc(c.config.Period, c.sendKeepAlive)
	}
	c.timerMutex.Unlock()
	if c.config.KeepAliveResponseFunc != nil {
		return c.config.KeepAliveResponseFunc(c.callbackContext, msg.Cookie, roundTrip)
	}
	return nil
}
