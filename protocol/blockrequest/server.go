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

	"github.com/blinklabs-io/gokate/protocol"
)

// Server implements the BlockRequest server
type Server struct {
	*protocol.Protocol
	config          *Config
	callbackContext CallbackContext
}

// NewServer returns a new BlockRequest server object
func NewServer(protoOptions protocol.ProtocolOptions, cfg *Config) *Server {
	if cfg == nil {
		tmpCfg := NewConfig()
		cfg = &tmpCfg
	}
	s := &Server{
		config: cfg,
	}
	s.callbackContext = CallbackContext{
		Server:       s,
		ConnectionId: protoOptions.ConnectionId,
	}
	protoConfig := protocol.ProtocolConfig{
		Name:                ProtocolName,
		ProtocolId:          ProtocolId,
		Muxer:               protoOptions.Muxer,
		Logger:              protoOptions.Logger,
		ErrorChan:           protoOptions.ErrorChan,
		ConnectionId:        protoOptions.ConnectionId,
		Role:                protocol.ProtocolRoleServer,
		MessageHandlerFunc:  s.messageHandler,
		MessageFromCborFunc: NewMsgFromCbor,
		StateMap:            StateMap,
		StateContext:        newStateContext(0),
		InitialState:        StateIdle,
	}
	s.Protocol = protocol.New(protoConfig)
	return s
}

func (s *Server) messageHandler(msg protocol.Message) error {
	var err error
	switch msg.Type() {
	case MessageTypeRequestBlock:
		err = s.handleRequestBlock(msg)
	case MessageTypeDone:
		err = s.handleDone()
	default:
		err = fmt.Errorf(
			"%s: received unexpected message type %d",
			ProtocolName,
			msg.Type(),
		)
	}
	return err
}

func (s *Server) handleRequestBlock(msgGeneric protocol.Message) error {
	msg := msgGeneric.(*MsgRequestBlock)
	if s.config.RequestBlockFunc == nil {
		return s.SendMessage(NewMsgNoBlock(msg.RequestId))
	}
	header, err := s.config.RequestBlockFunc(s.callbackContext, msg.BlockNum)
	if err != nil {
		s.Logger().
			Warn(
				fmt.Sprintf("failed to look up block %d: %s", msg.BlockNum, err),
				"component", "network",
				"protocol", ProtocolName,
				"role", "server",
				"connection_id", s.callbackContext.ConnectionId.String(),
			)
		header = nil
	}
	if header == nil {
		return s.SendMessage(NewMsgNoBlock(msg.RequestId))
	}
	return s.SendMessage(NewMsgBlock(msg.RequestId, header))
}

func (s *Server) handleDone() error {
	s.Logger().
		Debug("client finished",
			"component", "network",
			"protocol", ProtocolName,
			"role", "server",
			"connection_id", s.callbackContext.ConnectionId.String(),
		)
	return nil
}
