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
	"fmt"

	"github.com/blinklabs-io/gokate/protocol"
)

// Server implements the BlockAnnounce server
type Server struct {
	*protocol.Protocol
	config          *Config
	callbackContext CallbackContext
}

// NewServer returns a new BlockAnnounce server object
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
		InitialState:        StateIdle,
	}
	s.Protocol = protocol.New(protoConfig)
	return s
}

func (s *Server) messageHandler(msg protocol.Message) error {
	var err error
	switch msg.Type() {
	case MessageTypeAnnounce:
		err = s.handleAnnounce(msg)
	case MessageTypeDone:
		err = nil
	default:
		err = fmt.Errorf(
			"%s: received unexpected message type %d",
			ProtocolName,
			msg.Type(),
		)
	}
	return err
}

func (s *Server) handleAnnounce(msgGeneric protocol.Message) error {
	msg := msgGeneric.(*MsgAnnounce)
	if len(msg.Headers) == 0 ||
		(s.config.MaxHeaders > 0 && len(msg.Headers) > s.config.MaxHeaders) {
		return fmt.Errorf(
			"%s: announcement with %d headers: %w",
			ProtocolName,
			len(msg.Headers),
			protocol.ErrProtocolViolationInvalidMessage,
		)
	}
	if s.config.AnnounceFunc == nil {
		return nil
	}
	return s.config.AnnounceFunc(s.callbackContext, msg.HeaderBytes())
}
