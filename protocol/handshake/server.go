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
	"fmt"

	"github.com/blinklabs-io/gokate/protocol"
)

// Server implements the Handshake server
type Server struct {
	*protocol.Protocol
	config          *Config
	callbackContext CallbackContext
}

// NewServer returns a new Handshake server object
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
	// Update state map with timeout
	stateMap := StateMap.Copy()
	if entry, ok := stateMap[StatePropose]; ok {
		entry.Timeout = s.config.Timeout
		stateMap[StatePropose] = entry
	}
	protoConfig := protocol.ProtocolConfig{
		Name:                ProtocolName,
		ProtocolId:          ProtocolId,
		Muxer:               protoOptions.Muxer,
		Logger:              protoOptions.Logger,
		ErrorChan:           protoOptions.ErrorChan,
		ConnectionId:        protoOptions.ConnectionId,
		Role:                protocol.ProtocolRoleServer,
		MessageHandlerFunc:  s.handleMessage,
		MessageFromCborFunc: NewMsgFromCbor,
		StateMap:            stateMap,
		InitialState:        StatePropose,
	}
	s.Protocol = protocol.New(protoConfig)
	return s
}

func (s *Server) handleMessage(msg protocol.Message) error {
	var err error
	switch msg.Type() {
	case MessageTypeProposeVersions:
		err = s.handleProposeVersions(msg)
	default:
		err = fmt.Errorf(
			"%s: received unexpected message type %d",
			ProtocolName,
			msg.Type(),
		)
	}
	return err
}

func (s *Server) handleProposeVersions(msgGeneric protocol.Message) error {
	msg := msgGeneric.(*MsgProposeVersions)
	if msg.NetworkMagic != s.config.NetworkMagic {
		reason := fmt.Sprintf("expected network magic %d, got %d", s.config.NetworkMagic, msg.NetworkMagic)
		if err := s.SendMessage(NewMsgRefuse(RefuseReasonNetworkMagic, reason)); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrNetworkMagicMismatch, reason)
	}
	version, ok := highestCommonVersion(s.config.ProtocolVersions, msg.Versions)
	if !ok {
		reason := fmt.Sprintf("no common version in %v", msg.Versions)
		if err := s.SendMessage(NewMsgRefuse(RefuseReasonVersionMismatch, reason)); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrVersionMismatch, reason)
	}
	if err := s.SendMessage(
		NewMsgAcceptVersion(version, s.config.NetworkMagic, s.config.PublicKey),
	); err != nil {
		return err
	}
	if s.config.FinishedFunc == nil {
		return nil
	}
	// Called after the accept is on the wire, so the caller may immediately
	// start using the connection
	return s.config.FinishedFunc(
		s.callbackContext,
		Result{
			Version:       version,
			NetworkMagic:  msg.NetworkMagic,
			PeerPublicKey: msg.PublicKey,
		},
	)
}
