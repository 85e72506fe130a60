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

	"github.com/blinklabs-io/gokate/cbor"
	"github.com/blinklabs-io/gokate/protocol"
)

// Message types
const (
	MessageTypeProposeVersions = 0
	MessageTypeAcceptVersion   = 1
	MessageTypeRefuse          = 2
)

// Refuse reasons
const (
	RefuseReasonVersionMismatch uint = 0
	RefuseReasonNetworkMagic    uint = 1
	RefuseReasonRefused         uint = 2
)

// NewMsgFromCbor parses a Handshake message from CBOR
func NewMsgFromCbor(msgType uint, data []byte) (protocol.Message, error) {
	var ret protocol.Message
	switch msgType {
	case MessageTypeProposeVersions:
		ret = &MsgProposeVersions{}
	case MessageTypeAcceptVersion:
		ret = &MsgAcceptVersion{}
	case MessageTypeRefuse:
		ret = &MsgRefuse{}
	default:
		return nil, nil
	}
	if _, err := cbor.Decode(data, ret); err != nil {
		return nil, fmt.Errorf("%s: decode error: %w", ProtocolName, err)
	}
	// Store the raw message CBOR
	ret.SetCbor(data)
	return ret, nil
}

type MsgProposeVersions struct {
	protocol.MessageBase
	Versions     []uint16
	NetworkMagic uint32
	PublicKey    []byte
}

func NewMsgProposeVersions(versions []uint16, networkMagic uint32, publicKey []byte) *MsgProposeVersions {
	return &MsgProposeVersions{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeProposeVersions,
		},
		Versions:     versions,
		NetworkMagic: networkMagic,
		PublicKey:    publicKey,
	}
}

type MsgAcceptVersion struct {
	protocol.MessageBase
	Version      uint16
	NetworkMagic uint32
	PublicKey    []byte
}

func NewMsgAcceptVersion(version uint16, networkMagic uint32, publicKey []byte) *MsgAcceptVersion {
	return &MsgAcceptVersion{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeAcceptVersion,
		},
		Version:      version,
		NetworkMagic: networkMagic,
		PublicKey:    publicKey,
	}
}

type MsgRefuse struct {
	protocol.MessageBase
	Reason  uint
	Message string
}

func NewMsgRefuse(reason uint, message string) *MsgRefuse {
	return &MsgRefuse{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeRefuse,
		},
		Reason:  reason,
		Message: message,
	}
}
