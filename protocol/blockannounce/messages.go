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

	"github.com/blinklabs-io/gokate/cbor"
	"github.com/blinklabs-io/gokate/protocol"
)

// Message types
const (
	MessageTypeAnnounce = 0
	MessageTypeDone     = 1
)

// NewMsgFromCbor parses a BlockAnnounce message from CBOR
func NewMsgFromCbor(msgType uint, data []byte) (protocol.Message, error) {
	var ret protocol.Message
	switch msgType {
	case MessageTypeAnnounce:
		ret = &MsgAnnounce{}
	case MessageTypeDone:
		ret = &MsgDone{}
	default:
		return nil, nil
	}
	if _, err := cbor.Decode(data, ret); err != nil {
		return nil, fmt.Errorf("%s: decode error: %w", ProtocolName, err)
	}
	ret.SetCbor(data)
	return ret, nil
}

// MsgAnnounce carries each encoded header as embedded CBOR
type MsgAnnounce struct {
	protocol.MessageBase
	Headers []cbor.WrappedCbor
}

func NewMsgAnnounce(headers [][]byte) *MsgAnnounce {
	msg := &MsgAnnounce{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeAnnounce,
		},
		Headers: make([]cbor.WrappedCbor, 0, len(headers)),
	}
	for _, header := range headers {
		msg.Headers = append(msg.Headers, cbor.WrappedCbor(header))
	}
	return msg
}

// HeaderBytes returns the announced headers
func (m *MsgAnnounce) HeaderBytes() [][]byte {
	ret := make([][]byte, 0, len(m.Headers))
	for _, header := range m.Headers {
		ret = append(ret, header.Bytes())
	}
	return ret
}

type MsgDone struct {
	protocol.MessageBase
}

func NewMsgDone() *MsgDone {
	return &MsgDone{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeDone,
		},
	}
}
