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

	"github.com/blinklabs-io/gokate/cbor"
	"github.com/blinklabs-io/gokate/protocol"
)

// Message types
const (
	MessageTypeRequestBlock = 0
	MessageTypeBlock        = 1
	MessageTypeNoBlock      = 2
	MessageTypeDone         = 3
)

// NewMsgFromCbor parses a BlockRequest message from CBOR
func NewMsgFromCbor(msgType uint, data []byte) (protocol.Message, error) {
	var ret protocol.Message
	switch msgType {
	case MessageTypeRequestBlock:
		ret = &MsgRequestBlock{}
	case MessageTypeBlock:
		ret = &MsgBlock{}
	case MessageTypeNoBlock:
		ret = &MsgNoBlock{}
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

type MsgRequestBlock struct {
	protocol.MessageBase
	RequestId uint64
	BlockNum  uint32
}

func NewMsgRequestBlock(requestId uint64, blockNum uint32) *MsgRequestBlock {
	return &MsgRequestBlock{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeRequestBlock,
		},
		RequestId: requestId,
		BlockNum:  blockNum,
	}
}

// MsgBlock carries the encoded header as embedded CBOR
type MsgBlock struct {
	protocol.MessageBase
	RequestId uint64
	Header    cbor.WrappedCbor
}

func NewMsgBlock(requestId uint64, header []byte) *MsgBlock {
	return &MsgBlock{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeBlock,
		},
		RequestId: requestId,
		Header:    cbor.WrappedCbor(header),
	}
}

type MsgNoBlock struct {
	protocol.MessageBase
	RequestId uint64
}

func NewMsgNoBlock(requestId uint64) *MsgNoBlock {
	return &MsgNoBlock{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeNoBlock,
		},
		RequestId: requestId,
	}
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
