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

package muxer

import (
	"time"
)

const (
	segmentProtocolIdResponseFlag = 0x8000

	// SegmentMaxPayloadLength is the largest payload a single segment can carry
	SegmentMaxPayloadLength = 65535

	// Size of the encoded segment header
	segmentHeaderLength = 8
)

// SegmentHeader is the fixed-size header preceding every segment payload on the wire
type SegmentHeader struct {
	Timestamp     uint32
	ProtocolId    uint16
	PayloadLength uint16
}

// Segment is a single framed chunk of mini-protocol data
type Segment struct {
	SegmentHeader
	Payload []byte
}

// NewSegment returns a segment for the given protocol, or nil if the payload
// does not fit in a single segment
func NewSegment(protocolId uint16, payload []byte, isResponse bool) *Segment {
	if len(payload) > SegmentMaxPayloadLength {
		return nil
	}
	header := SegmentHeader{
		// Low 32 bits of the current time in microseconds
		Timestamp:     uint32(time.Now().UnixMicro() & 0xffffffff), // #nosec G115
		ProtocolId:    protocolId & (segmentProtocolIdResponseFlag - 1),
		PayloadLength: uint16(len(payload)), // #nosec G115
	}
	if isResponse {
		header.ProtocolId |= segmentProtocolIdResponseFlag
	}
	return &Segment{
		SegmentHeader: header,
		Payload:       payload,
	}
}

// IsRequest returns true if the segment was sent by the initiator of the protocol
func (s *SegmentHeader) IsRequest() bool {
	return (s.ProtocolId & segmentProtocolIdResponseFlag) == 0
}

// IsResponse returns true if the segment was sent by the responder of the protocol
func (s *SegmentHeader) IsResponse() bool {
	return (s.ProtocolId & segmentProtocolIdResponseFlag) > 0
}

// GetProtocolId returns the protocol ID with the response flag removed
func (s *SegmentHeader) GetProtocolId() uint16 {
	return s.ProtocolId &^ segmentProtocolIdResponseFlag
}
