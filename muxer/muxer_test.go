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

package muxer_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/blinklabs-io/gokate/muxer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const testTimeout = 2 * time.Second

func encodeSegment(t *testing.T, segment *muxer.Segment) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, binary.Write(buf, binary.BigEndian, segment.SegmentHeader))
	buf.Write(segment.Payload)
	return buf.Bytes()
}

// writeAsync writes to a pipe end without blocking the test goroutine
func writeAsync(conn net.Conn, data ...[]byte) <-chan error {
	ret := make(chan error, 1)
	go func() {
		for _, d := range data {
			if _, err := conn.Write(d); err != nil {
				ret <- err
				return
			}
		}
		ret <- nil
	}()
	return ret
}

func recvSegment(t *testing.T, ch <-chan *muxer.Segment) *muxer.Segment {
	t.Helper()
	select {
	case segment := <-ch:
		return segment
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for segment")
	}
	return nil
}

func recvError(t *testing.T, m *muxer.Muxer) error {
	t.Helper()
	select {
	case err := <-m.ErrorChan():
		return err
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for muxer error")
	}
	return nil
}

func TestNewSegment(t *testing.T) {
	testDefs := []struct {
		name       string
		protocolId uint16
		payload    []byte
		isResponse bool
		expectNil  bool
	}{
		{name: "request", protocolId: 3, payload: []byte("abc")},
		{name: "response", protocolId: 3, payload: []byte("abc"), isResponse: true},
		{name: "max payload", protocolId: 2, payload: make([]byte, muxer.SegmentMaxPayloadLength)},
		{name: "oversized payload", protocolId: 2, payload: make([]byte, muxer.SegmentMaxPayloadLength+1), expectNil: true},
	}
	for _, test := range testDefs {
		t.Run(test.name, func(t *testing.T) {
			segment := muxer.NewSegment(test.protocolId, test.payload, test.isResponse)
			if test.expectNil {
				assert.Nil(t, segment)
				return
			}
			require.NotNil(t, segment)
			assert.Equal(t, test.protocolId, segment.GetProtocolId())
			assert.Equal(t, test.isResponse, segment.IsResponse())
			assert.Equal(t, !test.isResponse, segment.IsRequest())
			assert.Equal(t, len(test.payload), int(segment.PayloadLength))
		})
	}
}

func TestMuxerStopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)
	local, remote := net.Pipe()
	defer remote.Close()
	m := muxer.New(local)
	_, _, done := m.RegisterProtocol(3, muxer.ProtocolRoleInitiator)
	m.Stop()
	m.Stop()
	_, ok := <-done
	assert.False(t, ok, "protocol done channel should be closed")
	<-m.DoneChan()
	send, recv, done := m.RegisterProtocol(4, muxer.ProtocolRoleInitiator)
	assert.Nil(t, send)
	assert.Nil(t, recv)
	assert.Nil(t, done)
}

func TestMuxerSendFrame(t *testing.T) {
	defer goleak.VerifyNone(t)
	local, remote := net.Pipe()
	defer remote.Close()
	m := muxer.New(local)
	defer m.Stop()
	send, _, _ := m.RegisterProtocol(3, muxer.ProtocolRoleResponder)
	m.Start()
	send <- muxer.NewSegment(3, []byte("hello"), true)
	frame := make([]byte, 8+5)
	_, err := io.ReadFull(remote, frame)
	require.NoError(t, err)
	var header muxer.SegmentHeader
	require.NoError(t, binary.Read(bytes.NewReader(frame[:8]), binary.BigEndian, &header))
	assert.Equal(t, uint16(3), header.GetProtocolId())
	assert.True(t, header.IsResponse())
	assert.Equal(t, uint16(5), header.PayloadLength)
	assert.Equal(t, []byte("hello"), frame[8:])
}

func TestMuxerRoutesByRole(t *testing.T) {
	defer goleak.VerifyNone(t)
	local, remote := net.Pipe()
	defer remote.Close()
	m := muxer.New(local)
	defer m.Stop()
	_, initRecv, _ := m.RegisterProtocol(3, muxer.ProtocolRoleInitiator)
	_, respRecv, _ := m.RegisterProtocol(3, muxer.ProtocolRoleResponder)
	m.Start()
	writeErr := writeAsync(
		remote,
		encodeSegment(t, muxer.NewSegment(3, []byte("response"), true)),
		encodeSegment(t, muxer.NewSegment(3, []byte("request"), false)),
	)
	assert.Equal(t, []byte("response"), recvSegment(t, initRecv).Payload)
	assert.Equal(t, []byte("request"), recvSegment(t, respRecv).Payload)
	require.NoError(t, <-writeErr)
}

func TestMuxerWaitsForStart(t *testing.T) {
	defer goleak.VerifyNone(t)
	local, remote := net.Pipe()
	defer remote.Close()
	m := muxer.New(local)
	defer m.Stop()
	_, recv, _ := m.RegisterProtocol(muxer.ProtocolHandshake, muxer.ProtocolRoleResponder)
	writeErr := writeAsync(
		remote,
		encodeSegment(t, muxer.NewSegment(muxer.ProtocolHandshake, []byte("first"), false)),
		encodeSegment(t, muxer.NewSegment(muxer.ProtocolHandshake, []byte("second"), false)),
	)
	assert.Equal(t, []byte("first"), recvSegment(t, recv).Payload)
	select {
	case <-recv:
		t.Fatal("received a second segment before Start")
	case <-time.After(50 * time.Millisecond):
	}
	m.Start()
	assert.Equal(t, []byte("second"), recvSegment(t, recv).Payload)
	require.NoError(t, <-writeErr)
}

func TestMuxerUnknownProtocolFallback(t *testing.T) {
	defer goleak.VerifyNone(t)
	local, remote := net.Pipe()
	defer remote.Close()
	m := muxer.New(local)
	defer m.Stop()
	_, recv, _ := m.RegisterProtocol(muxer.ProtocolUnknown, muxer.ProtocolRoleResponder)
	m.Start()
	writeErr := writeAsync(remote, encodeSegment(t, muxer.NewSegment(99, []byte("x"), false)))
	segment := recvSegment(t, recv)
	assert.Equal(t, uint16(99), segment.GetProtocolId())
	require.NoError(t, <-writeErr)
}

func TestMuxerReadErrors(t *testing.T) {
	zeroHeader := &bytes.Buffer{}
	_ = binary.Write(zeroHeader, binary.BigEndian, muxer.SegmentHeader{ProtocolId: 3})
	testDefs := []struct {
		name          string
		diffusionMode muxer.DiffusionMode
		data          []byte
		errorContains string
	}{
		{
			name:          "unknown protocol",
			data:          encodeSegment(t, muxer.NewSegment(42, []byte("x"), false)),
			errorContains: "unknown protocol ID 42",
		},
		{
			name:          "zero-byte payload",
			data:          zeroHeader.Bytes(),
			errorContains: "zero-byte segment payload",
		},
		{
			name:          "request on initiator-only muxer",
			diffusionMode: muxer.DiffusionModeInitiator,
			data:          encodeSegment(t, muxer.NewSegment(3, []byte("x"), false)),
			errorContains: "not configured as a responder",
		},
		{
			name:          "response on responder-only muxer",
			diffusionMode: muxer.DiffusionModeResponder,
			data:          encodeSegment(t, muxer.NewSegment(3, []byte("x"), true)),
			errorContains: "not configured as an initiator",
		},
	}
	for _, test := range testDefs {
		t.Run(test.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)
			local, remote := net.Pipe()
			defer remote.Close()
			m := muxer.New(local)
			defer m.Stop()
			m.SetDiffusionMode(test.diffusionMode)
			m.RegisterProtocol(3, muxer.ProtocolRoleInitiator)
			m.RegisterProtocol(3, muxer.ProtocolRoleResponder)
			m.Start()
			writeErr := writeAsync(remote, test.data)
			err := recvError(t, m)
			assert.ErrorContains(t, err, test.errorContains)
			// The muxer shuts itself down on any error
			<-m.DoneChan()
			<-writeErr
		})
	}
}

func TestMuxerConnectionClosed(t *testing.T) {
	defer goleak.VerifyNone(t)
	local, remote := net.Pipe()
	m := muxer.New(local)
	defer m.Stop()
	m.RegisterProtocol(3, muxer.ProtocolRoleInitiator)
	m.Start()
	require.NoError(t, remote.Close())
	err := recvError(t, m)
	var closedErr *muxer.ConnectionClosedError
	require.True(t, errors.As(err, &closedErr), "unexpected error type %T", err)
	assert.ErrorIs(t, err, io.EOF)
}

func TestMuxerUnregisterProtocol(t *testing.T) {
	defer goleak.VerifyNone(t)
	local, remote := net.Pipe()
	defer remote.Close()
	m := muxer.New(local)
	defer m.Stop()
	_, _, done := m.RegisterProtocol(3, muxer.ProtocolRoleInitiator)
	m.UnregisterProtocol(3, muxer.ProtocolRoleInitiator)
	_, ok := <-done
	assert.False(t, ok)
	// Unregistering twice is a no-op
	m.UnregisterProtocol(3, muxer.ProtocolRoleInitiator)
}
