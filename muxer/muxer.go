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

// Package muxer multiplexes mini-protocol segments over a single connection
package muxer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

const (
	// Magic number chosen to represent unknown protocols
	ProtocolUnknown uint16 = 0xabcd

	// Handshake protocol ID
	ProtocolHandshake uint16 = 0

	// Buffer size for per-protocol segment channels
	protocolChanSize = 10
)

// ProtocolRole is the side of a mini-protocol that a registration belongs to
type ProtocolRole uint

const (
	ProtocolRoleNone ProtocolRole = iota
	ProtocolRoleInitiator
	ProtocolRoleResponder
)

// DiffusionMode restricts which roles the muxer accepts inbound traffic for
type DiffusionMode int

const (
	DiffusionModeNone DiffusionMode = iota
	DiffusionModeInitiator
	DiffusionModeResponder
	DiffusionModeInitiatorAndResponder
)

// ConnectionClosedError is sent on the error channel when the remote end closes the connection
type ConnectionClosedError struct {
	Err error
}

func (e *ConnectionClosedError) Error() string {
	return fmt.Sprintf("peer closed the connection: %s", e.Err)
}

func (e *ConnectionClosedError) Unwrap() error {
	return e.Err
}

type protocolKey struct {
	id   uint16
	role ProtocolRole
}

type protocolChannels struct {
	send chan *Segment
	recv chan *Segment
	done chan bool
}

// Muxer owns a net.Conn and routes segments between it and registered protocols
type Muxer struct {
	conn          net.Conn
	sendMutex     sync.Mutex
	startChan     chan struct{}
	doneChan      chan struct{}
	errorChan     chan error
	protocols     map[protocolKey]*protocolChannels
	protocolMutex sync.Mutex
	diffusionMode DiffusionMode
	onceStart     sync.Once
	onceStop      sync.Once
}

// New creates a muxer for conn and begins reading from it. Only the first
// inbound segment is delivered until Start is called.
func New(conn net.Conn) *Muxer {
	m := &Muxer{
		conn:      conn,
		startChan: make(chan struct{}),
		doneChan:  make(chan struct{}),
		errorChan: make(chan error, 10),
		protocols: make(map[protocolKey]*protocolChannels),
	}
	go m.readLoop()
	return m
}

// ErrorChan returns the channel on which fatal muxer errors are delivered
func (m *Muxer) ErrorChan() <-chan error {
	return m.errorChan
}

// DoneChan is closed when the muxer shuts down
func (m *Muxer) DoneChan() <-chan struct{} {
	return m.doneChan
}

// SetDiffusionMode sets the accepted inbound roles. It should be called before Start.
func (m *Muxer) SetDiffusionMode(diffusionMode DiffusionMode) {
	m.protocolMutex.Lock()
	defer m.protocolMutex.Unlock()
	m.diffusionMode = diffusionMode
}

// Start allows the read loop to continue past the first segment
func (m *Muxer) Start() {
	m.onceStart.Do(func() {
		close(m.startChan)
	})
}

// Stop shuts down the muxer and closes the underlying connection. It is safe
// to call more than once.
func (m *Muxer) Stop() {
	m.onceStop.Do(func() {
		m.protocolMutex.Lock()
		close(m.doneChan)
		for key, chans := range m.protocols {
			close(chans.done)
			delete(m.protocols, key)
		}
		m.protocolMutex.Unlock()
		_ = m.conn.Close()
	})
}

func (m *Muxer) isDone() bool {
	select {
	case <-m.doneChan:
		return true
	default:
		return false
	}
}

func (m *Muxer) sendError(err error) {
	if m.isDone() {
		return
	}
	select {
	case m.errorChan <- err:
	default:
	}
	m.Stop()
}

// RegisterProtocol registers a mini-protocol in the given role. Segments written to
// the returned send channel go out on the connection, inbound segments for the
// protocol and role arrive on the receive channel, and the done channel is closed
// when the registration ends. All channels are nil if the muxer has shut down.
func (m *Muxer) RegisterProtocol(
	protocolId uint16,
	role ProtocolRole,
) (chan *Segment, chan *Segment, chan bool) {
	m.protocolMutex.Lock()
	defer m.protocolMutex.Unlock()
	if m.isDone() {
		return nil, nil, nil
	}
	key := protocolKey{id: protocolId, role: role}
	if old, ok := m.protocols[key]; ok {
		close(old.done)
	}
	chans := &protocolChannels{
		send: make(chan *Segment, protocolChanSize),
		recv: make(chan *Segment, protocolChanSize),
		done: make(chan bool),
	}
	m.protocols[key] = chans
	go m.sendLoop(chans)
	return chans.send, chans.recv, chans.done
}

// UnregisterProtocol removes a registration and closes its done channel
func (m *Muxer) UnregisterProtocol(protocolId uint16, role ProtocolRole) {
	m.protocolMutex.Lock()
	defer m.protocolMutex.Unlock()
	key := protocolKey{id: protocolId, role: role}
	chans, ok := m.protocols[key]
	if !ok {
		return
	}
	close(chans.done)
	delete(m.protocols, key)
}

func (m *Muxer) sendLoop(chans *protocolChannels) {
	for {
		select {
		case <-m.doneChan:
			return
		case <-chans.done:
			// Flush whatever the protocol queued before it went away
			for {
				select {
				case segment := <-chans.send:
					if err := m.Send(segment); err != nil {
						return
					}
				default:
					return
				}
			}
		case segment := <-chans.send:
			if err := m.Send(segment); err != nil {
				return
			}
		}
	}
}

// Send writes a single segment to the connection. A write failure is fatal to the muxer.
func (m *Muxer) Send(segment *Segment) error {
	if segment == nil {
		return errors.New("muxer: cannot send nil segment")
	}
	buf := bytes.NewBuffer(make([]byte, 0, segmentHeaderLength+len(segment.Payload)))
	if err := binary.Write(buf, binary.BigEndian, segment.SegmentHeader); err != nil {
		return err
	}
	buf.Write(segment.Payload)
	// Only one protocol can write at a time
	m.sendMutex.Lock()
	defer m.sendMutex.Unlock()
	if m.isDone() {
		return &ConnectionClosedError{Err: net.ErrClosed}
	}
	if _, err := m.conn.Write(buf.Bytes()); err != nil {
		if isClosedErr(err) {
			err = &ConnectionClosedError{Err: err}
		} else {
			err = fmt.Errorf("muxer write: %w", err)
		}
		m.sendError(err)
		return err
	}
	return nil
}

func (m *Muxer) readLoop() {
	started := false
	for {
		if m.isDone() {
			return
		}
		header := SegmentHeader{}
		if err := binary.Read(m.conn, binary.BigEndian, &header); err != nil {
			m.sendReadError(err)
			return
		}
		if header.PayloadLength == 0 {
			m.sendError(fmt.Errorf("received zero-byte segment payload for protocol ID %d", header.GetProtocolId()))
			return
		}
		segment := &Segment{
			SegmentHeader: header,
			Payload:       make([]byte, header.PayloadLength),
		}
		if _, err := io.ReadFull(m.conn, segment.Payload); err != nil {
			m.sendReadError(err)
			return
		}
		recvChan, protoDone, err := m.receiverFor(segment)
		if err != nil {
			m.sendError(err)
			return
		}
		select {
		case recvChan <- segment:
		case <-protoDone:
			// The protocol went away while we were delivering
		case <-m.doneChan:
			return
		}
		// Wait for Start before reading past the first segment, so that
		// nothing but the handshake is processed until it completes
		if !started {
			select {
			case <-m.doneChan:
				return
			case <-m.startChan:
				started = true
			}
		}
	}
}

func (m *Muxer) receiverFor(segment *Segment) (chan *Segment, chan bool, error) {
	m.protocolMutex.Lock()
	defer m.protocolMutex.Unlock()
	// A response was sent by the remote responder, so it belongs to our initiator
	role := ProtocolRoleResponder
	if segment.IsResponse() {
		role = ProtocolRoleInitiator
	}
	switch m.diffusionMode {
	case DiffusionModeInitiator:
		if role == ProtocolRoleResponder {
			return nil, nil, errors.New("received message from initiator when not configured as a responder")
		}
	case DiffusionModeResponder:
		if role == ProtocolRoleInitiator {
			return nil, nil, errors.New("received message from responder when not configured as an initiator")
		}
	}
	chans, ok := m.protocols[protocolKey{id: segment.GetProtocolId(), role: role}]
	if !ok {
		chans, ok = m.protocols[protocolKey{id: ProtocolUnknown, role: role}]
		if !ok {
			return nil, nil, fmt.Errorf("received message for unknown protocol ID %d", segment.GetProtocolId())
		}
	}
	return chans.recv, chans.done, nil
}

func (m *Muxer) sendReadError(err error) {
	if isClosedErr(err) {
		m.sendError(&ConnectionClosedError{Err: err})
		return
	}
	m.sendError(fmt.Errorf("muxer read: %w", err))
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}
