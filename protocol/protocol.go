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

// Package protocol provides the common functionality for mini-protocols
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/blinklabs-io/gokate/cbor"
	"github.com/blinklabs-io/gokate/connection"
	"github.com/blinklabs-io/gokate/muxer"
)

// DefaultRecvBufferSize is the largest amount of undecoded data a protocol buffers
// before treating the peer as misbehaving
const DefaultRecvBufferSize = 1 << 20

// Protocol implements the base functionality of a mini-protocol
type Protocol struct {
	config        ProtocolConfig
	doneChan      chan struct{}
	muxerRecvChan chan *muxer.Segment
	muxerDoneChan chan bool
	recvBuffer    *bytes.Buffer
	sendMutex     sync.Mutex
	stateMutex    sync.Mutex
	currentState  State
	stateTimer    *time.Timer
	stateSeq      uint64
	onceStart     sync.Once
	onceStop      sync.Once
}

// ProtocolConfig provides the configuration for Protocol
type ProtocolConfig struct {
	Name                string
	ProtocolId          uint16
	ErrorChan           chan error
	Muxer               *muxer.Muxer
	Logger              *slog.Logger
	ConnectionId        connection.ConnectionId
	Role                ProtocolRole
	MessageHandlerFunc  MessageHandlerFunc
	MessageFromCborFunc MessageFromCborFunc
	StateMap            StateMap
	StateContext        any
	InitialState        State
	RecvBufferSize      int
}

// ProtocolRole is used to indicate whether this is the client or server side of the protocol
type ProtocolRole uint

const (
	ProtocolRoleNone ProtocolRole = iota
	ProtocolRoleClient
	ProtocolRoleServer
)

func (r ProtocolRole) String() string {
	switch r {
	case ProtocolRoleClient:
		return "client"
	case ProtocolRoleServer:
		return "server"
	default:
		return "none"
	}
}

// ProtocolOptions provides common arguments for all mini-protocols
type ProtocolOptions struct {
	ConnectionId connection.ConnectionId
	Muxer        *muxer.Muxer
	Logger       *slog.Logger
	ErrorChan    chan error
}

// MessageHandlerFunc represents a function that handles an incoming message
type MessageHandlerFunc func(Message) error

// MessageFromCborFunc represents a function that parses a mini-protocol message
type MessageFromCborFunc func(uint, []byte) (Message, error)

// New returns a new Protocol object. It does nothing until Start is called.
func New(config ProtocolConfig) *Protocol {
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if config.RecvBufferSize <= 0 {
		config.RecvBufferSize = DefaultRecvBufferSize
	}
	p := &Protocol{
		config:       config,
		doneChan:     make(chan struct{}),
		recvBuffer:   bytes.NewBuffer(nil),
		currentState: config.InitialState,
	}
	return p
}

// Start registers the protocol with the muxer and begins processing messages
func (p *Protocol) Start() {
	p.onceStart.Do(func() {
		muxerRole := muxer.ProtocolRoleInitiator
		if p.config.Role == ProtocolRoleServer {
			muxerRole = muxer.ProtocolRoleResponder
		}
		if p.config.Muxer != nil {
			// Messages are written with Muxer.Send so that they reach the wire in
			// the order they were sent across all protocols
			_, p.muxerRecvChan, p.muxerDoneChan = p.config.Muxer.RegisterProtocol(
				p.config.ProtocolId,
				muxerRole,
			)
		}
		if p.muxerRecvChan == nil {
			// The muxer has already shut down
			p.Stop()
			return
		}
		p.stateMutex.Lock()
		p.setState(p.config.InitialState)
		p.stateMutex.Unlock()
		go p.recvLoop()
	})
}

// Stop shuts down the protocol and releases its muxer registration
func (p *Protocol) Stop() {
	p.onceStop.Do(func() {
		close(p.doneChan)
		p.stateMutex.Lock()
		if p.stateTimer != nil {
			p.stateTimer.Stop()
		}
		p.stateMutex.Unlock()
		if p.config.Muxer != nil {
			muxerRole := muxer.ProtocolRoleInitiator
			if p.config.Role == ProtocolRoleServer {
				muxerRole = muxer.ProtocolRoleResponder
			}
			p.config.Muxer.UnregisterProtocol(p.config.ProtocolId, muxerRole)
		}
	})
}

// DoneChan returns a channel that is closed when the protocol shuts down
func (p *Protocol) DoneChan() <-chan struct{} {
	return p.doneChan
}

// IsDone returns true if the protocol has shut down or reached a terminal state
func (p *Protocol) IsDone() bool {
	select {
	case <-p.doneChan:
		return true
	default:
	}
	p.stateMutex.Lock()
	defer p.stateMutex.Unlock()
	if entry, ok := p.config.StateMap[p.currentState]; ok {
		return entry.Agency == AgencyNone
	}
	return false
}

// CurrentState returns the current protocol state
func (p *Protocol) CurrentState() State {
	p.stateMutex.Lock()
	defer p.stateMutex.Unlock()
	return p.currentState
}

// Logger returns the protocol logger
func (p *Protocol) Logger() *slog.Logger {
	return p.config.Logger
}

// Role returns the protocol role
func (p *Protocol) Role() ProtocolRole {
	return p.config.Role
}

// SendMessage validates the state transition for msg, encodes it and hands it to the muxer
func (p *Protocol) SendMessage(msg Message) error {
	p.sendMutex.Lock()
	defer p.sendMutex.Unlock()
	select {
	case <-p.doneChan:
		return ErrProtocolShuttingDown
	default:
	}
	data, err := cbor.Encode(msg)
	if err != nil {
		return fmt.Errorf("%s: encode error: %w", p.config.Name, err)
	}
	p.stateMutex.Lock()
	newState, err := p.getNewState(msg)
	if err != nil {
		p.stateMutex.Unlock()
		return fmt.Errorf("%s: error sending message: %w", p.config.Name, err)
	}
	p.setState(newState)
	p.stateMutex.Unlock()
	p.config.Logger.Debug(
		"sending message",
		"component", "network",
		"protocol", p.config.Name,
		"role", p.config.Role.String(),
		"connection_id", p.config.ConnectionId.String(),
		"message_type", msg.Type(),
		"state", newState.String(),
	)
	isResponse := p.config.Role == ProtocolRoleServer
	for len(data) > 0 {
		chunkSize := min(len(data), muxer.SegmentMaxPayloadLength)
		segment := muxer.NewSegment(p.config.ProtocolId, data[:chunkSize], isResponse)
		data = data[chunkSize:]
		if err := p.config.Muxer.Send(segment); err != nil {
			return fmt.Errorf("%s: %w", p.config.Name, err)
		}
	}
	return nil
}

// SendError reports a fatal protocol error and shuts the protocol down
func (p *Protocol) SendError(err error) {
	p.config.Logger.Debug(
		"protocol error",
		"component", "network",
		"protocol", p.config.Name,
		"role", p.config.Role.String(),
		"connection_id", p.config.ConnectionId.String(),
		"error", err.Error(),
	)
	if p.config.ErrorChan != nil {
		select {
		case p.config.ErrorChan <- err:
		case <-p.doneChan:
		case <-p.muxerDoneChan:
		}
	}
	p.Stop()
}

func (p *Protocol) recvLoop() {
	for {
		var segment *muxer.Segment
		select {
		case <-p.doneChan:
			return
		case <-p.muxerDoneChan:
			p.Stop()
			return
		case segment = <-p.muxerRecvChan:
		}
		p.recvBuffer.Write(segment.Payload)
		if p.recvBuffer.Len() > p.config.RecvBufferSize {
			p.SendError(fmt.Errorf("%s: %w", p.config.Name, ErrProtocolViolationQueueExceeded))
			return
		}
		if err := p.processBuffer(); err != nil {
			p.SendError(err)
			return
		}
	}
}

// processBuffer handles every complete message in the receive buffer
func (p *Protocol) processBuffer() error {
	for p.recvBuffer.Len() > 0 {
		var tmpMsg cbor.RawMessage
		numBytesRead, err := cbor.Decode(p.recvBuffer.Bytes(), &tmpMsg)
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				// Partial message, wait for more segments
				return nil
			}
			return fmt.Errorf("%s: decode error: %w", p.config.Name, err)
		}
		msgData := make([]byte, numBytesRead)
		copy(msgData, p.recvBuffer.Next(numBytesRead))
		msgType, err := cbor.DecodeIdFromList(msgData)
		if err != nil {
			return fmt.Errorf("%s: decode error: %w", p.config.Name, err)
		}
		msg, err := p.config.MessageFromCborFunc(uint(msgType), msgData) // #nosec G115
		if err != nil {
			return err
		}
		if msg == nil {
			return fmt.Errorf(
				"%s: received unknown message type %d: %w",
				p.config.Name,
				msgType,
				ErrProtocolViolationInvalidMessage,
			)
		}
		p.stateMutex.Lock()
		newState, err := p.getNewState(msg)
		if err != nil {
			p.stateMutex.Unlock()
			return fmt.Errorf(
				"%s: %w: %w",
				p.config.Name,
				ErrProtocolViolationInvalidMessage,
				err,
			)
		}
		p.setState(newState)
		p.stateMutex.Unlock()
		if err := p.config.MessageHandlerFunc(msg); err != nil {
			return err
		}
	}
	return nil
}

// getNewState must be called with stateMutex held
func (p *Protocol) getNewState(msg Message) (State, error) {
	entry, ok := p.config.StateMap[p.currentState]
	if !ok {
		return State{}, fmt.Errorf("unknown protocol state %s", p.currentState)
	}
	for _, transition := range entry.Transitions {
		if transition.MsgType != msg.Type() {
			continue
		}
		if transition.MatchFunc != nil && !transition.MatchFunc(p.config.StateContext, msg) {
			continue
		}
		return transition.NewState, nil
	}
	return State{}, fmt.Errorf(
		"message %T not allowed in current protocol state %s",
		msg,
		p.currentState,
	)
}

// setState must be called with stateMutex held
func (p *Protocol) setState(state State) {
	p.currentState = state
	p.stateSeq++
	if p.stateTimer != nil {
		p.stateTimer.Stop()
		p.stateTimer = nil
	}
	entry, ok := p.config.StateMap[state]
	if !ok || entry.Timeout <= 0 || !p.remoteHasAgency(entry.Agency) {
		return
	}
	seq := p.stateSeq
	p.stateTimer = time.AfterFunc(entry.Timeout, func() {
		p.stateMutex.Lock()
		stale := seq != p.stateSeq
		p.stateMutex.Unlock()
		if stale {
			return
		}
		p.SendError(fmt.Errorf(
			"%s: timeout waiting on transition from protocol state %s",
			p.config.Name,
			state,
		))
	})
}

func (p *Protocol) remoteHasAgency(agency ProtocolStateAgency) bool {
	switch p.config.Role {
	case ProtocolRoleClient:
		return agency == AgencyServer
	case ProtocolRoleServer:
		return agency == AgencyClient
	default:
		return false
	}
}
