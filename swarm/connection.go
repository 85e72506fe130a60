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

package swarm

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/blinklabs-io/gokate/connection"
	"github.com/blinklabs-io/gokate/muxer"
	"github.com/blinklabs-io/gokate/protocol"
	"github.com/blinklabs-io/gokate/protocol/blockannounce"
	"github.com/blinklabs-io/gokate/protocol/blockrequest"
	"github.com/blinklabs-io/gokate/protocol/handshake"
	"github.com/blinklabs-io/gokate/protocol/keepalive"
)

// Connection is a handshaken peer connection running the block-request and
// block-announce mini-protocols in both directions
type Connection struct {
	id                    connection.ConnectionId
	conn                  net.Conn
	inbound               bool
	peerId                PeerId
	protocolVersion       uint16
	config                connectionConfig
	logger                *slog.Logger
	muxer                 *muxer.Muxer
	errorChan             chan error
	protoErrorChan        chan error
	handshakeFinishedChan chan struct{}
	doneChan              chan struct{}
	waitGroup             sync.WaitGroup
	onceClose             sync.Once
	// Mini-protocols
	handshake     *handshake.Handshake
	blockRequest  *blockrequest.BlockRequest
	blockAnnounce *blockannounce.BlockAnnounce
	keepAlive     *keepalive.KeepAlive
}

type connectionConfig struct {
	identity         *Identity
	networkMagic     uint32
	expectedPeerId   *PeerId
	handshakeTimeout time.Duration
	maxPipelined     int
	keepAlivePeriod  time.Duration
	logger           *slog.Logger
	handlers         connectionHandlers
}

type connectionHandlers struct {
	block        func(*Connection, uint64, []byte) error
	noBlock      func(*Connection, uint64) error
	announce     func(*Connection, [][]byte) error
	requestBlock func(*Connection, uint32) ([]byte, error)
}

// newConnection performs the handshake over conn and starts the mini-protocols.
// The net.Conn is closed if setup fails.
func newConnection(conn net.Conn, inbound bool, cfg connectionConfig) (*Connection, error) {
	c := &Connection{
		id:                    connection.NewConnectionId(conn),
		conn:                  conn,
		inbound:               inbound,
		config:                cfg,
		errorChan:             make(chan error, 10),
		protoErrorChan:        make(chan error, 10),
		handshakeFinishedChan: make(chan struct{}),
		doneChan:              make(chan struct{}),
	}
	c.logger = cfg.logger.With(
		"component", "network",
		"connection_id", c.id.String(),
	)
	if err := c.setupConnection(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Id returns the connection identifier
func (c *Connection) Id() connection.ConnectionId {
	return c.id
}

// PeerId returns the identity the peer presented during the handshake
func (c *Connection) PeerId() PeerId {
	return c.peerId
}

// Inbound returns true for connections accepted by our listener
func (c *Connection) Inbound() bool {
	return c.inbound
}

// ProtocolVersion returns the negotiated protocol version
func (c *Connection) ProtocolVersion() uint16 {
	return c.protocolVersion
}

// RemoteAddr returns the address of the remote end
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ErrorChan returns the channel for asynchronous errors. It receives at most one
// error and is closed when the connection shuts down.
func (c *Connection) ErrorChan() <-chan error {
	return c.errorChan
}

// DoneChan is closed when the connection shuts down
func (c *Connection) DoneChan() <-chan struct{} {
	return c.doneChan
}

// BlockRequest returns the block-request protocol handler
func (c *Connection) BlockRequest() *blockrequest.BlockRequest {
	return c.blockRequest
}

// BlockAnnounce returns the block-announce protocol handler. It is nil when
// the negotiated version does not support block announcements.
func (c *Connection) BlockAnnounce() *blockannounce.BlockAnnounce {
	return c.blockAnnounce
}

// KeepAlive returns the keep-alive protocol handler. It is nil when the
// negotiated version does not support it or keep-alives are disabled.
func (c *Connection) KeepAlive() *keepalive.KeepAlive {
	return c.keepAlive
}

// Close shuts down the connection. It is safe to call more than once.
func (c *Connection) Close() error {
	c.onceClose.Do(func() {
		close(c.doneChan)
		if c.muxer != nil {
			c.muxer.Stop()
		} else {
			_ = c.conn.Close()
		}
		c.waitGroup.Wait()
		close(c.errorChan)
	})
	return nil
}

// fail records the first fatal error and shuts the connection down
func (c *Connection) fail(err error) {
	select {
	case c.errorChan <- err:
	default:
	}
	// Close waits on our goroutines, so it can't run on this one
	go func() {
		_ = c.Close()
	}()
}

// setupConnection establishes the muxer, runs the handshake and initializes the
// negotiated mini-protocols
func (c *Connection) setupConnection() error {
	c.muxer = muxer.New(c.conn)
	// Start Goroutine to pass along errors from the muxer
	c.waitGroup.Add(1)
	go func() {
		defer c.waitGroup.Done()
		select {
		case <-c.doneChan:
			return
		case err := <-c.muxer.ErrorChan():
			var closedErr *muxer.ConnectionClosedError
			if errors.As(err, &closedErr) {
				c.fail(io.EOF)
			} else {
				c.fail(fmt.Errorf("muxer error: %w", err))
			}
		}
	}()
	protoOptions := protocol.ProtocolOptions{
		ConnectionId: c.id,
		Muxer:        c.muxer,
		Logger:       c.config.logger,
		ErrorChan:    c.protoErrorChan,
	}
	// Perform handshake
	handshakeConfig := handshake.NewConfig(
		handshake.WithProtocolVersions(ProtocolVersions()...),
		handshake.WithNetworkMagic(c.config.networkMagic),
		handshake.WithPublicKey(c.config.identity.PublicKey()),
		handshake.WithTimeout(c.config.handshakeTimeout),
		handshake.WithFinishedFunc(c.handshakeFinished),
	)
	c.handshake = handshake.New(protoOptions, &handshakeConfig)
	if c.inbound {
		c.handshake.Server.Start()
	} else {
		c.handshake.Client.Start()
	}
	// Wait for handshake completion or error
	select {
	case <-c.doneChan:
		// fail queues the error before shutting down
		select {
		case err, ok := <-c.errorChan:
			if ok && err != nil {
				return err
			}
		default:
		}
		return io.EOF
	case err := <-c.protoErrorChan:
		return err
	case <-c.handshakeFinishedChan:
	}
	// Start Goroutine to pass along errors from the mini-protocols
	c.waitGroup.Add(1)
	go func() {
		defer c.waitGroup.Done()
		select {
		case <-c.doneChan:
			return
		case err := <-c.protoErrorChan:
			// A failed write means the peer went away
			var closedErr *muxer.ConnectionClosedError
			if errors.As(err, &closedErr) {
				c.fail(io.EOF)
			} else {
				c.fail(fmt.Errorf("protocol error: %w", err))
			}
		}
	}()
	version := getProtocolVersion(c.protocolVersion)
	if version.EnableBlockRequestProtocol {
		blockRequestConfig := blockrequest.NewConfig(
			blockrequest.WithMaxPipelined(c.config.maxPipelined),
			blockrequest.WithBlockFunc(func(ctx blockrequest.CallbackContext, requestId uint64, header []byte) error {
				return c.config.handlers.block(c, requestId, header)
			}),
			blockrequest.WithNoBlockFunc(func(ctx blockrequest.CallbackContext, requestId uint64) error {
				return c.config.handlers.noBlock(c, requestId)
			}),
			blockrequest.WithRequestBlockFunc(func(ctx blockrequest.CallbackContext, blockNum uint32) ([]byte, error) {
				return c.config.handlers.requestBlock(c, blockNum)
			}),
		)
		c.blockRequest = blockrequest.New(protoOptions, &blockRequestConfig)
		c.blockRequest.Client.Start()
		c.blockRequest.Server.Start()
	}
	if version.EnableBlockAnnounceProtocol {
		blockAnnounceConfig := blockannounce.NewConfig(
			blockannounce.WithAnnounceFunc(func(ctx blockannounce.CallbackContext, headers [][]byte) error {
				return c.config.handlers.announce(c, headers)
			}),
		)
		c.blockAnnounce = blockannounce.New(protoOptions, &blockAnnounceConfig)
		c.blockAnnounce.Client.Start()
		c.blockAnnounce.Server.Start()
	}
	if version.EnableKeepAliveProtocol {
		keepAliveOpts := []keepalive.KeepAliveOptionFunc{
			keepalive.WithKeepAliveResponseFunc(func(ctx keepalive.CallbackContext, cookie uint16, roundTrip time.Duration) error {
				c.logger.Debug(
					"keep-alive response",
					"peer", c.peerId.String(),
					"round_trip", roundTrip,
				)
				return nil
			}),
		}
		if c.config.keepAlivePeriod > 0 {
			keepAliveOpts = append(keepAliveOpts, keepalive.WithPeriod(c.config.keepAlivePeriod))
		}
		keepAliveConfig := keepalive.NewConfig(keepAliveOpts...)
		c.keepAlive = keepalive.New(protoOptions, &keepAliveConfig)
		c.keepAlive.Server.Start()
	}
	// Both sides act as initiator and responder once the handshake is done
	c.muxer.SetDiffusionMode(muxer.DiffusionModeInitiatorAndResponder)
	c.muxer.Start()
	if c.keepAlive != nil {
		// The first ping goes out once the muxer delivers responses
		c.keepAlive.Client.Start()
	}
	c.logger.Debug(
		"peer connection established",
		"peer", c.peerId.String(),
		"version", c.protocolVersion,
		"inbound", c.inbound,
	)
	return nil
}

func (c *Connection) handshakeFinished(ctx handshake.CallbackContext, result handshake.Result) error {
	peerId, err := PeerIdFromPublicKey(result.PeerPublicKey)
	if err != nil {
		return err
	}
	if c.config.expectedPeerId != nil && peerId != *c.config.expectedPeerId {
		return fmt.Errorf(
			"%w: expected %s, got %s",
			ErrPeerIdMismatch,
			c.config.expectedPeerId.String(),
			peerId.String(),
		)
	}
	if bytes.Equal(result.PeerPublicKey, c.config.identity.PublicKey()) {
		return ErrSelfConnection
	}
	c.peerId = peerId
	c.protocolVersion = result.Version
	close(c.handshakeFinishedChan)
	return nil
}
