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

// Package swarm manages authenticated peer connections and exposes block
// requests and announcements across them as a single event stream
package swarm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"

	"github.com/blinklabs-io/gokate/protocol/blockannounce"
	"github.com/blinklabs-io/gokate/protocol/blockrequest"
	"github.com/blinklabs-io/gokate/protocol/handshake"
	"github.com/blinklabs-io/gokate/protocol/keepalive"
)

const (
	DefaultRequestTimeout        = 30 * time.Second
	DefaultEventQueueSize        = 256
	DefaultAnnouncementCacheSize = 4096

	// Number of known peers dialed at the same time
	dialConcurrency = 8
)

// Swarm is a set of peer connections sharing one identity
type Swarm struct {
	identity              *Identity
	networkMagic          uint32
	logger                *slog.Logger
	requestTimeout        time.Duration
	handshakeTimeout      time.Duration
	maxPipelined          int
	keepAlivePeriod       time.Duration
	clock                 clock.Clock
	headerProviderFunc    HeaderProviderFunc
	eventQueueSize        int
	announcementCacheSize int
	knownPeers            []PeerAddress

	connManager    *ConnectionManager
	eventChan      chan Event
	seenHeaders    *lru.Cache[[32]byte, struct{}]
	pending        map[uint64]*pendingRequest
	pendingMutex   sync.Mutex
	nextPeer       uint64
	peerEventMutex sync.Mutex
	listener       net.Listener
	handshaking    map[net.Conn]struct{}
	connMutex      sync.Mutex
	doneChan       chan struct{}
	waitGroup      sync.WaitGroup
	onceClose      sync.Once
	closeErr       error
}

type pendingRequest struct {
	connId string
	peer   PeerId
	timer  *clock.Timer
}

// New returns a new Swarm with the specified options
func New(options ...SwarmOptionFunc) (*Swarm, error) {
	s := &Swarm{
		requestTimeout:        DefaultRequestTimeout,
		handshakeTimeout:      handshake.DefaultTimeout,
		maxPipelined:          blockrequest.DefaultMaxPipelined,
		keepAlivePeriod:       keepalive.DefaultPeriod,
		eventQueueSize:        DefaultEventQueueSize,
		announcementCacheSize: DefaultAnnouncementCacheSize,
		pending:               make(map[uint64]*pendingRequest),
		handshaking:           make(map[net.Conn]struct{}),
		doneChan:              make(chan struct{}),
	}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.identity == nil {
		identity, err := GenerateIdentity()
		if err != nil {
			return nil, fmt.Errorf("generate identity: %w", err)
		}
		s.identity = identity
	}
	seenHeaders, err := lru.New[[32]byte, struct{}](s.announcementCacheSize)
	if err != nil {
		return nil, fmt.Errorf("announcement cache: %w", err)
	}
	s.seenHeaders = seenHeaders
	s.eventChan = make(chan Event, s.eventQueueSize)
	s.connManager = NewConnectionManager(
		ConnectionManagerConfig{
			ConnClosedFunc: s.connectionClosed,
		},
	)
	for _, peer := range s.knownPeers {
		s.connManager.AddHost(peer, ConnectionManagerTagHostKnownPeer)
	}
	return s, nil
}

// LocalPeerId returns the identity of this swarm
func (s *Swarm) LocalPeerId() PeerId {
	return s.identity.PeerId()
}

// Peers returns the identities of the connected peers
func (s *Swarm) Peers() []PeerId {
	conns := s.connManager.GetConnectionsByTags()
	ret := make([]PeerId, 0, len(conns))
	for _, conn := range conns {
		ret = append(ret, conn.Conn.PeerId())
	}
	return ret
}

// ConnectionManager returns the connection manager backing the swarm
func (s *Swarm) ConnectionManager() *ConnectionManager {
	return s.connManager
}

func (s *Swarm) isClosed() bool {
	select {
	case <-s.doneChan:
		return true
	default:
		return false
	}
}

// Listen accepts inbound peer connections on the given TCP address
func (s *Swarm) Listen(address string) error {
	if s.isClosed() {
		return ErrClosed
	}
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", address, err)
	}
	s.connMutex.Lock()
	if s.listener != nil {
		s.connMutex.Unlock()
		_ = listener.Close()
		return errors.New("swarm: already listening")
	}
	s.listener = listener
	s.connMutex.Unlock()
	s.logger.Info(
		"listening for peer connections",
		"component", "network",
		"address", listener.Addr().String(),
	)
	s.waitGroup.Add(1)
	go s.acceptLoop(listener)
	return nil
}

// ListenAddr returns the listener address, or nil when not listening
func (s *Swarm) ListenAddr() net.Addr {
	s.connMutex.Lock()
	defer s.connMutex.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Swarm) acceptLoop(listener net.Listener) {
	defer s.waitGroup.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn(
				fmt.Sprintf("accept failed: %s", err),
				"component", "network",
			)
			continue
		}
		s.waitGroup.Add(1)
		go func() {
			defer s.waitGroup.Done()
			if _, err := s.setupPeer(conn, true, nil); err != nil {
				s.logger.Debug(
					fmt.Sprintf("inbound connection failed: %s", err),
					"component", "network",
					"remote_addr", conn.RemoteAddr().String(),
				)
			}
		}()
	}
}

// Dial connects to a peer and completes the handshake. Cancelling ctx aborts
// the dial and the handshake.
func (s *Swarm) Dial(ctx context.Context, addr PeerAddress) (PeerId, error) {
	if s.isClosed() {
		return PeerId{}, ErrClosed
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return PeerId{}, fmt.Errorf("dial %s: %w", addr, err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	c, err := s.setupPeer(conn, false, addr.PeerId)
	if !stop() {
		if c != nil {
			_ = c.Close()
		}
		return PeerId{}, ctx.Err()
	}
	if err != nil {
		return PeerId{}, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return c.PeerId(), nil
}

// DialKnownPeers dials every configured known peer and returns how many
// connections were established. Failed dials are combined into the returned error.
func (s *Swarm) DialKnownPeers(ctx context.Context) (int, error) {
	var (
		mu        sync.Mutex
		connected int
		dialErr   error
	)
	var g errgroup.Group
	g.SetLimit(dialConcurrency)
	for _, host := range s.connManager.Hosts() {
		if !host.Tags[ConnectionManagerTagHostKnownPeer] {
			continue
		}
		g.Go(func() error {
			_, err := s.Dial(ctx, host.Address)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				dialErr = multierr.Append(dialErr, err)
				return nil
			}
			connected++
			return nil
		})
	}
	_ = g.Wait()
	return connected, dialErr
}

func (s *Swarm) connectionConfig(expectedPeerId *PeerId) connectionConfig {
	return connectionConfig{
		identity:         s.identity,
		networkMagic:     s.networkMagic,
		expectedPeerId:   expectedPeerId,
		handshakeTimeout: s.handshakeTimeout,
		maxPipelined:     s.maxPipelined,
		keepAlivePeriod:  s.keepAlivePeriod,
		logger:           s.logger,
		handlers: connectionHandlers{
			block:        s.handleBlock,
			noBlock:      s.handleNoBlock,
			announce:     s.handleAnnounce,
			requestBlock: s.handleRequestBlock,
		},
	}
}

func (s *Swarm) setupPeer(conn net.Conn, inbound bool, expectedPeerId *PeerId) (*Connection, error) {
	// Track the raw connection so that Close can abort the handshake
	s.connMutex.Lock()
	if s.isClosed() {
		s.connMutex.Unlock()
		_ = conn.Close()
		return nil, ErrClosed
	}
	s.handshaking[conn] = struct{}{}
	s.connMutex.Unlock()
	c, err := newConnection(conn, inbound, s.connectionConfig(expectedPeerId))
	s.connMutex.Lock()
	delete(s.handshaking, conn)
	s.connMutex.Unlock()
	if err != nil {
		return nil, err
	}
	role := ConnectionManagerTagRoleInitiator
	if inbound {
		role = ConnectionManagerTagRoleResponder
	}
	s.peerEventMutex.Lock()
	defer s.peerEventMutex.Unlock()
	if s.isClosed() {
		_ = c.Close()
		return nil, ErrClosed
	}
	s.connManager.AddConnection(c, role)
	s.logger.Info(
		"peer connected",
		"component", "network",
		"peer", c.PeerId().String(),
		"remote_addr", c.RemoteAddr().String(),
		"inbound", inbound,
	)
	s.emit(
		PeerConnectedEvent{
			Peer:    c.PeerId(),
			Address: c.RemoteAddr().String(),
			Inbound: inbound,
		},
	)
	return c, nil
}

func (s *Swarm) connectionClosed(conn *Connection, err error) {
	connId := conn.Id().String()
	var failed []uint64
	var failedPeers []PeerId
	s.pendingMutex.Lock()
	for requestId, req := range s.pending {
		if req.connId != connId {
			continue
		}
		req.timer.Stop()
		delete(s.pending, requestId)
		failed = append(failed, requestId)
		failedPeers = append(failedPeers, req.peer)
	}
	s.pendingMutex.Unlock()
	s.peerEventMutex.Lock()
	defer s.peerEventMutex.Unlock()
	for idx, requestId := range failed {
		s.emit(
			RequestFailedEvent{
				Peer:      failedPeers[idx],
				RequestId: requestId,
				Err:       ErrConnectionClosed,
			},
		)
	}
	if err != nil {
		s.logger.Info(
			fmt.Sprintf("peer disconnected: %s", err),
			"component", "network",
			"peer", conn.PeerId().String(),
		)
	} else {
		s.logger.Info(
			"peer disconnected",
			"component", "network",
			"peer", conn.PeerId().String(),
		)
	}
	s.emit(
		PeerDisconnectedEvent{
			Peer: conn.PeerId(),
			Err:  err,
		},
	)
}

// emit queues an event, waiting for room unless the swarm is closed
func (s *Swarm) emit(event Event) {
	select {
	case s.eventChan <- event:
	case <-s.doneChan:
	}
}

// NextEvent waits for the next swarm event
func (s *Swarm) NextEvent(ctx context.Context) (Event, error) {
	select {
	case event := <-s.eventChan:
		return event, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.doneChan:
		return nil, ErrClosed
	}
}

// SendBlockRequest asks a connected peer for the header of blockNum. Peers are
// chosen round-robin, skipping any whose pipeline is full. The outcome arrives
// later as a BlockResponseEvent or RequestFailedEvent carrying requestId.
func (s *Swarm) SendBlockRequest(requestId uint64, blockNum uint32) error {
	if s.isClosed() {
		return ErrClosed
	}
	conns := s.connManager.GetConnectionsByTags()
	if len(conns) == 0 {
		return ErrNoPeers
	}
	s.pendingMutex.Lock()
	if _, ok := s.pending[requestId]; ok {
		s.pendingMutex.Unlock()
		return fmt.Errorf("%w: %d", ErrDuplicateRequest, requestId)
	}
	start := s.nextPeer
	s.nextPeer++
	s.pendingMutex.Unlock()
	var sendErr error
	for i := range conns {
		conn := conns[(start+uint64(i))%uint64(len(conns))].Conn
		if conn.BlockRequest() == nil {
			continue
		}
		// Register before sending so that a fast response finds the request
		s.addPending(requestId, conn)
		err := conn.BlockRequest().Client.RequestBlock(requestId, blockNum)
		if err == nil {
			return nil
		}
		s.takePending(requestId)
		sendErr = multierr.Append(sendErr, fmt.Errorf("peer %s: %w", conn.PeerId(), err))
	}
	if sendErr == nil {
		return ErrNoPeers
	}
	return sendErr
}

func (s *Swarm) addPending(requestId uint64, conn *Connection) {
	s.pendingMutex.Lock()
	defer s.pendingMutex.Unlock()
	s.pending[requestId] = &pendingRequest{
		connId: conn.Id().String(),
		peer:   conn.PeerId(),
		timer: s.clock.AfterFunc(s.requestTimeout, func() {
			s.failRequest(requestId, ErrRequestTimeout)
		}),
	}
}

func (s *Swarm) takePending(requestId uint64) (*pendingRequest, bool) {
	s.pendingMutex.Lock()
	defer s.pendingMutex.Unlock()
	req, ok := s.pending[requestId]
	if !ok {
		return nil, false
	}
	req.timer.Stop()
	delete(s.pending, requestId)
	return req, true
}

func (s *Swarm) failRequest(requestId uint64, err error) {
	req, ok := s.takePending(requestId)
	if !ok {
		return
	}
	s.logger.Debug(
		fmt.Sprintf("block request failed: %s", err),
		"component", "network",
		"peer", req.peer.String(),
		"request_id", requestId,
	)
	s.emit(
		RequestFailedEvent{
			Peer:      req.peer,
			RequestId: requestId,
			Err:       err,
		},
	)
}

func (s *Swarm) handleBlock(conn *Connection, requestId uint64, header []byte) error {
	if _, ok := s.takePending(requestId); !ok {
		s.logger.Debug(
			"received response for unknown or expired block request",
			"component", "network",
			"peer", conn.PeerId().String(),
			"request_id", requestId,
		)
	}
	s.emit(
		BlockResponseEvent{
			Peer:      conn.PeerId(),
			RequestId: requestId,
			Header:    header,
		},
	)
	return nil
}

func (s *Swarm) handleNoBlock(conn *Connection, requestId uint64) error {
	req, ok := s.takePending(requestId)
	if !ok {
		return nil
	}
	s.emit(
		RequestFailedEvent{
			Peer:      req.peer,
			RequestId: requestId,
			Err:       ErrNotFound,
		},
	)
	return nil
}

func (s *Swarm) handleRequestBlock(conn *Connection, blockNum uint32) ([]byte, error) {
	var header []byte
	var err error
	if s.headerProviderFunc != nil {
		header, err = s.headerProviderFunc(blockNum)
	}
	s.emit(
		InboundRequestEvent{
			Peer:     conn.PeerId(),
			BlockNum: blockNum,
			Found:    err == nil && header != nil,
		},
	)
	return header, err
}

func (s *Swarm) handleAnnounce(conn *Connection, headers [][]byte) error {
	fresh := make([][]byte, 0, len(headers))
	for _, header := range headers {
		if seen, _ := s.seenHeaders.ContainsOrAdd(blake2b.Sum256(header), struct{}{}); seen {
			continue
		}
		fresh = append(fresh, header)
	}
	if len(fresh) == 0 {
		s.logger.Debug(
			"dropping announcement of already seen headers",
			"component", "network",
			"peer", conn.PeerId().String(),
		)
		return nil
	}
	s.emit(
		AnnouncementEvent{
			Peer:    conn.PeerId(),
			Headers: fresh,
		},
	)
	return nil
}

// BroadcastAnnouncement announces headers to every connected peer and returns
// the number of peers reached. The headers are remembered so that echoes from
// other peers are not reported back.
func (s *Swarm) BroadcastAnnouncement(headers [][]byte) (int, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}
	if len(headers) == 0 {
		return 0, blockannounce.ErrEmptyAnnouncement
	}
	for _, header := range headers {
		s.seenHeaders.Add(blake2b.Sum256(header), struct{}{})
	}
	conns := s.connManager.GetConnectionsByTags()
	if len(conns) == 0 {
		return 0, ErrNoPeers
	}
	var reached int
	var sendErr error
	for _, conn := range conns {
		announce := conn.Conn.BlockAnnounce()
		if announce == nil {
			continue
		}
		if err := announce.Client.Announce(headers); err != nil {
			sendErr = multierr.Append(sendErr, fmt.Errorf("peer %s: %w", conn.Conn.PeerId(), err))
			continue
		}
		reached++
	}
	if reached == 0 {
		if sendErr == nil {
			return 0, ErrNoPeers
		}
		return 0, sendErr
	}
	if sendErr != nil {
		s.logger.Warn(
			fmt.Sprintf("announcement not delivered to every peer: %s", sendErr),
			"component", "network",
		)
	}
	return reached, nil
}

// Close shuts down the listener and every peer connection. Outstanding block
// requests are dropped without events.
func (s *Swarm) Close() error {
	s.onceClose.Do(func() {
		s.connMutex.Lock()
		close(s.doneChan)
		var err error
		if s.listener != nil {
			if closeErr := s.listener.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
				err = multierr.Append(err, closeErr)
			}
		}
		for conn := range s.handshaking {
			_ = conn.Close()
		}
		s.connMutex.Unlock()
		for _, conn := range s.connManager.GetConnectionsByTags() {
			err = multierr.Append(err, conn.Conn.Close())
		}
		s.waitGroup.Wait()
		s.pendingMutex.Lock()
		for requestId, req := range s.pending {
			req.timer.Stop()
			delete(s.pending, requestId)
		}
		s.pendingMutex.Unlock()
		s.closeErr = err
	})
	return s.closeErr
}
