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

// Package network implements the peer-sync worker: it allocates block request
// ids, tracks which requests are outstanding and turns swarm activity into a
// small set of typed events
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"time"

	"github.com/blinklabs-io/gokate/swarm"
)

// DefaultDialTimeout bounds the initial dial of known peers in Start
const DefaultDialTimeout = 10 * time.Second

// Swarm is the peer swarm the worker drives
type Swarm interface {
	SendBlockRequest(requestId uint64, blockNum uint32) error
	BroadcastAnnouncement(headers [][]byte) (int, error)
	NextEvent(ctx context.Context) (swarm.Event, error)
	LocalPeerId() swarm.PeerId
	Close() error
}

// Config is used by Start to build the swarm
type Config struct {
	// Address to accept peer connections on. No listener is started if empty.
	ListenAddress string
	// Peers dialed at startup
	KnownAddresses []swarm.PeerAddress
	NetworkMagic   uint32
	// Local identity. A new one is generated if nil.
	Identity           *swarm.Identity
	RequestTimeout     time.Duration
	DialTimeout        time.Duration
	HeaderProviderFunc swarm.HeaderProviderFunc
	Logger             *slog.Logger
	Metrics            *Metrics
}

// Network is the peer-sync worker. It is not safe for concurrent use.
type Network struct {
	swarm             Swarm
	logger            *slog.Logger
	metrics           *Metrics
	blocksRequests    map[BlocksRequestId]struct{}
	nextBlocksRequest BlocksRequestId
	queuedEvents      []queuedEvent
}

type queuedEvent struct {
	event     Event
	requestId *BlocksRequestId
}

// NetworkOptionFunc is used to set options for the Network
type NetworkOptionFunc func(*Network)

// WithLogger specifies the logger
func WithLogger(logger *slog.Logger) NetworkOptionFunc {
	return func(n *Network) {
		n.logger = logger
	}
}

// WithMetrics specifies the metrics to update
func WithMetrics(metrics *Metrics) NetworkOptionFunc {
	return func(n *Network) {
		n.metrics = metrics
	}
}

// Start builds a swarm from cfg, listens and dials the known peers, and returns
// a worker driving it. Peers that cannot be reached are logged and skipped.
func Start(ctx context.Context, cfg Config) (*Network, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	swarmOpts := []swarm.SwarmOptionFunc{
		swarm.WithNetworkMagic(cfg.NetworkMagic),
		swarm.WithLogger(logger),
		swarm.WithKnownPeers(cfg.KnownAddresses...),
		swarm.WithHeaderProviderFunc(cfg.HeaderProviderFunc),
	}
	if cfg.Identity != nil {
		swarmOpts = append(swarmOpts, swarm.WithIdentity(cfg.Identity))
	}
	if cfg.RequestTimeout > 0 {
		swarmOpts = append(swarmOpts, swarm.WithRequestTimeout(cfg.RequestTimeout))
	}
	s, err := swarm.New(swarmOpts...)
	if err != nil {
		return nil, err
	}
	if cfg.ListenAddress != "" {
		if err := s.Listen(cfg.ListenAddress); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	connected, dialErr := s.DialKnownPeers(dialCtx)
	cancel()
	if dialErr != nil {
		logger.Warn(
			fmt.Sprintf("failed to connect to some known peers: %s", dialErr),
			"component", "network",
		)
	}
	logger.Info(
		"network started",
		"component", "network",
		"peer", s.LocalPeerId().String(),
		"known_peers", len(cfg.KnownAddresses),
		"connected", connected,
	)
	return NewWithSwarm(s, WithLogger(logger), WithMetrics(cfg.Metrics)), nil
}

// NewWithSwarm returns a worker driving the given swarm
func NewWithSwarm(s Swarm, opts ...NetworkOptionFunc) *Network {
	n := &Network{
		swarm:          s,
		blocksRequests: make(map[BlocksRequestId]struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return n
}

// LocalPeerId returns the identity of the local node
func (n *Network) LocalPeerId() swarm.PeerId {
	return n.swarm.LocalPeerId()
}

// ListenAddr returns the address peers can connect to, or nil when the swarm
// is not listening
func (n *Network) ListenAddr() net.Addr {
	if l, ok := n.swarm.(interface{ ListenAddr() net.Addr }); ok {
		return l.ListenAddr()
	}
	return nil
}

// NumBlocksRequest returns the number of requests that have not been resolved
// by a BlocksRequestFinished event yet
func (n *Network) NumBlocksRequest() int {
	return len(n.blocksRequests)
}

// StartBlockRequest allocates the next request id and asks a peer for the
// header of blockNum. A failure to send is not returned: it resolves the id
// through a BlocksRequestFinished event like any other failure.
func (n *Network) StartBlockRequest(blockNum uint32) (BlocksRequestId, error) {
	if n.nextBlocksRequest == math.MaxUint64 {
		return 0, ErrRequestIdExhausted
	}
	id := n.nextBlocksRequest
	n.nextBlocksRequest++
	n.blocksRequests[id] = struct{}{}
	if n.metrics != nil {
		n.metrics.RequestsStarted.Inc()
		n.metrics.OutstandingRequests.Set(float64(len(n.blocksRequests)))
	}
	n.logger.Debug(
		"starting block request",
		"component", "network",
		"request_id", uint64(id),
		"block", blockNum,
	)
	if err := n.swarm.SendBlockRequest(uint64(id), blockNum); err != nil {
		n.queuedEvents = append(
			n.queuedEvents,
			queuedEvent{
				event: BlocksRequestFinished{
					Id: id,
					Err: &NetworkError{
						Op:  "send block request",
						Err: err,
					},
				},
				requestId: &id,
			},
		)
	}
	return id, nil
}

// AnnounceBlock broadcasts encoded block headers to every connected peer
func (n *Network) AnnounceBlock(ctx context.Context, headers ...[]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	reached, err := n.swarm.BroadcastAnnouncement(headers)
	if err != nil {
		return &NetworkError{
			Op:  "announce block",
			Err: err,
		}
	}
	if n.metrics != nil {
		n.metrics.AnnouncementsSent.Inc()
	}
	n.logger.Debug(
		"announced block headers",
		"component", "network",
		"headers", len(headers),
		"peers", reached,
	)
	return nil
}

// NextEvent waits for the next event. Events queued by the worker itself are
// returned first. An outstanding request id is released before the
// BlocksRequestFinished event that resolves it is returned.
func (n *Network) NextEvent(ctx context.Context) (Event, error) {
	for {
		if len(n.queuedEvents) > 0 {
			queued := n.queuedEvents[0]
			n.queuedEvents = n.queuedEvents[1:]
			if queued.requestId != nil {
				n.finishRequest(*queued.requestId, true)
			}
			return queued.event, nil
		}
		swarmEvent, err := n.swarm.NextEvent(ctx)
		if err != nil {
			if errors.Is(err, swarm.ErrClosed) {
				return nil, ErrNetworkClosed
			}
			return nil, err
		}
		if event := n.classify(swarmEvent); event != nil {
			return event, nil
		}
	}
}

// Close shuts down the swarm
func (n *Network) Close() error {
	return n.swarm.Close()
}

// classify maps a swarm event to a worker event. It returns nil for activity
// that is intentionally not surfaced.
func (n *Network) classify(swarmEvent swarm.Event) Event {
	switch e := swarmEvent.(type) {
	case swarm.AnnouncementEvent:
		if n.metrics != nil {
			n.metrics.AnnouncementsReceived.Inc()
		}
		return BlocksAnnouncementReceived{
			Peer:    e.Peer,
			Headers: e.Headers,
		}
	case swarm.BlockResponseEvent:
		id := BlocksRequestId(e.RequestId)
		if !n.finishRequest(id, false) {
			n.dropped("response for unknown block request", "peer", e.Peer.String(), "request_id", e.RequestId)
			return nil
		}
		return BlocksRequestFinished{
			Id:    id,
			Peer:  e.Peer,
			Block: e.Header,
		}
	case swarm.RequestFailedEvent:
		id := BlocksRequestId(e.RequestId)
		if !n.finishRequest(id, true) {
			n.dropped("failure for unknown block request", "peer", e.Peer.String(), "request_id", e.RequestId)
			return nil
		}
		return BlocksRequestFinished{
			Id:   id,
			Peer: e.Peer,
			Err: &NetworkError{
				Op:   "block request",
				Peer: e.Peer,
				Err:  e.Err,
			},
		}
	case swarm.PeerConnectedEvent:
		if n.metrics != nil {
			n.metrics.ConnectedPeers.Inc()
		}
		return PeerConnected{
			Peer:    e.Peer,
			Address: e.Address,
			Inbound: e.Inbound,
		}
	case swarm.PeerDisconnectedEvent:
		if n.metrics != nil {
			n.metrics.ConnectedPeers.Dec()
		}
		return PeerDisconnected{
			Peer: e.Peer,
			Err:  e.Err,
		}
	case swarm.InboundRequestEvent:
		n.dropped("served inbound block request", "peer", e.Peer.String(), "block", e.BlockNum, "found", e.Found)
		return nil
	default:
		n.dropped(fmt.Sprintf("unhandled swarm event %T", swarmEvent))
		return nil
	}
}

// finishRequest removes id from the outstanding set and reports whether it was there
func (n *Network) finishRequest(id BlocksRequestId, failed bool) bool {
	if _, ok := n.blocksRequests[id]; !ok {
		return false
	}
	delete(n.blocksRequests, id)
	if n.metrics != nil {
		n.metrics.RequestsFinished.Inc()
		if failed {
			n.metrics.RequestsFailed.Inc()
		}
		n.metrics.OutstandingRequests.Set(float64(len(n.blocksRequests)))
	}
	return true
}

func (n *Network) dropped(msg string, args ...any) {
	n.logger.Debug(
		msg,
		append([]any{"component", "network"}, args...)...,
	)
}
