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

// Package node drives the light client sync loop: it consumes network events,
// keeps recent headers available to peers, requests headers it missed and
// publishes the data matrix of every new block
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/blinklabs-io/gokate/block"
	"github.com/blinklabs-io/gokate/matrix"
	"github.com/blinklabs-io/gokate/network"
	"github.com/blinklabs-io/gokate/swarm"
)

const (
	DefaultHeaderCacheSize = 1024
	DefaultMaxGapRequests  = 16
	// DefaultMaxCells bounds the matrix size the node will build and publish
	DefaultMaxCells           = 1 << 16
	DefaultPublishConcurrency = 2
)

// ErrBlockNumberRange is returned for headers the block request protocol
// cannot address
var ErrBlockNumberRange = errors.New("block number out of range")

// GarbageCollector is the part of datastore.Store used by RunGC
type GarbageCollector interface {
	GC(ctx context.Context) (int, error)
}

// Worker is the part of network.Network used by the sync loop
type Worker interface {
	StartBlockRequest(blockNum uint32) (network.BlocksRequestId, error)
	NextEvent(ctx context.Context) (network.Event, error)
	NumBlocksRequest() int
}

// Node holds the sync loop state
type Node struct {
	logger          *slog.Logger
	builder         *matrix.Builder
	publisher       *matrix.Publisher
	headerCacheSize int
	maxGapRequests  int
	maxCells        int
	gc              GarbageCollector
	gcInterval      time.Duration
	clock           clock.Clock
	headers         *lru.Cache[uint32, []byte]
	bestBlock       uint64
	haveBest        bool
	published       *lru.Cache[uint64, *matrix.MatrixResult]
	publishSem      chan struct{}
	publishWg       sync.WaitGroup
	publishMutex    sync.Mutex
	publishing      map[uint64]struct{}
}

// NodeOptionFunc is used to set options for the Node
type NodeOptionFunc func(*Node)

// WithLogger specifies the logger
func WithLogger(logger *slog.Logger) NodeOptionFunc {
	return func(n *Node) {
		n.logger = logger
	}
}

// WithMatrixPublishing enables building and publishing the matrix of every new block
func WithMatrixPublishing(builder *matrix.Builder, publisher *matrix.Publisher) NodeOptionFunc {
	return func(n *Node) {
		n.builder = builder
		n.publisher = publisher
	}
}

// WithHeaderCacheSize specifies how many recent headers are kept to serve peers
func WithHeaderCacheSize(size int) NodeOptionFunc {
	return func(n *Node) {
		n.headerCacheSize = size
	}
}

// WithMaxGapRequests limits how many missed headers are requested after one announcement
func WithMaxGapRequests(maxGapRequests int) NodeOptionFunc {
	return func(n *Node) {
		n.maxGapRequests = maxGapRequests
	}
}

// WithMaxCells skips publishing blocks whose matrix has more cells
func WithMaxCells(maxCells int) NodeOptionFunc {
	return func(n *Node) {
		n.maxCells = maxCells
	}
}

// WithPublishConcurrency specifies how many matrices are published at once.
// The sync loop waits when all publish workers are busy.
func WithPublishConcurrency(concurrency int) NodeOptionFunc {
	return func(n *Node) {
		n.publishSem = make(chan struct{}, max(concurrency, 1))
	}
}

// WithGarbageCollection makes RunGC collect gc every interval
func WithGarbageCollection(gc GarbageCollector, interval time.Duration) NodeOptionFunc {
	return func(n *Node) {
		n.gc = gc
		n.gcInterval = interval
	}
}

// WithClock specifies the clock used for garbage collection
func WithClock(clk clock.Clock) NodeOptionFunc {
	return func(n *Node) {
		n.clock = clk
	}
}

// New returns a Node with the specified options
func New(opts ...NodeOptionFunc) (*Node, error) {
	n := &Node{
		headerCacheSize: DefaultHeaderCacheSize,
		maxGapRequests:  DefaultMaxGapRequests,
		maxCells:        DefaultMaxCells,
		publishing:      make(map[uint64]struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.publishSem == nil {
		n.publishSem = make(chan struct{}, DefaultPublishConcurrency)
	}
	if n.clock == nil {
		n.clock = clock.New()
	}
	if n.logger == nil {
		n.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	n.logger = n.logger.With("component", "node")
	headers, err := lru.New[uint32, []byte](n.headerCacheSize)
	if err != nil {
		return nil, fmt.Errorf("header cache: %w", err)
	}
	n.headers = headers
	published, err := lru.New[uint64, *matrix.MatrixResult](n.headerCacheSize)
	if err != nil {
		return nil, fmt.Errorf("publish cache: %w", err)
	}
	n.published = published
	return n, nil
}

// HeaderProvider serves peer block requests from the header cache. It is
// safe for concurrent use.
func (n *Node) HeaderProvider() swarm.HeaderProviderFunc {
	return func(blockNum uint32) ([]byte, error) {
		header, ok := n.headers.Get(blockNum)
		if !ok {
			return nil, nil
		}
		return header, nil
	}
}

// AddHeader stores an encoded header in the cache. Headers above the
// addressable block range are rejected with ErrBlockNumberRange.
func (n *Node) AddHeader(header *block.Header) error {
	if header.Number > math.MaxUint32 {
		return fmt.Errorf("%w: %d", ErrBlockNumberRange, header.Number)
	}
	data, err := header.Cbor()
	if err != nil {
		return err
	}
	n.headers.Add(uint32(header.Number), data) // #nosec G115
	return nil
}

// BestBlock returns the highest block number seen, if any
func (n *Node) BestBlock() (uint64, bool) {
	return n.bestBlock, n.haveBest
}

// Published returns the publish result for a recently published block
func (n *Node) Published(blockNum uint64) (*matrix.MatrixResult, bool) {
	return n.published.Get(blockNum)
}

// Run processes worker events until ctx is cancelled or the network closes.
// It returns once in-flight publishes are done.
func (n *Node) Run(ctx context.Context, w Worker) error {
	defer n.publishWg.Wait()
	for {
		event, err := w.NextEvent(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, network.ErrNetworkClosed) {
				return nil
			}
			return err
		}
		n.HandleEvent(ctx, w, event)
	}
}

// RunGC collects unpinned blocks every gc interval until ctx is cancelled.
// Blocks left by failed publishes are removed this way. It returns
// immediately when garbage collection is not configured.
func (n *Node) RunGC(ctx context.Context) error {
	if n.gc == nil || n.gcInterval <= 0 {
		return nil
	}
	ticker := n.clock.Ticker(n.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		removed, err := n.gc.GC(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			n.logger.Warn(fmt.Sprintf("garbage collection failed: %s", err))
			continue
		}
		n.logger.Debug(
			"garbage collection done",
			"removed", removed,
		)
	}
}

// HandleEvent processes a single worker event
func (n *Node) HandleEvent(ctx context.Context, w Worker, event network.Event) {
	switch e := event.(type) {
	case network.BlocksAnnouncementReceived:
		headers, err := e.DecodeHeaders()
		if err != nil {
			n.logger.Warn(
				fmt.Sprintf("invalid announcement: %s", err),
				"peer", e.Peer.String(),
			)
			return
		}
		for _, header := range headers {
			if header.Number > math.MaxUint32 {
				n.logger.Warn(
					"ignoring announced header above block range",
					"block", header.Number,
					"peer", e.Peer.String(),
				)
				continue
			}
			n.requestGap(w, header.Number)
			n.handleHeader(ctx, header)
		}
	case network.BlocksRequestFinished:
		if e.Err != nil {
			if errors.Is(e.Err, swarm.ErrNotFound) {
				n.logger.Debug(
					"peer does not have requested block",
					"request_id", uint64(e.Id),
				)
				return
			}
			n.logger.Warn(
				fmt.Sprintf("block request failed: %s", e.Err),
				"request_id", uint64(e.Id),
			)
			return
		}
		header, err := e.DecodeHeader()
		if err != nil {
			n.logger.Warn(
				fmt.Sprintf("invalid header in block response: %s", err),
				"request_id", uint64(e.Id),
				"peer", e.Peer.String(),
			)
			return
		}
		n.handleHeader(ctx, header)
	case network.PeerConnected:
		n.logger.Info(
			"peer connected",
			"peer", e.Peer.String(),
			"address", e.Address,
			"inbound", e.Inbound,
		)
	case network.PeerDisconnected:
		n.logger.Info(
			"peer disconnected",
			"peer", e.Peer.String(),
		)
	}
}

// requestGap asks peers for the headers between the best block and blockNum
func (n *Node) requestGap(w Worker, blockNum uint64) {
	if !n.haveBest || blockNum <= n.bestBlock+1 || blockNum > math.MaxUint32 {
		return
	}
	first := n.bestBlock + 1
	if blockNum-first > uint64(n.maxGapRequests) {
		first = blockNum - uint64(n.maxGapRequests)
	}
	for missing := first; missing < blockNum; missing++ {
		if _, ok := n.headers.Get(uint32(missing)); ok { // #nosec G115
			continue
		}
		id, err := w.StartBlockRequest(uint32(missing)) // #nosec G115
		if err != nil {
			n.logger.Warn(
				fmt.Sprintf("failed to request missed block: %s", err),
				"block", missing,
			)
			return
		}
		n.logger.Debug(
			"requested missed block",
			"block", missing,
			"request_id", uint64(id),
			"outstanding", w.NumBlocksRequest(),
		)
	}
}

func (n *Node) handleHeader(ctx context.Context, header *block.Header) {
	if err := n.AddHeader(header); err != nil {
		n.logger.Warn(
			fmt.Sprintf("failed to add header: %s", err),
			"block", header.Number,
		)
		return
	}
	if !n.haveBest || header.Number > n.bestBlock {
		n.bestBlock = header.Number
		n.haveBest = true
	}
	if n.publisher == nil {
		return
	}
	if n.maxCells > 0 && header.Cells() > n.maxCells {
		n.logger.Warn(
			"not publishing matrix above cell limit",
			"block", header.Number,
			"rows", header.Rows,
			"cols", header.Cols,
			"max_cells", n.maxCells,
		)
		return
	}
	n.publishMutex.Lock()
	_, busy := n.publishing[header.Number]
	if busy || n.published.Contains(header.Number) {
		n.publishMutex.Unlock()
		return
	}
	n.publishing[header.Number] = struct{}{}
	n.publishMutex.Unlock()
	select {
	case n.publishSem <- struct{}{}:
	case <-ctx.Done():
		n.donePublishing(header.Number)
		return
	}
	n.publishWg.Add(1)
	go func() {
		defer n.publishWg.Done()
		defer func() { <-n.publishSem }()
		defer n.donePublishing(header.Number)
		if err := n.publishHeader(ctx, header); err != nil {
			n.logger.Error(
				fmt.Sprintf("failed to publish matrix: %s", err),
				"block", header.Number,
			)
		}
	}()
}

func (n *Node) donePublishing(blockNum uint64) {
	n.publishMutex.Lock()
	delete(n.publishing, blockNum)
	n.publishMutex.Unlock()
}

func (n *Node) publishHeader(ctx context.Context, header *block.Header) error {
	m, err := n.builder.ConstructMatrix(ctx, header.Number, header.Rows, header.Cols)
	if err != nil {
		return err
	}
	res, err := n.publisher.PublishMatrix(ctx, m)
	if err != nil {
		return err
	}
	n.published.Add(header.Number, res)
	expected, err := header.MatrixRootCid()
	if err != nil {
		return err
	}
	if expected.Defined() && !expected.Equals(res.Root) {
		n.logger.Warn(
			"published matrix root differs from announced root",
			"block", header.Number,
			"announced", expected.String(),
			"published", res.Root.String(),
		)
	}
	return nil
}
