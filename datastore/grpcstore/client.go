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

package grpcstore

import (
	"context"
	"time"

	"github.com/blinklabs-io/gokate/datastore"
	"github.com/blinklabs-io/gokate/ipld"
	"github.com/ipfs/go-cid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client implements datastore.Blockstore over the block store service. Every
// block received is checked against the requested CID.
type Client struct {
	cc      *grpc.ClientConn
	client  BlockStoreClient
	timeout time.Duration
}

type ClientOptionFunc func(*clientConfig)

type clientConfig struct {
	timeout     time.Duration
	maxMsgBytes int
	dialOpts    []grpc.DialOption
}

// WithTimeout applies a deadline to every RPC
func WithTimeout(timeout time.Duration) ClientOptionFunc {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithMaxMsgBytes sets both the send and receive message size limits
func WithMaxMsgBytes(maxMsgBytes int) ClientOptionFunc {
	return func(c *clientConfig) {
		c.maxMsgBytes = maxMsgBytes
	}
}

// WithDialOptions appends raw gRPC dial options
func WithDialOptions(opts ...grpc.DialOption) ClientOptionFunc {
	return func(c *clientConfig) {
		c.dialOpts = append(c.dialOpts, opts...)
	}
}

// Dial connects to a block store service at target. The connection is
// established lazily on the first RPC.
func Dial(target string, opts ...ClientOptionFunc) (*Client, error) {
	cfg := clientConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if cfg.maxMsgBytes > 0 {
		dialOpts = append(
			dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.maxMsgBytes),
				grpc.MaxCallSendMsgSize(cfg.maxMsgBytes),
			),
		)
	}
	dialOpts = append(dialOpts, cfg.dialOpts...)
	cc, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{
		cc:      cc,
		client:  NewBlockStoreClient(cc),
		timeout: cfg.timeout,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) Put(ctx context.Context, blk *ipld.Block) error {
	if blk == nil || !blk.Cid().Defined() {
		return datastore.ErrInvalidCID
	}
	ctx, cancel := c.rpcContext(ctx)
	defer cancel()
	reply, err := c.client.Put(ctx, wrapperspb.Bytes(blk.RawData()))
	if err != nil {
		return mapRPC(err)
	}
	got, err := cid.Decode(reply.GetValue())
	if err != nil || !got.Defined() {
		return datastore.ErrInvalidCID
	}
	if !got.Equals(blk.Cid()) {
		return datastore.ErrCIDMismatch
	}
	return nil
}

func (c *Client) Get(ctx context.Context, id cid.Cid) (*ipld.Block, error) {
	if !id.Defined() {
		return nil, datastore.ErrInvalidCID
	}
	ctx, cancel := c.rpcContext(ctx)
	defer cancel()
	reply, err := c.client.Get(ctx, wrapperspb.String(id.String()))
	if err != nil {
		return nil, mapRPC(err)
	}
	blk, err := ipld.NewBlockWithCid(id, reply.GetValue())
	if err != nil {
		return nil, datastore.ErrCIDMismatch
	}
	return blk, nil
}

func (c *Client) Has(ctx context.Context, id cid.Cid) (bool, error) {
	if !id.Defined() {
		return false, nil
	}
	ctx, cancel := c.rpcContext(ctx)
	defer cancel()
	reply, err := c.client.Has(ctx, wrapperspb.String(id.String()))
	if err != nil {
		return false, mapRPC(err)
	}
	return reply.GetValue(), nil
}

func (c *Client) rpcContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

var _ datastore.Blockstore = (*Client)(nil)
