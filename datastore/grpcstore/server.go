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
	"errors"
	"io"
	"log/slog"

	"github.com/blinklabs-io/gokate/datastore"
	"github.com/blinklabs-io/gokate/ipld"
	"github.com/ipfs/go-cid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Server exposes a datastore.Blockstore over the block store service
type Server struct {
	UnimplementedBlockStoreServer
	store  datastore.Blockstore
	logger *slog.Logger
}

func NewServer(store datastore.Blockstore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Server{
		store:  store,
		logger: logger.With("component", "grpcstore"),
	}
}

func (s *Server) Put(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	if s.store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing store")
	}
	blk, err := ipld.NewBlock(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.store.Put(ctx, blk); err != nil {
		return nil, mapErr(err)
	}
	s.logger.Debug("remote put", "cid", blk.Cid().String())
	return wrapperspb.String(blk.Cid().String()), nil
}

func (s *Server) Get(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if s.store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing store")
	}
	c, err := cid.Decode(in.GetValue())
	if err != nil || !c.Defined() {
		return nil, status.Error(codes.InvalidArgument, datastore.ErrInvalidCID.Error())
	}
	blk, err := s.store.Get(ctx, c)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bytes(blk.RawData()), nil
}

func (s *Server) Has(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if s.store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing store")
	}
	c, err := cid.Decode(in.GetValue())
	if err != nil || !c.Defined() {
		return nil, status.Error(codes.InvalidArgument, datastore.ErrInvalidCID.Error())
	}
	has, err := s.store.Has(ctx, c)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bool(has), nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, datastore.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, datastore.ErrInvalidCID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, datastore.ErrCIDMismatch):
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, datastore.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return datastore.ErrNotFound
	case codes.InvalidArgument:
		return datastore.ErrInvalidCID
	case codes.DataLoss:
		return datastore.ErrCIDMismatch
	case codes.Unavailable:
		return datastore.ErrClosed
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	default:
		return err
	}
}
