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

// Package proof provides access to the proof-query service that returns the
// erasure-coded data proof for a single matrix cell.
package proof

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrEmptyProof = errors.New("proof: empty proof")
	ErrRPC        = errors.New("proof: rpc error")
)

// Source returns the raw proof bytes for one cell of a block's matrix
type Source interface {
	GetProof(ctx context.Context, block uint64, row uint16, col uint16) ([]byte, error)
}

// SourceFunc adapts a function to a Source
type SourceFunc func(ctx context.Context, block uint64, row uint16, col uint16) ([]byte, error)

func (f SourceFunc) GetProof(ctx context.Context, block uint64, row uint16, col uint16) ([]byte, error) {
	return f(ctx, block, row, col)
}

// RPCError is an error object returned by the proof service
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("proof: rpc error %d: %s", e.Code, e.Message)
}

func (e *RPCError) Unwrap() error {
	return ErrRPC
}
