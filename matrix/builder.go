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

package matrix

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/blinklabs-io/gokate/ipld"
	"github.com/blinklabs-io/gokate/proof"
	"golang.org/x/sync/errgroup"
)

const DefaultConcurrency = 1

// Builder fetches proofs and turns them into cells, columns and matrices
type Builder struct {
	source      proof.Source
	concurrency int
	cellTimeout time.Duration
	logger      *slog.Logger
	metrics     *Metrics
}

type BuilderOptionFunc func(*Builder)

// WithConcurrency bounds the number of proof fetches in flight per column
func WithConcurrency(concurrency int) BuilderOptionFunc {
	return func(b *Builder) {
		b.concurrency = concurrency
	}
}

// WithCellTimeout bounds each proof fetch
func WithCellTimeout(timeout time.Duration) BuilderOptionFunc {
	return func(b *Builder) {
		b.cellTimeout = timeout
	}
}

func WithBuilderLogger(logger *slog.Logger) BuilderOptionFunc {
	return func(b *Builder) {
		b.logger = logger
	}
}

func WithBuilderMetrics(metrics *Metrics) BuilderOptionFunc {
	return func(b *Builder) {
		b.metrics = metrics
	}
}

func NewBuilder(source proof.Source, opts ...BuilderOptionFunc) *Builder {
	b := &Builder{
		source:      source,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.concurrency < 1 {
		b.concurrency = DefaultConcurrency
	}
	if b.logger == nil {
		b.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	b.logger = b.logger.With("component", "matrix", "role", "builder")
	return b
}

// ConstructCell fetches the proof for (block, row, col) and encodes it as a
// content-addressed cell
func (b *Builder) ConstructCell(ctx context.Context, block uint64, row uint16, col uint16) (BaseCell, error) {
	fetchCtx := ctx
	if b.cellTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, b.cellTimeout)
		defer cancel()
	}
	start := time.Now()
	proofBytes, err := b.source.GetProof(fetchCtx, block, row, col)
	if b.metrics != nil {
		b.metrics.ProofFetchLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, b.constructionError(block, row, col, fmt.Errorf("%w: %w", ErrProofFetch, err))
	}
	cell, err := ipld.Encode(proofBytes)
	if err != nil {
		return nil, b.constructionError(block, row, col, fmt.Errorf("%w: %w", ErrEncode, err))
	}
	if b.metrics != nil {
		b.metrics.CellsConstructed.Inc()
	}
	return cell, nil
}

func (b *Builder) constructionError(block uint64, row uint16, col uint16, err error) error {
	if b.metrics != nil {
		b.metrics.ConstructionFailures.Inc()
	}
	b.logger.Debug(
		"failed to construct cell",
		"block", block,
		"row", row,
		"col", col,
		"error", err,
	)
	return &ConstructionError{
		Block: block,
		Row:   row,
		Col:   col,
		Err:   err,
	}
}

// ConstructColwise builds rowCount cells of column col. Fetches may overlap
// but the result is always in row order.
func (b *Builder) ConstructColwise(ctx context.Context, block uint64, rowCount uint16, col uint16) (L0Col, error) {
	cells := make([]BaseCell, rowCount)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for row := range rowCount {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cell, err := b.ConstructCell(gctx, block, row, col)
			if err != nil {
				return err
			}
			cells[row] = cell
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return L0Col{}, err
	}
	return L0Col{BaseCells: cells}, nil
}

// ConstructRowwise builds columns 0 through colCount-1
func (b *Builder) ConstructRowwise(ctx context.Context, block uint64, rowCount uint16, colCount uint16) (L1Row, error) {
	cols := make([]L0Col, 0, colCount)
	for col := range colCount {
		l0Col, err := b.ConstructColwise(ctx, block, rowCount, col)
		if err != nil {
			return L1Row{}, err
		}
		cols = append(cols, l0Col)
	}
	return L1Row{L0Cols: cols}, nil
}

// ConstructMatrix builds the full matrix of a block
func (b *Builder) ConstructMatrix(ctx context.Context, block uint64, rowCount uint16, colCount uint16) (*DataMatrix, error) {
	start := time.Now()
	l1Row, err := b.ConstructRowwise(ctx, block, rowCount, colCount)
	if err != nil {
		return nil, err
	}
	b.logger.Debug(
		"constructed matrix",
		"block", block,
		"rows", rowCount,
		"cols", colCount,
		"duration", time.Since(start),
	)
	return &DataMatrix{
		BlockNum: new(big.Int).SetUint64(block),
		L1Row:    l1Row,
	}, nil
}
