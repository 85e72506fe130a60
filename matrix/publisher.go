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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"github.com/blinklabs-io/gokate/cbor"
	"github.com/blinklabs-io/gokate/datastore"
	"github.com/blinklabs-io/gokate/ipld"
	"github.com/ipfs/go-cid"
)

// Policy selects how PushCol reacts to a cell that cannot be published
type Policy int

const (
	// PolicyFailFast aborts the column on the first failed cell
	PolicyFailFast Policy = iota
	// PolicyBestEffort records failed rows and stores null in their place
	PolicyBestEffort
)

func (p Policy) String() string {
	switch p {
	case PolicyFailFast:
		return "fail-fast"
	case PolicyBestEffort:
		return "best-effort"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// Publisher writes cells, columns and matrix roots into a store
type Publisher struct {
	store   datastore.Store
	policy  Policy
	logger  *slog.Logger
	metrics *Metrics
}

type PublisherOptionFunc func(*Publisher)

func WithPolicy(policy Policy) PublisherOptionFunc {
	return func(p *Publisher) {
		p.policy = policy
	}
}

func WithPublisherLogger(logger *slog.Logger) PublisherOptionFunc {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithPublisherMetrics(metrics *Metrics) PublisherOptionFunc {
	return func(p *Publisher) {
		p.metrics = metrics
	}
}

func NewPublisher(store datastore.Store, opts ...PublisherOptionFunc) *Publisher {
	p := &Publisher{
		store:  store,
		policy: PolicyFailFast,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	p.logger = p.logger.With("component", "matrix", "role", "publisher")
	return p
}

// ColumnResult describes a published column unit
type ColumnResult struct {
	Cid cid.Cid
	// Cells holds the CID of each row, cid.Undef for skipped rows
	Cells       []cid.Cid
	SkippedRows []int
}

// Err returns ErrIncompleteColumn when rows were skipped
func (r *ColumnResult) Err() error {
	if len(r.SkippedRows) == 0 {
		return nil
	}
	return fmt.Errorf("%w: rows %v", ErrIncompleteColumn, r.SkippedRows)
}

// MatrixResult describes a published and pinned matrix
type MatrixResult struct {
	Root     cid.Cid
	BlockNum *big.Int
	Columns  []*ColumnResult
}

// SkippedCells returns the number of rows skipped across all columns
func (r *MatrixResult) SkippedCells() int {
	ret := 0
	for _, col := range r.Columns {
		ret += len(col.SkippedRows)
	}
	return ret
}

// matrixRoot is the unit linking every column of a block
type matrixRoot struct {
	cbor.StructAsArray
	BlockNum *big.Int
	Columns  []*ipld.Link
}

// PushCell temp-pins the cell under pin and writes it to the store
func (p *Publisher) PushCell(ctx context.Context, cell BaseCell, pin *datastore.TempPin) (cid.Cid, error) {
	if cell == nil {
		return cid.Undef, p.publishError(-1, -1, OpInsert, cid.Undef, ErrNilCell)
	}
	if err := p.store.TempPin(ctx, pin, cell.Cid()); err != nil {
		return cid.Undef, p.publishError(-1, -1, OpPin, cell.Cid(), err)
	}
	if err := p.store.Put(ctx, cell); err != nil {
		return cid.Undef, p.publishError(-1, -1, OpInsert, cell.Cid(), err)
	}
	if p.metrics != nil {
		p.metrics.CellsPublished.Inc()
	}
	return cell.Cid(), nil
}

// PushCol publishes every cell of col followed by a column unit listing the
// cell links in row order
func (p *Publisher) PushCol(ctx context.Context, col L0Col, pin *datastore.TempPin) (*ColumnResult, error) {
	links := make([]*ipld.Link, len(col.BaseCells))
	result := &ColumnResult{
		Cells: make([]cid.Cid, len(col.BaseCells)),
	}
	for row, cell := range col.BaseCells {
		c, err := p.PushCell(ctx, cell, pin)
		if err != nil {
			var pubErr *PublishError
			if errors.As(err, &pubErr) {
				pubErr.Row = row
			}
			if p.policy == PolicyFailFast || ctx.Err() != nil {
				return nil, err
			}
			p.logger.Warn(
				"skipping cell",
				"row", row,
				"error", err,
			)
			if p.metrics != nil {
				p.metrics.SkippedCells.Inc()
			}
			result.SkippedRows = append(result.SkippedRows, row)
			continue
		}
		links[row] = ipld.NewLink(c)
		result.Cells[row] = c
	}
	blk, err := ipld.Encode(links)
	if err != nil {
		return nil, p.publishError(-1, -1, OpEncode, cid.Undef, err)
	}
	if err := p.store.TempPin(ctx, pin, blk.Cid()); err != nil {
		return nil, p.publishError(-1, -1, OpPin, blk.Cid(), err)
	}
	if err := p.store.Put(ctx, blk); err != nil {
		return nil, p.publishError(-1, -1, OpInsert, blk.Cid(), err)
	}
	if p.metrics != nil {
		p.metrics.ColumnsPublished.Inc()
	}
	result.Cid = blk.Cid()
	return result, nil
}

// PublishMatrix publishes every column of m and a root unit linking them,
// then pins the root recursively. The temp pin protecting the partial graph
// is released before returning, on success or failure.
func (p *Publisher) PublishMatrix(ctx context.Context, m *DataMatrix) (*MatrixResult, error) {
	if m == nil || m.BlockNum == nil {
		return nil, errors.New("matrix: missing block number")
	}
	pin := p.store.CreateTempPin()
	defer p.store.ReleaseTempPin(pin)
	result := &MatrixResult{
		BlockNum: new(big.Int).Set(m.BlockNum),
		Columns:  make([]*ColumnResult, 0, len(m.L1Row.L0Cols)),
	}
	root := matrixRoot{
		BlockNum: m.BlockNum,
		Columns:  make([]*ipld.Link, 0, len(m.L1Row.L0Cols)),
	}
	for colIdx, col := range m.L1Row.L0Cols {
		colResult, err := p.PushCol(ctx, col, pin)
		if err != nil {
			var pubErr *PublishError
			if errors.As(err, &pubErr) {
				pubErr.Col = colIdx
			}
			return nil, err
		}
		result.Columns = append(result.Columns, colResult)
		root.Columns = append(root.Columns, ipld.NewLink(colResult.Cid))
	}
	blk, err := ipld.Encode(root)
	if err != nil {
		return nil, p.publishError(-1, -1, OpEncode, cid.Undef, err)
	}
	if err := p.store.TempPin(ctx, pin, blk.Cid()); err != nil {
		return nil, p.publishError(-1, -1, OpPin, blk.Cid(), err)
	}
	if err := p.store.Put(ctx, blk); err != nil {
		return nil, p.publishError(-1, -1, OpInsert, blk.Cid(), err)
	}
	if err := p.store.Pin(ctx, blk.Cid()); err != nil {
		return nil, p.publishError(-1, -1, OpPin, blk.Cid(), err)
	}
	if p.metrics != nil {
		p.metrics.MatricesPublished.Inc()
	}
	result.Root = blk.Cid()
	p.logger.Info(
		"published matrix",
		"block", m.BlockNum.String(),
		"root", result.Root.String(),
		"cols", len(result.Columns),
		"skipped_cells", result.SkippedCells(),
	)
	return result, nil
}

func (p *Publisher) publishError(row int, col int, op string, c cid.Cid, err error) error {
	if p.metrics != nil {
		p.metrics.PublishFailures.Inc()
	}
	return &PublishError{
		Row: row,
		Col: col,
		Op:  op,
		Cid: c,
		Err: err,
	}
}
