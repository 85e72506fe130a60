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

package matrix_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blinklabs-io/gokate/datastore"
	"github.com/blinklabs-io/gokate/ipld"
	"github.com/blinklabs-io/gokate/matrix"
	"github.com/blinklabs-io/gokate/proof"
	"github.com/ipfs/go-cid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProof(block uint64, row uint16, col uint16) []byte {
	return []byte(fmt.Sprintf("proof-%d-%d-%d", block, row, col))
}

func testSource() proof.Source {
	return proof.SourceFunc(func(ctx context.Context, block uint64, row uint16, col uint16) ([]byte, error) {
		return testProof(block, row, col), nil
	})
}

func decodeCell(t *testing.T, cell matrix.BaseCell) []byte {
	t.Helper()
	var ret []byte
	require.NoError(t, cell.Decode(&ret))
	return ret
}

func TestConstructMatrixShape(t *testing.T) {
	testDefs := []struct {
		rows uint16
		cols uint16
	}{
		{rows: 0, cols: 0},
		{rows: 1, cols: 1},
		{rows: 4, cols: 3},
		{rows: 3, cols: 0},
		{rows: 0, cols: 5},
		{rows: 7, cols: 2},
	}
	builder := matrix.NewBuilder(testSource())
	for _, testDef := range testDefs {
		t.Run(fmt.Sprintf("%dx%d", testDef.rows, testDef.cols), func(t *testing.T) {
			m, err := matrix.NewBuilder(testSource(), matrix.WithConcurrency(3)).
				ConstructMatrix(context.Background(), 5, testDef.rows, testDef.cols)
			require.NoError(t, err)
			require.Len(t, m.L1Row.L0Cols, int(testDef.cols))
			for _, col := range m.L1Row.L0Cols {
				assert.Len(t, col.BaseCells, int(testDef.rows))
			}
			assert.Equal(t, int(testDef.cols), m.Cols())
			seq, err := builder.ConstructMatrix(context.Background(), 5, testDef.rows, testDef.cols)
			require.NoError(t, err)
			assert.Equal(t, m.Cols(), seq.Cols())
			assert.Equal(t, m.Rows(), seq.Rows())
		})
	}
}

func TestConstructMatrixExample(t *testing.T) {
	m, err := matrix.NewBuilder(testSource()).ConstructMatrix(context.Background(), 10, 4, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, m.BlockNum.Cmp(big.NewInt(10)))
	require.Equal(t, 3, m.Cols())
	require.Equal(t, 4, m.Rows())
	for col := 0; col < 3; col++ {
		for row := 0; row < 4; row++ {
			cell := m.Cell(row, col)
			require.NotNil(t, cell)
			assert.Equal(t, testProof(10, uint16(row), uint16(col)), decodeCell(t, cell))
		}
	}
	assert.Nil(t, m.Cell(4, 0))
	assert.Nil(t, m.Cell(0, 3))
}

func TestConstructCellIsContentAddressed(t *testing.T) {
	builder := matrix.NewBuilder(testSource())
	a, err := builder.ConstructCell(context.Background(), 1, 2, 3)
	require.NoError(t, err)
	b, err := builder.ConstructCell(context.Background(), 1, 2, 3)
	require.NoError(t, err)
	c, err := builder.ConstructCell(context.Background(), 1, 2, 4)
	require.NoError(t, err)
	assert.True(t, a.Cid().Equals(b.Cid()))
	assert.False(t, a.Cid().Equals(c.Cid()))
	expected, err := ipld.Encode(testProof(1, 2, 3))
	require.NoError(t, err)
	assert.True(t, a.Cid().Equals(expected.Cid()))
}

func TestConstructColwiseKeepsRowOrder(t *testing.T) {
	src := proof.SourceFunc(func(ctx context.Context, block uint64, row uint16, col uint16) ([]byte, error) {
		// Later rows tend to finish first
		time.Sleep(time.Duration(rand.Intn(3)+int(16-row)) * time.Millisecond)
		return testProof(block, row, col), nil
	})
	col, err := matrix.NewBuilder(src, matrix.WithConcurrency(8)).
		ConstructColwise(context.Background(), 3, 16, 1)
	require.NoError(t, err)
	require.Len(t, col.BaseCells, 16)
	for row, cell := range col.BaseCells {
		assert.Equal(t, testProof(3, uint16(row), 1), decodeCell(t, cell))
	}
}

func TestConstructionErrorNamesCell(t *testing.T) {
	failure := errors.New("service unavailable")
	src := proof.SourceFunc(func(ctx context.Context, block uint64, row uint16, col uint16) ([]byte, error) {
		if row == 2 && col == 1 {
			return nil, failure
		}
		return testProof(block, row, col), nil
	})
	reg := prometheus.NewRegistry()
	metrics := matrix.NewMetrics("test", reg)
	builder := matrix.NewBuilder(src, matrix.WithBuilderMetrics(metrics))
	_, err := builder.ConstructMatrix(context.Background(), 9, 4, 3)
	require.Error(t, err)
	var constructErr *matrix.ConstructionError
	require.True(t, errors.As(err, &constructErr))
	assert.Equal(t, uint64(9), constructErr.Block)
	assert.Equal(t, uint16(2), constructErr.Row)
	assert.Equal(t, uint16(1), constructErr.Col)
	assert.ErrorIs(t, err, matrix.ErrProofFetch)
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ConstructionFailures))
}

func TestConstructCellTimeout(t *testing.T) {
	src := proof.SourceFunc(func(ctx context.Context, block uint64, row uint16, col uint16) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	builder := matrix.NewBuilder(src, matrix.WithCellTimeout(20*time.Millisecond))
	_, err := builder.ConstructCell(context.Background(), 1, 0, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, matrix.ErrProofFetch)
}

func TestConstructColwiseStopsAfterFailure(t *testing.T) {
	var calls atomic.Int32
	src := proof.SourceFunc(func(ctx context.Context, block uint64, row uint16, col uint16) ([]byte, error) {
		calls.Add(1)
		return nil, errors.New("down")
	})
	_, err := matrix.NewBuilder(src).ConstructColwise(context.Background(), 1, 50, 0)
	require.Error(t, err)
	assert.Less(t, calls.Load(), int32(50))
}

// failingStore rejects writes of selected CIDs
type failingStore struct {
	datastore.Store
	failPut map[cid.Cid]bool
}

var errInjected = errors.New("injected store failure")

func (s *failingStore) Put(ctx context.Context, blk *ipld.Block) error {
	if s.failPut[blk.Cid()] {
		return errInjected
	}
	return s.Store.Put(ctx, blk)
}

func buildColumn(t *testing.T, block uint64, rows uint16, col uint16) matrix.L0Col {
	t.Helper()
	l0Col, err := matrix.NewBuilder(testSource()).ConstructColwise(context.Background(), block, rows, col)
	require.NoError(t, err)
	return l0Col
}

func TestPushCell(t *testing.T) {
	ctx := context.Background()
	store := datastore.NewMemoryStore()
	defer store.Close()
	publisher := matrix.NewPublisher(store)
	cell, err := matrix.NewBuilder(testSource()).ConstructCell(ctx, 1, 0, 0)
	require.NoError(t, err)
	pin := store.CreateTempPin()
	c, err := publisher.PushCell(ctx, cell, pin)
	require.NoError(t, err)
	assert.True(t, c.Equals(cell.Cid()))
	got, err := store.Get(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, cell.RawData(), got.RawData())

	store.ReleaseTempPin(pin)
	_, err = publisher.PushCell(ctx, cell, pin)
	var pubErr *matrix.PublishError
	require.True(t, errors.As(err, &pubErr))
	assert.Equal(t, matrix.OpPin, pubErr.Op)
	assert.ErrorIs(t, err, datastore.ErrPinReleased)
}

func TestPushColLinksInRowOrder(t *testing.T) {
	ctx := context.Background()
	store := datastore.NewMemoryStore()
	defer store.Close()
	publisher := matrix.NewPublisher(store)
	l0Col := buildColumn(t, 10, 4, 0)
	pin := store.CreateTempPin()
	defer store.ReleaseTempPin(pin)

	result, err := publisher.PushCol(ctx, l0Col, pin)
	require.NoError(t, err)
	require.NoError(t, result.Err())
	assert.Empty(t, result.SkippedRows)

	blk, err := store.Get(ctx, result.Cid)
	require.NoError(t, err)
	links, err := ipld.Links(blk.RawData())
	require.NoError(t, err)
	require.Len(t, links, 4)
	for row, link := range links {
		assert.True(t, link.Equals(l0Col.BaseCells[row].Cid()), "row %d", row)
		assert.True(t, result.Cells[row].Equals(link))
	}

	proofs, err := matrix.ReadColumn(ctx, store, result.Cid)
	require.NoError(t, err)
	require.Len(t, proofs, 4)
	for row, proofBytes := range proofs {
		assert.Equal(t, testProof(10, uint16(row), 0), proofBytes)
	}
}

func TestPushColIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := datastore.NewMemoryStore()
	defer store.Close()
	publisher := matrix.NewPublisher(store)
	pin := store.CreateTempPin()
	defer store.ReleaseTempPin(pin)
	first, err := publisher.PushCol(ctx, buildColumn(t, 2, 3, 1), pin)
	require.NoError(t, err)
	second, err := publisher.PushCol(ctx, buildColumn(t, 2, 3, 1), pin)
	require.NoError(t, err)
	assert.True(t, first.Cid.Equals(second.Cid))
}

func TestPushColFailFast(t *testing.T) {
	ctx := context.Background()
	l0Col := buildColumn(t, 1, 4, 0)
	store := &failingStore{
		Store:   datastore.NewMemoryStore(),
		failPut: map[cid.Cid]bool{l0Col.BaseCells[2].Cid(): true},
	}
	defer store.Close()
	publisher := matrix.NewPublisher(store)
	pin := store.CreateTempPin()
	defer store.ReleaseTempPin(pin)

	result, err := publisher.PushCol(ctx, l0Col, pin)
	require.Error(t, err)
	assert.Nil(t, result)
	var pubErr *matrix.PublishError
	require.True(t, errors.As(err, &pubErr))
	assert.Equal(t, 2, pubErr.Row)
	assert.Equal(t, matrix.OpInsert, pubErr.Op)
	assert.ErrorIs(t, err, errInjected)
	// Later rows were never written
	has, err := store.Has(ctx, l0Col.BaseCells[3].Cid())
	require.NoError(t, err)
	assert.False(t, has)
}

func TestPushColBestEffort(t *testing.T) {
	ctx := context.Background()
	l0Col := buildColumn(t, 1, 4, 0)
	store := &failingStore{
		Store:   datastore.NewMemoryStore(),
		failPut: map[cid.Cid]bool{l0Col.BaseCells[1].Cid(): true},
	}
	defer store.Close()
	reg := prometheus.NewRegistry()
	metrics := matrix.NewMetrics("test", reg)
	publisher := matrix.NewPublisher(
		store,
		matrix.WithPolicy(matrix.PolicyBestEffort),
		matrix.WithPublisherMetrics(metrics),
	)
	pin := store.CreateTempPin()
	defer store.ReleaseTempPin(pin)

	result, err := publisher.PushCol(ctx, l0Col, pin)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, result.SkippedRows)
	assert.ErrorIs(t, result.Err(), matrix.ErrIncompleteColumn)
	assert.False(t, result.Cells[1].Defined())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SkippedCells))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.CellsPublished))

	proofs, err := matrix.ReadColumn(ctx, store, result.Cid)
	require.NoError(t, err)
	require.Len(t, proofs, 4)
	assert.Nil(t, proofs[1])
	for _, row := range []int{0, 2, 3} {
		assert.Equal(t, testProof(1, uint16(row), 0), proofs[row])
	}
}

func TestPublishMatrix(t *testing.T) {
	ctx := context.Background()
	store := datastore.NewMemoryStore()
	defer store.Close()
	m, err := matrix.NewBuilder(testSource()).ConstructMatrix(ctx, 10, 4, 3)
	require.NoError(t, err)
	publisher := matrix.NewPublisher(store)

	result, err := publisher.PublishMatrix(ctx, m)
	require.NoError(t, err)
	require.Len(t, result.Columns, 3)
	pinned, err := store.IsPinned(ctx, result.Root)
	require.NoError(t, err)
	assert.True(t, pinned)

	// The temp pin is gone and the recursive pin keeps everything
	removed, err := store.GC(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	root, err := matrix.ReadRoot(ctx, store, result.Root)
	require.NoError(t, err)
	assert.Equal(t, 0, root.BlockNum.Cmp(big.NewInt(10)))
	require.Len(t, root.Columns, 3)
	for colIdx, colCid := range root.Columns {
		assert.True(t, colCid.Equals(result.Columns[colIdx].Cid))
		proofs, err := matrix.ReadColumn(ctx, store, colCid)
		require.NoError(t, err)
		for row, proofBytes := range proofs {
			assert.Equal(t, testProof(10, uint16(row), uint16(colIdx)), proofBytes)
		}
	}

	require.NoError(t, store.Unpin(ctx, result.Root))
	removed, err = store.GC(ctx)
	require.NoError(t, err)
	// 12 cells, 3 columns and the root
	assert.Equal(t, 16, removed)
}

func TestPublishMatrixFailureReleasesPin(t *testing.T) {
	ctx := context.Background()
	m, err := matrix.NewBuilder(testSource()).ConstructMatrix(ctx, 4, 2, 2)
	require.NoError(t, err)
	store := &failingStore{
		Store:   datastore.NewMemoryStore(),
		failPut: map[cid.Cid]bool{m.Cell(1, 1).Cid(): true},
	}
	defer store.Close()
	publisher := matrix.NewPublisher(store)

	_, err = publisher.PublishMatrix(ctx, m)
	require.Error(t, err)
	var pubErr *matrix.PublishError
	require.True(t, errors.As(err, &pubErr))
	assert.Equal(t, 1, pubErr.Row)
	assert.Equal(t, 1, pubErr.Col)

	// Column 0 and the first cell of column 1 were written but nothing holds them
	removed, err := store.GC(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, removed)
}

func TestPublishMatrixRequiresBlockNum(t *testing.T) {
	store := datastore.NewMemoryStore()
	defer store.Close()
	_, err := matrix.NewPublisher(store).PublishMatrix(context.Background(), &matrix.DataMatrix{})
	assert.Error(t, err)
}
