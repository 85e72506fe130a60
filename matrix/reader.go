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
	"math/big"

	"github.com/blinklabs-io/gokate/datastore"
	"github.com/blinklabs-io/gokate/ipld"
	"github.com/ipfs/go-cid"
)

// MatrixRoot is the decoded root unit of a published matrix
type MatrixRoot struct {
	BlockNum *big.Int
	// Columns holds the column unit CIDs in column order
	Columns []cid.Cid
}

// ReadRoot fetches and decodes a matrix root unit
func ReadRoot(ctx context.Context, getter datastore.Getter, rootCid cid.Cid) (*MatrixRoot, error) {
	blk, err := getter.Get(ctx, rootCid)
	if err != nil {
		return nil, err
	}
	var root matrixRoot
	if err := blk.Decode(&root); err != nil {
		return nil, err
	}
	ret := &MatrixRoot{
		BlockNum: root.BlockNum,
		Columns:  make([]cid.Cid, 0, len(root.Columns)),
	}
	for idx, link := range root.Columns {
		if link == nil {
			return nil, fmt.Errorf("matrix: root %s has no link for column %d", rootCid, idx)
		}
		ret.Columns = append(ret.Columns, link.Cid)
	}
	return ret, nil
}

// ReadColumn fetches a column unit and every cell it links to, returning the
// proof bytes in row order. Rows skipped at publish time come back as nil.
func ReadColumn(ctx context.Context, getter datastore.Getter, colCid cid.Cid) ([][]byte, error) {
	blk, err := getter.Get(ctx, colCid)
	if err != nil {
		return nil, err
	}
	var links []*ipld.Link
	if err := blk.Decode(&links); err != nil {
		return nil, err
	}
	ret := make([][]byte, len(links))
	for row, link := range links {
		if link == nil {
			continue
		}
		proofBytes, err := ReadCell(ctx, getter, link.Cid)
		if err != nil {
			return nil, fmt.Errorf("matrix: read row %d of column %s: %w", row, colCid, err)
		}
		ret[row] = proofBytes
	}
	return ret, nil
}

// ReadCell fetches a single cell and returns its proof bytes
func ReadCell(ctx context.Context, getter datastore.Getter, cellCid cid.Cid) ([]byte, error) {
	blk, err := getter.Get(ctx, cellCid)
	if err != nil {
		return nil, err
	}
	var proofBytes []byte
	if err := blk.Decode(&proofBytes); err != nil {
		return nil, err
	}
	return proofBytes, nil
}
