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

// Package matrix builds the content-addressed data matrix of a block and
// publishes it into a block store.
//
// A matrix is a list of columns. Each column holds one cell per row, and each
// cell wraps the proof bytes for that (row, column) position. Publishing a
// column writes every cell plus a column unit that links to the cells in row
// order.
package matrix

import (
	"math/big"

	"github.com/blinklabs-io/gokate/ipld"
)

// BaseCell is one encoded proof
type BaseCell = *ipld.Block

// L0Col is a column of cells ordered by row
type L0Col struct {
	BaseCells []BaseCell
}

// L1Row is the list of columns ordered by column index
type L1Row struct {
	L0Cols []L0Col
}

type DataMatrix struct {
	BlockNum *big.Int
	L1Row    L1Row
}

// Cols returns the number of columns
func (m *DataMatrix) Cols() int {
	return len(m.L1Row.L0Cols)
}

// Rows returns the number of rows, taken from the first column
func (m *DataMatrix) Rows() int {
	if len(m.L1Row.L0Cols) == 0 {
		return 0
	}
	return len(m.L1Row.L0Cols[0].BaseCells)
}

// Cell returns the cell at (row, col) or nil if out of range
func (m *DataMatrix) Cell(row int, col int) BaseCell {
	if col < 0 || col >= len(m.L1Row.L0Cols) {
		return nil
	}
	cells := m.L1Row.L0Cols[col].BaseCells
	if row < 0 || row >= len(cells) {
		return nil
	}
	return cells[row]
}
