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
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
)

var (
	ErrProofFetch       = errors.New("proof fetch failed")
	ErrEncode           = errors.New("encode failed")
	ErrIncompleteColumn = errors.New("column published with skipped rows")
	ErrNilCell          = errors.New("nil cell")
)

// ConstructionError reports a cell that could not be built
type ConstructionError struct {
	Block uint64
	Row   uint16
	Col   uint16
	Err   error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf(
		"matrix: construct cell (block %d, row %d, col %d): %s",
		e.Block,
		e.Row,
		e.Col,
		e.Err,
	)
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}

const (
	OpPin    = "pin"
	OpInsert = "insert"
	OpEncode = "encode"
)

// PublishError reports a failed store operation. Row and Col are -1 when
// the failure is not tied to a position.
type PublishError struct {
	Row int
	Col int
	Op  string
	Cid cid.Cid
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf(
		"matrix: %s failed (row %d, col %d): %s",
		e.Op,
		e.Row,
		e.Col,
		e.Err,
	)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
