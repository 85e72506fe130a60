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

// Package datastore implements the content-addressed block store that matrix
// units are published into.
//
// A Store keeps immutable blocks keyed by CID. Blocks survive garbage
// collection only while they are reachable from a temporary pin or a
// recursive pin.
package datastore

import (
	"context"
	"errors"

	"github.com/blinklabs-io/gokate/ipld"
	"github.com/ipfs/go-cid"
)

var (
	ErrNotFound    = errors.New("datastore: not found")
	ErrInvalidCID  = errors.New("datastore: invalid cid")
	ErrCIDMismatch = errors.New("datastore: cid mismatch")
	ErrClosed      = errors.New("datastore: store closed")
	ErrPinReleased = errors.New("datastore: temp pin already released")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Getter is the read side of a store
type Getter interface {
	// Get returns ErrNotFound when the block is absent
	Get(ctx context.Context, c cid.Cid) (*ipld.Block, error)
	Has(ctx context.Context, c cid.Cid) (bool, error)
}

// Blockstore is the put/get subset of a store. Put is idempotent and stored
// blocks are immutable.
type Blockstore interface {
	Getter
	Put(ctx context.Context, blk *ipld.Block) error
}

// Store is a content-addressed block store with pinning. A temp pin protects
// its CIDs and everything they link to until the pin is released.
type Store interface {
	Blockstore
	CreateTempPin() *TempPin
	TempPin(ctx context.Context, pin *TempPin, c cid.Cid) error
	ReleaseTempPin(pin *TempPin)
	// Pin recursively pins c. Every block reachable from c must be present.
	Pin(ctx context.Context, c cid.Cid) error
	Unpin(ctx context.Context, c cid.Cid) error
	IsPinned(ctx context.Context, c cid.Cid) (bool, error)
	// GC removes every block that is not reachable from a pin and returns the
	// number of blocks removed
	GC(ctx context.Context) (int, error)
	Close() error
}
