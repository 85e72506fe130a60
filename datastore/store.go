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

package datastore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/blinklabs-io/gokate/ipld"
	"github.com/ipfs/go-cid"
)

var (
	blockKeyPrefix = []byte("b/")
	pinKeyPrefix   = []byte("p/")
)

// BlockStore implements Store on top of a key/value Backend. Temp pins live
// in memory only; recursive pins are persisted in the backend.
type BlockStore struct {
	backend   Backend
	logger    *slog.Logger
	closed    atomic.Bool
	gcMutex   sync.RWMutex
	pinMutex  sync.Mutex
	nextPinId uint64
	tempPins  map[uint64]map[cid.Cid]struct{}
}

type StoreOptionFunc func(*BlockStore)

func WithLogger(logger *slog.Logger) StoreOptionFunc {
	return func(s *BlockStore) {
		s.logger = logger
	}
}

// NewStore returns a BlockStore over backend. The store takes ownership of
// the backend and closes it on Close.
func NewStore(backend Backend, opts ...StoreOptionFunc) *BlockStore {
	s := &BlockStore{
		backend:  backend,
		tempPins: make(map[uint64]map[cid.Cid]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	s.logger = s.logger.With("component", "datastore")
	return s
}

// NewMemoryStore returns a BlockStore over a fresh MemoryBackend
func NewMemoryStore(opts ...StoreOptionFunc) *BlockStore {
	return NewStore(NewMemoryBackend(), opts...)
}

func blockKey(c cid.Cid) []byte {
	return append(append([]byte{}, blockKeyPrefix...), c.Bytes()...)
}

func pinKey(c cid.Cid) []byte {
	return append(append([]byte{}, pinKeyPrefix...), c.Bytes()...)
}

func cidFromKey(prefix []byte, key []byte) (cid.Cid, error) {
	return cid.Cast(key[len(prefix):])
}

func (s *BlockStore) Put(ctx context.Context, blk *ipld.Block) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if blk == nil || !blk.Cid().Defined() {
		return ErrInvalidCID
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ipld.Verify(blk.Cid(), blk.RawData()); err != nil {
		return fmt.Errorf("%w: %w", ErrCIDMismatch, err)
	}
	s.gcMutex.RLock()
	defer s.gcMutex.RUnlock()
	key := blockKey(blk.Cid())
	exists, err := s.backend.Has(key)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := s.backend.Put(key, blk.RawData()); err != nil {
		return err
	}
	s.logger.Debug(
		"stored block",
		"cid", blk.Cid().String(),
		"size", len(blk.RawData()),
	)
	return nil
}

func (s *BlockStore) Get(ctx context.Context, c cid.Cid) (*ipld.Block, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if !c.Defined() {
		return nil, ErrInvalidCID
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.backend.Get(blockKey(c))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, c)
		}
		return nil, err
	}
	blk, err := ipld.NewBlockWithCid(c, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCIDMismatch, err)
	}
	return blk, nil
}

func (s *BlockStore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	if !c.Defined() {
		return false, ErrInvalidCID
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.backend.Has(blockKey(c))
}

func (s *BlockStore) CreateTempPin() *TempPin {
	s.pinMutex.Lock()
	defer s.pinMutex.Unlock()
	pin := &TempPin{id: s.nextPinId}
	s.nextPinId++
	s.tempPins[pin.id] = make(map[cid.Cid]struct{})
	return pin
}

// TempPin adds c to pin. The block does not need to be present yet.
func (s *BlockStore) TempPin(ctx context.Context, pin *TempPin, c cid.Cid) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !c.Defined() {
		return ErrInvalidCID
	}
	if pin == nil || pin.Released() {
		return ErrPinReleased
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.pinMutex.Lock()
	defer s.pinMutex.Unlock()
	cids, ok := s.tempPins[pin.id]
	if !ok {
		return ErrPinReleased
	}
	cids[c] = struct{}{}
	return nil
}

// ReleaseTempPin drops the lease. Releasing twice is a no-op.
func (s *BlockStore) ReleaseTempPin(pin *TempPin) {
	if pin == nil || pin.released.Swap(true) {
		return
	}
	s.pinMutex.Lock()
	defer s.pinMutex.Unlock()
	delete(s.tempPins, pin.id)
}

func (s *BlockStore) Pin(ctx context.Context, c cid.Cid) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !c.Defined() {
		return ErrInvalidCID
	}
	s.gcMutex.RLock()
	defer s.gcMutex.RUnlock()
	// Refuse to pin an incomplete graph
	err := s.walk(ctx, c, make(map[cid.Cid]struct{}), func(cid.Cid) {})
	if err != nil {
		return err
	}
	if err := s.backend.Put(pinKey(c), nil); err != nil {
		return err
	}
	s.logger.Debug("pinned", "cid", c.String())
	return nil
}

func (s *BlockStore) Unpin(ctx context.Context, c cid.Cid) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !c.Defined() {
		return ErrInvalidCID
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	key := pinKey(c)
	pinned, err := s.backend.Has(key)
	if err != nil {
		return err
	}
	if !pinned {
		return fmt.Errorf("%w: pin %s", ErrNotFound, c)
	}
	return s.backend.Delete(key)
}

func (s *BlockStore) IsPinned(ctx context.Context, c cid.Cid) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.backend.Has(pinKey(c))
}

// GC removes every block not reachable from a temp pin or a recursive pin.
// Writes are blocked while it runs.
func (s *BlockStore) GC(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	s.gcMutex.Lock()
	defer s.gcMutex.Unlock()
	live := make(map[cid.Cid]struct{})
	mark := func(c cid.Cid) {
		live[c] = struct{}{}
	}
	var roots []cid.Cid
	s.pinMutex.Lock()
	for _, cids := range s.tempPins {
		for c := range cids {
			roots = append(roots, c)
		}
	}
	s.pinMutex.Unlock()
	err := s.backend.Keys(pinKeyPrefix, func(key []byte) error {
		c, err := cidFromKey(pinKeyPrefix, key)
		if err != nil {
			return err
		}
		roots = append(roots, c)
		return nil
	})
	if err != nil {
		return 0, err
	}
	visited := make(map[cid.Cid]struct{})
	for _, root := range roots {
		// Temp pins may name blocks that have not been written yet
		if err := s.walk(ctx, root, visited, mark); err != nil && !errors.Is(err, ErrNotFound) {
			return 0, err
		}
	}
	removed := 0
	err = s.backend.Keys(blockKeyPrefix, func(key []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, err := cidFromKey(blockKeyPrefix, key)
		if err != nil {
			return err
		}
		if _, ok := live[c]; ok {
			return nil
		}
		if err := s.backend.Delete(key); err != nil {
			return err
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, err
	}
	if compacter, ok := s.backend.(interface{ Compact() error }); ok && removed > 0 {
		if err := compacter.Compact(); err != nil {
			s.logger.Warn("failed to compact backend", "error", err)
		}
	}
	s.logger.Debug("garbage collection finished", "removed", removed, "live", len(live))
	return removed, nil
}

// walk visits c and every block reachable from it. A missing block returns
// ErrNotFound after the reachable part has been visited.
func (s *BlockStore) walk(ctx context.Context, c cid.Cid, visited map[cid.Cid]struct{}, fn func(cid.Cid)) error {
	var missing error
	stack := []cid.Cid{c}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[cur]; ok {
			continue
		}
		visited[cur] = struct{}{}
		fn(cur)
		data, err := s.backend.Get(blockKey(cur))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				if missing == nil {
					missing = fmt.Errorf("%w: %s", ErrNotFound, cur)
				}
				continue
			}
			return err
		}
		links, err := ipld.Links(data)
		if err != nil {
			return fmt.Errorf("datastore: read links of %s: %w", cur, err)
		}
		stack = append(stack, links...)
	}
	return missing
}

func (s *BlockStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.pinMutex.Lock()
	s.tempPins = make(map[uint64]map[cid.Cid]struct{})
	s.pinMutex.Unlock()
	return s.backend.Close()
}

var _ Store = (*BlockStore)(nil)
