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

// Package storetest holds the conformance suite every datastore backend and
// remote store client must pass.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/blinklabs-io/gokate/datastore"
	"github.com/blinklabs-io/gokate/ipld"
	"github.com/ipfs/go-cid"
)

// NewBlocks constructs a fresh, empty block store for a test. The returned
// value must be isolated from other tests.
type NewBlocks func(t *testing.T) datastore.Blockstore

// NewStore constructs a fresh, empty Store for a test
type NewStore func(t *testing.T) datastore.Store

func mustEncode(t *testing.T, value any) *ipld.Block {
	t.Helper()
	blk, err := ipld.Encode(value)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return blk
}

// RunBlockConformance checks the content-addressing contract
func RunBlockConformance(t *testing.T, newBlocks NewBlocks) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		store := newBlocks(t)
		want := mustEncode(t, []byte("hello, light client"))
		if err := store.Put(ctx, want); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := store.Get(ctx, want.Cid())
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !got.Cid().Equals(want.Cid()) {
			t.Fatalf("Get CID mismatch: got %s want %s", got.Cid(), want.Cid())
		}
		if !bytes.Equal(got.RawData(), want.RawData()) {
			t.Fatalf("Get bytes mismatch")
		}
		gotCid, err := ipld.Sum(got.RawData())
		if err != nil {
			t.Fatalf("Sum failed: %v", err)
		}
		if !gotCid.Equals(want.Cid()) {
			t.Fatalf("Get returned bytes not matching requested CID")
		}
	})

	t.Run("PutIdempotent", func(t *testing.T) {
		store := newBlocks(t)
		blk := mustEncode(t, []byte("same bytes"))
		if err := store.Put(ctx, blk); err != nil {
			t.Fatalf("Put(1) failed: %v", err)
		}
		if err := store.Put(ctx, mustEncode(t, []byte("same bytes"))); err != nil {
			t.Fatalf("Put(2) failed: %v", err)
		}
		got, err := store.Get(ctx, blk.Cid())
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got.RawData(), blk.RawData()) {
			t.Fatalf("Get bytes mismatch after second Put")
		}
	})

	t.Run("HasAndNotFound", func(t *testing.T) {
		store := newBlocks(t)
		blk := mustEncode(t, []byte("missing"))
		has, err := store.Has(ctx, blk.Cid())
		if err != nil {
			t.Fatalf("Has failed: %v", err)
		}
		if has {
			t.Fatalf("Has returned true for missing CID")
		}
		_, err = store.Get(ctx, blk.Cid())
		if !datastore.IsNotFound(err) {
			t.Fatalf("Get missing: got err=%v want ErrNotFound", err)
		}
		if err := store.Put(ctx, blk); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		has, err = store.Has(ctx, blk.Cid())
		if err != nil {
			t.Fatalf("Has failed: %v", err)
		}
		if !has {
			t.Fatalf("Has returned false after Put")
		}
	})

	t.Run("RejectUndefCID", func(t *testing.T) {
		store := newBlocks(t)
		var undef cid.Cid
		if has, _ := store.Has(ctx, undef); has {
			t.Fatalf("Has should be false for undefined CID")
		}
		if _, err := store.Get(ctx, undef); err == nil {
			t.Fatalf("Get should fail for undefined CID")
		}
	})
}

// RunStoreConformance checks the content-addressing contract plus pinning
// and garbage collection
func RunStoreConformance(t *testing.T, newStore NewStore) {
	t.Helper()
	ctx := context.Background()

	RunBlockConformance(t, func(t *testing.T) datastore.Blockstore {
		return newStore(t)
	})

	t.Run("UnpinnedBlocksAreCollected", func(t *testing.T) {
		store := newStore(t)
		blk := mustEncode(t, []byte("garbage"))
		if err := store.Put(ctx, blk); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		removed, err := store.GC(ctx)
		if err != nil {
			t.Fatalf("GC failed: %v", err)
		}
		if removed != 1 {
			t.Fatalf("GC removed %d blocks, want 1", removed)
		}
		if has, _ := store.Has(ctx, blk.Cid()); has {
			t.Fatalf("unpinned block survived GC")
		}
	})

	t.Run("TempPinProtectsUntilReleased", func(t *testing.T) {
		store := newStore(t)
		blk := mustEncode(t, []byte("leased"))
		pin := store.CreateTempPin()
		if err := store.TempPin(ctx, pin, blk.Cid()); err != nil {
			t.Fatalf("TempPin failed: %v", err)
		}
		if err := store.Put(ctx, blk); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if _, err := store.GC(ctx); err != nil {
			t.Fatalf("GC failed: %v", err)
		}
		if has, _ := store.Has(ctx, blk.Cid()); !has {
			t.Fatalf("temp-pinned block was collected")
		}
		store.ReleaseTempPin(pin)
		store.ReleaseTempPin(pin)
		if err := store.TempPin(ctx, pin, blk.Cid()); !errors.Is(err, datastore.ErrPinReleased) {
			t.Fatalf("TempPin on released pin: got err=%v want ErrPinReleased", err)
		}
		if _, err := store.GC(ctx); err != nil {
			t.Fatalf("GC failed: %v", err)
		}
		if has, _ := store.Has(ctx, blk.Cid()); has {
			t.Fatalf("block survived GC after its pin was released")
		}
	})

	t.Run("RecursivePinKeepsChildren", func(t *testing.T) {
		store := newStore(t)
		child := mustEncode(t, []byte("child"))
		parent := mustEncode(t, []*ipld.Link{ipld.NewLink(child.Cid())})
		stray := mustEncode(t, []byte("stray"))
		for _, blk := range []*ipld.Block{child, parent, stray} {
			if err := store.Put(ctx, blk); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
		}
		if err := store.Pin(ctx, parent.Cid()); err != nil {
			t.Fatalf("Pin failed: %v", err)
		}
		pinned, err := store.IsPinned(ctx, parent.Cid())
		if err != nil || !pinned {
			t.Fatalf("IsPinned: got %v, err=%v", pinned, err)
		}
		removed, err := store.GC(ctx)
		if err != nil {
			t.Fatalf("GC failed: %v", err)
		}
		if removed != 1 {
			t.Fatalf("GC removed %d blocks, want 1", removed)
		}
		for _, blk := range []*ipld.Block{child, parent} {
			if has, _ := store.Has(ctx, blk.Cid()); !has {
				t.Fatalf("pinned block %s was collected", blk.Cid())
			}
		}
		if err := store.Unpin(ctx, parent.Cid()); err != nil {
			t.Fatalf("Unpin failed: %v", err)
		}
		removed, err = store.GC(ctx)
		if err != nil {
			t.Fatalf("GC failed: %v", err)
		}
		if removed != 2 {
			t.Fatalf("GC removed %d blocks after unpin, want 2", removed)
		}
	})

	t.Run("PinRequiresCompleteGraph", func(t *testing.T) {
		store := newStore(t)
		child := mustEncode(t, []byte("absent child"))
		parent := mustEncode(t, []*ipld.Link{ipld.NewLink(child.Cid())})
		if err := store.Put(ctx, parent); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := store.Pin(ctx, parent.Cid()); !datastore.IsNotFound(err) {
			t.Fatalf("Pin with missing child: got err=%v want ErrNotFound", err)
		}
	})

	t.Run("Closed", func(t *testing.T) {
		store := newStore(t)
		if err := store.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		blk := mustEncode(t, []byte("late"))
		if err := store.Put(ctx, blk); !errors.Is(err, datastore.ErrClosed) {
			t.Fatalf("Put after Close: got err=%v want ErrClosed", err)
		}
	})
}
