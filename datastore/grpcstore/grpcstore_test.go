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

package grpcstore_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/blinklabs-io/gokate/datastore"
	"github.com/blinklabs-io/gokate/datastore/grpcstore"
	"github.com/blinklabs-io/gokate/datastore/storetest"
	"github.com/blinklabs-io/gokate/ipld"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

func newTestClient(t *testing.T, store datastore.Blockstore) *grpcstore.Client {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	grpcstore.RegisterBlockStoreServer(srv, grpcstore.NewServer(store, nil))
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)
	dialer := func(ctx context.Context, s string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}
	client, err := grpcstore.Dial(
		"passthrough:///bufnet",
		grpcstore.WithTimeout(2*time.Second),
		grpcstore.WithDialOptions(grpc.WithContextDialer(dialer)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClientConformance(t *testing.T) {
	storetest.RunBlockConformance(t, func(t *testing.T) datastore.Blockstore {
		store := datastore.NewMemoryStore()
		t.Cleanup(func() { _ = store.Close() })
		return newTestClient(t, store)
	})
}

func TestClientSeesServerWrites(t *testing.T) {
	ctx := context.Background()
	store := datastore.NewMemoryStore()
	defer store.Close()
	client := newTestClient(t, store)

	blk, err := ipld.Encode([]byte("published cell"))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, blk))

	has, err := client.Has(ctx, blk.Cid())
	require.NoError(t, err)
	assert.True(t, has)
	got, err := client.Get(ctx, blk.Cid())
	require.NoError(t, err)
	assert.Equal(t, blk.RawData(), got.RawData())
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	ctx := context.Background()
	store := datastore.NewMemoryStore()
	client := newTestClient(t, store)
	require.NoError(t, store.Close())
	blk, err := ipld.Encode([]byte("late"))
	require.NoError(t, err)
	_, err = client.Get(ctx, blk.Cid())
	assert.ErrorIs(t, err, datastore.ErrClosed)
}
