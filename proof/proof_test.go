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

package proof_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blinklabs-io/gokate/proof"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRequest struct {
	JsonRpc string            `json:"jsonrpc"`
	Id      uint64            `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

func newTestServer(t *testing.T, handler func(req testRequest) (any, *proof.RPCError)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req testRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		result, rpcErr := handler(req)
		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      req.Id,
		}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRPCClientNumberArrayResult(t *testing.T) {
	srv := newTestServer(t, func(req testRequest) (any, *proof.RPCError) {
		assert.Equal(t, "2.0", req.JsonRpc)
		assert.Equal(t, proof.DefaultMethod, req.Method)
		if !assert.Len(t, req.Params, 2) {
			return nil, &proof.RPCError{Code: -32602, Message: "bad params"}
		}
		assert.JSONEq(t, `10`, string(req.Params[0]))
		assert.JSONEq(t, `[{"row":3,"col":2}]`, string(req.Params[1]))
		return []int{1, 2, 255}, nil
	})
	client := proof.NewRPCClient(srv.URL)
	got, err := client.GetProof(context.Background(), 10, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 255}, got)
}

func TestRPCClientHexResult(t *testing.T) {
	srv := newTestServer(t, func(req testRequest) (any, *proof.RPCError) {
		return "0xdeadbeef", nil
	})
	client := proof.NewRPCClient(srv.URL, proof.WithMethod("custom_proof"))
	got, err := client.GetProof(context.Background(), 1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, got)
}

func TestRPCClientErrorObject(t *testing.T) {
	srv := newTestServer(t, func(req testRequest) (any, *proof.RPCError) {
		return nil, &proof.RPCError{Code: -32602, Message: "bad cell"}
	})
	client := proof.NewRPCClient(srv.URL)
	_, err := client.GetProof(context.Background(), 1, 0, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, proof.ErrRPC)
	var rpcErr *proof.RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -32602, rpcErr.Code)
}

func TestRPCClientEmptyResult(t *testing.T) {
	srv := newTestServer(t, func(req testRequest) (any, *proof.RPCError) {
		return []int{}, nil
	})
	client := proof.NewRPCClient(srv.URL)
	_, err := client.GetProof(context.Background(), 1, 0, 0)
	assert.ErrorIs(t, err, proof.ErrEmptyProof)
}

func TestRPCClientHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	client := proof.NewRPCClient(srv.URL)
	_, err := client.GetProof(context.Background(), 1, 0, 0)
	assert.Error(t, err)
}

func TestRPCClientTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)
	client := proof.NewRPCClient(srv.URL, proof.WithRPCTimeout(50*time.Millisecond))
	_, err := client.GetProof(context.Background(), 1, 0, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithRetry(t *testing.T) {
	var calls atomic.Int32
	src := proof.SourceFunc(func(ctx context.Context, block uint64, row uint16, col uint16) ([]byte, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return []byte{byte(block), byte(row), byte(col)}, nil
	})
	got, err := proof.WithRetry(src, 3, time.Millisecond).GetProof(context.Background(), 7, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 1, 2}, got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWithRetryGivesUp(t *testing.T) {
	var calls atomic.Int32
	failure := errors.New("permanent")
	src := proof.SourceFunc(func(ctx context.Context, block uint64, row uint16, col uint16) ([]byte, error) {
		calls.Add(1)
		return nil, failure
	})
	_, err := proof.WithRetry(src, 2, time.Millisecond).GetProof(context.Background(), 1, 0, 0)
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := proof.SourceFunc(func(ctx context.Context, block uint64, row uint16, col uint16) ([]byte, error) {
		cancel()
		return nil, errors.New("failed")
	})
	_, err := proof.WithRetry(src, 5, time.Hour).GetProof(ctx, 1, 0, 0)
	assert.Error(t, err)
}
