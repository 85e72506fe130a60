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

package proof

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const (
	DefaultMethod     = "kate_queryProof"
	DefaultRPCTimeout = 10 * time.Second
	// Responses larger than this are rejected
	maxResponseBytes = 16 * 1024 * 1024
)

// RPCClient implements Source over JSON-RPC 2.0 on HTTP
type RPCClient struct {
	endpoint   string
	method     string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	nextId     atomic.Uint64
}

type RPCOptionFunc func(*RPCClient)

// WithMethod overrides the JSON-RPC method name
func WithMethod(method string) RPCOptionFunc {
	return func(c *RPCClient) {
		c.method = method
	}
}

// WithRPCTimeout bounds every call
func WithRPCTimeout(timeout time.Duration) RPCOptionFunc {
	return func(c *RPCClient) {
		c.timeout = timeout
	}
}

func WithHTTPClient(httpClient *http.Client) RPCOptionFunc {
	return func(c *RPCClient) {
		c.httpClient = httpClient
	}
}

func WithLogger(logger *slog.Logger) RPCOptionFunc {
	return func(c *RPCClient) {
		c.logger = logger
	}
}

func NewRPCClient(endpoint string, opts ...RPCOptionFunc) *RPCClient {
	c := &RPCClient{
		endpoint: endpoint,
		method:   DefaultMethod,
		timeout:  DefaultRPCTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	c.logger = c.logger.With("component", "proof")
	return c
}

type rpcRequest struct {
	JsonRpc string `json:"jsonrpc"`
	Id      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JsonRpc string          `json:"jsonrpc"`
	Id      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

type cellParam struct {
	Row uint16 `json:"row"`
	Col uint16 `json:"col"`
}

// GetProof calls the proof method with params [block, [{row, col}]]
func (c *RPCClient) GetProof(ctx context.Context, block uint64, row uint16, col uint16) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	reqBody, err := json.Marshal(
		rpcRequest{
			JsonRpc: "2.0",
			Id:      c.nextId.Add(1),
			Method:  c.method,
			Params: []any{
				block,
				[]cellParam{{Row: row, Col: col}},
			},
		},
	)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("proof: request block %d cell (%d, %d): %w", block, row, col, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proof: unexpected HTTP status %s", resp.Status)
	}
	var rpcResp rpcResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("proof: decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	proof, err := decodeProofResult(rpcResp.Result)
	if err != nil {
		return nil, err
	}
	c.logger.Debug(
		"fetched proof",
		"block", block,
		"row", row,
		"col", col,
		"size", len(proof),
		"duration", time.Since(start),
	)
	return proof, nil
}

// decodeProofResult accepts either a byte array encoded as a list of numbers
// or a 0x-prefixed hex string
func decodeProofResult(result json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(result)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrEmptyProof
	}
	var ret []byte
	switch trimmed[0] {
	case '"':
		var tmp string
		if err := json.Unmarshal(trimmed, &tmp); err != nil {
			return nil, fmt.Errorf("proof: decode result: %w", err)
		}
		decoded, err := hex.DecodeString(strings.TrimPrefix(tmp, "0x"))
		if err != nil {
			return nil, fmt.Errorf("proof: decode hex result: %w", err)
		}
		ret = decoded
	case '[':
		if err := json.Unmarshal(trimmed, &ret); err != nil {
			return nil, fmt.Errorf("proof: decode result: %w", err)
		}
	default:
		return nil, errors.New("proof: unexpected result type")
	}
	if len(ret) == 0 {
		return nil, ErrEmptyProof
	}
	return ret, nil
}
