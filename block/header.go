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

// Package block defines the light-client block header that is announced
// between peers and carries the dimensions of the block's data matrix.
package block

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/blinklabs-io/gokate/cbor"
	"github.com/ipfs/go-cid"
	"lukechampine.com/blake3"
)

const HashSize = 32

type Hash [HashSize]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

// NewHashFromHex parses a hex-encoded header hash
func NewHashFromHex(hexStr string) (Hash, error) {
	var ret Hash
	data, err := hex.DecodeString(hexStr)
	if err != nil {
		return ret, err
	}
	if len(data) != HashSize {
		return ret, fmt.Errorf("invalid hash length: %d", len(data))
	}
	copy(ret[:], data)
	return ret, nil
}

// Header is the announced block header. MatrixRoot is optional and set once
// the producer has published the matrix.
type Header struct {
	cbor.StructAsArray
	Number     uint64
	ParentHash Hash
	Rows       uint16
	Cols       uint16
	MatrixRoot []byte
	hash       Hash
	cbor       []byte
}

// NewHeaderFromCbor decodes a header and remembers its original bytes so the
// hash covers exactly what was received
func NewHeaderFromCbor(data []byte) (*Header, error) {
	var h Header
	if _, err := cbor.Decode(data, &h); err != nil {
		return nil, fmt.Errorf("block: decode header: %w", err)
	}
	if len(h.MatrixRoot) > 0 {
		if _, err := cid.Cast(h.MatrixRoot); err != nil {
			return nil, fmt.Errorf("block: invalid matrix root: %w", err)
		}
	}
	h.cbor = append([]byte{}, data...)
	h.hash = blake3.Sum256(h.cbor)
	return &h, nil
}

// Cbor returns the encoded header, encoding it on first use
func (h *Header) Cbor() ([]byte, error) {
	if h.cbor != nil {
		return h.cbor, nil
	}
	data, err := cbor.Encode(h)
	if err != nil {
		return nil, err
	}
	h.cbor = data
	h.hash = blake3.Sum256(data)
	return data, nil
}

// Hash returns the BLAKE3-256 hash of the encoded header
func (h *Header) Hash() (Hash, error) {
	if _, err := h.Cbor(); err != nil {
		return Hash{}, err
	}
	return h.hash, nil
}

// SetMatrixRoot records the CID of the published matrix. It clears any
// cached encoding.
func (h *Header) SetMatrixRoot(c cid.Cid) error {
	if !c.Defined() {
		return errors.New("block: undefined matrix root")
	}
	h.MatrixRoot = c.Bytes()
	h.cbor = nil
	return nil
}

// MatrixRootCid returns the matrix root, or cid.Undef when unset
func (h *Header) MatrixRootCid() (cid.Cid, error) {
	if len(h.MatrixRoot) == 0 {
		return cid.Undef, nil
	}
	return cid.Cast(h.MatrixRoot)
}

// Cells returns the number of cells in the block's matrix
func (h *Header) Cells() int {
	return int(h.Rows) * int(h.Cols)
}
