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

// Package ipld implements content-addressed units: values encoded as
// deterministic DAG-CBOR and identified by a CIDv1 built from a BLAKE3-256
// multihash of the encoded bytes.
package ipld

import (
	"errors"
	"fmt"

	"github.com/blinklabs-io/gokate/cbor"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

const (
	// HashCode is the multihash function used for every unit
	HashCode = multihash.BLAKE3
	// HashLength is the digest length in bytes
	HashLength = 32
	// Codec is the multicodec of the encoded bytes
	Codec = cid.DagCBOR
)

var (
	ErrEmptyData   = errors.New("ipld: empty data")
	ErrCidMismatch = errors.New("ipld: cid does not match data")
)

// Block is an immutable encoded unit together with its content identifier
type Block struct {
	cid  cid.Cid
	data []byte
}

// NewBlock wraps already-encoded DAG-CBOR bytes and computes their CID
func NewBlock(data []byte) (*Block, error) {
	if len(data) == 0 {
		return nil, ErrEmptyData
	}
	c, err := Sum(data)
	if err != nil {
		return nil, err
	}
	return &Block{
		cid:  c,
		data: data,
	}, nil
}

// NewBlockWithCid wraps data under a known CID after checking that the CID
// was derived from the data
func NewBlockWithCid(c cid.Cid, data []byte) (*Block, error) {
	if err := Verify(c, data); err != nil {
		return nil, err
	}
	return &Block{
		cid:  c,
		data: data,
	}, nil
}

// Encode serializes value with the deterministic CBOR codec and hashes the
// result. Equal values always produce the same CID.
func Encode(value any) (*Block, error) {
	data, err := cbor.Encode(value)
	if err != nil {
		return nil, fmt.Errorf("ipld: encode: %w", err)
	}
	return NewBlock(data)
}

// Decode decodes the block payload into dest
func (b *Block) Decode(dest any) error {
	if _, err := cbor.Decode(b.data, dest); err != nil {
		return fmt.Errorf("ipld: decode %s: %w", b.cid, err)
	}
	return nil
}

func (b *Block) Cid() cid.Cid {
	return b.cid
}

// RawData returns the encoded bytes. Callers must not modify the slice.
func (b *Block) RawData() []byte {
	return b.data
}

func (b *Block) String() string {
	return fmt.Sprintf("Block<%s>", b.cid)
}

// Sum returns the CIDv1 (dag-cbor, blake3-256) of data
func Sum(data []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(data, HashCode, HashLength)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(Codec, mh), nil
}

// Verify checks that c addresses data, using the hash function named by c
func Verify(c cid.Cid, data []byte) error {
	if !c.Defined() {
		return errors.New("ipld: undefined cid")
	}
	actual, err := c.Prefix().Sum(data)
	if err != nil {
		return err
	}
	if !actual.Equals(c) {
		return fmt.Errorf("%w: expected %s, got %s", ErrCidMismatch, c, actual)
	}
	return nil
}
