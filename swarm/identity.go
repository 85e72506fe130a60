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

package swarm

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"golang.org/x/crypto/blake2b"
)

const (
	// PeerIdSize is the length of a peer id in bytes
	PeerIdSize = 28

	peerIdBech32Prefix = "peer"
)

// PeerId identifies a peer by the BLAKE2b-224 hash of its ed25519 public key
type PeerId [PeerIdSize]byte

// String returns the bech32 form of the peer id
func (p PeerId) String() string {
	convData, err := bech32.ConvertBits(p[:], 8, 5, true)
	if err != nil {
		return hex.EncodeToString(p[:])
	}
	encoded, err := bech32.Encode(peerIdBech32Prefix, convData)
	if err != nil {
		return hex.EncodeToString(p[:])
	}
	return encoded
}

// IsZero returns true for the zero peer id
func (p PeerId) IsZero() bool {
	return p == PeerId{}
}

// ParsePeerId parses the bech32 form produced by PeerId.String
func ParsePeerId(s string) (PeerId, error) {
	var ret PeerId
	hrp, data, err := bech32.DecodeNoLimit(s)
	if err != nil {
		return ret, fmt.Errorf("decode peer id: %w", err)
	}
	if hrp != peerIdBech32Prefix {
		return ret, fmt.Errorf("decode peer id: unexpected prefix %q", hrp)
	}
	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return ret, fmt.Errorf("decode peer id: %w", err)
	}
	if len(decoded) != PeerIdSize {
		return ret, fmt.Errorf("decode peer id: invalid length %d", len(decoded))
	}
	copy(ret[:], decoded)
	return ret, nil
}

// PeerIdFromPublicKey validates an ed25519 public key and derives its peer id
func PeerIdFromPublicKey(publicKey []byte) (PeerId, error) {
	var ret PeerId
	if len(publicKey) != ed25519.PublicKeySize {
		return ret, fmt.Errorf(
			"%w: expected %d bytes, got %d",
			ErrInvalidPublicKey,
			ed25519.PublicKeySize,
			len(publicKey),
		)
	}
	if _, err := new(edwards25519.Point).SetBytes(publicKey); err != nil {
		return ret, fmt.Errorf("%w: %w", ErrInvalidPublicKey, err)
	}
	hasher, err := blake2b.New(PeerIdSize, nil)
	if err != nil {
		return ret, err
	}
	hasher.Write(publicKey)
	copy(ret[:], hasher.Sum(nil))
	return ret, nil
}

// Identity is the local peer key pair
type Identity struct {
	privateKey ed25519.PrivateKey
	peerId     PeerId
}

// GenerateIdentity creates a new random identity
func GenerateIdentity() (*Identity, error) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return newIdentity(privateKey)
}

// NewIdentityFromSeed derives an identity from a 32-byte ed25519 seed
func NewIdentityFromSeed(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return newIdentity(ed25519.NewKeyFromSeed(seed))
}

func newIdentity(privateKey ed25519.PrivateKey) (*Identity, error) {
	peerId, err := PeerIdFromPublicKey(privateKey.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &Identity{
		privateKey: privateKey,
		peerId:     peerId,
	}, nil
}

// PublicKey returns the identity public key
func (i *Identity) PublicKey() ed25519.PublicKey {
	return i.privateKey.Public().(ed25519.PublicKey)
}

// PeerId returns the peer id derived from the public key
func (i *Identity) PeerId() PeerId {
	return i.peerId
}

// Sign signs msg with the identity private key
func (i *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(i.privateKey, msg)
}

// Equal reports whether two identities share the same key
func (i *Identity) Equal(other *Identity) bool {
	if other == nil {
		return false
	}
	return bytes.Equal(i.PublicKey(), other.PublicKey())
}
