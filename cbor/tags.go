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

package cbor

import (
	"reflect"

	_cbor "github.com/fxamacker/cbor/v2"
)

const (
	// Embedded CBOR data item
	CborTagCbor = 24
	// Content identifier link, as used by DAG-CBOR
	CborTagCid = 42
)

var customTagSet _cbor.TagSet

func init() {
	customTagSet = _cbor.NewTagSet()
	tagOpts := _cbor.TagOptions{EncTag: _cbor.EncTagRequired, DecTag: _cbor.DecTagRequired}
	if err := customTagSet.Add(
		tagOpts,
		reflect.TypeOf(WrappedCbor{}),
		CborTagCbor,
	); err != nil {
		panic(err)
	}
}

// WrappedCbor is an already encoded data item carried inside another one as a
// tagged byte string, so that it can be hashed or forwarded without re-encoding
type WrappedCbor []byte

// Bytes returns the embedded encoding
func (w WrappedCbor) Bytes() []byte {
	return []byte(w)
}
