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

package cbor_test

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/blinklabs-io/gokate/cbor"
)

type encodeTestDefinition struct {
	CborHex string
	Object  any
}

type encodeTestStruct struct {
	cbor.StructAsArray
	Num   uint64
	Bytes []byte
}

var encodeTests = []encodeTestDefinition{
	// Simple list of numbers
	{
		CborHex: "83010203",
		Object:  []any{1, 2, 3},
	},
	// Byte string
	{
		CborHex: "43010203",
		Object:  []byte{1, 2, 3},
	},
	// Struct as array
	{
		CborHex: "820a42abcd",
		Object: encodeTestStruct{
			Num:   10,
			Bytes: []byte{0xab, 0xcd},
		},
	},
	// Map keys are sorted length-first
	{
		CborHex: "a261610162626202",
		Object:  map[string]int{"bb": 2, "a": 1},
	},
	// Wrapped CBOR
	{
		CborHex: "d8184401020304",
		Object:  cbor.WrappedCbor{1, 2, 3, 4},
	},
	// Null
	{
		CborHex: "f6",
		Object:  nil,
	},
}

func TestEncode(t *testing.T) {
	for _, test := range encodeTests {
		cborData, err := cbor.Encode(test.Object)
		if err != nil {
			t.Fatalf("failed to encode object to CBOR: %s", err)
		}
		cborHex := hex.EncodeToString(cborData)
		if cborHex != test.CborHex {
			t.Fatalf(
				"object did not encode to expected CBOR\n  got: %s\n  wanted: %s",
				cborHex,
				test.CborHex,
			)
		}
	}
}

func TestEncodeDeterministic(t *testing.T) {
	obj := map[string]any{
		"zzz": []byte{1},
		"a":   uint64(7),
		"mm":  []any{"x", "y"},
	}
	first, err := cbor.Encode(obj)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	for i := 0; i < 20; i++ {
		again, err := cbor.Encode(obj)
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding is not deterministic: %x != %x", first, again)
		}
	}
}
