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
	"encoding/hex"
	"reflect"
	"testing"

	"github.com/blinklabs-io/gokate/cbor"
)

type decodeTestDefinition struct {
	CborHex   string
	Object    any
	BytesRead int
}

var decodeTests = []decodeTestDefinition{
	// Simple list of numbers
	{
		CborHex: "83010203",
		Object:  []any{uint64(1), uint64(2), uint64(3)},
	},
	// Multiple CBOR objects
	{
		CborHex:   "81018102",
		Object:    []any{uint64(1)},
		BytesRead: 2,
	},
}

func TestDecode(t *testing.T) {
	for _, test := range decodeTests {
		cborData, err := hex.DecodeString(test.CborHex)
		if err != nil {
			t.Fatalf("failed to decode CBOR hex: %s", err)
		}
		var dest any
		bytesRead, err := cbor.Decode(cborData, &dest)
		if err != nil {
			t.Fatalf("failed to decode CBOR: %s", err)
		}
		if test.BytesRead > 0 {
			if bytesRead != test.BytesRead {
				t.Fatalf("expected to read %d bytes, read %d instead", test.BytesRead, bytesRead)
			}
		}
		if !reflect.DeepEqual(dest, test.Object) {
			t.Fatalf("CBOR did not decode to expected object\n  got: %#v\n  wanted: %#v", dest, test.Object)
		}
	}
}

func TestDecodeRejectsIndefiniteLength(t *testing.T) {
	// [_ 1, 2]
	cborData, _ := hex.DecodeString("9f0102ff")
	var dest []uint64
	if _, err := cbor.Decode(cborData, &dest); err == nil {
		t.Fatalf("did not receive expected error for indefinite-length list")
	}
}

type listLenTestDefinition struct {
	CborHex string
	Length  int
}

var listLenTests = []listLenTestDefinition{
	// [1]
	{
		CborHex: "8101",
		Length:  1,
	},
	// [1, 3]
	{
		CborHex: "820103",
		Length:  2,
	},
	// [4, 5, 6]
	{
		CborHex: "83040506",
		Length:  3,
	},
	// [0, 1, ... 24, 25]
	{
		CborHex: "981A000102030405060708090A0B0C0D0E0F101112131415161718181819",
		Length:  26,
	},
}

func TestListLen(t *testing.T) {
	for _, test := range listLenTests {
		cborData, err := hex.DecodeString(test.CborHex)
		if err != nil {
			t.Fatalf("failed to decode CBOR hex: %s", err)
		}
		listLen, err := cbor.ListLength(cborData)
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if listLen != test.Length {
			t.Fatalf("did not get expected length, got: %d, wanted: %d", listLen, test.Length)
		}
	}
}

type decodeIdFromListTestDefinition struct {
	CborHex     string
	Id          int
	ExpectError bool
}

var decodeIdFromListTests = []decodeIdFromListTestDefinition{
	// [1]
	{
		CborHex: "8101",
		Id:      1,
	},
	// [1, 3]
	{
		CborHex: "820103",
		Id:      1,
	},
	// [4, 1]
	{
		CborHex: "820401",
		Id:      4,
	},
	// [25]
	{
		CborHex: "811819",
		Id:      25,
	},
	// [true]
	{
		CborHex:     "81F5",
		ExpectError: true,
	},
	// []
	{
		CborHex:     "80",
		ExpectError: true,
	},
}

func TestDecodeIdFromList(t *testing.T) {
	for _, test := range decodeIdFromListTests {
		cborData, err := hex.DecodeString(test.CborHex)
		if err != nil {
			t.Fatalf("failed to decode CBOR hex: %s", err)
		}
		id, err := cbor.DecodeIdFromList(cborData)
		if test.ExpectError {
			if err == nil {
				t.Fatalf("did not receive expected error for %s", test.CborHex)
			}
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if id != test.Id {
			t.Fatalf("did not get expected ID, got: %d, wanted: %d", id, test.Id)
		}
	}
}
