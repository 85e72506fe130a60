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

package ipld

import (
	"errors"
	"fmt"

	"github.com/blinklabs-io/gokate/cbor"
	"github.com/ipfs/go-cid"
)

// DAG-CBOR stores a link as tag 42 wrapping the binary CID prefixed by the
// identity multibase byte
const linkMultibasePrefix = 0x00

// Link is a reference from one unit to another. A nil *Link encodes as CBOR
// null.
type Link struct {
	Cid cid.Cid
}

func NewLink(c cid.Cid) *Link {
	return &Link{Cid: c}
}

func (l Link) MarshalCBOR() ([]byte, error) {
	if !l.Cid.Defined() {
		return nil, errors.New("ipld: cannot encode undefined link")
	}
	content := make([]byte, 0, 1+l.Cid.ByteLen())
	content = append(content, linkMultibasePrefix)
	content = append(content, l.Cid.Bytes()...)
	return cbor.Encode(
		cbor.Tag{
			Number:  cbor.CborTagCid,
			Content: content,
		},
	)
}

func (l *Link) UnmarshalCBOR(data []byte) error {
	var tmpTag cbor.RawTag
	if _, err := cbor.Decode(data, &tmpTag); err != nil {
		return err
	}
	if tmpTag.Number != cbor.CborTagCid {
		return fmt.Errorf("ipld: unexpected tag %d for link", tmpTag.Number)
	}
	var content []byte
	if _, err := cbor.Decode(tmpTag.Content, &content); err != nil {
		return fmt.Errorf("ipld: link content: %w", err)
	}
	c, err := castLink(content)
	if err != nil {
		return err
	}
	l.Cid = c
	return nil
}

func (l Link) String() string {
	return l.Cid.String()
}

func castLink(content []byte) (cid.Cid, error) {
	if len(content) < 2 || content[0] != linkMultibasePrefix {
		return cid.Undef, errors.New("ipld: malformed link content")
	}
	c, err := cid.Cast(content[1:])
	if err != nil {
		return cid.Undef, fmt.Errorf("ipld: malformed link cid: %w", err)
	}
	return c, nil
}

// Links returns every CID referenced by the encoded unit. List elements are
// visited in order; order within maps is unspecified.
func Links(data []byte) ([]cid.Cid, error) {
	var tmp any
	if _, err := cbor.Decode(data, &tmp); err != nil {
		return nil, err
	}
	var ret []cid.Cid
	if err := collectLinks(tmp, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func collectLinks(value any, ret *[]cid.Cid) error {
	switch v := value.(type) {
	case cbor.Tag:
		if v.Number == cbor.CborTagCid {
			content, ok := v.Content.([]byte)
			if !ok {
				return errors.New("ipld: link content is not a byte string")
			}
			c, err := castLink(content)
			if err != nil {
				return err
			}
			*ret = append(*ret, c)
			return nil
		}
		return collectLinks(v.Content, ret)
	case []any:
		for _, item := range v {
			if err := collectLinks(item, ret); err != nil {
				return err
			}
		}
	case map[any]any:
		for _, item := range v {
			if err := collectLinks(item, ret); err != nil {
				return err
			}
		}
	}
	return nil
}
