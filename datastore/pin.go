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

package datastore

import (
	"sync/atomic"
)

// TempPin is a scoped lease on a set of CIDs. It is created by
// Store.CreateTempPin and must be released with Store.ReleaseTempPin.
type TempPin struct {
	id       uint64
	released atomic.Bool
}

func (p *TempPin) Id() uint64 {
	return p.id
}

func (p *TempPin) Released() bool {
	return p.released.Load()
}
