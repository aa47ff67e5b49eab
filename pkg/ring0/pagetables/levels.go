// Copyright 2026 The tchaios Authors.
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

package pagetables

import (
	"fmt"

	"tchaios.dev/kcore/pkg/hostarch"
)

// Level identifies a page table level. Level4 is the root.
type Level int

// Page table levels.
const (
	Level1 Level = iota + 1
	Level2
	Level3
	Level4
)

// shift is the number of address bits below this level's index.
func (l Level) shift() uint {
	return hostarch.PageShift + 9*uint(l-1)
}

// Size is the size of the region one entry at this level covers.
func (l Level) Size() uint64 {
	return 1 << l.shift()
}

// Index returns the index in a table at this level for va.
func (l Level) Index(va hostarch.Addr) int {
	return int(uint64(va)>>l.shift()) & (entriesPerPage - 1)
}

func (l Level) String() string {
	if l < Level1 || l > Level4 {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return fmt.Sprintf("P%d", int(l))
}
