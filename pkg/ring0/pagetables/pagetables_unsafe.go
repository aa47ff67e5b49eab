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
	"unsafe"

	"tchaios.dev/kcore/pkg/hostarch"
)

// tables returns the table at phys through the physical memory offset.
//
// The result points outside any Go allocation.
//
//go:nocheckptr
func (t *OffsetTable) tables(phys hostarch.PhysAddr) *PTEs {
	return (*PTEs)(unsafe.Pointer(uintptr(t.offset) + uintptr(phys)))
}
