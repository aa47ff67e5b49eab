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
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"
	"tchaios.dev/kcore/pkg/hostarch"
)

// newPhysicalMemory maps pages of anonymous memory to stand in for physical
// memory. Physical address p is at the returned offset plus p.
func newPhysicalMemory(t *testing.T, pages int) ([]byte, hostarch.Addr) {
	t.Helper()
	mem, err := unix.Mmap(-1, 0, pages*hostarch.PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		t.Fatalf("mmap: %v", err)
	}
	t.Cleanup(func() {
		if err := unix.Munmap(mem); err != nil {
			t.Errorf("munmap: %v", err)
		}
	})
	return mem, hostarch.Addr(uintptr(unsafe.Pointer(&mem[0])))
}
