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

package sim

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
	"tchaios.dev/kcore/pkg/hostarch"
	"tchaios.dev/kcore/pkg/ring0"
)

// Memory is the machine's physical memory: an anonymous host mapping whose
// start is aligned to a huge page, so that the offset mapping can use 2 MiB
// leaves throughout.
type Memory struct {
	// mapping is the whole host mapping, including alignment slack.
	mapping []byte

	// phys is the aligned window. phys[p] is physical address p.
	phys []byte
}

// NewMemory maps size bytes of zeroed physical memory. size must be a
// multiple of the huge page size.
func NewMemory(size uint64) (*Memory, error) {
	if ps := unix.Getpagesize(); ps != hostarch.PageSize {
		return nil, fmt.Errorf("host page size %d, need %d", ps, hostarch.PageSize)
	}
	if size == 0 || size%hostarch.HugePageSize != 0 {
		return nil, fmt.Errorf("memory size %#x is not a multiple of %#x", size, hostarch.HugePageSize)
	}
	mapping, err := unix.Mmap(-1, 0, int(size+hostarch.HugePageSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("mapping %#x bytes of physical memory: %w", size, err)
	}
	base := uintptr(unsafe.Pointer(&mapping[0]))
	skip := hostarch.Addr(base).HugeRoundDown() + hostarch.HugePageSize - hostarch.Addr(base)
	if skip == hostarch.HugePageSize {
		skip = 0
	}
	return &Memory{
		mapping: mapping,
		phys:    mapping[skip : uint64(skip)+size],
	}, nil
}

// Release unmaps the memory. Nothing may touch it afterwards.
func (m *Memory) Release() error {
	if m.mapping == nil {
		return nil
	}
	err := unix.Munmap(m.mapping)
	m.mapping, m.phys = nil, nil
	return err
}

// Offset returns the host address of physical address zero. The boot loader
// maps physical memory at this virtual address.
func (m *Memory) Offset() hostarch.Addr {
	return hostarch.Addr(uintptr(unsafe.Pointer(&m.phys[0])))
}

// Size returns the amount of physical memory.
func (m *Memory) Size() uint64 {
	return uint64(len(m.phys))
}

// Frame returns the bytes of the frame at phys.
func (m *Memory) Frame(phys hostarch.PhysAddr) []byte {
	return m.phys[phys.RoundDown():][:hostarch.PageSize]
}

// The processor reads the descriptor tables at the linear addresses the
// kernel loads. The kernel image is host memory, so those are host addresses.

//go:nocheckptr
func readGate(addr uint64) ring0.Gate64 {
	return *(*ring0.Gate64)(unsafe.Pointer(uintptr(addr)))
}

//go:nocheckptr
func readDescriptor(addr uint64) ring0.SegmentDescriptor {
	return *(*ring0.SegmentDescriptor)(unsafe.Pointer(uintptr(addr)))
}

//go:nocheckptr
func readTaskState(addr uint64) ring0.TaskState64 {
	return *(*ring0.TaskState64)(unsafe.Pointer(uintptr(addr)))
}
