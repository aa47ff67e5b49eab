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

// Package hostarch describes the x86_64 addressing model: page sizes and
// virtual and physical addresses.
package hostarch

import (
	"fmt"
)

// Page sizes supported by 4-level paging.
const (
	// PageShift is the binary log of the base page size.
	PageShift = 12

	// PageSize is the base page (and frame) size.
	PageSize = 1 << PageShift

	// HugePageShift is the binary log of a level-2 (2 MiB) leaf.
	HugePageShift = 21

	// HugePageSize is the size of a level-2 leaf.
	HugePageSize = 1 << HugePageShift

	// GiantPageShift is the binary log of a level-3 (1 GiB) leaf.
	GiantPageShift = 30

	// GiantPageSize is the size of a level-3 leaf.
	GiantPageSize = 1 << GiantPageShift
)

// Addr is a virtual address.
type Addr uintptr

// String implements fmt.Stringer.
func (v Addr) String() string {
	return fmt.Sprintf("%#x", uintptr(v))
}

// RoundDown returns the address rounded down to the nearest page boundary.
func (v Addr) RoundDown() Addr {
	return v & ^Addr(PageSize-1)
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// true iff rounding up did not wrap around.
func (v Addr) RoundUp() (addr Addr, ok bool) {
	addr = Addr(v + PageSize - 1).RoundDown()
	ok = addr >= v
	return
}

// HugeRoundDown returns the address rounded down to the nearest huge page
// boundary.
func (v Addr) HugeRoundDown() Addr {
	return v & ^Addr(HugePageSize-1)
}

// HugeRoundUp returns the address rounded up to the nearest huge page boundary.
// ok is true iff rounding up did not wrap around.
func (v Addr) HugeRoundUp() (addr Addr, ok bool) {
	addr = Addr(v + HugePageSize - 1).HugeRoundDown()
	ok = addr >= v
	return
}

// PageOffset returns the offset of v into the current page.
func (v Addr) PageOffset() uint64 {
	return uint64(v & Addr(PageSize-1))
}

// IsPageAligned returns true if v.PageOffset() == 0.
func (v Addr) IsPageAligned() bool {
	return v.PageOffset() == 0
}

// AddLength adds the given length to start and returns the result. ok is true
// iff adding the length did not overflow the range of Addr.
func (v Addr) AddLength(length uint64) (end Addr, ok bool) {
	end = v + Addr(length)
	// The second half of the following check is needed in case uintptr is
	// smaller than 64 bits.
	ok = end >= v && length <= uint64(^Addr(0))
	return
}

// IsCanonical indicates whether v is canonical: bits 63..47 are all equal.
func (v Addr) IsCanonical() bool {
	return IsCanonical(uint64(v))
}

// IsCanonical indicates whether addr is canonical per the amd64 spec.
func IsCanonical(addr uint64) bool {
	return addr <= 0x00007fffffffffff || addr >= 0xffff800000000000
}

// PhysAddr is a physical address.
type PhysAddr uint64

// String implements fmt.Stringer.
func (p PhysAddr) String() string {
	return fmt.Sprintf("%#x", uint64(p))
}

// RoundDown returns p rounded down to the start of its frame.
func (p PhysAddr) RoundDown() PhysAddr {
	return p &^ PhysAddr(PageSize-1)
}

// RoundUp returns p rounded up to a frame boundary. ok is false if rounding
// wrapped around.
func (p PhysAddr) RoundUp() (addr PhysAddr, ok bool) {
	addr = (p + PageSize - 1).RoundDown()
	ok = addr >= p
	return
}

// PageOffset returns the offset of p into its frame.
func (p PhysAddr) PageOffset() uint64 {
	return uint64(p & (PageSize - 1))
}

// IsPageAligned returns true if p.PageOffset() == 0.
func (p PhysAddr) IsPageAligned() bool {
	return p.PageOffset() == 0
}
