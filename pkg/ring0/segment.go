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

// Package ring0 builds the processor's protection environment: the global
// descriptor table, the task state segment with its interrupt stacks, and the
// interrupt descriptor table with the trap dispatcher behind it.
package ring0

import "fmt"

// Selector is a segment selector.
type Selector uint16

// NewSelector returns the selector for GDT slot index at privilege rpl.
func NewSelector(index int, rpl int) Selector {
	return Selector(index<<3 | rpl&3)
}

// Index returns the descriptor table slot the selector refers to.
func (s Selector) Index() int {
	return int(s >> 3)
}

// RPL returns the requested privilege level.
func (s Selector) RPL() int {
	return int(s & 3)
}

// String implements fmt.Stringer.String.
func (s Selector) String() string {
	return fmt.Sprintf("%#04x (index %d, rpl %d)", uint16(s), s.Index(), s.RPL())
}

// SegmentDescriptor is a segment descriptor.
type SegmentDescriptor struct {
	bits [2]uint32
}

// SegmentDescriptorFlags are typed flags within a descriptor.
type SegmentDescriptorFlags uint32

// SegmentDescriptorFlag declarations.
const (
	SegmentDescriptorAccess     SegmentDescriptorFlags = 1 << 8  // Access bit (always set).
	SegmentDescriptorWrite                             = 1 << 9  // Write permission.
	SegmentDescriptorExpandDown                        = 1 << 10 // Grows down, not used.
	SegmentDescriptorExecute                           = 1 << 11 // Execute permission.
	SegmentDescriptorSystem                            = 1 << 12 // Zero => system, 1 => user code/data.
	SegmentDescriptorPresent                           = 1 << 15 // Present.
	SegmentDescriptorAVL                               = 1 << 20 // Available.
	SegmentDescriptorLong                              = 1 << 21 // Long mode.
	SegmentDescriptorDB                                = 1 << 22 // 16 or 32-bit.
	SegmentDescriptorG                                 = 1 << 23 // Granularity: page or byte.
)

// System descriptor types, held in the Access, Write and Execute bits (and
// ExpandDown) of a descriptor with System clear.
const (
	// typeTSSAvailable is a 64-bit TSS that is not busy. ltr requires it.
	typeTSSAvailable = SegmentDescriptorAccess | SegmentDescriptorExecute

	// typeTSSBusy is a 64-bit TSS after ltr.
	typeTSSBusy = typeTSSAvailable | SegmentDescriptorWrite
)

// Base returns the descriptor's base linear address.
func (d *SegmentDescriptor) Base() uint32 {
	return d.bits[1]&0xFF000000 | (d.bits[1]&0x000000FF)<<16 | d.bits[0]>>16
}

// Limit returns the descriptor size.
func (d *SegmentDescriptor) Limit() uint32 {
	l := d.bits[0]&0xFFFF | d.bits[1]&0xF0000
	if d.bits[1]&uint32(SegmentDescriptorG) != 0 {
		l <<= 12
		l |= 0xFFF
	}
	return l
}

// Flags returns descriptor flags.
func (d *SegmentDescriptor) Flags() SegmentDescriptorFlags {
	return SegmentDescriptorFlags(d.bits[1] & 0x00F09F00)
}

// DPL returns the descriptor privilege level.
func (d *SegmentDescriptor) DPL() int {
	return int((d.bits[1] >> 13) & 3)
}

// Present returns true if the present bit is set.
func (d *SegmentDescriptor) Present() bool {
	return d.bits[1]&SegmentDescriptorPresent != 0
}

// IsCode64 returns true for a present 64-bit code segment.
func (d *SegmentDescriptor) IsCode64() bool {
	want := SegmentDescriptorFlags(SegmentDescriptorPresent | SegmentDescriptorSystem | SegmentDescriptorExecute | SegmentDescriptorLong)
	return d.Flags()&want == want
}

// IsData returns true for a present writable data segment.
func (d *SegmentDescriptor) IsData() bool {
	f := d.Flags()
	return f&(SegmentDescriptorPresent|SegmentDescriptorSystem|SegmentDescriptorWrite) ==
		SegmentDescriptorPresent|SegmentDescriptorSystem|SegmentDescriptorWrite &&
		f&SegmentDescriptorExecute == 0
}

// IsTSS returns true for a present 64-bit TSS descriptor, busy or not.
func (d *SegmentDescriptor) IsTSS() bool {
	f := d.Flags()
	if f&SegmentDescriptorPresent == 0 || f&SegmentDescriptorSystem != 0 {
		return false
	}
	t := f & (SegmentDescriptorAccess | SegmentDescriptorWrite | SegmentDescriptorExpandDown | SegmentDescriptorExecute)
	return t == typeTSSAvailable || t == typeTSSBusy
}

// IsTSSAvailable returns true for a TSS descriptor that ltr accepts.
func (d *SegmentDescriptor) IsTSSAvailable() bool {
	t := d.Flags() & (SegmentDescriptorAccess | SegmentDescriptorWrite | SegmentDescriptorExpandDown | SegmentDescriptorExecute)
	return d.IsTSS() && t == typeTSSAvailable
}

// Uint64 returns the raw descriptor.
func (d *SegmentDescriptor) Uint64() uint64 {
	return uint64(d.bits[1])<<32 | uint64(d.bits[0])
}

// SegmentDescriptorFromUint64 decodes a raw descriptor.
func SegmentDescriptorFromUint64(v uint64) SegmentDescriptor {
	return SegmentDescriptor{bits: [2]uint32{uint32(v), uint32(v >> 32)}}
}

func (d *SegmentDescriptor) setNull() {
	d.bits[0] = 0
	d.bits[1] = 0
}

func (d *SegmentDescriptor) set(base, limit uint32, dpl int, flags SegmentDescriptorFlags) {
	flags |= SegmentDescriptorPresent
	if limit>>12 != 0 {
		limit >>= 12
		flags |= SegmentDescriptorG
	}
	d.bits[0] = base<<16 | limit&0xFFFF
	d.bits[1] = base&0xFF000000 | (base>>16)&0xFF | limit&0x000F0000 | uint32(flags) | uint32(dpl)<<13
}

func (d *SegmentDescriptor) setCode64(base, limit uint32, dpl int) {
	d.set(base, limit, dpl,
		SegmentDescriptorG|
			SegmentDescriptorLong|
			SegmentDescriptorAccess|
			SegmentDescriptorExecute|
			SegmentDescriptorSystem)
}

func (d *SegmentDescriptor) setData(base, limit uint32, dpl int) {
	d.set(base, limit, dpl,
		SegmentDescriptorDB|
			SegmentDescriptorAccess|
			SegmentDescriptorWrite|
			SegmentDescriptorSystem)
}

// setTSS sets the low half of a TSS descriptor. The limit is a byte count, so
// it must stay below the granularity threshold.
func (d *SegmentDescriptor) setTSS(base uint64, limit uint32) {
	if limit>>12 != 0 {
		panic(fmt.Sprintf("TSS limit %#x needs page granularity", limit))
	}
	d.set(uint32(base), limit, 0, typeTSSAvailable)
}

// setHi is only used for the TSS segment, which is magically 64-bits.
func (d *SegmentDescriptor) setHi(base uint32) {
	d.bits[0] = base
	d.bits[1] = 0
}
