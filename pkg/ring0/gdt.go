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

package ring0

import (
	"fmt"

	"tchaios.dev/kcore/pkg/cpu"
	"tchaios.dev/kcore/pkg/sync"
)

// GDT slots.
const (
	segNull = iota
	segKcode
	segKdata
	segUnull
	segUcode
	segUdata
	segTss
	segTssHi
	segLast
)

// Selectors are the segment selectors resolved when the GDT is built.
type Selectors struct {
	Code     Selector
	Data     Selector
	UserCode Selector
	UserData Selector
	TSS      Selector
}

// DescriptorTables is the global descriptor table together with the task
// state segment it describes.
type DescriptorTables struct {
	gdt       [segLast]SegmentDescriptor
	tss       TaskState64
	selectors Selectors
}

var descriptors = sync.OnceValue(newDescriptorTables)

// Descriptors returns the process's descriptor tables, building them on the
// first call. The same tables are returned for the life of the process.
func Descriptors() *DescriptorTables {
	return descriptors()
}

func newDescriptorTables() *DescriptorTables {
	d := new(DescriptorTables)
	if size := sizeOf(&d.tss); size != TaskStateSize {
		panic(fmt.Sprintf("TaskState64 is %d bytes, want %d", size, TaskStateSize))
	}

	// Null segment.
	d.gdt[segNull].setNull()

	// Kernel & user segments. The empty slot ahead of the user segments
	// keeps the layout sysret expects.
	d.gdt[segKcode].setCode64(0, 0xffffffff, 0)
	d.gdt[segKdata].setData(0, 0xffffffff, 0)
	d.gdt[segUnull].setNull()
	d.gdt[segUcode].setCode64(0, 0xffffffff, 3)
	d.gdt[segUdata].setData(0, 0xffffffff, 3)

	// The task segment, this spans two entries.
	tssBase, tssLimit := d.TSS()
	d.gdt[segTss].setTSS(tssBase, uint32(tssLimit))
	d.gdt[segTssHi].setHi(uint32(tssBase >> 32))

	d.tss.setIST(DoubleFaultISTIndex, FaultStackTop())

	// Set the I/O bitmap base address beyond the last byte in the TSS
	// to block access to the entire I/O address range.
	d.tss.ioPerm = tssLimit + 1

	d.selectors = Selectors{
		Code:     NewSelector(segKcode, 0),
		Data:     NewSelector(segKdata, 0),
		UserCode: NewSelector(segUcode, 3),
		UserData: NewSelector(segUdata, 3),
		TSS:      NewSelector(segTss, 0),
	}
	return d
}

// Selectors returns the selectors for the tables' segments.
func (d *DescriptorTables) Selectors() Selectors {
	return d.selectors
}

// GDT returns the descriptor table pointer for lgdt.
func (d *DescriptorTables) GDT() cpu.DescriptorPointer {
	return cpu.DescriptorPointer{
		Base:  kernelAddr(&d.gdt[0]),
		Limit: uint16(8*segLast - 1),
	}
}

// TSS returns the task state segment's base and limit.
func (d *DescriptorTables) TSS() (uint64, uint16) {
	return kernelAddr(&d.tss), uint16(sizeOf(&d.tss) - 1)
}

// TaskState returns a copy of the task state segment.
func (d *DescriptorTables) TaskState() TaskState64 {
	return d.tss
}

// Descriptor returns GDT slot i.
func (d *DescriptorTables) Descriptor(i int) SegmentDescriptor {
	return d.gdt[i]
}

// Len returns the number of GDT slots.
func (d *DescriptorTables) Len() int {
	return len(d.gdt)
}

// dataSegments are loaded with the data selector after CS.
var dataSegments = []cpu.SegmentRegister{cpu.SS, cpu.DS, cpu.ES, cpu.FS, cpu.GS}

// Load installs the tables on m. The GDT is loaded first, then CS, then the
// data segment registers, and the task register last: ltr looks the TSS
// descriptor up in the GDT that is already loaded.
//
// After Load, double faults on m run on the fault stack. Load panics unless d
// was returned by Descriptors.
func (d *DescriptorTables) Load(m cpu.Machine) *LoadedDescriptors {
	if d != descriptors() {
		panic("descriptor tables were not built by Descriptors")
	}
	if m == nil {
		panic("descriptor tables loaded on a nil machine")
	}
	m.LoadGDT(d.GDT())
	m.LoadSegment(cpu.CS, uint16(d.selectors.Code))
	for _, r := range dataSegments {
		m.LoadSegment(r, uint16(d.selectors.Data))
	}
	m.LoadTaskRegister(uint16(d.selectors.TSS))
	return &LoadedDescriptors{tables: d, machine: m}
}

// LoadedDescriptors witnesses that the descriptor tables are installed on a
// machine. An interrupt vector table can only be built from one returned by
// DescriptorTables.Load.
type LoadedDescriptors struct {
	tables  *DescriptorTables
	machine cpu.Machine
}

// Tables returns the loaded tables.
func (l *LoadedDescriptors) Tables() *DescriptorTables {
	return l.tables
}

// Machine returns the machine the tables were loaded on.
func (l *LoadedDescriptors) Machine() cpu.Machine {
	return l.machine
}

// valid is true only for values returned by DescriptorTables.Load.
func (l *LoadedDescriptors) valid() bool {
	return l != nil && l.machine != nil && l.tables == descriptors()
}

// DoubleFaultIST returns the value for the IST field of a gate that must run
// on the fault stack. Gates number IST slots from one.
func (l *LoadedDescriptors) DoubleFaultIST() int {
	return DoubleFaultISTIndex + 1
}
